package modbus

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes decoded Modbus requests on behalf of a listener.
//
// On success, HandleModbus should return a response of the same function as
// req. On error, the returned error should normally be an ExceptionCode. If it
// is not, the listener responds with ExceptionServerDeviceFailure, or with
// ExceptionServerDeviceBusy if ctx expired.
//
// A listener may invoke a handler concurrently for different connections.
// Therefore, handlers are responsible for protecting shared resources from
// concurrent access.
type Handler interface {
	HandleModbus(ctx context.Context, unit UnitID, req Request) (Response, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, unit UnitID, req Request) (Response, error)

// HandleModbus implements Handler by calling f.
func (f HandlerFunc) HandleModbus(
	ctx context.Context, unit UnitID, req Request,
) (Response, error) {
	return f(ctx, unit, req)
}

// unitAndFunction combines unit identifier and function code.
type unitAndFunction struct {
	// unitID is the Modbus unit identifier.
	unitID UnitID

	// functionCode is the Modbus function code.
	functionCode FunctionCode
}

// FunctionHandler is the handler function type used by Server to handle
// individual Modbus functions.
type FunctionHandler func(
	ctx context.Context, unit UnitID, req Request,
) (Response, error)

// Server routes requests to function handlers by unit identifier and function
// code. It implements Handler.
type Server struct {
	// mx protects direct access to the server fields.
	mx sync.RWMutex

	// functionHandlers maps unit ID and function code to their handler.
	functionHandlers map[unitAndFunction]FunctionHandler

	// fallbackFunctionHandler is used for unit-function-combinations not in
	// functionHandlers.
	fallbackFunctionHandler FunctionHandler
}

// defaultFunctionHandler is the initial fallback handler for Modbus functions
// used by servers returned by NewServer. It simply returns
// ExceptionIllegalFunction.
func defaultFunctionHandler(context.Context, UnitID, Request) (Response, error) {
	return nil, ExceptionIllegalFunction
}

// NewServer returns a new server.
// Initially, the response to all incoming requests would be
// ExceptionIllegalFunction.
func NewServer() *Server {
	return &Server{
		functionHandlers:        make(map[unitAndFunction]FunctionHandler),
		fallbackFunctionHandler: defaultFunctionHandler,
	}
}

// SetFallbackFunctionHandler sets the function handler to be called by this
// server for incoming requests without a specific function handler set by
// s.SetFunctionHandler. If the argument is nil, a default handler, which
// simply returns ExceptionIllegalFunction for all requests, will be used.
func (s *Server) SetFallbackFunctionHandler(h FunctionHandler) {
	if h == nil {
		h = defaultFunctionHandler
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.fallbackFunctionHandler = h
}

// SetFunctionHandler sets a function handler in this server for the specified
// unit and functions. If the given handler is nil, any existing handlers at
// the specified unit and functions will be deleted instead. Further requests
// matching the unit and functions will use the fallback handler instead.
//
// Only the ten supported function codes are accepted, since requests with
// other function codes are rejected before they reach a handler.
func (s *Server) SetFunctionHandler(
	h FunctionHandler, unit UnitID, functions ...FunctionCode,
) error {
	key := unitAndFunction{
		unitID: unit,
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if h == nil {
		for _, key.functionCode = range functions {
			delete(s.functionHandlers, key)
		}
		return nil
	}
	// Check for collisions and illegal values first, and then add the new
	// handlers.
	for _, key.functionCode = range functions {
		if key.functionCode.IsError() {
			return fmt.Errorf("error function code %d not permitted",
				key.functionCode)
		}
		if !key.functionCode.IsSupported() {
			return fmt.Errorf("unsupported function code %d", key.functionCode)
		}
		if s.functionHandlers[key] != nil {
			return fmt.Errorf(
				"handler for unit %d and function code %d already present",
				key.unitID, key.functionCode)
		}
	}
	for _, key.functionCode = range functions {
		s.functionHandlers[key] = h
	}
	return nil
}

// HandleModbus implements Handler. It dispatches req to the function handler
// registered for unit and the function of req, or to the fallback handler.
func (s *Server) HandleModbus(
	ctx context.Context, unit UnitID, req Request,
) (Response, error) {
	if req == nil {
		panic("nil request")
	}
	s.mx.RLock()
	h := s.functionHandlers[unitAndFunction{unit, req.Function()}]
	if h == nil {
		h = s.fallbackFunctionHandler
	}
	s.mx.RUnlock()
	return h(ctx, unit, req)
}
