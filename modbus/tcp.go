package modbus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// defaultTCPAddr is the default listening address for Modbus/TCP.
	defaultTCPAddr = "127.0.0.1:502"

	// defaultIdleTimeout is the default time a connection may remain silent
	// before it is closed.
	defaultIdleTimeout = 60 * time.Second

	// defaultRequestTimeout is the default request timeout.
	// Since we allow multiple parallel connections, i. e., a crashed client can
	// reconnect immediately after a restart, the considerations in § 4.2.2.3 of
	// the Modbus TCP/IP messaging implementation guide do not apply and we can
	// afford a longer timeout. The user can still set a custom timeout using
	// WithRequestTimeout.
	defaultRequestTimeout = 75 * time.Second
)

// tcpOptions describes options for Modbus/TCP servers.
type tcpOptions struct {
	// addr is the local address the TCP listener should listen on.
	addr string

	// idleTimeout is the time a connection may remain silent.
	idleTimeout time.Duration

	// requestTimeout bounds the processing time of a request.
	requestTimeout time.Duration

	// logger is the listener logger. Nil means no logging.
	logger *zerolog.Logger
}

// Validate performs cursory validation of these TCP options.
// It also fills in default values where appropriate.
func (opt *tcpOptions) Validate() error {
	if opt.addr == "" {
		opt.addr = defaultTCPAddr
	}
	if opt.idleTimeout == 0 {
		opt.idleTimeout = defaultIdleTimeout
	}
	if opt.requestTimeout == 0 {
		opt.requestTimeout = defaultRequestTimeout
	}
	if opt.logger == nil {
		nop := zerolog.Nop()
		opt.logger = &nop
	}
	return nil
}

// TCPOption describes an option to be passed to ListenTCP.
type TCPOption func(*tcpOptions) error

// WithListenAddress instructs ListenTCP to use the specified local
// TCP address to listen on.
func WithListenAddress(addr string) TCPOption {
	return func(opt *tcpOptions) error {
		if opt.addr != "" {
			return errors.New("duplicate specification of listen address")
		}
		if addr == "" {
			return errors.New("empty listen address")
		}
		opt.addr = addr
		return nil
	}
}

// WithIdleTimeout selects the idle timeout to be used for TCP connections. If
// the client does not send a complete request for the given duration, the
// connection is closed without a reply.
func WithIdleTimeout(timeout time.Duration) TCPOption {
	return func(opt *tcpOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("idle timeout must be positive, got %s", timeout)
		}
		if opt.idleTimeout != 0 {
			return errors.New("WithIdleTimeout specified multiple times")
		}
		opt.idleTimeout = timeout
		return nil
	}
}

// WithRequestTimeout limits the processing time of a request. The handler
// context expires after the given duration; a handler failing because of it
// makes the listener reply with ExceptionServerDeviceBusy.
func WithRequestTimeout(timeout time.Duration) TCPOption {
	return func(opt *tcpOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("request timeout must be positive, got %s", timeout)
		}
		if opt.requestTimeout != 0 {
			return errors.New("WithRequestTimeout specified multiple times")
		}
		opt.requestTimeout = timeout
		return nil
	}
}

// WithLogger sets the logger used by the listener and its connections.
func WithLogger(logger zerolog.Logger) TCPOption {
	return func(opt *tcpOptions) error {
		if opt.logger != nil {
			return errors.New("WithLogger specified multiple times")
		}
		opt.logger = &logger
		return nil
	}
}

// tcpListener describes a Modbus/TCP listener.
type tcpListener struct {
	// underlying is the underlying net.Listener.
	underlying net.Listener

	// handler processes the decoded requests.
	handler Handler

	// idleTimeout is the connection read timeout.
	idleTimeout time.Duration

	// requestTimeout bounds the processing time of a request.
	requestTimeout time.Duration

	// logger is the listener logger.
	logger zerolog.Logger

	// ctx is the parent context of all requests. It is cancelled on Close.
	ctx context.Context

	// cancel cancels ctx.
	cancel context.CancelFunc

	// activeConns keeps track of the active connections for this listener.
	activeConns sync.WaitGroup

	// closed is a sentry channel which will be closed when this listener is
	// closed.
	closed chan struct{}
}

// ListenTCP creates a Modbus/TCP listener and forwards all incoming requests
// to the given handler.
func ListenTCP(h Handler, opts ...TCPOption) (Listener, error) {
	if h == nil {
		return nil, errors.New("nil handler")
	}
	localOpts := &tcpOptions{}
	for _, opt := range opts {
		if err := opt(localOpts); err != nil {
			return nil, err
		}
	}
	if err := localOpts.Validate(); err != nil {
		return nil, err
	}
	result := &tcpListener{
		handler:        h,
		idleTimeout:    localOpts.idleTimeout,
		requestTimeout: localOpts.requestTimeout,
		logger:         *localOpts.logger,
		closed:         make(chan struct{}),
	}
	var err error
	result.underlying, err = net.Listen("tcp", localOpts.addr)
	if err != nil {
		return nil, fmt.Errorf("listen on tcp socket '%s': %w", localOpts.addr, err)
	}
	result.ctx, result.cancel = context.WithCancel(context.Background())
	result.logger.Info().Stringer("addr", result.underlying.Addr()).
		Msg("listening")
	go result.handleConnections()
	return result, nil
}

// Addr implements Listener.
func (l *tcpListener) Addr() net.Addr {
	return l.underlying.Addr()
}

// Close closes this listener.
func (l *tcpListener) Close() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("already closed")
		}
		l.activeConns.Wait()
	}()
	err = l.underlying.Close()
	l.cancel()
	close(l.closed)
	return
}

// handleConnections handles incoming connections for this listener.
func (l *tcpListener) handleConnections() {
	for {
		conn, err := l.underlying.Accept()
		if err != nil {
			select {
			case <-l.closed:
			default:
				l.logger.Error().Err(err).Msg("accept failed")
			}
			return
		}
		l.activeConns.Add(1)
		go l.handleConnection(conn)
	}
}

// handleConnection handles an incoming connection for this listener.
// It will serve requests until either this listener is closed, there
// is an error on the connection, or the idle timeout expires.
func (l *tcpListener) handleConnection(conn net.Conn) {
	defer l.activeConns.Done()
	defer conn.Close()
	logger := l.logger.With().Stringer("remote", conn.RemoteAddr()).Logger()
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			logger.Warn().Err(err).Msg("cannot disable Nagle's algorithm")
		}
		if err := tcp.SetKeepAlive(true); err != nil {
			logger.Warn().Err(err).Msg("cannot enable keep-alive")
		}
	}
	logger.Info().Msg("connection accepted")
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.serveRequests(conn, logger)
	}()
	select {
	case <-l.closed:
		// Unblock serveRequests, then let a running handler finish.
		conn.Close()
		<-done
	case <-done:
	}
	logger.Info().Msg("connection closed")
}

// serveRequests serves incoming requests on the specified connection, one at
// a time.
func (l *tcpListener) serveRequests(conn net.Conn, logger zerolog.Logger) {
	r := bufio.NewReaderSize(conn, 320)
	w := bufio.NewWriterSize(conn, 320)
	var (
		hdr  [HeaderSize]byte
		body = make([]byte, maxADULen)
		out  = make([]byte, 0, HeaderSize+maxPDULen)
	)
	for {
		// Read request
		if err := conn.SetReadDeadline(time.Now().Add(l.idleTimeout)); err != nil {
			return
		}
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			logReadError(logger, err)
			return
		}
		h, _ := DecodeHeader(hdr[:])
		if h.ProtocolID != 0 || h.Length > maxADULen {
			// There is no way to find the next frame.
			logger.Warn().Uint16("protocol", h.ProtocolID).
				Uint16("length", h.Length).Msg("bad MBAP header")
			return
		}
		logger := logger.With().Uint16("transaction", h.TransactionID).
			Stringer("unit", h.UnitID).Logger()
		var resp Response
		if h.Length < minPDULen+1 {
			// No function code was received.
			logger.Debug().Uint16("length", h.Length).Msg("empty request")
			resp = &ExceptionResponse{Code: ExceptionIllegalFunction}
		} else {
			pdu := body[:h.PDULen()]
			if n, err := io.ReadFull(r, pdu); err != nil {
				logger.Warn().Err(err).Int("received", n).Msg("short request")
				var fc FunctionCode
				if n > 0 {
					fc = FunctionCode(pdu[0]) &^ FunctionError
				}
				resp = &ExceptionResponse{
					Request: fc,
					Code:    ExceptionIllegalDataValue,
				}
			} else {
				resp = l.dispatch(h.UnitID, pdu, logger)
			}
		}
		// Send response
		out = AppendFrame(out[:0], Header{
			TransactionID: h.TransactionID,
			UnitID:        h.UnitID,
		}, resp)
		if err := conn.SetWriteDeadline(time.Now().Add(l.idleTimeout)); err != nil {
			return
		}
		if _, err := w.Write(out); err != nil {
			logger.Error().Err(err).Msg("write failed")
			return
		}
		if err := w.Flush(); err != nil {
			logger.Error().Err(err).Msg("write failed")
			return
		}
	}
}

// logReadError logs the error which ended the request loop of a connection.
func logReadError(logger zerolog.Logger, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug().Msg("closed by peer")
	case errors.As(err, &ne) && ne.Timeout():
		logger.Warn().Msg("idle timeout")
	case errors.Is(err, net.ErrClosed):
	default:
		logger.Error().Err(err).Msg("read failed")
	}
}

// dispatch decodes the request PDU and passes the request on to the handler.
// It returns the response to be sent back, which may be an exception.
func (l *tcpListener) dispatch(
	unit UnitID, pdu []byte, logger zerolog.Logger,
) Response {
	fc := FunctionCode(pdu[0]) &^ FunctionError
	req, err := DecodeRequest(pdu)
	if err != nil {
		logger.Debug().Err(err).Stringer("function", fc).Msg("bad request")
		return &ExceptionResponse{Request: fc, Code: requestException(err)}
	}
	logger.Debug().Stringer("function", fc).Msg("request")
	ctx, cancel := context.WithTimeout(l.ctx, l.requestTimeout)
	defer cancel()
	resp, err := l.handler.HandleModbus(ctx, unit, req)
	if err != nil {
		ec := handlerException(err)
		logger.Debug().Err(err).Stringer("function", fc).Msg("request failed")
		return &ExceptionResponse{Request: fc, Code: ec}
	}
	if ex, ok := resp.(*ExceptionResponse); ok {
		return &ExceptionResponse{Request: fc, Code: ex.Code}
	}
	if err := checkResponse(req, resp); err != nil {
		logger.Error().Err(err).Msg("bad handler response")
		return &ExceptionResponse{Request: fc, Code: ExceptionServerDeviceFailure}
	}
	return resp
}
