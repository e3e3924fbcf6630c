package modbus

import (
	"errors"
)

// Local decode errors. They are reported to the immediate caller and are not
// fatal to a connection unless the MBAP header itself is affected.
var (
	// ErrMessageSizeMismatch is returned when a message is shorter or longer
	// than its declared or implied size.
	ErrMessageSizeMismatch = errors.New("modbus: message size mismatch")

	// ErrFunctionMismatch is returned when a response carries a different
	// function code than the request it answers.
	ErrFunctionMismatch = errors.New("modbus: function code mismatch")

	// ErrBadHeader is returned when an MBAP header cannot be trusted.
	ErrBadHeader = errors.New("modbus: bad MBAP header")

	// ErrUnexpectedResponse is returned when a write response does not echo
	// the request it answers.
	ErrUnexpectedResponse = errors.New("modbus: response does not match request")
)

// Transport errors. These are always fatal to the connection they occur on.
var (
	ErrNotConnected       = errors.New("modbus: not connected")
	ErrAlreadyConnected   = errors.New("modbus: already connected")
	ErrClosed             = errors.New("modbus: connection closed")
	ErrAborted            = errors.New("modbus: transaction aborted")
	ErrTransactionIDInUse = errors.New("modbus: transaction identifier in use")
)

// IOError wraps an error reported by the underlying connection.
type IOError struct {
	// Op is the operation which failed, e. g. "read" or "write".
	Op string

	// Err is the original error.
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return "modbus: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the original error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the original error was a timeout.
func (e *IOError) Timeout() bool {
	type timeout interface {
		Timeout() bool
	}
	var t timeout
	return errors.As(e.Err, &t) && t.Timeout()
}
