package modbus

import (
	"net"
)

// Listener describes a Modbus listener.
type Listener interface {
	// Addr returns the local address the listener accepts connections on.
	Addr() net.Addr

	// Close closes the listener, stopping it from accepting new connections
	// and closing existing connections as well. It waits for the connection
	// handlers to finish.
	Close() error
}
