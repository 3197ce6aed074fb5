// Package chat multiplexes front-end sessions onto backend connections.
package chat

import "context"

// Conn abstracts a front-end connection for both TCP and WebSocket.
// This interface isolates transport details from session logic.
type Conn interface {
	// Read reads a single encoded envelope.
	// Returns io.EOF when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single encoded envelope.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
