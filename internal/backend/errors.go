package backend

import (
	"errors"
	"fmt"
)

// Client misuse. These are returned to the caller and never change state.
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyConnecting  = errors.New("already connected or connecting")
	ErrMissingCredentials = errors.New("username and password are required")
)

// Handshake failures.
var (
	ErrLoginTimeout     = errors.New("login timed out - no response from server")
	ErrLoginFailed      = errors.New("Login failed (reported by server), check credentials")
	ErrUnexpectedPrompt = errors.New("received password prompt before username was sent")
)

// Stream faults not caused by the network itself.
var (
	ErrIdleTimeout = errors.New("connection timed out")
	ErrLineLimit   = errors.New("internal error: data handling loop limit exceeded")
)

// NetworkError is a failure of a network operation on the backend stream.
type NetworkError struct {
	Op   string // "dial", "read", "write"
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsHandshakeFailure reports whether err ended a login attempt.
func IsHandshakeFailure(err error) bool {
	return errors.Is(err, ErrLoginTimeout) ||
		errors.Is(err, ErrLoginFailed) ||
		errors.Is(err, ErrUnexpectedPrompt)
}
