// Package backend implements the outbound link to a PvPGN chat gateway:
// the TCP stream, the interactive credential handshake, keep-alives and the
// translation of received lines into events.
package backend

import "github.com/omochice/pvpgn-gateway/pkg/pvpgn"

// State is the lifecycle state of a Conn.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Status is delivered once per distinct state transition.
type Status struct {
	State   State
	Message string
}

// Observer receives the signals produced by a Conn.
//
// Callbacks are invoked in order while the Conn's lock is held, so they must
// not call back into the same Conn and should return quickly.
type Observer interface {
	OnStatus(Status)
	OnMessage(pvpgn.Event)
	OnError(error)
}
