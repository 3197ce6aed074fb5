// Package protocol defines the envelopes exchanged between front-end
// clients and the gateway.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

// Inbound envelope types.
const (
	TypeLogin      = "login"
	TypeChat       = "chat"
	TypeDisconnect = "disconnect"
)

// Outbound envelope types.
const (
	TypeStatus   = "status"
	TypeMessage  = "message"
	TypeUserList = "userlist"
	TypeError    = "error"
)

// Error sources reported in error envelopes.
const (
	SourceClient  = "client"
	SourceServer  = "server"
	SourceBackend = "backend"
)

var (
	// ErrMalformed is returned when a frame is not a well-formed envelope.
	ErrMalformed = errors.New("malformed envelope")

	// ErrInvalidLogin is returned when a login payload misses required fields.
	ErrInvalidLogin = errors.New("invalid login payload")
)

// Envelope is the unit exchanged with front-end clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StatusPayload reports a backend connection state change.
type StatusPayload struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload reports a failure to the front end.
type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// LoginPayload carries the target server and credentials of a login command.
type LoginPayload struct {
	Host     string `json:"host"`
	Port     Port   `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate reports whether every required field is present.
func (p LoginPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.Host) == "":
		return fmt.Errorf("%w: missing host", ErrInvalidLogin)
	case p.Port == 0:
		return fmt.Errorf("%w: missing port", ErrInvalidLogin)
	case p.Port < 0 || p.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidLogin, p.Port)
	case p.Username == "":
		return fmt.Errorf("%w: missing username", ErrInvalidLogin)
	case p.Password == "":
		return fmt.Errorf("%w: missing password", ErrInvalidLogin)
	}
	return nil
}

// Addr returns the host:port of the legacy server.
func (p LoginPayload) Addr() string {
	return net.JoinHostPort(strings.TrimSpace(p.Host), strconv.Itoa(int(p.Port)))
}

// Port accepts either a JSON number or a numeric string, since browser
// forms submit the port as text.
type Port int

// UnmarshalJSON implements json.Unmarshaler.
func (p *Port) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("port must be an integer or numeric string: %w", err)
		}
		*p = Port(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("port must be a number or numeric string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*p = 0
		return nil
	}
	n2, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q", s)
	}
	*p = Port(n2)
	return nil
}

// New builds an envelope with a JSON encoded payload.
func New(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: data}, nil
}

// mustNew is used for payload types whose encoding cannot fail.
func mustNew(typ string, payload any) Envelope {
	env, err := New(typ, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Status builds a status envelope.
func Status(state, message string) Envelope {
	return mustNew(TypeStatus, StatusPayload{State: state, Message: message})
}

// Message builds a message envelope carrying a decoded protocol event.
func Message(ev pvpgn.Event) Envelope {
	return mustNew(TypeMessage, ev)
}

// UserList builds a userlist envelope. A nil slice is sent as an empty list.
func UserList(users []string) Envelope {
	if users == nil {
		users = []string{}
	}
	return mustNew(TypeUserList, users)
}

// Error builds an error envelope.
func Error(source, message string) Envelope {
	return mustNew(TypeError, ErrorPayload{Source: source, Message: message})
}

// Login builds a login command.
func Login(p LoginPayload) Envelope {
	return mustNew(TypeLogin, p)
}

// Chat builds a chat command.
func Chat(text string) Envelope {
	return mustNew(TypeChat, text)
}

// Disconnect builds a disconnect command.
func Disconnect() Envelope {
	return Envelope{Type: TypeDisconnect}
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Text returns the payload as a string, as carried by chat commands.
func (e Envelope) Text() (string, bool) {
	var s string
	if len(e.Payload) == 0 || json.Unmarshal(e.Payload, &s) != nil {
		return "", false
	}
	return s, true
}
