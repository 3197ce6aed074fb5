package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/omochice/pvpgn-gateway/internal/backend"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

// DefaultQueueSize is the number of outbound frames buffered per session.
const DefaultQueueSize = 64

var (
	ErrQueueFull     = errors.New("outgoing queue full")
	ErrSessionClosed = errors.New("session closed")
)

// Session is one front-end connection and the backend link it owns.
type Session struct {
	ID       string
	Conn     Conn
	Outgoing chan []byte

	codec  protocol.Codec
	roster *Roster
	logger *slog.Logger

	// op serializes login, chat, disconnect and close for this session, so
	// a login waits for a teardown in progress.
	op      sync.Mutex
	backend *backend.Conn

	mu     sync.Mutex
	closed bool
}

// NewSession wraps conn in a session with a fresh identity. A nil codec
// selects JSON.
func NewSession(conn Conn, codec protocol.Codec, queueSize int) *Session {
	if codec == nil {
		codec = protocol.JSON
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Session{
		ID:       uuid.NewString(),
		Conn:     conn,
		Outgoing: make(chan []byte, queueSize),
		codec:    codec,
		roster:   NewRoster(),
		logger:   slog.Default(),
	}
}

// Codec returns the codec used for this session's frames.
func (s *Session) Codec() protocol.Codec {
	return s.codec
}

// Users returns the session's current roster, sorted.
func (s *Session) Users() []string {
	return s.roster.List()
}

// enqueue queues an encoded frame without blocking.
func (s *Session) enqueue(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.Outgoing <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// closeOutgoing stops accepting frames. The writer drains what is queued.
func (s *Session) closeOutgoing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.Outgoing)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// writeLoop drains Outgoing into the connection and closes the connection
// when the queue is closed or a write fails.
func (s *Session) writeLoop(ctx context.Context) {
	defer s.Conn.Close()
	for data := range s.Outgoing {
		if err := s.Conn.Write(ctx, data); err != nil {
			s.logger.Warn("failed to write to client", logger.Error(err))
			return
		}
	}
}
