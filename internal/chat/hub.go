package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/omochice/pvpgn-gateway/internal/backend"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/internal/metrics"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

// Messages sent to front ends.
const (
	msgPleaseLogin    = "Please login"
	msgDisconnected   = "Disconnected."
	msgShuttingDown   = "Server shutting down"
	msgInvalidFormat  = "Invalid message format received."
	msgInvalidLogin   = "Invalid login payload. Missing fields."
	msgInvalidChat    = "Invalid chat payload."
	msgUnknownCommand = "Unknown command type: %s"
	msgNotConnected   = "Cannot send message, not fully connected (state: %s)."
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Backend is applied to every backend connection the hub creates.
	Backend   backend.Options
	QueueSize int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Hub owns every front-end session and routes commands to the backend
// connection of the session that issued them.
// Both TCP and WebSocket transports share a single Hub instance.
type Hub struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	serving  sync.WaitGroup

	backendOpts backend.Options
	queueSize   int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewHub creates a new Hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		sessions:    make(map[string]*Session),
		backendOpts: cfg.Backend,
		queueSize:   cfg.QueueSize,
		logger:      logger.OrDefault(cfg.Logger).With(logger.Component("hub")),
		metrics:     cfg.Metrics,
	}
}

// NewSession creates a session for conn using the hub's queue size.
func (h *Hub) NewSession(conn Conn, codec protocol.Codec) *Session {
	s := NewSession(conn, codec, h.queueSize)
	s.logger = h.logger.With(logger.SessionID(s.ID), logger.Remote(conn.RemoteAddr()))
	return s
}

// Register adds a session to the hub.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; ok {
		return
	}
	h.sessions[s.ID] = s
	h.metrics.SessionOpened()
}

// Unregister removes a session from the hub.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	h.metrics.SessionClosed()
}

// ClientCount returns number of registered sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Serve runs a session until its connection ends or ctx is cancelled: it
// registers the session, greets the client, dispatches every frame read and
// finally closes the session.
func (h *Hub) Serve(ctx context.Context, s *Session) error {
	h.serving.Add(1)
	defer h.serving.Done()

	h.Register(s)
	s.logger.Info("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()
	defer func() {
		h.Close(s)
		<-writerDone
		s.logger.Info("client disconnected")
	}()

	h.send(s, protocol.Status(backend.StateDisconnected.String(), msgPleaseLogin))

	for {
		data, err := s.Conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || s.isClosed() {
				return nil
			}
			return fmt.Errorf("read from %s: %w", s.Conn.RemoteAddr(), err)
		}
		h.Dispatch(s, data)
	}
}

// Dispatch decodes one frame from the session and executes the command.
// Invalid frames are answered with error envelopes.
func (h *Hub) Dispatch(s *Session, frame []byte) {
	env, err := s.codec.Unmarshal(frame)
	if err != nil {
		s.logger.Warn("malformed frame", logger.Error(err))
		h.sendError(s, protocol.SourceServer, msgInvalidFormat)
		return
	}
	h.metrics.Frame(metrics.Inbound, env.Type)

	switch env.Type {
	case protocol.TypeLogin:
		var p protocol.LoginPayload
		if err := env.DecodePayload(&p); err != nil {
			s.logger.Warn("invalid login payload", logger.Error(err))
			h.sendError(s, protocol.SourceClient, msgInvalidLogin)
			return
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("invalid login payload", logger.Error(err))
			h.sendError(s, protocol.SourceClient, msgInvalidLogin)
			return
		}
		h.Login(s, p)
	case protocol.TypeChat:
		h.chat(s, env)
	case protocol.TypeDisconnect:
		h.Disconnect(s)
	default:
		h.sendError(s, protocol.SourceClient, fmt.Sprintf(msgUnknownCommand, env.Type))
	}
}

// Login replaces the session's backend connection with a new one targeting
// the server in p and starts the handshake.
func (h *Hub) Login(s *Session, p protocol.LoginPayload) {
	s.op.Lock()
	defer s.op.Unlock()

	if s.backend != nil {
		h.teardown(s, true)
	}

	log := s.logger.With(slog.String("username", p.Username))
	conn := backend.New(p.Addr(), h.backendOpts, log)
	conn.SetObserver(&binding{hub: h, session: s})
	s.backend = conn
	h.metrics.BackendOpened()

	log.Info("connecting to backend", slog.String("addr", p.Addr()))
	if err := conn.Connect(p.Username, p.Password); err != nil {
		h.teardown(s, false)
		h.sendError(s, protocol.SourceClient, err.Error())
	}
}

// Chat forwards text to the session's backend connection. Unless the
// connection is fully established the client receives an error naming the
// current state and nothing is written.
func (h *Hub) Chat(s *Session, text string) {
	h.chat(s, protocol.Chat(text))
}

func (h *Hub) chat(s *Session, env protocol.Envelope) {
	s.op.Lock()
	defer s.op.Unlock()

	state := backend.StateDisconnected
	if s.backend != nil {
		state = s.backend.State()
	}
	if state != backend.StateConnected {
		h.sendError(s, protocol.SourceClient, fmt.Sprintf(msgNotConnected, state))
		return
	}

	text, ok := env.Text()
	if !ok {
		h.sendError(s, protocol.SourceClient, msgInvalidChat)
		return
	}

	if err := s.backend.Send(text); err != nil {
		// Stream faults are reported by the backend itself.
		if errors.Is(err, backend.ErrNotConnected) {
			h.sendError(s, protocol.SourceClient, fmt.Sprintf(msgNotConnected, s.backend.State()))
			return
		}
		s.logger.Warn("failed to send chat", logger.Error(err))
	}
}

// Disconnect closes the session's backend connection at the client's
// request and reports the resulting state.
func (h *Hub) Disconnect(s *Session) {
	s.op.Lock()
	defer s.op.Unlock()
	h.teardown(s, true)
}

// Close tears the session down after its front end went away. It does not
// notify the client and returns only once the backend link is closed.
func (h *Hub) Close(s *Session) {
	s.op.Lock()
	defer s.op.Unlock()

	h.teardown(s, false)
	h.Unregister(s)
	s.closeOutgoing()
}

// State returns the state of the session's backend connection.
func (h *Hub) State(s *Session) backend.State {
	s.op.Lock()
	defer s.op.Unlock()
	if s.backend == nil {
		return backend.StateDisconnected
	}
	return s.backend.State()
}

// Shutdown disconnects every backend link, tells each client the server is
// going away and closes the front-end connections. It waits for all
// sessions to finish, or for ctx to be done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	h.logger.Info("shutting down", slog.Int("sessions", len(sessions)))
	for _, s := range sessions {
		s.op.Lock()
		h.teardown(s, s.backend != nil)
		h.send(s, protocol.Status(backend.StateDisconnected.String(), msgShuttingDown))
		s.closeOutgoing()
		s.op.Unlock()
	}

	done := make(chan struct{})
	go func() {
		h.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown detaches and closes the session's backend connection and
// clears its roster. Must be called with s.op held.
func (h *Hub) teardown(s *Session, notify bool) {
	if conn := s.backend; conn != nil {
		conn.SetObserver(nil)
		conn.Disconnect()
		s.backend = nil
		h.metrics.BackendClosed()
		s.logger.Info("backend connection closed", slog.String("addr", conn.Addr()))
	}
	s.roster.Clear()

	if notify {
		h.send(s, protocol.Status(backend.StateDisconnected.String(), msgDisconnected))
		h.send(s, protocol.UserList(nil))
	}
}

func (h *Hub) sendError(s *Session, source, message string) {
	h.metrics.Error(source)
	h.send(s, protocol.Error(source, message))
}

// send encodes env with the session's codec and queues it.
func (h *Hub) send(s *Session, env protocol.Envelope) {
	data, err := s.codec.Marshal(env)
	if err != nil {
		s.logger.Error("failed to encode envelope", logger.Error(err), slog.String("type", env.Type))
		return
	}
	switch err := s.enqueue(data); {
	case errors.Is(err, ErrQueueFull):
		h.metrics.Dropped()
		s.logger.Warn("client queue full, dropping frame", slog.String("type", env.Type))
	case err != nil:
		s.logger.Debug("dropping frame for closed session", slog.String("type", env.Type))
	default:
		h.metrics.Frame(metrics.Outbound, env.Type)
	}
}
