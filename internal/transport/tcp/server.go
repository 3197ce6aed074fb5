package tcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/omochice/pvpgn-gateway/internal/chat"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

// Server handles TCP connections and delegates to Hub.
type Server struct {
	hub    *chat.Hub
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a TCP server that uses the provided Hub.
func New(hub *chat.Hub, log *slog.Logger) *Server {
	return &Server{
		hub:    hub,
		logger: logger.OrDefault(log).With(logger.Component("tcp")),
	}
}

// Serve accepts connections from ln until ln is closed or ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("TCP server started", slog.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn, nil)
		}()
	}
}

// ServeConn runs one session over conn. r carries bytes already read from
// conn and may be nil. It returns when the session ends.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, r io.Reader) {
	session := s.hub.NewSession(NewConn(conn, r), protocol.JSON)
	if err := s.hub.Serve(ctx, session); err != nil {
		s.logger.Warn("session ended with error", logger.SessionID(session.ID), logger.Error(err))
	}
}

// Wait blocks until every session started by Serve has ended.
func (s *Server) Wait() {
	s.wg.Wait()
}
