// Package server runs the gateway's single front-end listener. Each accepted
// connection is sniffed: HTTP requests (WebSocket upgrades, static files,
// metrics, health) go to one http.Server, anything else is a raw TCP line
// client. An optional second listener takes line clients only.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/pvpgn-gateway/internal/chat"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/internal/transport/tcp"
)

// Defaults applied to zero Config fields.
const (
	DefaultDetectWindow      = time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultDrainTimeout      = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr      string
	StaticDir string

	// TCPAddr optionally binds a second listener that serves only raw TCP
	// line clients, without protocol detection.
	TCPAddr string

	// DetectWindow is how long a new connection may stay silent before it
	// is treated as a raw TCP client.
	DetectWindow time.Duration

	EnableMetrics bool
	EnableHealth  bool
	// Gatherer backs /metrics. Nil selects the default gatherer.
	Gatherer prometheus.Gatherer
}

// Server is the unified TCP/WebSocket front end.
type Server struct {
	cfg    Config
	hub    *chat.Hub
	logger *slog.Logger

	tcp      *tcp.Server
	listener net.Listener
	tcpLn    net.Listener
	httpLn   *connListener
	conns    sync.WaitGroup
}

// New creates a Server routing every session to hub.
func New(cfg Config, hub *chat.Hub, log *slog.Logger) *Server {
	if cfg.DetectWindow == 0 {
		cfg.DetectWindow = DefaultDetectWindow
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	log = logger.OrDefault(log)
	return &Server{
		cfg:    cfg,
		hub:    hub,
		logger: log.With(logger.Component("server")),
		tcp:    tcp.New(hub, log),
	}
}

// Listen binds the listening socket. Serve calls it when needed.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	if s.cfg.TCPAddr != "" {
		tln, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to start TCP listener: %w", err)
		}
		s.tcpLn = tln
	}
	s.listener = ln
	s.httpLn = newConnListener(ln.Addr())
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// TCPAddr returns the address of the dedicated TCP listener, if any.
func (s *Server) TCPAddr() string {
	if s.tcpLn != nil {
		return s.tcpLn.Addr().String()
	}
	return ""
}

// Serve accepts connections until ctx is cancelled, then stops accepting
// and waits for open connections to finish. Sessions still running when ctx
// ends are closed without notification; call Hub.Shutdown first for a
// graceful stop.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	httpSrv := &http.Server{
		Handler:           s.Handler(gctx),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.logger.Info("server started", slog.String("addr", s.Addr()))

	g.Go(func() error {
		err := httpSrv.Serve(s.httpLn)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return s.accept(gctx)
	})
	if s.tcpLn != nil {
		g.Go(func() error {
			return s.tcp.Serve(gctx, s.tcpLn)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.listener.Close()
		s.httpLn.Close()

		drainCtx, cancel := context.WithTimeout(context.Background(), DefaultDrainTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(drainCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", logger.Error(err))
		}
		return nil
	})

	err := g.Wait()
	s.conns.Wait()
	s.tcp.Wait()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) accept(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection determines whether the connection is HTTP or raw TCP.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	proto, reader, err := detectProtocol(conn, s.cfg.DetectWindow)
	if err != nil {
		s.logger.Debug("connection closed before protocol detection",
			logger.Remote(conn.RemoteAddr().String()), logger.Error(err))
		conn.Close()
		return
	}
	s.logger.Debug("connection accepted",
		logger.Remote(conn.RemoteAddr().String()), slog.String("protocol", proto.String()))

	switch proto {
	case protocolHTTP:
		if !s.httpLn.push(&bufferedConn{Conn: conn, reader: reader}) {
			conn.Close()
		}
	default:
		s.tcp.ServeConn(ctx, conn, reader)
	}
}
