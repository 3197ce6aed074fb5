// Command gateway bridges browser and terminal chat clients to PvPGN chat
// servers. HTTP, WebSocket and raw TCP clients share a single port.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/pvpgn-gateway/internal/chat"
	"github.com/omochice/pvpgn-gateway/internal/config"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/internal/metrics"
	"github.com/omochice/pvpgn-gateway/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Flags are parsed twice: first to find the env file, then again over
	// the loaded config so they take precedence.
	pre := flag.NewFlagSet("gateway", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	envFile := pre.String("env-file", "", "")
	if err := pre.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.String("env-file", *envFile, "Read settings from this file instead of .env")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := chat.NewHub(chat.HubConfig{
		Backend:   cfg.BackendOptions(),
		QueueSize: cfg.QueueSize,
		Logger:    log,
		Metrics:   metrics.New(reg),
	})

	srvCfg := cfg.ServerConfig()
	srvCfg.Gatherer = reg
	srv := server.New(srvCfg, hub, log)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(serveCtx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			log.Info("received shutdown signal")
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Warn("sessions did not close in time", logger.Error(err))
		}
		cancelServe()
		return nil
	})

	log.Info("gateway started",
		slog.String("addr", srv.Addr()),
		slog.String("tcp_addr", srv.TCPAddr()),
		slog.String("channel", cfg.Channel),
		slog.Bool("metrics", cfg.EnableMetrics))

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("graceful shutdown completed")
	return nil
}
