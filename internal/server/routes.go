package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omochice/pvpgn-gateway/internal/transport/ws"
)

// Handler returns the HTTP routes. WebSocket sessions started through it
// end when ctx is cancelled.
//
//	/ws       WebSocket upgrade
//	/metrics  Prometheus exposition, when enabled
//	/healthz  liveness and session count, when enabled
//	/         WebSocket upgrade, otherwise the static directory
func (s *Server) Handler(ctx context.Context) http.Handler {
	wsHandler := ws.NewHandler(ctx, s.hub, s.logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	if s.cfg.EnableMetrics {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.cfg.EnableHealth {
		mux.HandleFunc("GET /healthz", s.handleHealth)
	}

	static := http.NotFoundHandler()
	if s.cfg.StaticDir != "" {
		static = http.FileServer(http.Dir(s.cfg.StaticDir))
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws.IsUpgrade(r) {
			wsHandler.ServeHTTP(w, r)
			return
		}
		static.ServeHTTP(w, r)
	}))
	return mux
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Sessions: s.hub.ClientCount()})
}
