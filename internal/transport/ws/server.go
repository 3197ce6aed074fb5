package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gobwas/ws"

	"github.com/omochice/pvpgn-gateway/internal/chat"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

// EncodingParam is the query parameter selecting the envelope codec.
// "proto" selects protobuf binary frames, "json" or nothing JSON text frames.
const EncodingParam = "encoding"

// Handler upgrades HTTP requests to WebSocket sessions served by a Hub.
type Handler struct {
	hub    *chat.Hub
	ctx    context.Context
	logger *slog.Logger
}

// NewHandler creates a Handler. Sessions started by the handler end when
// ctx is cancelled.
func NewHandler(ctx context.Context, hub *chat.Hub, log *slog.Logger) *Handler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handler{
		hub:    hub,
		ctx:    ctx,
		logger: logger.OrDefault(log).With(logger.Component("ws")),
	}
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec, op, err := codecFor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", logger.Error(err), logger.Remote(r.RemoteAddr))
		return
	}

	var br io.Reader
	if rw != nil && rw.Reader.Buffered() > 0 {
		br = rw.Reader
	}

	session := h.hub.NewSession(NewConn(conn, br, op, r.RemoteAddr), codec)
	if err := h.hub.Serve(h.ctx, session); err != nil {
		h.logger.Warn("session ended with error", logger.SessionID(session.ID), logger.Error(err))
	}
}

func codecFor(r *http.Request) (protocol.Codec, ws.OpCode, error) {
	codec, err := protocol.CodecFor(r.URL.Query().Get(EncodingParam))
	if err != nil {
		return nil, 0, err
	}
	if codec.Binary() {
		return codec, ws.OpBinary, nil
	}
	return codec, ws.OpText, nil
}
