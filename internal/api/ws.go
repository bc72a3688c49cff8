package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/avelis/stepstream/internal/stream"
)

// WebSocketHandler serves per-session event streams over WebSocket.
type WebSocketHandler struct {
	broker        *stream.Broker
	allowedOrigin string
	isDev         bool
	log           *slog.Logger
}

// NewWebSocketHandler creates the stream endpoint handler.
func NewWebSocketHandler(broker *stream.Broker, allowedOrigin string, isDev bool, log *slog.Logger) *WebSocketHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketHandler{
		broker:        broker,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		log:           log,
	}
}

// ServeHTTP upgrades the request and forwards stream events until the stream
// is destroyed or the client disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("stream_id")
	if streamID == "" {
		http.Error(w, "stream_id required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if !h.broker.HasStream(streamID) {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Error("failed to accept WebSocket", "error", err, "stream_id", streamID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.log.Debug("failed to close websocket", "error", closeErr, "stream_id", streamID)
		}
	}()

	events, cancel, err := h.broker.Subscribe(streamID)
	if err != nil {
		h.log.Warn("subscribe failed", "stream_id", streamID, "error", err)
		return
	}
	defer cancel()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	// Drain client frames so pings and close frames are processed; the stream
	// is one-way otherwise.
	go func() {
		defer cancelCtx()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	h.log.Info("stream subscriber attached", "stream_id", streamID, "ip", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Stream destroyed; all events have been delivered.
				return
			}
			if err := h.writeEvent(ctx, ws, ev); err != nil {
				h.log.Debug("stream write failed", "stream_id", streamID, "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.log.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeEvent(ctx context.Context, ws *websocket.Conn, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
