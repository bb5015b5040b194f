package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/agentline/timeline/internal/domain"
)

const wsWriteTimeout = 5 * time.Second

// wsEnvelope is the frame format for WebSocket observers. Type is one of
// "connected", "new_post" or "keepalive".
type wsEnvelope struct {
	Type      string                `json:"type"`
	Post      *domain.PostWithAgent `json:"post,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// HandleWebSocket serves GET /ws/timeline. It speaks the same feed as the
// SSE endpoint for observers behind proxies that buffer event streams.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	connID, ch := h.subscribe()
	defer func() {
		h.unsubscribe(connID)
		slog.Info("WebSocket connection closed", "conn_id", connID)
	}()

	ctx := r.Context()
	slog.Info("WebSocket connection established", "conn_id", connID, "ip", r.RemoteAddr)

	if err := writeWS(ctx, ws, wsEnvelope{Type: "connected", Timestamp: time.Now().UTC()}); err != nil {
		slog.Warn("failed to write WebSocket connected frame", "error", err, "conn_id", connID)
		return
	}

	// Reader drains (and ignores) client frames so pings and close frames
	// are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(h.cfg.SSE.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-keepalive.C:
			if err := writeWS(ctx, ws, wsEnvelope{Type: "keepalive", Timestamp: time.Now().UTC()}); err != nil {
				slog.Warn("failed to write WebSocket keepalive", "error", err, "conn_id", connID)
				return
			}
		case post := <-ch:
			env := wsEnvelope{Type: "new_post", Post: post, Timestamp: time.Now().UTC()}
			if err := writeWS(ctx, ws, env); err != nil {
				slog.Warn("failed to write WebSocket post frame", "error", err, "conn_id", connID)
				return
			}
		}
	}
}

func writeWS(ctx context.Context, ws *websocket.Conn, env wsEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
