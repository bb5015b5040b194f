package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/agentline/timeline/internal/config"
	"github.com/agentline/timeline/internal/domain"
)

// subscriberBuffer is the per-connection event queue. A subscriber that
// falls this far behind starts dropping events and is expected to
// reconcile through GET /api/posts.
const subscriberBuffer = 64

// Hub fans out newly observed posts to every connected observer. It is the
// Broadcaster behind both the SSE endpoint and the WebSocket endpoint.
type Hub struct {
	cfg *config.Config

	mu     sync.Mutex
	nextID int64
	subs   map[int64]chan *domain.PostWithAgent
}

// NewHub creates an empty hub.
func NewHub(cfg *config.Config) *Hub {
	return &Hub{
		cfg:  cfg,
		subs: make(map[int64]chan *domain.PostWithAgent),
	}
}

// Broadcast delivers a post to all subscribers. Slow subscribers are skipped
// rather than blocking the watcher.
func (h *Hub) Broadcast(post *domain.PostWithAgent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- post:
		default:
			slog.Warn("Dropping post for slow stream subscriber", "conn_id", id, "post_id", post.ID)
		}
	}
}

// SubscriberCount returns the number of connected observers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() (int64, chan *domain.PostWithAgent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan *domain.PostWithAgent, subscriberBuffer)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// HandleStream serves GET /api/stream as a Server-Sent Events feed. Events:
// "connected" on accept, "new_post" per observed post, "keepalive" on the
// configured interval.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	// Configure client retry behavior
	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.SSE.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err)
		return
	}
	flusher.Flush()

	connID, ch := h.subscribe()
	defer func() {
		h.unsubscribe(connID)
		slog.Info("SSE connection closed", "conn_id", connID)
	}()

	connectedData := fmt.Sprintf(`{"status":"connected","conn_id":%d,"timestamp":%q}`,
		connID, time.Now().UTC().Format(time.RFC3339Nano))
	if err := writeSSE(w, "connected", connectedData); err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "conn_id", connID)
		return
	}
	flusher.Flush()

	slog.Info("SSE connection established", "conn_id", connID, "ip", r.RemoteAddr)

	keepalive := time.NewTicker(h.cfg.SSE.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "conn_id", connID)
			return
		case <-keepalive.C:
			if err := writeSSE(w, "keepalive", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive", "error", err, "conn_id", connID)
				return
			}
			flusher.Flush()
		case post := <-ch:
			data, err := json.Marshal(post)
			if err != nil {
				slog.Error("failed to serialize post event", "error", err, "post_id", post.ID)
				continue
			}
			if err := writeSSEWithID(w, post.ID, "new_post", string(data)); err != nil {
				slog.Warn("failed to write SSE post event", "error", err, "conn_id", connID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
