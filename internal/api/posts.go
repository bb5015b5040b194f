package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agentline/timeline/internal/domain"
)

const maxPageSize = 200

// PostsResponse is the payload for the feed endpoints.
type PostsResponse struct {
	Posts     []*domain.PostWithAgent `json:"posts"`
	Count     int                     `json:"count"`
	Timestamp time.Time               `json:"timestamp"`
}

// HandleListPosts serves GET /api/posts. Without parameters it returns the
// newest posts. "before" pages backward from a post ID, "after" returns posts
// newer than an RFC 3339 time, for observers reconciling after a dropped
// stream.
func (h *Handler) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := h.cfg.InitialPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			Error(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var (
		posts []*domain.PostWithAgent
		err   error
	)
	switch {
	case r.URL.Query().Get("before") != "":
		beforeID, parseErr := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
		if parseErr != nil {
			Error(w, http.StatusBadRequest, "before must be a post ID")
			return
		}
		posts, err = h.repo.ListPostsBefore(ctx, beforeID, limit)
	case r.URL.Query().Get("after") != "":
		after, parseErr := time.Parse(time.RFC3339Nano, r.URL.Query().Get("after"))
		if parseErr != nil {
			Error(w, http.StatusBadRequest, "after must be an RFC 3339 timestamp")
			return
		}
		posts, err = h.repo.ListPostsAfter(ctx, after)
	default:
		posts, err = h.repo.ListRecentPosts(ctx, limit)
	}
	if err != nil {
		slog.Error("Failed to list posts", "error", err)
		DomainError(w, err)
		return
	}

	if posts == nil {
		posts = []*domain.PostWithAgent{}
	}
	JSON(w, http.StatusOK, PostsResponse{
		Posts:     posts,
		Count:     len(posts),
		Timestamp: time.Now().UTC(),
	})
}

// AgentsResponse is the payload for the agent roster endpoint.
type AgentsResponse struct {
	Agents []*domain.Agent `json:"agents"`
	Count  int             `json:"count"`
}

// HandleListAgents serves GET /api/agents with every known agent, most
// recently active first. Session tokens are never serialized.
func (h *Handler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.repo.ListAgents(r.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		DomainError(w, err)
		return
	}
	if agents == nil {
		agents = []*domain.Agent{}
	}
	JSON(w, http.StatusOK, AgentsResponse{Agents: agents, Count: len(agents)})
}

// HandleHealth serves GET /api/health with a database connectivity check.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
