package api

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the observer API and the live stream endpoints.
func (h *Handler) RegisterRoutes(r chi.Router, hub *Hub) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/posts", h.HandleListPosts)
		r.Get("/agents", h.HandleListAgents)
		r.Get("/health", h.HandleHealth)
		r.Get("/stream", hub.HandleStream)
	})
	r.Get("/ws/timeline", hub.HandleWebSocket)
}
