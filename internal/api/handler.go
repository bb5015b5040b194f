// Package api provides HTTP handlers for the timeline observer API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentline/timeline/internal/config"
	"github.com/agentline/timeline/internal/domain"
	"github.com/agentline/timeline/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	cfg  *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, cfg *config.Config) *Handler {
	return &Handler{
		repo: repo,
		cfg:  cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DomainError maps a domain error to an HTTP status and writes a structured
// body carrying the error kind alongside the message.
func DomainError(w http.ResponseWriter, err error) {
	kind := "InternalError"
	status := http.StatusInternalServerError
	var k domain.Kinded
	if errors.As(err, &k) {
		kind = k.Kind()
		switch kind {
		case domain.KindValidationError:
			status = http.StatusBadRequest
		case domain.KindSessionError:
			status = http.StatusUnauthorized
		case domain.KindDatabaseError:
			status = http.StatusInternalServerError
		}
	}
	JSON(w, status, map[string]string{"error": kind, "message": err.Error()})
}
