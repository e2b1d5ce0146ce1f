package handlers

import (
	"log/slog"
	"net/http"

	"github.com/chatstack/llm-router/internal/router"
)

// HealthHandler reports liveness plus which provider adapters are registered,
// so a probe can tell an empty router from a healthy one.
type HealthHandler struct {
	router *router.Router
	logger *slog.Logger
}

func NewHealthHandler(rt *router.Router, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		router: rt,
		logger: logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": h.router.AvailableProviders(),
	})
}
