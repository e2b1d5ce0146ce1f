package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chatstack/llm-router/internal/router"
)

type EmbeddingsHandler struct {
	router *router.Router
	logger *slog.Logger
}

func NewEmbeddingsHandler(rt *router.Router, logger *slog.Logger) *EmbeddingsHandler {
	return &EmbeddingsHandler{
		router: rt,
		logger: logger,
	}
}

type embeddingsRequest struct {
	Provider string `json:"provider,omitempty"`
	Input    string `json:"input"`
}

type embeddingsResponse struct {
	Provider  string    `json:"provider"`
	Embedding []float64 `json:"embedding"`
}

func (h *EmbeddingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input must not be empty")
		return
	}

	vector, err := h.router.Embed(r.Context(), req.Input, req.Provider)
	if err != nil {
		writeRoutingError(w, err)
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = "openai"
	}
	writeJSON(w, http.StatusOK, embeddingsResponse{
		Provider:  provider,
		Embedding: vector,
	})
}
