package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chatstack/llm-router/internal/llm"
	"github.com/chatstack/llm-router/internal/router"
)

// ProvidersHandler serves the introspection endpoints: the provider list with
// capabilities, per-provider model lists, and cost calculation.
type ProvidersHandler struct {
	router *router.Router
	logger *slog.Logger
}

func NewProvidersHandler(rt *router.Router, logger *slog.Logger) *ProvidersHandler {
	return &ProvidersHandler{
		router: rt,
		logger: logger,
	}
}

type providerInfo struct {
	Name              string           `json:"name"`
	DefaultModel      string           `json:"default_model"`
	MaxTokens         int              `json:"max_tokens"`
	Cost              llm.CostPerToken `json:"cost_per_1k_cents"`
	SupportsFunctions bool             `json:"supports_functions"`
	SupportsVision    bool             `json:"supports_vision"`
}

// List handles GET /v1/providers.
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	var infos []providerInfo
	for _, name := range h.router.AvailableProviders() {
		a, err := h.router.Adapter(name)
		if err != nil {
			continue
		}
		infos = append(infos, providerInfo{
			Name:              a.Name(),
			DefaultModel:      a.DefaultModel(),
			MaxTokens:         a.MaxTokens(),
			Cost:              a.Cost(),
			SupportsFunctions: a.SupportsFunctions(),
			SupportsVision:    a.SupportsVision(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": infos})
}

// Models handles GET /v1/providers/{name}/models.
func (h *ProvidersHandler) Models(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	models, err := h.router.ProviderModels(name)
	if err != nil {
		writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": name,
		"models":   models,
	})
}

type costRequest struct {
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`

	// InputText, when given instead of InputTokens, is tokenized server-side
	// for a cost preview before any request is sent.
	InputText string `json:"input_text,omitempty"`
}

// Cost handles POST /v1/cost.
func (h *ProvidersHandler) Cost(w http.ResponseWriter, r *http.Request) {
	var req costRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		writeError(w, http.StatusBadRequest, "token counts must not be negative")
		return
	}
	if req.InputTokens == 0 && req.InputText != "" {
		req.InputTokens = estimateTokens(req.InputText)
	}

	cents, err := h.router.CalculateCost(req.Provider, req.InputTokens, req.OutputTokens)
	if err != nil {
		writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":      req.Provider,
		"input_tokens":  req.InputTokens,
		"output_tokens": req.OutputTokens,
		"cost_cents":    cents,
	})
}
