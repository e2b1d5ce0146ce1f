package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatstack/llm-router/internal/llm"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeRoutingError maps the error taxonomy onto HTTP statuses: unknown
// provider 404, unsupported model or capability 400, vendor failure 502.
func writeRoutingError(w http.ResponseWriter, err error) {
	var notConfigured *llm.ProviderNotConfiguredError
	if errors.As(err, &notConfigured) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var badModel *llm.ModelNotSupportedError
	if errors.As(err, &badModel) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if errors.Is(err, llm.ErrEmbeddingNotSupported) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if apiErr, ok := llm.AsProviderAPIError(err); ok {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":           apiErr.Error(),
			"provider":        apiErr.Provider,
			"upstream_status": apiErr.HTTPStatus,
		})
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}
