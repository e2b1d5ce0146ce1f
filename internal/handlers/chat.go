package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"

	"github.com/chatstack/llm-router/internal/llm"
	"github.com/chatstack/llm-router/internal/middleware"
	"github.com/chatstack/llm-router/internal/router"
)

// ChatHandler streams chat completions as Server-Sent Events. Each vendor
// chunk is relayed as one `data:` event carrying the llm.StreamChunk JSON; the
// terminal chunk has done=true and carries usage when the vendor reported it.
type ChatHandler struct {
	router *router.Router
	logger *slog.Logger
}

func NewChatHandler(rt *router.Router, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		router: rt,
		logger: logger,
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	logger := h.logger.With("request_id", middleware.RequestID(r.Context()))
	logger.Info("chat stream request",
		"provider", req.Provider,
		"model", req.Model,
		"messages", len(req.Messages),
		"prompt_tokens_estimate", estimatePromptTokens(req.Messages),
	)

	req.Options.Logger = logger

	stream, err := h.router.Stream(r.Context(), req)
	if err != nil {
		writeRoutingError(w, err)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			// Headers are already out; report the failure as an in-band event.
			logger.Error("stream failed mid-flight", "error", err)
			writeSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}

		writeSSEEvent(w, flusher, "", chunk)
		if chunk.Done {
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// estimatePromptTokens counts prompt text with the cl100k_base encoding. The
// count is an observability estimate only; billing uses the vendor's usage
// report.
func estimatePromptTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateTokens(msg.PlainText())
	}
	return total
}

func estimateTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
