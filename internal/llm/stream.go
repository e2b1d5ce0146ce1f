package llm

import (
	"encoding/json"
	"errors"
	"log/slog"
)

// TokenUsage is reported by vendors on the terminal chunk or periodically
// mid-stream.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one unit of streamed output. A chunk carries content, or
// thinking (reasoning) text, or is the terminal chunk; never a mix. Done is
// emitted exactly once per stream and no chunks follow it.
type StreamChunk struct {
	Content    string      `json:"content"`
	Done       bool        `json:"done"`
	Thinking   string      `json:"thinking,omitempty"`
	IsThinking bool        `json:"is_thinking,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}

// Stream is a lazy, single-pass, forward-only chunk sequence. Recv returns
// io.EOF after the terminal chunk. Close releases the underlying vendor
// connection and is safe to call on every exit path.
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

var ErrStreamClosed = errors.New("llm: stream closed")

// FunctionDef describes a callable function exposed to the model.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// StreamOptions is threaded opaquely from the caller through the Router to the
// adapter. Unset fields fall back to adapter defaults.
type StreamOptions struct {
	Model          string        `json:"model,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	Functions      []FunctionDef `json:"functions,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	WebSearch      bool          `json:"web_search,omitempty"`

	// Logger is the per-request observability hook. Adapters must use it
	// instead of any ambient logger.
	Logger *slog.Logger `json:"-"`
}

// Log returns the request logger, or a discard logger when none was supplied.
func (o StreamOptions) Log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// TemperatureOr returns the configured temperature or the given default.
func (o StreamOptions) TemperatureOr(def float64) float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return def
}
