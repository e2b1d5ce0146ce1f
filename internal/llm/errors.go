package llm

import (
	"errors"
	"fmt"
)

// ErrEmbeddingNotSupported is returned by adapters that do not implement
// embeddings. No fallback exists; embeddings are OpenAI-only in this system.
var ErrEmbeddingNotSupported = errors.New("llm: embeddings not supported by this provider")

// ProviderNotConfiguredError means the requested provider has no registered
// adapter (no API key at startup).
type ProviderNotConfiguredError struct {
	Provider string
}

func (e *ProviderNotConfiguredError) Error() string {
	return fmt.Sprintf("provider %q is not configured", e.Provider)
}

// ModelNotSupportedError means the requested model is not in the target
// adapter's model list.
type ModelNotSupportedError struct {
	Provider string
	Model    string
}

func (e *ModelNotSupportedError) Error() string {
	return fmt.Sprintf("model %q is not supported by provider %q", e.Model, e.Provider)
}

// ErrorCode classifies vendor failures that callers need to distinguish
// structurally rather than by message text.
type ErrorCode string

const (
	ErrCodeNone ErrorCode = ""

	// ErrCodeGroundingUnsupported marks the Gemini "search grounding not
	// supported" rejection, which the adapter recovers from by retrying
	// without the search tool.
	ErrCodeGroundingUnsupported ErrorCode = "grounding_unsupported"
)

// ProviderAPIError wraps any failure talking to a vendor. Provider carries the
// display name used in the message ("OpenAI", "Claude", "Gemini", "DeepSeek").
type ProviderAPIError struct {
	Provider   string
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

func (e *ProviderAPIError) Unwrap() error { return e.Cause }

// AsProviderAPIError unwraps err to a ProviderAPIError when possible.
func AsProviderAPIError(err error) (*ProviderAPIError, bool) {
	var e *ProviderAPIError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
