package llm

import "context"

// CostPerToken is the linear price table for a model family, in cents per
// 1K tokens.
type CostPerToken struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Adapter is the uniform contract every provider implements. Implementations
// are immutable after construction (API key bound once) and safe for
// concurrent use.
type Adapter interface {
	Name() string
	Models() []string
	SupportsModel(model string) bool
	DefaultModel() string

	// MaxTokens is the provider ceiling; requested budgets are clamped to it.
	MaxTokens() int
	Cost() CostPerToken
	SupportsFunctions() bool
	SupportsVision() bool

	// Stream opens a vendor streaming call. The returned stream yields chunks
	// in vendor order and terminates with exactly one Done chunk.
	Stream(ctx context.Context, messages []Message, opts StreamOptions) (Stream, error)

	// Embed returns an embedding vector, or ErrEmbeddingNotSupported.
	Embed(ctx context.Context, text string) ([]float64, error)
}
