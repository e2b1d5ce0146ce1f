package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatstack/llm-router/internal/llm"
)

const (
	deepseekDisplayName    = "DeepSeek"
	deepseekDefaultBaseURL = "https://api.deepseek.com"
	deepseekDefaultModel   = "deepseek-reasoner"
	deepseekMaxTokens      = 64000

	placeholderDeepSeekImage = "[Image content - not supported by DeepSeek R1]"
)

// DeepSeek adapts the DeepSeek chat API (OpenAI-compatible wire format). The
// R1 reasoner interleaves reasoning tokens with answer tokens in the same
// event stream; they are surfaced as thinking chunks.
type DeepSeek struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  map[string]bool
}

func NewDeepSeek(cfg Config) *DeepSeek {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = deepseekDefaultBaseURL
	}
	return &DeepSeek{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  cfg.httpClient(),
		models: map[string]bool{
			"deepseek-reasoner": true,
			"deepseek-chat":     true,
		},
	}
}

func (p *DeepSeek) Name() string         { return "deepseek" }
func (p *DeepSeek) DefaultModel() string { return deepseekDefaultModel }
func (p *DeepSeek) MaxTokens() int       { return deepseekMaxTokens }

func (p *DeepSeek) Models() []string { return modelList(p.models) }

func (p *DeepSeek) SupportsModel(model string) bool { return p.models[model] }

func (p *DeepSeek) Cost() llm.CostPerToken {
	return llm.CostPerToken{Input: 0.055, Output: 0.219}
}

func (p *DeepSeek) SupportsFunctions() bool { return false }
func (p *DeepSeek) SupportsVision() bool    { return false }

func (p *DeepSeek) Embed(context.Context, string) ([]float64, error) {
	return nil, llm.ErrEmbeddingNotSupported
}

// flattenContent folds multimodal content into one text blob; DeepSeek is
// text-only. Non-text parts become literal placeholders in their original
// position.
func flattenContent(msg llm.Message) string {
	if !msg.IsMultipart() {
		return msg.Content
	}

	var b strings.Builder
	for _, part := range msg.Parts {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		switch part.Type {
		case llm.PartText:
			b.WriteString(part.Text)
		case llm.PartPDF:
			b.WriteString(part.PDFText)
		default:
			b.WriteString(placeholderDeepSeekImage)
		}
	}
	return b.String()
}

func (p *DeepSeek) Stream(ctx context.Context, messages []llm.Message, opts llm.StreamOptions) (llm.Stream, error) {
	model := opts.Model
	if model == "" {
		model = deepseekDefaultModel
	}

	wire := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, map[string]any{
			"role":    string(msg.Role),
			"content": flattenContent(msg),
		})
	}

	body := map[string]any{
		"model":       model,
		"messages":    wire,
		"max_tokens":  clampMaxTokens(opts.MaxTokens, deepseekMaxTokens),
		"temperature": opts.TemperatureOr(defaultTemperature),
		"stream":      true,
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+p.apiKey)
	headers.Set("Accept", "text/event-stream")

	opts.Log().Debug("opening vendor stream", "provider", p.Name(), "model", model)

	resp, err := postJSON(ctx, p.client, p.baseURL+"/v1/chat/completions", headers, body)
	if err != nil {
		return nil, wrapVendorError(deepseekDisplayName, err)
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, wrapVendorError(deepseekDisplayName, err)
	}
	return &deepseekStream{body: reader, dec: newSSEDecoder(reader)}, nil
}

type deepseekDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

type deepseekChunk struct {
	Choices []struct {
		Delta deepseekDelta `json:"delta"`
		// Some response variants carry reasoning under message instead of
		// delta; both locations have been observed in practice, so both are
		// checked.
		Message      *deepseekDelta `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type deepseekStream struct {
	body io.ReadCloser
	dec  *sseDecoder

	pending []llm.StreamChunk
	usage   *llm.TokenUsage
	done    bool
	closed  bool
}

func (s *deepseekStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *deepseekStream) Recv() (llm.StreamChunk, error) {
	if s.closed {
		return llm.StreamChunk{}, llm.ErrStreamClosed
	}
	if len(s.pending) > 0 {
		chunk := s.pending[0]
		s.pending = s.pending[1:]
		return chunk, nil
	}
	if s.done {
		return llm.StreamChunk{}, io.EOF
	}

	for {
		data, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return llm.StreamChunk{Done: true, Usage: s.usage}, nil
			}
			return llm.StreamChunk{}, wrapVendorError(deepseekDisplayName, err)
		}

		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			return llm.StreamChunk{Done: true, Usage: s.usage}, nil
		}

		var chunk deepseekChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return llm.StreamChunk{}, wrapVendorError(deepseekDisplayName, fmt.Errorf("decode stream chunk: %w", err))
		}

		if chunk.Usage != nil {
			s.usage = &llm.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]

		reasoning := choice.Delta.ReasoningContent
		if reasoning == "" && choice.Message != nil {
			reasoning = choice.Message.ReasoningContent
		}
		if reasoning != "" {
			s.pending = append(s.pending, llm.StreamChunk{Thinking: reasoning, IsThinking: true})
		}

		content := choice.Delta.Content
		if content == "" && choice.Message != nil {
			content = choice.Message.Content
		}
		if content != "" {
			s.pending = append(s.pending, llm.StreamChunk{Content: content})
		}

		// A finish_reason with nothing left in the event ends the stream.
		if choice.FinishReason != "" && reasoning == "" && content == "" {
			s.done = true
			s.pending = append(s.pending, llm.StreamChunk{Done: true, Usage: s.usage})
		}

		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			return chunk, nil
		}
	}
}
