package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chatstack/llm-router/internal/llm"
)

const (
	openAIDisplayName    = "OpenAI"
	openAIDefaultBaseURL = "https://api.openai.com"
	openAIDefaultModel   = "gpt-4o-mini"
	openAIMaxTokens      = 16384
	openAIEmbedModel     = "text-embedding-3-small"
)

// OpenAI adapts the OpenAI chat completions and embeddings APIs.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  map[string]bool
}

func NewOpenAI(cfg Config) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  cfg.httpClient(),
		models: map[string]bool{
			"gpt-4o-mini": true,
			"gpt-4o":      true,
		},
	}
}

func (p *OpenAI) Name() string         { return "openai" }
func (p *OpenAI) DefaultModel() string { return openAIDefaultModel }
func (p *OpenAI) MaxTokens() int       { return openAIMaxTokens }

func (p *OpenAI) Models() []string {
	return modelList(p.models)
}

func (p *OpenAI) SupportsModel(model string) bool { return p.models[model] }

func (p *OpenAI) Cost() llm.CostPerToken {
	return llm.CostPerToken{Input: 0.015, Output: 0.06}
}

func (p *OpenAI) SupportsFunctions() bool { return true }
func (p *OpenAI) SupportsVision() bool    { return true }

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

// normalizeContent maps provider-agnostic content into OpenAI's content-part
// shape. Unrecognized part types become empty text parts so list order is
// never disturbed.
func (p *OpenAI) normalizeContent(msg llm.Message) any {
	if !msg.IsMultipart() {
		return msg.Content
	}

	parts := make([]openAIPart, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch part.Type {
		case llm.PartText:
			parts = append(parts, openAIPart{Type: "text", Text: part.Text})
		case llm.PartImage:
			url := part.Image.URL
			if url == "" {
				url = fmt.Sprintf("data:%s;base64,%s", part.Image.MediaType, part.Image.Base64)
			}
			parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: url}})
		case llm.PartPDF:
			parts = append(parts, openAIPart{Type: "text", Text: part.PDFText})
		default:
			parts = append(parts, openAIPart{Type: "text", Text: ""})
		}
	}
	return parts
}

func (p *OpenAI) buildRequest(messages []llm.Message, opts llm.StreamOptions) map[string]any {
	model := opts.Model
	if model == "" {
		model = openAIDefaultModel
	}

	wire := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, openAIMessage{
			Role:    string(msg.Role),
			Content: p.normalizeContent(msg),
		})
	}

	body := map[string]any{
		"model":          model,
		"messages":       wire,
		"max_tokens":     clampMaxTokens(opts.MaxTokens, openAIMaxTokens),
		"temperature":    opts.TemperatureOr(defaultTemperature),
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}

	if len(opts.Functions) > 0 {
		tools := make([]map[string]any, 0, len(opts.Functions))
		for _, fn := range opts.Functions {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        fn.Name,
					"description": fn.Description,
					"parameters":  fn.Parameters,
				},
			})
		}
		body["tools"] = tools
	}
	if opts.UserID != "" {
		body["user"] = opts.UserID
	}
	return body
}

func (p *OpenAI) Stream(ctx context.Context, messages []llm.Message, opts llm.StreamOptions) (llm.Stream, error) {
	body := p.buildRequest(messages, opts)

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+p.apiKey)
	headers.Set("Accept", "text/event-stream")

	opts.Log().Debug("opening vendor stream", "provider", p.Name(), "model", body["model"])

	resp, err := postJSON(ctx, p.client, p.baseURL+"/v1/chat/completions", headers, body)
	if err != nil {
		return nil, p.wrapError(err)
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, p.wrapError(err)
	}
	return &openAIStream{body: reader, dec: newSSEDecoder(reader)}, nil
}

func (p *OpenAI) wrapError(err error) error {
	return wrapVendorError(openAIDisplayName, err)
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStream struct {
	body io.ReadCloser
	dec  *sseDecoder

	usage  *llm.TokenUsage
	done   bool
	closed bool
}

func (s *openAIStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *openAIStream) Recv() (llm.StreamChunk, error) {
	if s.closed {
		return llm.StreamChunk{}, llm.ErrStreamClosed
	}
	if s.done {
		return llm.StreamChunk{}, io.EOF
	}

	for {
		data, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Vendor closed without a finish_reason; still end cleanly.
				s.done = true
				return llm.StreamChunk{Done: true, Usage: s.usage}, nil
			}
			return llm.StreamChunk{}, wrapVendorError(openAIDisplayName, err)
		}

		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			return llm.StreamChunk{Done: true, Usage: s.usage}, nil
		}

		var chunk openAIChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return llm.StreamChunk{}, wrapVendorError(openAIDisplayName, fmt.Errorf("decode stream chunk: %w", err))
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
		switch choice.FinishReason {
		case "stop", "length":
			// With include_usage the totals arrive in a choices-less event
			// after this one; keep reading until [DONE] so they land on the
			// terminal chunk.
			continue
		}
		if choice.Delta.Content != "" {
			return llm.StreamChunk{Content: choice.Delta.Content, Usage: s.usage}, nil
		}
	}
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+p.apiKey)

	body := map[string]any{
		"model": openAIEmbedModel,
		"input": text,
	}

	resp, err := postJSON(ctx, p.client, p.baseURL+"/v1/embeddings", headers, body)
	if err != nil {
		return nil, p.wrapError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.wrapError(err)
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, p.wrapError(fmt.Errorf("decode embedding response: %w", err))
	}
	if len(parsed.Data) == 0 {
		return nil, p.wrapError(errors.New("empty embedding response"))
	}
	return parsed.Data[0].Embedding, nil
}

// wrapVendorError converts transport failures into the uniform
// "<Provider> API error: <detail>" form.
func wrapVendorError(displayName string, err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return &llm.ProviderAPIError{
			Provider:   displayName,
			Message:    errorMessageFromBody(statusErr.Body),
			HTTPStatus: statusErr.StatusCode,
			Cause:      err,
		}
	}
	return &llm.ProviderAPIError{Provider: displayName, Message: err.Error(), Cause: err}
}

func modelList(models map[string]bool) []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	return names
}
