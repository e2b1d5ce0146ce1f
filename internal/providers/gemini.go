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
	geminiDisplayName    = "Gemini"
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
	geminiDefaultModel   = "gemini-2.0-flash"
	geminiMaxTokens      = 65536

	// groundingNotice prefixes the response after falling back from an
	// unsupported search-grounding request.
	groundingNotice = "Note: web search grounding is not available for this account; answering without live search.\n\n"
)

// Gemini adapts the Google Generative Language API.
type Gemini struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  map[string]bool
}

func NewGemini(cfg Config) *Gemini {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  cfg.httpClient(),
		models: map[string]bool{
			"gemini-2.0-flash":      true,
			"gemini-2.0-flash-lite": true,
		},
	}
}

func (p *Gemini) Name() string         { return "gemini" }
func (p *Gemini) DefaultModel() string { return geminiDefaultModel }
func (p *Gemini) MaxTokens() int       { return geminiMaxTokens }

func (p *Gemini) Models() []string { return modelList(p.models) }

func (p *Gemini) SupportsModel(model string) bool { return p.models[model] }

func (p *Gemini) Cost() llm.CostPerToken {
	return llm.CostPerToken{Input: 0.01, Output: 0.04}
}

func (p *Gemini) SupportsFunctions() bool { return true }
func (p *Gemini) SupportsVision() bool    { return true }

func (p *Gemini) Embed(context.Context, string) ([]float64, error) {
	return nil, llm.ErrEmbeddingNotSupported
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inlineData,omitempty"`
	FileData   *geminiFileData `json:"fileData,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	FileURI  string `json:"fileUri"`
	MIMEType string `json:"mimeType"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

// normalizeGeminiParts maps content parts into Gemini's parts shape.
// Remote image URLs are not valid here (Gemini expects inline base64 or a
// hosted file URI), so they degrade to empty text parts like any other
// unrecognized input, preserving order.
func normalizeGeminiParts(msg llm.Message) []geminiPart {
	if !msg.IsMultipart() {
		return []geminiPart{{Text: msg.Content}}
	}

	parts := make([]geminiPart, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch {
		case part.Type == llm.PartText:
			parts = append(parts, geminiPart{Text: part.Text})
		case part.Type == llm.PartImage && part.Image.Base64 != "":
			parts = append(parts, geminiPart{InlineData: &geminiBlobData{
				MIMEType: part.Image.MediaType,
				Data:     part.Image.Base64,
			}})
		case part.Type == llm.PartFileURI:
			parts = append(parts, geminiPart{FileData: &geminiFileData{
				FileURI:  part.FileURI.URI,
				MIMEType: part.FileURI.MIMEType,
			}})
		case part.Type == llm.PartPDF:
			parts = append(parts, geminiPart{Text: part.PDFText})
		default:
			parts = append(parts, geminiPart{Text: ""})
		}
	}
	return parts
}

// buildGeminiBody assembles the generateContent request. Gemini has no system
// role: a leading system message is folded into the history as a user turn.
// searchToolKey names the web-search tool field, which differs between the
// public API and Vertex.
func buildGeminiBody(messages []llm.Message, opts llm.StreamOptions, searchToolKey string) map[string]any {
	var contents []geminiContent
	for _, msg := range messages {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: normalizeGeminiParts(msg),
		})
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"maxOutputTokens": clampMaxTokens(opts.MaxTokens, geminiMaxTokens),
			"temperature":     opts.TemperatureOr(defaultTemperature),
		},
	}
	if searchToolKey != "" {
		body["tools"] = []map[string]any{{searchToolKey: map[string]any{}}}
	}
	return body
}

func (p *Gemini) Stream(ctx context.Context, messages []llm.Message, opts llm.StreamOptions) (llm.Stream, error) {
	model := opts.Model
	if model == "" {
		model = geminiDefaultModel
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, model, p.apiKey)

	open := func(searchToolKey string) (llm.Stream, error) {
		body := buildGeminiBody(messages, opts, searchToolKey)
		resp, err := postJSON(ctx, p.client, url, nil, body)
		if err != nil {
			return nil, err
		}
		reader, err := decompressReader(resp)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return &geminiStream{body: reader, dec: newSSEDecoder(reader)}, nil
	}

	searchToolKey := ""
	if opts.WebSearch {
		searchToolKey = "google_search"
	}

	opts.Log().Debug("opening vendor stream", "provider", p.Name(), "model", model, "web_search", opts.WebSearch)

	stream, err := open(searchToolKey)
	if err == nil {
		return stream, nil
	}
	if searchToolKey != "" && isGroundingUnsupported(err) {
		// The account cannot use search grounding. Retry the identical
		// request without the tool and tell the user why; the original error
		// never reaches the caller.
		opts.Log().Info("search grounding unsupported, retrying without it", "model", model)
		fallback, retryErr := open("")
		if retryErr != nil {
			return nil, wrapVendorError(geminiDisplayName, retryErr)
		}
		fallback.(*geminiStream).notice = groundingNotice
		return fallback, nil
	}
	return nil, wrapGeminiError(err)
}

// wrapGeminiError classifies the grounding rejection structurally so callers
// never have to match on the vendor message text.
func wrapGeminiError(err error) error {
	wrapped := wrapVendorError(geminiDisplayName, err)
	if isGroundingUnsupported(err) {
		if apiErr, ok := llm.AsProviderAPIError(wrapped); ok {
			apiErr.Code = llm.ErrCodeGroundingUnsupported
		}
	}
	return wrapped
}

// isGroundingUnsupported detects the vendor's "search grounding is not
// supported" rejection. The match is on the vendor message text because the
// API reports it as a plain INVALID_ARGUMENT; the string should be
// re-verified against the current API from time to time.
func isGroundingUnsupported(err error) bool {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(errorMessageFromBody(statusErr.Body))
	return strings.Contains(msg, "search grounding is not supported") ||
		strings.Contains(msg, "grounding is not enabled")
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiStream struct {
	body io.ReadCloser
	dec  *sseDecoder

	// notice, when set, is emitted as the first chunk (grounding fallback).
	notice string

	pending []llm.StreamChunk
	usage   *llm.TokenUsage
	done    bool
	closed  bool
}

func (s *geminiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *geminiStream) Recv() (llm.StreamChunk, error) {
	if s.closed {
		return llm.StreamChunk{}, llm.ErrStreamClosed
	}
	if s.notice != "" {
		chunk := llm.StreamChunk{Content: s.notice}
		s.notice = ""
		return chunk, nil
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
			return llm.StreamChunk{}, wrapVendorError(geminiDisplayName, err)
		}

		var chunk geminiStreamChunk
		if err := json.Unmarshal(bytes.TrimSpace(data), &chunk); err != nil {
			return llm.StreamChunk{}, wrapVendorError(geminiDisplayName, fmt.Errorf("decode stream chunk: %w", err))
		}

		if chunk.UsageMetadata != nil {
			s.usage = &llm.TokenUsage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		candidate := chunk.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				s.pending = append(s.pending, llm.StreamChunk{Content: part.Text})
			}
		}
		if candidate.FinishReason != "" {
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
