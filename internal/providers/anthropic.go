package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/chatstack/llm-router/internal/llm"
	"github.com/chatstack/llm-router/internal/storage"
)

const (
	anthropicDisplayName    = "Claude"
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicDefaultModel   = "claude-3-5-haiku-latest"
	anthropicMaxTokens      = 8192
	anthropicAPIVersion     = "2023-06-01"
	anthropicFilesBeta      = "files-api-2025-04-14"

	placeholderImageLoad  = "[Image could not be loaded]"
	placeholderPDFLoad    = "[PDF file could not be loaded]"
	placeholderGeminiFile = "[PDF file content - not available for Claude 3.5 Haiku]"
)

// Anthropic adapts the Anthropic messages API. It is the only adapter whose
// normalizer does I/O: remote image URLs are fetched and inlined, and vendor
// file ids are resolved back to bytes through the storage side channel.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
	store   storage.Store
	models  map[string]bool
}

func NewAnthropic(cfg Config, store storage.Store) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  cfg.httpClient(),
		store:   store,
		models: map[string]bool{
			"claude-3-5-haiku-latest":   true,
			"claude-3-5-haiku-20241022": true,
		},
	}
}

func (p *Anthropic) Name() string         { return "anthropic" }
func (p *Anthropic) DefaultModel() string { return anthropicDefaultModel }
func (p *Anthropic) MaxTokens() int       { return anthropicMaxTokens }

func (p *Anthropic) Models() []string { return modelList(p.models) }

func (p *Anthropic) SupportsModel(model string) bool { return p.models[model] }

func (p *Anthropic) Cost() llm.CostPerToken {
	return llm.CostPerToken{Input: 0.08, Output: 0.4}
}

func (p *Anthropic) SupportsFunctions() bool { return true }
func (p *Anthropic) SupportsVision() bool    { return true }

func (p *Anthropic) Embed(context.Context, string) ([]float64, error) {
	return nil, llm.ErrEmbeddingNotSupported
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// normalizeMessage converts one message into Anthropic content blocks.
// Per-part fetch or storage failures degrade to placeholder text blocks; a
// broken attachment must not abort the request. The returned flag reports
// whether a document block (PDF via file id) was produced, which decides the
// files beta header.
func (p *Anthropic) normalizeMessage(ctx context.Context, msg llm.Message, userID string, log *slog.Logger) (anthropicMessage, bool) {
	out := anthropicMessage{Role: string(msg.Role)}

	if !msg.IsMultipart() {
		out.Content = []anthropicBlock{{Type: "text", Text: msg.Content}}
		return out, false
	}

	hasDocument := false
	for _, part := range msg.Parts {
		switch part.Type {
		case llm.PartText:
			out.Content = append(out.Content, anthropicBlock{Type: "text", Text: part.Text})

		case llm.PartImage:
			out.Content = append(out.Content, p.normalizeImage(ctx, part.Image, log))

		case llm.PartFileURI:
			// Gemini-hosted files cannot be resolved here.
			out.Content = append(out.Content, anthropicBlock{Type: "text", Text: placeholderGeminiFile})

		case llm.PartFileID:
			block, ok := p.resolveDocument(ctx, part.FileID.ID, userID, log)
			out.Content = append(out.Content, block)
			if ok {
				hasDocument = true
			}

		case llm.PartPDF:
			out.Content = append(out.Content, anthropicBlock{Type: "text", Text: part.PDFText})
		}
	}
	return out, hasDocument
}

func (p *Anthropic) normalizeImage(ctx context.Context, img *llm.ImageSource, log *slog.Logger) anthropicBlock {
	if img.Base64 != "" {
		return anthropicBlock{Type: "image", Source: &anthropicSource{
			Type:      "base64",
			MediaType: img.MediaType,
			Data:      img.Base64,
		}}
	}

	data, contentType, err := fetchImage(ctx, p.client, img.URL)
	if err != nil {
		log.Warn("image fetch failed, substituting placeholder", "url", img.URL, "error", err)
		return anthropicBlock{Type: "text", Text: placeholderImageLoad}
	}
	return anthropicBlock{Type: "image", Source: &anthropicSource{
		Type:      "base64",
		MediaType: contentType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}}
}

// resolveDocument turns a vendor file id into an inline PDF document block,
// verifying ownership when a user id accompanies the request.
func (p *Anthropic) resolveDocument(ctx context.Context, fileID, userID string, log *slog.Logger) (anthropicBlock, bool) {
	if p.store == nil {
		log.Warn("no file store configured, substituting placeholder", "file_id", fileID)
		return anthropicBlock{Type: "text", Text: placeholderPDFLoad}, false
	}

	record, err := p.store.LookupByVendorID(ctx, fileID)
	if err != nil {
		log.Warn("file lookup failed, substituting placeholder", "file_id", fileID, "error", err)
		return anthropicBlock{Type: "text", Text: placeholderPDFLoad}, false
	}
	if userID != "" && record.OwnerUserID != userID {
		log.Warn("file ownership mismatch, substituting placeholder", "file_id", fileID)
		return anthropicBlock{Type: "text", Text: placeholderPDFLoad}, false
	}

	data, err := p.store.Download(ctx, record.StoragePath)
	if err != nil {
		log.Warn("file download failed, substituting placeholder", "file_id", fileID, "error", err)
		return anthropicBlock{Type: "text", Text: placeholderPDFLoad}, false
	}

	return anthropicBlock{Type: "document", Source: &anthropicSource{
		Type:      "base64",
		MediaType: "application/pdf",
		Data:      base64.StdEncoding.EncodeToString(data),
	}}, true
}

func (p *Anthropic) Stream(ctx context.Context, messages []llm.Message, opts llm.StreamOptions) (llm.Stream, error) {
	log := opts.Log()

	// Anthropic takes the system prompt as a separate field and rejects a
	// system role inside messages, so every system message is folded into
	// that field regardless of position.
	var system string
	var wire []anthropicMessage
	hasDocument := false
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.PlainText()
			continue
		}
		normalized, doc := p.normalizeMessage(ctx, msg, opts.UserID, log)
		wire = append(wire, normalized)
		hasDocument = hasDocument || doc
	}

	model := opts.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	body := map[string]any{
		"model":       model,
		"messages":    wire,
		"max_tokens":  clampMaxTokens(opts.MaxTokens, anthropicMaxTokens),
		"temperature": opts.TemperatureOr(defaultTemperature),
		"stream":      true,
	}
	if system != "" {
		body["system"] = system
	}

	headers := make(http.Header)
	headers.Set("x-api-key", p.apiKey)
	headers.Set("anthropic-version", anthropicAPIVersion)
	headers.Set("Accept", "text/event-stream")
	if hasDocument {
		// Opt into the files beta only for requests that actually carry a
		// document block.
		headers.Set("anthropic-beta", anthropicFilesBeta)
	}

	log.Debug("opening vendor stream", "provider", p.Name(), "model", model, "has_document", hasDocument)

	resp, err := postJSON(ctx, p.client, p.baseURL+"/v1/messages", headers, body)
	if err != nil {
		return nil, wrapVendorError(anthropicDisplayName, err)
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, wrapVendorError(anthropicDisplayName, err)
	}
	return &anthropicStream{body: reader, dec: newSSEDecoder(reader)}, nil
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicStream struct {
	body io.ReadCloser
	dec  *sseDecoder

	inputTokens  int
	outputTokens int
	done         bool
	closed       bool
}

func (s *anthropicStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func (s *anthropicStream) Recv() (llm.StreamChunk, error) {
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
				s.done = true
				return llm.StreamChunk{Done: true, Usage: s.usage()}, nil
			}
			return llm.StreamChunk{}, wrapVendorError(anthropicDisplayName, err)
		}

		var event anthropicEvent
		if err := json.Unmarshal(bytes.TrimSpace(data), &event); err != nil {
			return llm.StreamChunk{}, wrapVendorError(anthropicDisplayName, fmt.Errorf("decode stream event: %w", err))
		}

		switch event.Type {
		case "message_start":
			s.inputTokens = event.Message.Usage.InputTokens
			s.outputTokens = event.Message.Usage.OutputTokens

		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				return llm.StreamChunk{Content: event.Delta.Text}, nil
			}
			if event.Delta.Type == "thinking_delta" && event.Delta.Thinking != "" {
				return llm.StreamChunk{Thinking: event.Delta.Thinking, IsThinking: true}, nil
			}

		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				s.outputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			s.done = true
			return llm.StreamChunk{Done: true, Usage: s.usage()}, nil

		case "error":
			return llm.StreamChunk{}, &llm.ProviderAPIError{
				Provider: anthropicDisplayName,
				Message:  event.Error.Message,
			}
		}
	}
}

func (s *anthropicStream) usage() *llm.TokenUsage {
	if s.inputTokens == 0 && s.outputTokens == 0 {
		return nil
	}
	return &llm.TokenUsage{
		PromptTokens:     s.inputTokens,
		CompletionTokens: s.outputTokens,
		TotalTokens:      s.inputTokens + s.outputTokens,
	}
}
