package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatstack/llm-router/internal/llm"
)

const geminiTestStream = "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi there\"}]}}]}\n\n" +
	"data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":3,\"candidatesTokenCount\":2,\"totalTokenCount\":5}}\n\n"

func TestGemini_BasicMethods(t *testing.T) {
	provider := NewGemini(Config{APIKey: "test-key"})

	assert.Equal(t, "gemini", provider.Name())
	assert.Equal(t, "gemini-2.0-flash", provider.DefaultModel())
	assert.Equal(t, 65536, provider.MaxTokens())

	_, err := provider.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, llm.ErrEmbeddingNotSupported)
}

func TestGemini_NormalizeParts(t *testing.T) {
	msg := llm.Message{
		Role: llm.RoleUser,
		Parts: []llm.ContentPart{
			llm.TextPart("caption"),
			llm.ImageBase64Part("aGk=", "image/png"),
			llm.FileURIPart("gs://bucket/doc.pdf", "application/pdf"),
			llm.ImageURLPart("https://example.com/cat.png"),
			llm.PDFPart("extracted"),
		},
	}

	parts := normalizeGeminiParts(msg)
	require.Len(t, parts, 5)

	assert.Equal(t, "caption", parts[0].Text)

	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.Equal(t, "aGk=", parts[1].InlineData.Data)

	require.NotNil(t, parts[2].FileData)
	assert.Equal(t, "gs://bucket/doc.pdf", parts[2].FileData.FileURI)

	// Remote URLs have no Gemini representation; the slot stays but empties.
	assert.Nil(t, parts[3].InlineData)
	assert.Empty(t, parts[3].Text)

	assert.Equal(t, "extracted", parts[4].Text)
}

func TestGemini_BuildBodyFoldsSystemIntoHistory(t *testing.T) {
	body := buildGeminiBody([]llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}, llm.StreamOptions{}, "")

	contents, ok := body["contents"].([]geminiContent)
	require.True(t, ok)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "be brief", contents[0].Parts[0].Text)
	assert.Equal(t, "user", contents[1].Role)
	assert.Equal(t, "model", contents[2].Role)

	_, hasTools := body["tools"]
	assert.False(t, hasTools)
}

func TestGemini_BuildBodySearchTool(t *testing.T) {
	body := buildGeminiBody([]llm.Message{
		{Role: llm.RoleUser, Content: "latest news"},
	}, llm.StreamOptions{WebSearch: true}, "google_search")

	tools, ok := body["tools"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	_, hasKey := tools[0]["google_search"]
	assert.True(t, hasKey)
}

func TestGemini_StreamEndToEnd(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, geminiTestStream))
	defer srv.Close()

	provider := NewGemini(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "hi there", chunks[0].Content)

	terminal := chunks[1]
	assert.True(t, terminal.Done)
	assert.Equal(t, 1, countDone(chunks))
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 3, terminal.Usage.PromptTokens)
	assert.Equal(t, 5, terminal.Usage.TotalTokens)
}

func TestGemini_GroundingFallback(t *testing.T) {
	var calls atomic.Int32
	var firstHadTools, secondHadTools bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasTools := body["tools"]

		if calls.Add(1) == 1 {
			firstHadTools = hasTools
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"Search Grounding is not supported for this account."}}`)
			return
		}
		secondHadTools = hasTools
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, geminiTestStream)
	}))
	defer srv.Close()

	provider := NewGemini(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "latest news"},
	}, llm.StreamOptions{WebSearch: true})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, firstHadTools)
	assert.False(t, secondHadTools)

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 3)
	// The explanatory notice arrives before any vendor content.
	assert.Equal(t, groundingNotice, chunks[0].Content)
	assert.Equal(t, "hi there", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, 1, countDone(chunks))
}

func TestGemini_UnrelatedRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"Invalid request: contents must not be empty."}}`)
	}))
	defer srv.Close()

	provider := NewGemini(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, llm.StreamOptions{WebSearch: true})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	apiErr, ok := llm.AsProviderAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "Gemini", apiErr.Provider)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, llm.ErrCodeNone, apiErr.Code)
}

func TestGemini_GroundingRejectionIsClassified(t *testing.T) {
	// Without web search requested there is no fallback to take; the rejection
	// surfaces with its structured code.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"Search grounding is not supported."}}`)
	}))
	defer srv.Close()

	provider := NewGemini(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, llm.StreamOptions{})

	apiErr, ok := llm.AsProviderAPIError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrCodeGroundingUnsupported, apiErr.Code)
}
