package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatstack/llm-router/internal/llm"
)

// sseHandler replies to any POST with the given pre-baked SSE body.
func sseHandler(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, err := io.WriteString(w, body)
		require.NoError(t, err)
	}
}

// drainStream collects all chunks until EOF.
func drainStream(t *testing.T, stream llm.Stream) []llm.StreamChunk {
	t.Helper()
	var chunks []llm.StreamChunk
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func countDone(chunks []llm.StreamChunk) int {
	n := 0
	for _, c := range chunks {
		if c.Done {
			n++
		}
	}
	return n
}

func TestOpenAI_BasicMethods(t *testing.T) {
	provider := NewOpenAI(Config{APIKey: "test-key"})

	assert.Equal(t, "openai", provider.Name())
	assert.Equal(t, "gpt-4o-mini", provider.DefaultModel())
	assert.Equal(t, 16384, provider.MaxTokens())
	assert.True(t, provider.SupportsModel("gpt-4o"))
	assert.False(t, provider.SupportsModel("claude-3-5-haiku-latest"))
	assert.True(t, provider.SupportsVision())
}

func TestOpenAI_NormalizeContent(t *testing.T) {
	provider := NewOpenAI(Config{})

	msg := llm.Message{
		Role: llm.RoleUser,
		Parts: []llm.ContentPart{
			llm.TextPart("first"),
			llm.ImageURLPart("https://example.com/cat.png"),
			llm.ImageBase64Part("aGk=", "image/png"),
			llm.PDFPart("extracted pdf text"),
			llm.FileURIPart("gs://bucket/doc", "application/pdf"),
		},
	}

	parts, ok := provider.normalizeContent(msg).([]openAIPart)
	require.True(t, ok)
	require.Len(t, parts, 5)

	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "first", parts[0].Text)

	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "https://example.com/cat.png", parts[1].ImageURL.URL)

	assert.Equal(t, "image_url", parts[2].Type)
	assert.Equal(t, "data:image/png;base64,aGk=", parts[2].ImageURL.URL)

	assert.Equal(t, "text", parts[3].Type)
	assert.Equal(t, "extracted pdf text", parts[3].Text)

	// Unsupported part types keep their slot as empty text.
	assert.Equal(t, "text", parts[4].Type)
	assert.Empty(t, parts[4].Text)
}

func TestOpenAI_BuildRequestDefaults(t *testing.T) {
	provider := NewOpenAI(Config{})
	messages := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}

	tests := []struct {
		name          string
		opts          llm.StreamOptions
		wantModel     string
		wantMaxTokens int
		wantTemp      float64
	}{
		{"all defaults", llm.StreamOptions{}, "gpt-4o-mini", 16384, 0.7},
		{"explicit model", llm.StreamOptions{Model: "gpt-4o", MaxTokens: 512}, "gpt-4o", 512, 0.7},
		{"oversized budget clamped", llm.StreamOptions{MaxTokens: 999999}, "gpt-4o-mini", 16384, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := provider.buildRequest(messages, tt.opts)
			assert.Equal(t, tt.wantModel, body["model"])
			assert.Equal(t, tt.wantMaxTokens, body["max_tokens"])
			assert.Equal(t, tt.wantTemp, body["temperature"])
			assert.Equal(t, true, body["stream"])
		})
	}
}

func TestOpenAI_StreamEndToEnd(t *testing.T) {
	// Real vendor ordering with include_usage: the usage totals arrive in a
	// dedicated choices-less event after the finish_reason chunk.
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(sseHandler(t, body))
	defer srv.Close()

	provider := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, " world", chunks[1].Content)

	assert.Equal(t, 1, countDone(chunks))
	terminal := chunks[2]
	assert.True(t, terminal.Done)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 5, terminal.Usage.PromptTokens)
	assert.Equal(t, 7, terminal.Usage.TotalTokens)
}

func TestOpenAI_UsageEventAfterFinishReason(t *testing.T) {
	// Even without [DONE], a usage-only event after finish_reason must be
	// captured before the terminal chunk is emitted.
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"done\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"length\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":4,\"total_tokens\":13}}\n\n"

	srv := httptest.NewServer(sseHandler(t, body))
	defer srv.Close()

	provider := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, countDone(chunks))

	terminal := chunks[1]
	assert.True(t, terminal.Done)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 13, terminal.Usage.TotalTokens)
}

func TestOpenAI_StreamEOFWithoutTerminal(t *testing.T) {
	// Connection drop before finish_reason still yields exactly one Done.
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"

	srv := httptest.NewServer(sseHandler(t, body))
	defer srv.Close()

	provider := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Content)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, 1, countDone(chunks))
}

func TestOpenAI_StreamVendorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer srv.Close()

	provider := NewOpenAI(Config{APIKey: "bad-key", BaseURL: srv.URL})
	_, err := provider.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.StreamOptions{})

	apiErr, ok := llm.AsProviderAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "OpenAI", apiErr.Provider)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus)
	assert.Equal(t, "OpenAI API error: Incorrect API key provided", apiErr.Error())
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"embedding":[0.25,-0.5,0.125]}]}`)
	}))
	defer srv.Close()

	provider := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL})
	vector, err := provider.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, -0.5, 0.125}, vector)
	assert.NotEmpty(t, vector)
}

func TestClampMaxTokens(t *testing.T) {
	assert.Equal(t, 100, clampMaxTokens(0, 100))
	assert.Equal(t, 100, clampMaxTokens(-5, 100))
	assert.Equal(t, 100, clampMaxTokens(500, 100))
	assert.Equal(t, 50, clampMaxTokens(50, 100))
}
