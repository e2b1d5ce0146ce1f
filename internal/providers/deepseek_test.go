package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatstack/llm-router/internal/llm"
)

func TestDeepSeek_BasicMethods(t *testing.T) {
	provider := NewDeepSeek(Config{APIKey: "test-key"})

	assert.Equal(t, "deepseek", provider.Name())
	assert.Equal(t, "deepseek-reasoner", provider.DefaultModel())
	assert.Equal(t, 64000, provider.MaxTokens())
	assert.False(t, provider.SupportsVision())

	_, err := provider.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, llm.ErrEmbeddingNotSupported)
}

func TestDeepSeek_FlattenContent(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
		want string
	}{
		{
			"plain string",
			llm.Message{Role: llm.RoleUser, Content: "hello"},
			"hello",
		},
		{
			"parts joined in order",
			llm.Message{Role: llm.RoleUser, Parts: []llm.ContentPart{
				llm.TextPart("first"),
				llm.TextPart("second"),
			}},
			"first\nsecond",
		},
		{
			"image becomes placeholder in position",
			llm.Message{Role: llm.RoleUser, Parts: []llm.ContentPart{
				llm.TextPart("look"),
				llm.ImageURLPart("https://example.com/cat.png"),
				llm.TextPart("done"),
			}},
			"look\n[Image content - not supported by DeepSeek R1]\ndone",
		},
		{
			"pdf text kept",
			llm.Message{Role: llm.RoleUser, Parts: []llm.ContentPart{
				llm.PDFPart("extracted"),
			}},
			"extracted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flattenContent(tt.msg))
		})
	}
}

func TestDeepSeek_ReasoningThenContent(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"thinking...\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"42\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":8,\"completion_tokens\":3,\"total_tokens\":11}}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(sseHandler(t, body))
	defer srv.Close()

	provider := NewDeepSeek(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "what is the answer"},
	}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 3)

	assert.True(t, chunks[0].IsThinking)
	assert.Equal(t, "thinking...", chunks[0].Thinking)
	assert.Empty(t, chunks[0].Content)

	assert.False(t, chunks[1].IsThinking)
	assert.Equal(t, "42", chunks[1].Content)

	terminal := chunks[2]
	assert.True(t, terminal.Done)
	assert.Equal(t, 1, countDone(chunks))
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 11, terminal.Usage.TotalTokens)
}

func TestDeepSeek_ReasoningUnderMessageKey(t *testing.T) {
	// Some response variants put reasoning under message instead of delta.
	body := "data: {\"choices\":[{\"delta\":{},\"message\":{\"reasoning_content\":\"alt location\"}}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(sseHandler(t, body))
	defer srv.Close()

	provider := NewDeepSeek(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 2)
	assert.True(t, chunks[0].IsThinking)
	assert.Equal(t, "alt location", chunks[0].Thinking)
	assert.True(t, chunks[1].Done)
}

func TestDeepSeek_FinishReasonWithEmptyEventTerminates(t *testing.T) {
	// No [DONE] sentinel; the bare finish_reason event ends the stream.
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"

	srv := httptest.NewServer(sseHandler(t, body))
	defer srv.Close()

	provider := NewDeepSeek(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "ok", chunks[0].Content)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, 1, countDone(chunks))
}

func TestDeepSeek_RequestIsTextOnly(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	provider := NewDeepSeek(Config{APIKey: "test-key", BaseURL: srv.URL})
	stream, err := provider.Stream(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Parts: []llm.ContentPart{
			llm.TextPart("describe"),
			llm.ImageBase64Part("aGk=", "image/png"),
		}},
	}, llm.StreamOptions{})
	require.NoError(t, err)
	defer stream.Close()

	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	first, ok := messages[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "describe\n[Image content - not supported by DeepSeek R1]", first["content"])
}
