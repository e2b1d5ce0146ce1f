package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatstack/llm-router/internal/llm"
)

func TestNewVertex_RequiresCredentials(t *testing.T) {
	t.Setenv(VertexCredentialsEnv, "")

	_, err := NewVertex(VertexConfig{ProjectID: "proj"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestNewVertex_RejectsMalformedCredentials(t *testing.T) {
	_, err := NewVertex(VertexConfig{
		ProjectID:       "proj",
		CredentialsJSON: []byte(`{"type":"service_account"}`),
	})
	assert.Error(t, err)
}

func TestVertex_SearchToolKeyDiffersFromPublicAPI(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: "latest news"}}
	body := buildGeminiBody(messages, llm.StreamOptions{WebSearch: true}, "googleSearchRetrieval")

	tools, ok := body["tools"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	_, hasVertexKey := tools[0]["googleSearchRetrieval"]
	assert.True(t, hasVertexKey)
	_, hasPublicKey := tools[0]["google_search"]
	assert.False(t, hasPublicKey)
}
