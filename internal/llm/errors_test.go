package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAPIError_Message(t *testing.T) {
	err := &ProviderAPIError{Provider: "Gemini", Message: "quota exceeded", HTTPStatus: 429}
	assert.Equal(t, "Gemini API error: quota exceeded", err.Error())
}

func TestProviderAPIError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ProviderAPIError{Provider: "OpenAI", Message: cause.Error(), Cause: cause}

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("stream open: %w", err)
	got, ok := AsProviderAPIError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "OpenAI", got.Provider)
}

func TestValidationErrors(t *testing.T) {
	notConfigured := &ProviderNotConfiguredError{Provider: "gemini"}
	assert.Contains(t, notConfigured.Error(), "gemini")

	badModel := &ModelNotSupportedError{Provider: "openai", Model: "gpt-99"}
	assert.Contains(t, badModel.Error(), "gpt-99")
	assert.Contains(t, badModel.Error(), "openai")
}
