package providers

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEDecoder(t *testing.T) {
	input := ": keep-alive comment\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		"event: message\n" +
		"data: line one\n" +
		"data: line two\n" +
		"\n" +
		"data: last\n"

	dec := newSSEDecoder(strings.NewReader(input))

	first, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))

	// Multiple data lines in one event are joined with a newline.
	second, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(second))

	// A final event without a trailing blank line is still delivered.
	third, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "last", string(third))

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestErrorMessageFromBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai envelope", `{"error":{"message":"bad key"}}`, "bad key"},
		{"flat message", `{"message":"not found"}`, "not found"},
		{"raw text", "plain failure", "plain failure"},
		{"empty", "", "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessageFromBody([]byte(tt.body)))
		})
	}
}
