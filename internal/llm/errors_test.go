package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestAPIError_Error(t *testing.T) {
	t.Parallel()

	withType := &APIError{Provider: "openai", StatusCode: 429, Message: "rate limit exceeded", Type: "rate_limit_error"}
	assert.Equal(t, "openai: API error (status 429, type rate_limit_error): rate limit exceeded", withType.Error())

	plain := &APIError{Provider: "anthropic", StatusCode: 500, Message: "internal server error", Code: "ignored"}
	assert.Equal(t, "anthropic: API error (status 500): internal server error", plain.Error())
}

func TestAPIError_IsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		statusCode int
		want       bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{599, true},
		{0, true},
		{400, false},
		{401, false},
		{404, false},
		{422, false},
		{200, false},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("status %d", tc.statusCode), func(t *testing.T) {
			t.Parallel()
			err := &APIError{Provider: "p", StatusCode: tc.statusCode}
			assert.Equal(t, tc.want, err.IsTransient())
			assert.Equal(t, tc.want, isTransientError(fmt.Errorf("wrapped: %w", err)))
		})
	}

	assert.False(t, isTransientError(errors.New("plain")))
}

func TestFromSDKErrors(t *testing.T) {
	t.Parallel()

	t.Run("gemini", func(t *testing.T) {
		err := fromGeminiError(fmt.Errorf("call: %w", genai.APIError{Code: 503, Message: "overloaded", Status: "UNAVAILABLE"}))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, providerGemini, apiErr.Provider)
		assert.Equal(t, 503, apiErr.StatusCode)
		assert.Equal(t, "UNAVAILABLE", apiErr.Type)
		assert.True(t, apiErr.IsTransient())
	})

	t.Run("anthropic", func(t *testing.T) {
		err := fromAnthropicError(&anthropic.Error{StatusCode: 401})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, providerAnthropic, apiErr.Provider)
		assert.Equal(t, 401, apiErr.StatusCode)
		assert.False(t, apiErr.IsTransient())
	})

	t.Run("other errors pass through", func(t *testing.T) {
		plain := errors.New("dial tcp: refused")
		assert.Same(t, plain, fromGeminiError(plain))
		assert.Same(t, plain, fromAnthropicError(plain))
	})
}
