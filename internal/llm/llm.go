// Package llm provides a provider-neutral text completion client used by the
// summarize and synthesize stages.
//
// Three providers are supported: Anthropic (official SDK), Google Gemini
// (genai SDK) and any OpenAI-compatible Chat Completions endpoint (plain
// HTTP). NewClient selects one from configuration.
package llm

import "context"

// Client completes a single prompt.
type Client interface {
	// Complete sends req and returns the model's text. Implementations retry
	// transient failures and honour ctx cancellation.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the provider name, e.g. "anthropic".
	Provider() string

	// Model returns the configured model identifier.
	Model() string
}

// Request is one completion request.
type Request struct {
	// System is the system prompt. Optional.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens bounds the response length. Zero selects the provider default.
	MaxTokens int

	// JSON asks the provider for a JSON object response where it supports it.
	JSON bool
}

// Response is a completion result.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// TokensUsed returns input plus output tokens.
func (r *Response) TokensUsed() int {
	if r == nil {
		return 0
	}
	return r.InputTokens + r.OutputTokens
}

// defaultMaxTokens is used when a Request leaves MaxTokens at zero.
const defaultMaxTokens = 2048
