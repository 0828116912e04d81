package llm

import (
	"context"
	"fmt"
	"time"
)

// FactoryConfig holds the parameters needed to create a Client.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is "anthropic", "gemini", "openai", or "none".
	Provider string
	// Temperature is the LLM temperature setting.
	Temperature float64
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
	// Gemini contains Gemini-specific settings.
	Gemini GeminiConfig
}

// NewClient creates a Client based on the configuration. The "none" and
// empty providers return a nil Client, which puts the analysis stages into
// extractive mode.
func NewClient(ctx context.Context, cfg FactoryConfig) (Client, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case providerOpenAI:
		return NewOpenAIClient(cfg.OpenAI, cfg.Temperature, cfg.Timeout, cfg.MaxRetries), nil
	case providerAnthropic:
		return NewAnthropicClient(cfg.Anthropic, cfg.Temperature, cfg.Timeout, cfg.MaxRetries), nil
	case providerGemini:
		client, err := NewGeminiClient(ctx, cfg.Gemini, cfg.Temperature, cfg.Timeout, cfg.MaxRetries)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
