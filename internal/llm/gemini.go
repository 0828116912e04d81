package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	providerGemini = "gemini"

	defaultGeminiModel = "gemini-2.5-flash"
)

// GeminiConfig holds the parameters needed to create a Gemini client.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL overrides the API endpoint (empty means default).
	BaseURL string
}

// GeminiClient implements Client over the Gemini generateContent API.
type GeminiClient struct {
	models      *genai.Models
	model       string
	temperature float32
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, temperature float64, timeout time.Duration, maxRetries int) (*GeminiClient, error) {
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &GeminiClient{
		models:      client.Models,
		model:       model,
		temperature: float32(temperature),
		timeout:     timeout,
		maxRetries:  maxRetries,
		retryDelay:  time.Second,
	}, nil
}

// Complete sends req to generateContent, retrying transient failures with
// exponential backoff.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	contents := genai.Text(req.Prompt)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("gemini: context cancelled during retry: %w", context.Cause(ctx))
			case <-time.After(delay):
			}
		}

		resp, err := c.generate(ctx, contents, cfg)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !isTransientError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("gemini: all %d retries exhausted: %w", c.maxRetries, lastErr)
}

func (c *GeminiClient) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.models.GenerateContent(callCtx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", fromGeminiError(err))
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini: response contains no text")
	}

	out := &Response{Text: text, Model: c.model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.TotalTokenCount - u.PromptTokenCount)
	}
	return out, nil
}

// Provider returns "gemini".
func (c *GeminiClient) Provider() string {
	return providerGemini
}

// Model returns the model identifier being used.
func (c *GeminiClient) Model() string {
	return c.model
}
