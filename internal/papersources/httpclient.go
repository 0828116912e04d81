package papersources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// Response body limits.
const (
	maxBodyBytes  = 10 << 20
	maxErrorBytes = 1 << 20
)

// DefaultUserAgent identifies the service to source APIs.
const DefaultUserAgent = "Helixir-ResearchAnalysis/1.0"

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// Source names the API in errors.
	Source string

	// Timeout bounds each attempt.
	Timeout time.Duration

	// RateLimit is the sustained request rate per second.
	RateLimit float64

	// BurstSize is the token bucket size.
	BurstSize int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the wait between attempts when the server gives no Retry-After.
	RetryDelay time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// APIKey and APIKeyHeader add an authentication header when both are set.
	APIKey       string
	APIKeyHeader string
}

func (c *HTTPClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.BurstSize <= 0 {
		c.BurstSize = int(max(1, c.RateLimit))
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// HTTPClient is a rate-limited HTTP client that retries 429 and 5xx
// responses. It is safe for concurrent use.
type HTTPClient struct {
	client  *http.Client
	limiter *RateLimiter
	config  HTTPClientConfig
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg.applyDefaults()
	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:  cfg,
	}
}

// Do sends req, waiting on the rate limiter before every attempt. Bodiless
// requests are retried on network errors, 429 and 5xx. A 429 also slows the
// limiter down for the Retry-After period.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	ctx := req.Context()
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.config.RetryDelay); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if req.Body != nil {
				return nil, lastErr
			}
			continue
		}

		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		drain(resp)
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = domain.NewRateLimitError(c.config.Source, retryAfter)
			c.limiter.Backoff(retryAfter)
		} else {
			lastErr = domain.NewExternalAPIError(c.config.Source, resp.StatusCode, http.StatusText(resp.StatusCode), nil)
		}
		if req.Body != nil {
			break
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Get fetches url and returns the response body. Non-2xx responses become
// domain.ExternalAPIError; 404 becomes domain.NotFoundError.
func (c *HTTPClient) Get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.config.Source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewNotFoundError(c.config.Source+" resource", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, domain.NewExternalAPIError(c.config.Source, resp.StatusCode, string(body), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", c.config.Source, err)
	}
	return body, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// parseRetryAfter accepts delta-seconds or an HTTP date; anything else is zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBytes))
	resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
