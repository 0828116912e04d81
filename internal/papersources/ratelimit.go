package papersources

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by all requests to one source. After
// a 429 it can be paused until the server's Retry-After has passed.
type RateLimiter struct {
	limiter *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

// NewRateLimiter allows ratePerSecond sustained requests with the given burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a request may be sent or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	until := r.blockedUntil
	r.mu.Unlock()

	if d := time.Until(until); d > 0 {
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	return r.limiter.Wait(ctx)
}

// Backoff pauses all callers for d. Shorter pauses never shorten a longer
// one already in effect.
func (r *RateLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)

	r.mu.Lock()
	defer r.mu.Unlock()
	if until.After(r.blockedUntil) {
		r.blockedUntil = until
	}
}

// Limit returns the sustained rate in requests per second.
func (r *RateLimiter) Limit() float64 {
	return float64(r.limiter.Limit())
}
