package httpclient

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures client-side rate limiting of attempts.
type RateLimitConfig struct {
	// Key selects the shared limiter. Dispatches with the same key share one
	// token bucket. Default: the target host.
	Key string

	// RequestsPerSecond is the maximum sustained attempt rate.
	// Zero or negative disables the limiter.
	RequestsPerSecond float64

	// Burst is the maximum number of attempts allowed in a burst.
	Burst int

	// WaitOnLimit determines behavior when the rate limit is hit.
	// If true, attempts wait for a token (respecting the context deadline).
	// If false, attempts immediately fail with ErrRateLimited.
	WaitOnLimit bool
}

// DefaultRateLimitConfig returns 100 requests per second with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

func (c RateLimitConfig) key(fallback string) string {
	if c.Key != "" {
		return c.Key
	}
	return fallback
}

// ErrRateLimited is returned when an attempt is rejected by the client-side limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// rateLimitTransport implements http.RoundTripper with rate limiting.
type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	wait    bool
}

// newRateLimitTransport creates a rate-limited transport wrapper.
// A nil limiter returns next unchanged.
func newRateLimitTransport(next http.RoundTripper, limiter *rate.Limiter, wait bool) http.RoundTripper {
	if limiter == nil {
		return next
	}
	return &rateLimitTransport{
		next:    next,
		limiter: limiter,
		wait:    wait,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.wait {
		// Wait for token, respecting context deadline
		if err := t.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, ErrRateLimited
		}
	} else if !t.limiter.Allow() {
		return nil, ErrRateLimited
	}

	return t.next.RoundTrip(req)
}

// limiterRegistry holds the rate limiters of one Dispatcher, by key.
type limiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func newLimiterRegistry() *limiterRegistry {
	return &limiterRegistry{limiters: make(map[string]*rate.Limiter)}
}

// getOrCreate returns the limiter for key, creating one from cfg if needed.
// The first configuration registered for a key wins.
func (r *limiterRegistry) getOrCreate(key string, cfg RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}

	r.mu.RLock()
	if limiter, ok := r.limiters[key]; ok {
		r.mu.RUnlock()
		return limiter
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, ok := r.limiters[key]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	r.limiters[key] = limiter
	return limiter
}
