package httpclient

import (
	"net/http"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one.
//
// attempt passed to ShouldRetry is the number of retries already performed
// for the logical request (0 when the first attempt has just completed).
// attempt passed to NextDelay is the 1-based number of the retry about to be
// performed.
//
// Implementations must be safe for concurrent use; a single policy value may
// be shared by many dispatches.
type RetryPolicy interface {
	ShouldRetry(attempt int, req *http.Request, outcome Outcome) bool
	NextDelay(attempt int) time.Duration
}

// Compile-time interface checks.
var (
	_ RetryPolicy = LinearRetryPolicy{}
	_ RetryPolicy = RetryPolicyFunc{}
)

// LinearRetryPolicy retries connection failures and 429 responses with a
// delay that grows linearly: BaseDelay × attempt.
//
// Example with MaxRetries=5, BaseDelay=200ms:
//
//	Retry 1: 200ms → Retry 2: 400ms → Retry 3: 600ms → Retry 4: 800ms → Retry 5: 1s
//
// There is no jitter and no cap.
type LinearRetryPolicy struct {
	// MaxRetries is the hard ceiling on retries. The first attempt is not a retry.
	MaxRetries int

	// BaseDelay is the unit of the linear backoff.
	BaseDelay time.Duration
}

// NewLinearRetryPolicy returns a LinearRetryPolicy. Negative values are clamped to 0.
func NewLinearRetryPolicy(maxRetries int, baseDelay time.Duration) LinearRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	return LinearRetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// ShouldRetry applies, in order:
//  1. attempt >= MaxRetries → stop, whatever the outcome
//  2. the caller's context is done → stop
//  3. connection-level transport failure → retry
//  4. 429 Too Many Requests → retry
//  5. anything else → stop
func (p LinearRetryPolicy) ShouldRetry(attempt int, req *http.Request, outcome Outcome) bool {
	if attempt >= p.MaxRetries {
		return false
	}

	if req != nil && req.Context().Err() != nil {
		return false
	}

	if outcome.IsTransportError() {
		return IsConnectError(outcome.Err)
	}

	return outcome.IsRateLimited()
}

// NextDelay returns BaseDelay × attempt. Non-positive attempts yield 0.
func (p LinearRetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// RetryPolicyFunc builds a RetryPolicy from two functions.
//
// Example - retry every 5xx with a fixed 1s delay, at most 3 times:
//
//	policy := httpclient.RetryPolicyFunc{
//	    Decide: func(attempt int, _ *http.Request, o httpclient.Outcome) bool {
//	        return attempt < 3 && (o.IsTransportError() || o.StatusCode >= 500)
//	    },
//	    Delay: func(int) time.Duration { return time.Second },
//	}
type RetryPolicyFunc struct {
	Decide func(attempt int, req *http.Request, outcome Outcome) bool
	Delay  func(attempt int) time.Duration
}

// ShouldRetry calls Decide. A nil Decide never retries.
func (f RetryPolicyFunc) ShouldRetry(attempt int, req *http.Request, outcome Outcome) bool {
	if f.Decide == nil {
		return false
	}
	return f.Decide(attempt, req, outcome)
}

// NextDelay calls Delay. A nil Delay retries immediately.
func (f RetryPolicyFunc) NextDelay(attempt int) time.Duration {
	if f.Delay == nil {
		return 0
	}
	return f.Delay(attempt)
}

// RetryOptions enables the retry middleware for one dispatch.
//
// Zero fields fall back to the Dispatcher's Config (RetryInterval, MaxRetries).
type RetryOptions struct {
	// Interval overrides Config.RetryInterval when > 0.
	Interval time.Duration

	// MaxRetries overrides Config.MaxRetries when non-nil.
	// A pointer distinguishes "0 retries" from "use the default".
	MaxRetries *int

	// Policy replaces the linear policy entirely when non-nil.
	// Interval and MaxRetries are then ignored.
	Policy RetryPolicy
}

// policy resolves the effective RetryPolicy against the dispatcher defaults.
func (o RetryOptions) policy(defaults Config) RetryPolicy {
	if o.Policy != nil {
		return o.Policy
	}

	interval := defaults.RetryInterval
	if o.Interval > 0 {
		interval = o.Interval
	}

	maxRetries := defaults.MaxRetries
	if o.MaxRetries != nil {
		maxRetries = *o.MaxRetries
	}

	return NewLinearRetryPolicy(maxRetries, interval)
}

// Retries is a helper for RetryOptions.MaxRetries.
func Retries(n int) *int {
	return &n
}
