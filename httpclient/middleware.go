package httpclient

import (
	"net/http"
)

// Middleware wraps a RoundTripper with additional behaviour.
type Middleware func(next http.RoundTripper) http.RoundTripper

// roundTripperFunc adapts a function to http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Stack is an immutable, ordered list of middleware. The first middleware is
// the outermost one: it sees the request first and the response last.
//
// A Stack is built fresh for every dispatch and bound to one client.
type Stack struct {
	middlewares []Middleware
}

// NewStack returns a Stack holding the given middleware, outermost first.
func NewStack(middlewares ...Middleware) Stack {
	return Stack{middlewares: append([]Middleware(nil), middlewares...)}
}

// Len returns the number of middleware in the stack.
func (s Stack) Len() int {
	return len(s.middlewares)
}

// With returns a new Stack with m appended (innermost). s is unchanged.
func (s Stack) With(m ...Middleware) Stack {
	out := make([]Middleware, 0, len(s.middlewares)+len(m))
	out = append(out, s.middlewares...)
	out = append(out, m...)
	return Stack{middlewares: out}
}

// Then wraps base with every middleware of the stack and returns the result.
// An empty stack returns base unchanged.
func (s Stack) Then(base http.RoundTripper) http.RoundTripper {
	rt := base
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		if s.middlewares[i] == nil {
			continue
		}
		rt = s.middlewares[i](rt)
	}
	return rt
}

// MiddlewareOptions selects the middleware of one dispatch.
// Nil or empty fields mean the feature is absent.
type MiddlewareOptions struct {
	// Retry enables the retry middleware.
	Retry *RetryOptions

	// RateLimit throttles attempts with a token bucket shared by every
	// dispatch that uses the same key.
	RateLimit *RateLimitConfig

	// Breaker wraps attempts in a circuit breaker shared by every dispatch
	// that uses the same name.
	Breaker *BreakerConfig

	// RequestInterceptors run once per logical request, before any attempt.
	RequestInterceptors []RequestInterceptor

	// ResponseInterceptors run once on the final response.
	ResponseInterceptors []ResponseInterceptor

	// Custom middleware run for every attempt, closest to the transport.
	Custom []Middleware
}

// IsZero reports whether no middleware is requested.
func (o MiddlewareOptions) IsZero() bool {
	return o.Retry == nil && o.RateLimit == nil && o.Breaker == nil &&
		len(o.RequestInterceptors) == 0 && len(o.ResponseInterceptors) == 0 &&
		len(o.Custom) == 0
}

// BuildStack assembles a Stack from opts using defaults for absent retry
// parameters. Rate limiters and circuit breakers built here are private to
// the returned stack; use a Dispatcher to share them across requests.
//
// Example:
//
//	stack := httpclient.BuildStack(httpclient.MiddlewareOptions{
//	    Retry: &httpclient.RetryOptions{Interval: 100 * time.Millisecond},
//	}, httpclient.DefaultConfig())
//
//	client := &http.Client{Transport: stack.Then(http.DefaultTransport)}
func BuildStack(opts MiddlewareOptions, defaults Config) Stack {
	return newConfig(WithConfig(defaults)).buildStack(opts, "")
}

// buildStack assembles the middleware of one dispatch, outermost first:
//
//	interceptors → retry → rate limit → circuit breaker → custom → transport
//
// Retry sits above the limiter and the breaker so that every attempt is
// throttled and counted.
func (cfg *internalConfig) buildStack(opts MiddlewareOptions, name string) Stack {
	var middlewares []Middleware

	if len(opts.RequestInterceptors) > 0 || len(opts.ResponseInterceptors) > 0 {
		chain := NewInterceptorChain()
		for _, i := range opts.RequestInterceptors {
			if i != nil {
				chain.AddRequestInterceptor(i)
			}
		}
		for _, i := range opts.ResponseInterceptors {
			if i != nil {
				chain.AddResponseInterceptor(i)
			}
		}
		middlewares = append(middlewares, chain.Middleware())
	}

	if opts.Retry != nil {
		policy := opts.Retry.policy(cfg.config)
		middlewares = append(middlewares, func(next http.RoundTripper) http.RoundTripper {
			return newRetryTransport(next, policy, cfg)
		})
	}

	if opts.RateLimit != nil {
		limiter := cfg.limiters.getOrCreate(opts.RateLimit.key(name), *opts.RateLimit)
		wait := opts.RateLimit.WaitOnLimit
		middlewares = append(middlewares, func(next http.RoundTripper) http.RoundTripper {
			return newRateLimitTransport(next, limiter, wait)
		})
	}

	if opts.Breaker != nil {
		breakerName := opts.Breaker.name(name, cfg.ServiceName)
		breaker := cfg.breakers.getOrCreate(breakerName, *opts.Breaker, cfg)
		classifier := opts.Breaker.Classifier
		if classifier == nil {
			classifier = DefaultBreakerClassifier
		}
		middlewares = append(middlewares, func(next http.RoundTripper) http.RoundTripper {
			return newCircuitBreakerTransport(next, breaker, classifier, breakerName, cfg)
		})
	}

	middlewares = append(middlewares, opts.Custom...)

	return NewStack(middlewares...)
}
