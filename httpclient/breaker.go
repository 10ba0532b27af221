package httpclient

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis for distributed circuit breaking.
// This uses the official sony/gobreaker/v2/redis implementation.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	store := httpclient.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is the interface used by the circuit breaker middleware.
// It matches the gobreaker.CircuitBreaker signature.
type CircuitBreaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}

// BreakerClassifier determines if an attempt should count as a breaker failure.
// Returns true if the error/response indicates a system failure (e.g., 500, network error).
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig holds the configuration for the circuit breaker middleware.
//
// Concepts:
//   - Closed: Normal state, attempts allowed.
//   - Open: Failing state, attempts rejected immediately with gobreaker.ErrOpenState.
//   - Half-Open: Probing state, limited attempts allowed to test recovery.
type BreakerConfig struct {
	// Name selects the shared breaker. Dispatches with the same name share
	// one breaker. Default: the target host.
	Name string

	// MaxRequests is the maximum number of attempts allowed through
	// while half-open. If 0, the breaker allows 1 request.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// internal counts are cleared. If 0, counts are never cleared while closed.
	Interval time.Duration

	// Timeout is the period of the open state, after which the breaker
	// becomes half-open. gobreaker defaults this to 60s if 0.
	Timeout time.Duration

	// FailureThreshold is the minimum number of attempts needed before the
	// breaker can trip.
	FailureThreshold uint32

	// FailureRatio is the failure ratio (0.0 - 1.0) that trips the breaker.
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after that many sequential failures.
	// If 0, this rule is disabled.
	ConsecutiveFailures uint32

	// Store is the shared data store for distributed circuit breaking.
	// If nil, the breaker is local (in-memory).
	Store gobreaker.SharedDataStore

	// Classifier determines which attempts count as failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is invoked when the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a safe default configuration for a local breaker:
//   - Interval: 10s
//   - Timeout: 10s
//   - FailureThreshold: 20
//   - FailureRatio: 0.5
//   - ConsecutiveFailures: 5
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig backed by store, so
// that several processes share one breaker state.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

func (c BreakerConfig) name(host, serviceName string) string {
	switch {
	case c.Name != "":
		return c.Name
	case host != "":
		return host
	case serviceName != "":
		return serviceName
	default:
		return "default-http-client"
	}
}

// DefaultBreakerClassifier classifies 5xx responses and network errors as failures.
// 429 is left to the retry policy and never trips the breaker.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

// isNetworkError checks for common network errors.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// errSyntheticFailure signals the breaker that an attempt failed (e.g. a 500)
// even though RoundTrip returned no error. It never reaches the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// circuitBreakerTransport is a RoundTripper that runs attempts through a breaker.
type circuitBreakerTransport struct {
	breaker    CircuitBreaker
	next       http.RoundTripper
	classifier BreakerClassifier
	cfg        *internalConfig
	name       string
}

func newCircuitBreakerTransport(
	next http.RoundTripper,
	breaker CircuitBreaker,
	classifier BreakerClassifier,
	name string,
	cfg *internalConfig,
) http.RoundTripper {
	return &circuitBreakerTransport{
		breaker:    breaker,
		next:       next,
		classifier: classifier,
		cfg:        cfg,
		name:       name,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	res, err := t.breaker.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose

		if t.classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errSyntheticFailure
		}

		return resp, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "rejected")
		} else {
			t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "failure")
		}

		// Unwrap synthetic failure: the response goes back to the caller.
		if errors.Is(err, errSyntheticFailure) {
			if resp, ok := res.(*http.Response); ok {
				return resp, nil
			}
		}

		return nil, err
	}

	t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "success")

	if resp, ok := res.(*http.Response); ok {
		return resp, nil
	}

	return nil, errors.New("circuit breaker returned unknown response type")
}

// breakerRegistry holds the circuit breakers of one Dispatcher, by name.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]CircuitBreaker)}
}

// getOrCreate returns the breaker called name, creating it from bc if needed.
// The first configuration registered for a name wins.
func (r *breakerRegistry) getOrCreate(name string, bc BreakerConfig, cfg *internalConfig) CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := newCircuitBreaker(name, bc, cfg)
	r.breakers[name] = cb
	return cb
}

// newCircuitBreaker builds a gobreaker breaker (local or distributed) from bc.
func newCircuitBreaker(name string, bc BreakerConfig, cfg *internalConfig) CircuitBreaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 &&
				counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
				return false
			}
			if bc.FailureRatio > 0 && counts.Requests > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= bc.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[interface{}](bc.Store, st)
		if err == nil {
			return dcb
		}
		// Fall back to a local breaker.
		cfg.Logger.Error().Err(err).Str("breaker", name).
			Msg("distributed circuit breaker unavailable, using local breaker")
	}

	return gobreaker.NewCircuitBreaker[interface{}](st)
}
