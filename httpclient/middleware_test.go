package httpclient

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMiddleware appends name to log when a request passes through it.
func recordingMiddleware(mu *sync.Mutex, log *[]string, name string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			*log = append(*log, name)
			mu.Unlock()
			return next.RoundTrip(req)
		})
	}
}

func TestStack_Then(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)

	tests := []struct {
		name  string
		stack Stack
		want  []string
	}{
		{
			name:  "given empty stack, then calls base only",
			stack: NewStack(),
			want:  []string{"base"},
		},
		{
			name: "given three middleware, then first is outermost",
			stack: NewStack(
				recordingMiddleware(&mu, &log, "a"),
				recordingMiddleware(&mu, &log, "b"),
				recordingMiddleware(&mu, &log, "c"),
			),
			want: []string{"a", "b", "c", "base"},
		},
		{
			name:  "given nil middleware, then skips it",
			stack: NewStack(nil, recordingMiddleware(&mu, &log, "a"), nil),
			want:  []string{"a", "base"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log = nil
			mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
			base := recordingMiddleware(&mu, &log, "base")(mock)

			req, _ := http.NewRequest(http.MethodGet, "http://api.example.com", nil)
			resp, err := tt.stack.Then(base).RoundTrip(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.want, log)
		})
	}
}

func TestStack_With_IsImmutable(t *testing.T) {
	noop := func(next http.RoundTripper) http.RoundTripper { return next }

	s1 := NewStack(noop)
	s2 := s1.With(noop, noop)

	assert.Equal(t, 1, s1.Len())
	assert.Equal(t, 3, s2.Len())
}

func TestNewStack_CopiesInput(t *testing.T) {
	noop := func(next http.RoundTripper) http.RoundTripper { return next }
	mws := []Middleware{noop}

	s := NewStack(mws...)
	mws[0] = nil

	assert.NotNil(t, s.middlewares[0])
}

func TestMiddlewareOptions_IsZero(t *testing.T) {
	assert.True(t, MiddlewareOptions{}.IsZero())
	assert.False(t, MiddlewareOptions{Retry: &RetryOptions{}}.IsZero())
	assert.False(t, MiddlewareOptions{Custom: []Middleware{nil}}.IsZero())
}

func TestBuildStack(t *testing.T) {
	tests := []struct {
		name    string
		opts    MiddlewareOptions
		wantLen int
	}{
		{
			name:    "given no options, then builds empty stack",
			opts:    MiddlewareOptions{},
			wantLen: 0,
		},
		{
			name:    "given retry only, then builds one middleware",
			opts:    MiddlewareOptions{Retry: &RetryOptions{}},
			wantLen: 1,
		},
		{
			name: "given every feature, then builds five middleware",
			opts: MiddlewareOptions{
				Retry:               &RetryOptions{},
				RateLimit:           &RateLimitConfig{RequestsPerSecond: 10, Burst: 1},
				Breaker:             &BreakerConfig{Name: "x"},
				RequestInterceptors: []RequestInterceptor{RequestIDInterceptor()},
				Custom:              []Middleware{func(next http.RoundTripper) http.RoundTripper { return next }},
			},
			wantLen: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := BuildStack(tt.opts, DefaultConfig())
			assert.Equal(t, tt.wantLen, stack.Len())
		})
	}
}

func TestBuildStack_Order(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)

	mock := NewMockTransport().
		Enqueue(http.StatusTooManyRequests, "").
		StubResponse(http.StatusOK, "ok")

	stack := BuildStack(MiddlewareOptions{
		Retry: &RetryOptions{Interval: time.Millisecond, MaxRetries: Retries(3)},
		RequestInterceptors: []RequestInterceptor{func(*http.Request) error {
			mu.Lock()
			log = append(log, "interceptor")
			mu.Unlock()
			return nil
		}},
		Custom: []Middleware{recordingMiddleware(&mu, &log, "custom")},
	}, DefaultConfig())

	req, _ := http.NewRequest(http.MethodGet, "http://api.example.com", nil)
	resp, err := stack.Then(mock).RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	// Interceptors run once per logical request, custom middleware per attempt.
	assert.Equal(t, []string{"interceptor", "custom", "custom"}, log)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
