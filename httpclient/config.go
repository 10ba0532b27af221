package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"
)

// =============================================================================
// Config - Process-wide Dispatcher Defaults
// =============================================================================

// Config holds the process-wide defaults of a Dispatcher.
//
// It is copied into the Dispatcher by New and never mutated afterwards.
// Per-call changes go through Request.Overrides and Request.Middleware.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 10 * time.Second
//	cfg.MaxRetries = 3
//
//	d := httpclient.New(httpclient.WithConfig(cfg))
type Config struct {
	// Timeout bounds a single attempt: connect, send, and read the response.
	// Zero means no per-attempt timeout.
	//
	// Default: 3s
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`

	// ConnectTimeout bounds TCP connection establishment for a single attempt.
	// Only honoured by the default transport.
	//
	// Default: 3s
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gte=0"`

	// Delay is waited before the first attempt is sent.
	//
	// Default: 0
	Delay time.Duration `koanf:"delay" validate:"gte=0"`

	// Debug enables per-attempt debug logging with a reproducible cURL command.
	//
	// Default: false
	Debug bool `koanf:"debug"`

	// RetryInterval is the base delay of the linear retry backoff.
	// Retry n waits RetryInterval × n.
	//
	// Default: 200ms
	RetryInterval time.Duration `koanf:"retry_interval" validate:"gte=0"`

	// MaxRetries is the retry ceiling used when retries are enabled for a
	// request without an explicit count. The first attempt is not a retry.
	//
	// Default: 5
	MaxRetries int `koanf:"max_retries" validate:"gte=0,lte=100"`

	// MaxElapsedTime bounds the whole retry sequence of one logical request.
	// Zero means only MaxRetries applies.
	//
	// Default: 0
	MaxElapsedTime time.Duration `koanf:"max_elapsed_time" validate:"gte=0"`
}

// Default values for Config.
const (
	DefaultTimeout        = 3 * time.Second
	DefaultConnectTimeout = 3 * time.Second
	DefaultRetryInterval  = 200 * time.Millisecond
	DefaultMaxRetries     = 5
)

// DefaultConfig returns the dispatcher defaults:
//   - 3s per-attempt timeout and 3s connect timeout
//   - no delay, debug off
//   - 5 retries, 200ms linear backoff (200ms → 400ms → 600ms → ...)
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		Delay:          0,
		Debug:          false,
		RetryInterval:  DefaultRetryInterval,
		MaxRetries:     DefaultMaxRetries,
	}
}

// requestDefaults returns the RequestConfig a dispatch starts from when the
// caller supplied no overrides.
func (c Config) requestDefaults() RequestConfig {
	return RequestConfig{
		Timeout:        c.Timeout,
		ConnectTimeout: c.ConnectTimeout,
		Delay:          c.Delay,
		Debug:          c.Debug,
	}
}

// =============================================================================
// TransportConfig - Base Transport
// =============================================================================

// TransportConfig tunes the pooled *http.Transport used when no custom
// transport is supplied. The values are passed through to net/http as-is.
type TransportConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection remains in the pool.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout is the maximum time to wait for a TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// KeepAlive specifies the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration
}

// DefaultTransportConfig returns balanced pool settings.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		KeepAlive:           30 * time.Second,
	}
}

// connectTimeoutKey carries the per-request connect timeout to the dialer.
type connectTimeoutKey struct{}

// withConnectTimeout attaches a connect timeout to ctx. Zero leaves ctx unchanged.
func withConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	if d <= 0 {
		return ctx
	}
	return context.WithValue(ctx, connectTimeoutKey{}, d)
}

func connectTimeoutFromContext(ctx context.Context) time.Duration {
	d, _ := ctx.Value(connectTimeoutKey{}).(time.Duration)
	return d
}

// buildTransport creates the shared base transport. The connect timeout is
// read per dial from the request context, so a single pool serves requests
// with different RequestConfig.ConnectTimeout values.
func (tc TransportConfig) buildTransport() *http.Transport {
	dialer := &net.Dialer{
		KeepAlive: tc.KeepAlive,
	}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if d := connectTimeoutFromContext(ctx); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return dialer.DialContext(ctx, network, addr)
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dial,
		MaxIdleConns:        tc.MaxIdleConns,
		MaxIdleConnsPerHost: tc.MaxIdleConnsPerHost,
		IdleConnTimeout:     tc.IdleConnTimeout,
		TLSHandshakeTimeout: tc.TLSHandshakeTimeout,
	}
}
