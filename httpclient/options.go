package httpclient

import (
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/dispatch-go/httpclient"
)

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds everything a Dispatcher needs besides the caller's
// request: defaults, collaborators and observability handles.
type internalConfig struct {
	// config holds the process-wide request and retry defaults.
	config Config

	// transportConfig tunes the pooled base transport.
	transportConfig TransportConfig

	// transport replaces the pooled base transport when set.
	transport http.RoundTripper

	// scheduler runs asynchronous dispatches.
	scheduler Scheduler

	// maxAsync bounds concurrently running asynchronous dispatches (0 = unbounded).
	maxAsync int64

	// strictStatus turns non-200 final statuses into *StatusError.
	strictStatus bool

	// retryHook observes retries.
	retryHook RetryHook

	// Logger receives debug and retry logs.
	Logger zerolog.Logger

	// === OpenTelemetry Configuration ===

	// TracerProvider is the tracer provider to use.
	// If not set, uses the global provider via otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Tracer is the tracer instance created from TracerProvider.
	Tracer trace.Tracer

	// Meter is the meter instance created from MeterProvider.
	Meter metric.Meter

	// Metrics holds the metric instruments.
	Metrics *metrics

	// ServiceName identifies the dispatcher in traces and metrics.
	// Added as "http.client.name" attribute.
	ServiceName string

	// Shared middleware state, keyed by host or explicit name.
	limiters *limiterRegistry
	breakers *breakerRegistry
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		config:          DefaultConfig(),
		transportConfig: DefaultTransportConfig(),
		Logger:          zerolog.New(os.Stdout).With().Timestamp().Logger(),
		TracerProvider:  otel.GetTracerProvider(),
		MeterProvider:   otel.GetMeterProvider(),
		limiters:        newLimiterRegistry(),
		breakers:        newBreakerRegistry(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// Initialize tracer and meter after options are applied
	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Initialize metrics (ignore errors, will just be nil if fails)
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	if cfg.transport == nil {
		cfg.transport = cfg.transportConfig.buildTransport()
	}
	if cfg.scheduler == nil {
		cfg.scheduler = newGoroutineScheduler(cfg.maxAsync, cfg.Logger)
	}

	return cfg
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options - Functional Options for Dispatcher Configuration
// =============================================================================

// Option configures a Dispatcher.
type Option func(*internalConfig)

// WithConfig sets the process-wide defaults. Start from DefaultConfig() and
// customize as needed.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 10 * time.Second
//
//	d := httpclient.New(httpclient.WithConfig(cfg))
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.config = c
	}
}

// WithTransportConfig tunes the pooled base transport. Ignored when
// WithTransport is also given.
func WithTransportConfig(tc TransportConfig) Option {
	return func(cfg *internalConfig) {
		cfg.transportConfig = tc
	}
}

// WithTransport replaces the pooled base transport, e.g. with a MockTransport
// in tests. RequestConfig.ConnectTimeout is only honoured by the default
// transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.transport = rt
	}
}

// WithLogger sets the zerolog logger used for debug and retry logs.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).Level(zerolog.InfoLevel)
//	d := httpclient.New(httpclient.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithServiceName sets an identifier for this dispatcher in traces and metrics.
// This value is added as the "http.client.name" attribute, and names the
// circuit breaker when neither BreakerConfig.Name nor a host is available.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithStrictStatus makes Dispatch return a *StatusError when the final status
// is not 200 OK, instead of an empty body.
func WithStrictStatus() Option {
	return func(cfg *internalConfig) {
		cfg.strictStatus = true
	}
}

// WithRetryHook registers a function called before every retry wait.
func WithRetryHook(hook RetryHook) Option {
	return func(cfg *internalConfig) {
		cfg.retryHook = hook
	}
}

// WithScheduler replaces the goroutine scheduler used by DispatchAsync.
func WithScheduler(s Scheduler) Option {
	return func(cfg *internalConfig) {
		cfg.scheduler = s
	}
}

// WithMaxConcurrentAsync bounds the number of asynchronous dispatches running
// at once on the default scheduler. Excess dispatches wait for a slot.
// Zero or negative means unbounded.
func WithMaxConcurrentAsync(n int) Option {
	return func(cfg *internalConfig) {
		if n > 0 {
			cfg.maxAsync = int64(n)
		}
	}
}
