package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for dispatcher operations.
type metrics struct {
	// requestDuration measures the duration of each attempt in seconds.
	// Buckets optimized for HTTP latencies per OTel semconv.
	requestDuration metric.Float64Histogram

	// activeRequests tracks the number of in-flight attempts.
	activeRequests metric.Int64UpDownCounter

	// requestErrors counts transport errors by error type.
	requestErrors metric.Int64Counter

	// retryAttempts counts retry attempts.
	// Incremented each time a request is retried.
	retryAttempts metric.Int64Counter

	// retryExhausted counts logical requests that ended in failure after retrying.
	// A high value indicates downstream service issues.
	retryExhausted metric.Int64Counter

	// retryDuration measures total time spent in the retry loop.
	// Includes all attempts and wait times.
	retryDuration metric.Float64Histogram

	// asyncInflight tracks asynchronous dispatches that have not completed yet.
	asyncInflight metric.Int64UpDownCounter

	// breakerRequests counts attempts seen by circuit breakers, by result
	// (success, failure, rejected).
	breakerRequests metric.Int64Counter
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of in-flight HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.requestErrors, err = meter.Int64Counter(
		"http.client.errors",
		metric.WithDescription("Number of HTTP client transport errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryAttempts, err = meter.Int64Counter(
		"http.client.retry.attempts",
		metric.WithDescription("Number of HTTP request retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryExhausted, err = meter.Int64Counter(
		"http.client.retry.exhausted",
		metric.WithDescription("Number of requests that failed after retrying"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryDuration, err = meter.Float64Histogram(
		"http.client.retry.duration",
		metric.WithDescription("Total time spent in the retry loop in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
		),
	)
	if err != nil {
		return nil, err
	}

	m.asyncInflight, err = meter.Int64UpDownCounter(
		"dispatch.async.inflight",
		metric.WithDescription("Number of asynchronous dispatches not yet completed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerRequests, err = meter.Int64Counter(
		"http.client.breaker.requests",
		metric.WithDescription("Number of attempts seen by circuit breakers"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordRequestDuration records the duration of one attempt.
func (m *metrics) recordRequestDuration(
	ctx context.Context,
	duration time.Duration,
	attrs []attribute.KeyValue,
) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordActiveRequestStart records an attempt starting.
func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordActiveRequestEnd records an attempt completing.
func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// recordError records a transport error.
func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attrs...)
	allAttrs = append(allAttrs, attribute.String("error.type", errorType))
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(allAttrs...))
}

// recordRetryAttempt records a retry attempt.
func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attrs...)
	allAttrs = append(allAttrs, attribute.Int("retry.attempt", attempt))
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(allAttrs...))
}

// recordRetryExhausted records a request that failed after retrying.
func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordRetryDuration records the total time spent in a retry loop.
func (m *metrics) recordRetryDuration(
	ctx context.Context,
	attrs []attribute.KeyValue,
	duration time.Duration,
) {
	if m == nil || m.retryDuration == nil {
		return
	}
	m.retryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordAsyncStart records an asynchronous dispatch being scheduled.
func (m *metrics) recordAsyncStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.asyncInflight == nil {
		return
	}
	m.asyncInflight.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordAsyncEnd records an asynchronous dispatch delivering its result.
func (m *metrics) recordAsyncEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.asyncInflight == nil {
		return
	}
	m.asyncInflight.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// recordBreakerRequest records an attempt passing through (or rejected by) a breaker.
func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string) {
	if m == nil || m.breakerRequests == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.result", result),
	))
}
