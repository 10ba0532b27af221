package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface check.
var _ http.RoundTripper = (*attemptTransport)(nil)

// attemptTransport is the innermost RoundTripper of a dispatch. Every network
// call of the logical request goes through it exactly once, so it owns the
// per-attempt concerns: attempt counting, the pre-attempt delay, the
// per-attempt timeouts, the client span and metrics, and debug logging.
//
// It is built per dispatch and never shared.
type attemptTransport struct {
	base       http.RoundTripper
	cfg        *internalConfig
	rc         RequestConfig
	propagator propagation.TextMapPropagator
	attempts   atomic.Int64
}

func newAttemptTransport(base http.RoundTripper, rc RequestConfig, cfg *internalConfig) *attemptTransport {
	return &attemptTransport{
		base: base,
		cfg:  cfg,
		rc:   rc,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// Attempts returns the number of network calls started so far.
func (t *attemptTransport) Attempts() int {
	return int(t.attempts.Load())
}

// RoundTrip implements http.RoundTripper.
func (t *attemptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := t.attempts.Add(1)
	ctx := req.Context()

	// Retries wait the backoff instead of Delay.
	if attempt == 1 {
		if err := sleepContext(ctx, t.rc.Delay); err != nil {
			return nil, err
		}
	}

	ctx = withConnectTimeout(ctx, t.rc.ConnectTimeout)

	var cancel context.CancelFunc = func() {}
	if t.rc.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.rc.Timeout)
	}

	ctx, span := t.cfg.Tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req, attempt)...),
	)
	defer span.End()

	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	at := &attemptTrace{}
	ctx = withAttemptTrace(ctx, at)
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	at.addSpanEvents(span)
	if t.rc.Debug {
		logAttempt(t.cfg.Logger, req, t.rc.Body, resp, err, int(attempt), duration, at)
	}

	if err != nil {
		cancel()
		errorType := classifyError(err)
		setSpanError(span, err, errorType)
		t.cfg.Metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, nil, errorType))
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}
	t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, resp, ""))

	// The per-attempt deadline must outlive RoundTrip: the body is read later.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// requestAttributes returns span attributes for one attempt.
func (t *attemptTransport) requestAttributes(req *http.Request, attempt int64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs,
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
	)
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}
	if port := req.URL.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
	}
	if attempt > 1 {
		attrs = append(attrs, attribute.Int64("http.request.resend_count", attempt-1))
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	return attrs
}

// metricsAttributes returns low-cardinality attributes for metric recording.
func (t *attemptTransport) metricsAttributes(
	req *http.Request,
	resp *http.Response,
	errorType string,
) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}
	if resp != nil {
		attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= 400 {
			errorType = errorTypeFromStatusCode(resp.StatusCode)
		}
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}
	return attrs
}

// cancelOnClose releases the attempt context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// sleepContext waits for d or until ctx is done. Non-positive d returns at once.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
