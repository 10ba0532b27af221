package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryEvent describes a retry that is about to happen.
type RetryEvent struct {
	// Retry is the 1-based number of the retry about to be performed.
	Retry int

	// Delay is the backoff waited before the retry.
	Delay time.Duration

	// StatusCode is the status of the failed attempt, or 0 on transport errors.
	StatusCode int

	// Err is the transport error of the failed attempt, if any.
	Err error
}

// RetryHook observes retries. It is called synchronously before each backoff wait.
type RetryHook func(RetryEvent)

// retryableStatusError marks a completed attempt whose status the policy
// wants retried. It only lives inside the backoff loop.
type retryableStatusError struct {
	statusCode int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.statusCode)
}

// retryTransport re-issues a request while its RetryPolicy asks for it.
// Attempts are strictly sequential: attempt N+1 starts after attempt N's
// outcome is known and the backoff has elapsed.
type retryTransport struct {
	next   http.RoundTripper
	policy RetryPolicy
	cfg    *internalConfig
}

// newRetryTransport creates a new retry transport wrapper.
func newRetryTransport(next http.RoundTripper, policy RetryPolicy, cfg *internalConfig) http.RoundTripper {
	return &retryTransport{
		next:   next,
		policy: policy,
		cfg:    cfg,
	}
}

// RoundTrip implements http.RoundTripper with automatic retries.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// Capture request body for potential retries
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	span := trace.SpanFromContext(ctx)

	var (
		last      *http.Response
		retries   int
		startTime = time.Now()
	)

	notify := func(err error, next time.Duration) {
		retries++

		ev := RetryEvent{Retry: retries, Delay: next}
		var rse *retryableStatusError
		if errors.As(err, &rse) {
			ev.StatusCode = rse.statusCode
		} else {
			ev.Err = err
		}

		drainBody(last)
		last = nil

		t.cfg.Logger.Warn().
			Err(ev.Err).
			Int("retry", ev.Retry).
			Int("status", ev.StatusCode).
			Dur("delay", next).
			Str("url", req.URL.String()).
			Msg("retrying request")

		t.recordRetryEvent(span, ev)
		t.cfg.Metrics.recordRetryAttempt(ctx, t.cfg.baseAttributes(), retries)
		if t.cfg.retryHook != nil {
			t.cfg.retryHook(ev)
		}
	}

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		attemptReq := t.cloneRequest(req, bodyBytes)

		resp, err := t.next.RoundTrip(attemptReq)

		if !t.policy.ShouldRetry(retries, attemptReq, NewOutcome(resp, err)) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}

		if err != nil {
			return nil, err
		}

		// Keep the response: it is returned as-is if the loop ends here.
		last = resp
		return nil, &retryableStatusError{statusCode: resp.StatusCode}
	},
		backoff.WithBackOff(newPolicyBackOff(t.policy)),
		backoff.WithNotify(notify),
		backoff.WithMaxElapsedTime(t.cfg.config.MaxElapsedTime),
	)

	var rse *retryableStatusError
	if err != nil && errors.As(err, &rse) && last != nil {
		resp, err = last, nil
	} else if last != nil {
		drainBody(last)
	}

	if retries > 0 {
		succeeded := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
		span.SetAttributes(
			attribute.Int("http.retry_count", retries),
			attribute.Bool("http.retry_success", succeeded),
		)
		if !succeeded {
			t.cfg.Metrics.recordRetryExhausted(ctx, t.cfg.baseAttributes())
		}
	}
	t.cfg.Metrics.recordRetryDuration(ctx, t.cfg.baseAttributes(), time.Since(startTime))

	return resp, err
}

// cloneRequest creates a copy of the request with a fresh body.
func (t *retryTransport) cloneRequest(req *http.Request, bodyBytes []byte) *http.Request {
	clone := req.Clone(req.Context())

	if bodyBytes != nil {
		clone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		clone.ContentLength = int64(len(bodyBytes))
	} else if req.GetBody != nil {
		var err error
		clone.Body, err = req.GetBody()
		if err != nil {
			// Fall back to original body reference
			clone.Body = req.Body
		}
	}

	return clone
}

// recordRetryEvent adds a span event for the retry attempt.
func (t *retryTransport) recordRetryEvent(span trace.Span, ev RetryEvent) {
	if !span.IsRecording() {
		return
	}

	reason := "rate_limited"
	if ev.Err != nil {
		reason = classifyError(ev.Err)
	} else if ev.StatusCode != 0 && ev.StatusCode != http.StatusTooManyRequests {
		reason = errorTypeFromStatusCode(ev.StatusCode)
	}

	span.AddEvent("http.retry", trace.WithAttributes(
		attribute.Int("retry.attempt", ev.Retry),
		attribute.Int64("retry.delay_ms", ev.Delay.Milliseconds()),
		attribute.String("retry.reason", reason),
	))
}

// drainBody discards and closes a response body so the connection can be reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
