package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTracedConfig returns an internalConfig exporting spans to memory.
func newTracedConfig(t *testing.T, opts ...Option) (*internalConfig, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	opts = append([]Option{WithTracerProvider(tp), WithLogger(zerolog.Nop())}, opts...)
	return newConfig(opts...), exporter
}

func spanAttr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestAttemptTransport_RoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		body         string
		serverStatus int
		wantSpanName string
		wantError    bool
	}{
		{
			name:         "given successful GET, then creates client span",
			method:       http.MethodGet,
			serverStatus: http.StatusOK,
			wantSpanName: "HTTP GET",
		},
		{
			name:         "given POST with body, then creates client span",
			method:       http.MethodPost,
			body:         `{"message":"hi"}`,
			serverStatus: http.StatusOK,
			wantSpanName: "HTTP POST",
		},
		{
			name:         "given 429 response, then marks span as error",
			method:       http.MethodPost,
			serverStatus: http.StatusTooManyRequests,
			wantSpanName: "HTTP POST",
			wantError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.ReadAll(r.Body)
				w.WriteHeader(tt.serverStatus)
			}))
			defer server.Close()

			cfg, exporter := newTracedConfig(t, WithServiceName("notifier"))
			at := newAttemptTransport(http.DefaultTransport, RequestConfig{Timeout: time.Second}, cfg)

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req, err := http.NewRequest(tt.method, server.URL, body)
			require.NoError(t, err)

			resp, err := at.RoundTrip(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.serverStatus, resp.StatusCode)
			assert.Equal(t, 1, at.Attempts())

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.wantSpanName, spans[0].Name)

			status, ok := spanAttr(spans[0], "http.response.status_code")
			require.True(t, ok)
			assert.Equal(t, int64(tt.serverStatus), status.AsInt64())

			name, ok := spanAttr(spans[0], "http.client.name")
			require.True(t, ok)
			assert.Equal(t, "notifier", name.AsString())

			if tt.wantError {
				assert.Equal(t, codes.Error, spans[0].Status.Code)
			} else {
				assert.NotEqual(t, codes.Error, spans[0].Status.Code)
			}
		})
	}
}

func TestAttemptTransport_TracePropagation(t *testing.T) {
	var received http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg, _ := newTracedConfig(t)
	at := newAttemptTransport(http.DefaultTransport, RequestConfig{}, cfg)

	ctx, parent := cfg.Tracer.Start(context.Background(), "parent")
	defer parent.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := at.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, received.Get("Traceparent"))
}

func TestAttemptTransport_ErrorHandling(t *testing.T) {
	tests := []struct {
		name          string
		transportErr  error
		wantErrorType string
	}{
		{
			name:          "given connection refused, then records error type",
			transportErr:  errConnRefused,
			wantErrorType: ErrorTypeConnectionRefused,
		},
		{
			name:          "given context canceled, then records cancelled",
			transportErr:  context.Canceled,
			wantErrorType: ErrorTypeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, exporter := newTracedConfig(t)
			mock := NewMockTransport().StubError(tt.transportErr)
			at := newAttemptTransport(mock, RequestConfig{}, cfg)

			req, err := http.NewRequest(http.MethodGet, "http://api.example.com", nil)
			require.NoError(t, err)

			_, err = at.RoundTrip(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.transportErr))

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, codes.Error, spans[0].Status.Code)

			errType, ok := spanAttr(spans[0], "error.type")
			require.True(t, ok)
			assert.Equal(t, tt.wantErrorType, errType.AsString())
		})
	}
}

func TestAttemptTransport_ResendCount(t *testing.T) {
	cfg, exporter := newTracedConfig(t)
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	at := newAttemptTransport(mock, RequestConfig{}, cfg)

	for range 3 {
		req, err := http.NewRequest(http.MethodGet, "http://api.example.com", nil)
		require.NoError(t, err)
		resp, err := at.RoundTrip(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 3, at.Attempts())

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	_, ok := spanAttr(spans[0], "http.request.resend_count")
	assert.False(t, ok, "first attempt is not a resend")

	resend, ok := spanAttr(spans[2], "http.request.resend_count")
	require.True(t, ok)
	assert.Equal(t, int64(2), resend.AsInt64())
}

func TestAttemptTransport_Delay(t *testing.T) {
	tests := []struct {
		name    string
		delay   time.Duration
		cancel  bool
		wantErr error
		wantMin time.Duration
	}{
		{
			name:    "given delay, then waits before sending",
			delay:   50 * time.Millisecond,
			wantMin: 50 * time.Millisecond,
		},
		{
			name:    "given canceled context during delay, then returns context error",
			delay:   time.Minute,
			cancel:  true,
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := newTracedConfig(t)
			mock := NewMockTransport().StubResponse(http.StatusOK, "")
			at := newAttemptTransport(mock, RequestConfig{Delay: tt.delay}, cfg)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://api.example.com", nil)
			require.NoError(t, err)

			start := time.Now()
			resp, err := at.RoundTrip(req)
			elapsed := time.Since(start)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, mock.RequestCount())
				return
			}

			require.NoError(t, err)
			resp.Body.Close()
			assert.GreaterOrEqual(t, elapsed, tt.wantMin)
			assert.Equal(t, 1, mock.RequestCount())
		})
	}
}

func TestAttemptTransport_DelayOnlyBeforeFirstAttempt(t *testing.T) {
	cfg, _ := newTracedConfig(t)
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	at := newAttemptTransport(mock, RequestConfig{Delay: 200 * time.Millisecond}, cfg)

	send := func() time.Duration {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://api.example.com", nil)
		require.NoError(t, err)

		start := time.Now()
		resp, err := at.RoundTrip(req)
		require.NoError(t, err)
		resp.Body.Close()
		return time.Since(start)
	}

	assert.GreaterOrEqual(t, send(), 200*time.Millisecond)
	assert.Less(t, send(), 150*time.Millisecond)
	assert.Equal(t, 2, at.Attempts())
}

func TestAttemptTransport_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg, _ := newTracedConfig(t)
	at := newAttemptTransport(http.DefaultTransport, RequestConfig{Timeout: 50 * time.Millisecond}, cfg)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = at.RoundTrip(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsConnectError(err))
}

func TestAttemptTransport_BodyReadableAfterRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	cfg, _ := newTracedConfig(t)
	at := newAttemptTransport(http.DefaultTransport, RequestConfig{Timeout: time.Second}, cfg)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := at.RoundTrip(req)
	require.NoError(t, err)

	_, wrapped := resp.Body.(*cancelOnClose)
	assert.True(t, wrapped)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.NoError(t, resp.Body.Close())
}

func TestCancelOnClose(t *testing.T) {
	canceled := false
	body := &cancelOnClose{
		ReadCloser: io.NopCloser(strings.NewReader("x")),
		cancel:     func() { canceled = true },
	}

	require.NoError(t, body.Close())
	assert.True(t, canceled)
}

func TestSleepContext(t *testing.T) {
	tests := []struct {
		name    string
		d       time.Duration
		cancel  bool
		wantErr error
	}{
		{
			name: "given zero duration, then returns immediately",
			d:    0,
		},
		{
			name: "given short duration, then waits and returns nil",
			d:    5 * time.Millisecond,
		},
		{
			name:    "given canceled context, then returns context error",
			d:       time.Minute,
			cancel:  true,
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}

			err := sleepContext(ctx, tt.d)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
