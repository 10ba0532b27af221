package httpclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns metrics backed by a manual reader.
func newTestMetrics(t *testing.T) (*metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := newMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

// collectMetric returns the named metric from the reader, or false.
func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// sumValue adds up every data point of an int64 sum.
func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics(t *testing.T) {
	t.Run("given valid meter, then creates all instruments", func(t *testing.T) {
		m, _ := newTestMetrics(t)

		assert.NotNil(t, m.requestDuration)
		assert.NotNil(t, m.activeRequests)
		assert.NotNil(t, m.requestErrors)
		assert.NotNil(t, m.retryAttempts)
		assert.NotNil(t, m.retryExhausted)
		assert.NotNil(t, m.retryDuration)
		assert.NotNil(t, m.asyncInflight)
		assert.NotNil(t, m.breakerRequests)
	})
}

func TestRecordRequestDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		attrs    []attribute.KeyValue
	}{
		{
			name:     "given duration and attrs, then records histogram",
			duration: 150 * time.Millisecond,
			attrs:    []attribute.KeyValue{attribute.String("http.request.method", "POST")},
		},
		{
			name:     "given zero duration without attrs, then records histogram",
			duration: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t)

			m.recordRequestDuration(context.Background(), tt.duration, tt.attrs)

			got, ok := collectMetric(t, reader, "http.client.request.duration")
			require.True(t, ok)

			hist, ok := got.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			require.Len(t, hist.DataPoints, 1)
			assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
			assert.InDelta(t, tt.duration.Seconds(), hist.DataPoints[0].Sum, 1e-9)
		})
	}
}

func TestRecordActiveRequests(t *testing.T) {
	t.Run("given start and end, then counter returns to zero", func(t *testing.T) {
		m, reader := newTestMetrics(t)
		ctx := context.Background()

		m.recordActiveRequestStart(ctx, nil)
		m.recordActiveRequestStart(ctx, nil)
		m.recordActiveRequestEnd(ctx, nil)

		got, ok := collectMetric(t, reader, "http.client.active_requests")
		require.True(t, ok)
		assert.Equal(t, int64(1), sumValue(t, got))

		m.recordActiveRequestEnd(ctx, nil)

		got, ok = collectMetric(t, reader, "http.client.active_requests")
		require.True(t, ok)
		assert.Equal(t, int64(0), sumValue(t, got))
	})
}

func TestRecordError(t *testing.T) {
	tests := []struct {
		name      string
		errorType string
		attrs     []attribute.KeyValue
	}{
		{
			name:      "given error type, then records with attribute",
			errorType: ErrorTypeTimeout,
			attrs:     []attribute.KeyValue{attribute.String("server.address", "example.com")},
		},
		{
			name:      "given error type without attrs, then records",
			errorType: ErrorTypeConnectionRefused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t)

			m.recordError(context.Background(), tt.errorType, tt.attrs)

			got, ok := collectMetric(t, reader, "http.client.errors")
			require.True(t, ok)

			sum := got.Data.(metricdata.Sum[int64])
			require.Len(t, sum.DataPoints, 1)
			v, found := sum.DataPoints[0].Attributes.Value("error.type")
			require.True(t, found)
			assert.Equal(t, tt.errorType, v.AsString())
		})
	}
}

func TestRecordRetryMetrics(t *testing.T) {
	t.Run("given retries and exhaustion, then records counters and duration", func(t *testing.T) {
		m, reader := newTestMetrics(t)
		ctx := context.Background()

		m.recordRetryAttempt(ctx, nil, 1)
		m.recordRetryAttempt(ctx, nil, 2)
		m.recordRetryExhausted(ctx, nil)
		m.recordRetryDuration(ctx, nil, 300*time.Millisecond)

		attempts, ok := collectMetric(t, reader, "http.client.retry.attempts")
		require.True(t, ok)
		assert.Equal(t, int64(2), sumValue(t, attempts))

		exhausted, ok := collectMetric(t, reader, "http.client.retry.exhausted")
		require.True(t, ok)
		assert.Equal(t, int64(1), sumValue(t, exhausted))

		_, ok = collectMetric(t, reader, "http.client.retry.duration")
		assert.True(t, ok)
	})
}

func TestRecordAsyncInflight(t *testing.T) {
	t.Run("given start and end, then gauge returns to zero", func(t *testing.T) {
		m, reader := newTestMetrics(t)
		ctx := context.Background()

		m.recordAsyncStart(ctx, nil)
		m.recordAsyncEnd(ctx, nil)

		got, ok := collectMetric(t, reader, "dispatch.async.inflight")
		require.True(t, ok)
		assert.Equal(t, int64(0), sumValue(t, got))
	})
}

func TestRecordBreakerRequest(t *testing.T) {
	t.Run("given results, then records by breaker name and result", func(t *testing.T) {
		m, reader := newTestMetrics(t)
		ctx := context.Background()

		m.recordBreakerRequest(ctx, "api", "success")
		m.recordBreakerRequest(ctx, "api", "rejected")
		m.recordBreakerRequest(ctx, "api", "rejected")

		got, ok := collectMetric(t, reader, "http.client.breaker.requests")
		require.True(t, ok)

		sum := got.Data.(metricdata.Sum[int64])
		byResult := map[string]int64{}
		for _, dp := range sum.DataPoints {
			v, _ := dp.Attributes.Value("breaker.result")
			byResult[v.AsString()] += dp.Value
		}
		assert.Equal(t, map[string]int64{"success": 1, "rejected": 2}, byResult)
	})
}

func TestMetricsNilSafety(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		call func(m *metrics)
	}{
		{
			name: "given nil metrics, then recordRequestDuration does not panic",
			call: func(m *metrics) { m.recordRequestDuration(ctx, time.Second, nil) },
		},
		{
			name: "given nil metrics, then active request recorders do not panic",
			call: func(m *metrics) {
				m.recordActiveRequestStart(ctx, nil)
				m.recordActiveRequestEnd(ctx, nil)
			},
		},
		{
			name: "given nil metrics, then recordError does not panic",
			call: func(m *metrics) { m.recordError(ctx, ErrorTypeUnknown, nil) },
		},
		{
			name: "given nil metrics, then retry recorders do not panic",
			call: func(m *metrics) {
				m.recordRetryAttempt(ctx, nil, 1)
				m.recordRetryExhausted(ctx, nil)
				m.recordRetryDuration(ctx, nil, time.Second)
			},
		},
		{
			name: "given nil metrics, then async recorders do not panic",
			call: func(m *metrics) {
				m.recordAsyncStart(ctx, nil)
				m.recordAsyncEnd(ctx, nil)
			},
		},
		{
			name: "given nil metrics, then recordBreakerRequest does not panic",
			call: func(m *metrics) { m.recordBreakerRequest(ctx, "api", "success") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nilMetrics *metrics
			assert.NotPanics(t, func() { tt.call(nilMetrics) })
			assert.NotPanics(t, func() { tt.call(&metrics{}) })
		})
	}
}
