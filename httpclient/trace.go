package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http/httptrace"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type classifications for the error.type attribute.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeCircuitOpen       = "circuit_open"
	ErrorTypeUnknown           = "unknown"
)

// attemptTrace collects the network timings of a single attempt.
// It feeds both the attempt span and the debug log line.
type attemptTrace struct {
	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	gotConn      time.Time
	wroteRequest time.Time
	firstByte    time.Time

	connReused bool
	connRemote string
	tlsProto   string
	dnsAddrs   []string
}

// withAttemptTrace installs an httptrace.ClientTrace on ctx that fills at.
func withAttemptTrace(ctx context.Context, at *attemptTrace) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			at.gotConn = time.Now()
			at.connReused = info.Reused
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				at.connRemote = info.Conn.RemoteAddr().String()
			}
		},
		DNSStart: func(_ httptrace.DNSStartInfo) {
			at.dnsStart = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			at.dnsDone = time.Now()
			for _, addr := range info.Addrs {
				at.dnsAddrs = append(at.dnsAddrs, addr.String())
			}
		},
		ConnectStart: func(_, _ string) {
			at.connectStart = time.Now()
		},
		ConnectDone: func(_, _ string, _ error) {
			at.connectDone = time.Now()
		},
		TLSHandshakeStart: func() {
			at.tlsStart = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			at.tlsDone = time.Now()
			at.tlsProto = state.NegotiatedProtocol
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			at.wroteRequest = time.Now()
		},
		GotFirstResponseByte: func() {
			at.firstByte = time.Now()
		},
	})
}

func between(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start)
}

// addSpanEvents adds network timing events to the attempt span.
func (at *attemptTrace) addSpanEvents(span trace.Span) {
	if !span.IsRecording() {
		return
	}

	if d := between(at.dnsStart, at.dnsDone); d > 0 {
		span.AddEvent("dns.done", trace.WithTimestamp(at.dnsDone), trace.WithAttributes(
			attribute.Int64("dns.duration_ms", d.Milliseconds()),
			attribute.StringSlice("dns.addresses", at.dnsAddrs),
		))
	}
	if d := between(at.connectStart, at.connectDone); d > 0 {
		span.AddEvent("connect.done", trace.WithTimestamp(at.connectDone), trace.WithAttributes(
			attribute.Int64("connect.duration_ms", d.Milliseconds()),
		))
	}
	if d := between(at.tlsStart, at.tlsDone); d > 0 {
		span.AddEvent("tls.done", trace.WithTimestamp(at.tlsDone), trace.WithAttributes(
			attribute.Int64("tls.duration_ms", d.Milliseconds()),
			attribute.String("tls.protocol", at.tlsProto),
		))
	}
	if !at.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(at.gotConn), trace.WithAttributes(
			attribute.Bool("connection.reused", at.connReused),
			attribute.String("network.peer.address", at.connRemote),
		))
	}
	if !at.firstByte.IsZero() {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(at.firstByte), trace.WithAttributes(
			attribute.Int64("ttfb_ms", between(at.wroteRequest, at.firstByte).Milliseconds()),
		))
	}
}

// MarshalZerologObject writes the timings as a nested log object.
func (at *attemptTrace) MarshalZerologObject(e *zerolog.Event) {
	e.Dur("dns", between(at.dnsStart, at.dnsDone)).
		Dur("connect", between(at.connectStart, at.connectDone)).
		Dur("tls", between(at.tlsStart, at.tlsDone)).
		Dur("ttfb", between(at.wroteRequest, at.firstByte)).
		Bool("reused", at.connReused)
}

// errorClasses maps an attempt failure to its error.type. First match wins,
// so cancellation and deadlines are checked before the network errors they wrap.
var errorClasses = []struct {
	errorType string
	match     func(err error) bool
}{
	{ErrorTypeCancelled, func(err error) bool { return errors.Is(err, context.Canceled) }},
	{ErrorTypeRateLimited, func(err error) bool { return errors.Is(err, ErrRateLimited) }},
	{ErrorTypeCircuitOpen, func(err error) bool {
		return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
	}},
	{ErrorTypeTimeout, func(err error) bool {
		var netErr net.Error
		return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	}},
	{ErrorTypeDNSError, func(err error) bool {
		var dnsErr *net.DNSError
		return errors.As(err, &dnsErr)
	}},
	{ErrorTypeTLSError, func(err error) bool {
		var recordErr tls.RecordHeaderError
		var alertErr tls.AlertError
		var certErr *tls.CertificateVerificationError
		return errors.As(err, &recordErr) || errors.As(err, &alertErr) || errors.As(err, &certErr)
	}},
	{ErrorTypeConnectionRefused, func(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }},
	{ErrorTypeConnectionReset, func(err error) bool { return errors.Is(err, syscall.ECONNRESET) }},
	{ErrorTypeEOF, func(err error) bool {
		return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
	}},
}

// errorPatterns classify errors whose type was lost to wrapping.
var errorPatterns = []struct {
	errorType string
	substrs   []string
}{
	{ErrorTypeTimeout, []string{"timeout"}},
	{ErrorTypeConnectionRefused, []string{"connection refused"}},
	{ErrorTypeConnectionReset, []string{"connection reset"}},
	{ErrorTypeDNSError, []string{"no such host", "dns"}},
	{ErrorTypeTLSError, []string{"tls", "certificate", "x509"}},
	{ErrorTypeEOF, []string{"eof"}},
}

// classifyError returns the error.type of a failed attempt, or "" for nil.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	for _, c := range errorClasses {
		if c.match(err) {
			return c.errorType
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		for _, sub := range p.substrs {
			if strings.Contains(msg, sub) {
				return p.errorType
			}
		}
	}

	return ErrorTypeUnknown
}

// errorTypeFromStatusCode returns the status code as error.type for 4xx/5xx.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

// setSpanError marks an attempt span as failed.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.type", errorType))
}
