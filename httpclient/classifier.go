package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// IsConnectError reports whether err is a transport-level connection failure,
// i.e. the transport could not reach the server or the exchange timed out
// before a response arrived.
//
// Connection failures:
//   - Timeouts (dial, TLS handshake, per-attempt client timeout)
//   - Connection refused / reset / aborted, network or host unreachable
//   - DNS failures, unknown hosts included
//   - TLS handshake failures
//   - Unexpected EOF while waiting for the response
//
// Not connection failures:
//   - Caller cancellation (context.Canceled)
//   - Certificate verification errors
//   - nil
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if isPermanentError(err) {
		return false
	}

	return isRetryableNetworkError(err)
}

// isRetryableNetworkError returns true for network errors that are
// typically transient and may succeed on retry.
func isRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// 1. Check net.Error interface (Timeout)
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	// 2. Any resolver failure, NXDOMAIN included
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// 3. TLS handshake failures that are not certificate problems
	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) {
		return true
	}

	// 4. Check syscall retryable errors
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EACCES) {
		return true
	}

	// 5. Per-attempt deadlines and EOF
	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// 6. Fallback for wrapped errors from third-party transports
	return containsTransientPattern(err)
}

// containsTransientPattern is a fallback for edge cases where type checks fail.
func containsTransientPattern(err error) bool {
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"network is down",
		"network unreachable",
		"i/o timeout",
		"temporary failure",
		"server closed",
		"broken pipe",
		"no such host",
		"tls: ",
		"permission denied",
		"eof",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// isPermanentError returns true for certificate verification failures,
// which will not succeed on retry.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	return containsPermanentPattern(err)
}

// containsPermanentPattern is a fallback for edge cases where type checks fail.
func containsPermanentPattern(err error) bool {
	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"x509:",
		"certificate",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}
