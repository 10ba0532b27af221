package httpclient

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is the sentinel wrapped by every ConfigError.
//
// Use errors.Is to detect caller input that was rejected before any
// network I/O took place:
//
//	if errors.Is(err, httpclient.ErrInvalidRequest) {
//	    // fix the request, do not retry
//	}
var ErrInvalidRequest = errors.New("invalid request")

// ConfigError reports malformed or missing caller input.
type ConfigError struct {
	// Field names the offending input (e.g. "url", "method", "payload").
	Field string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("httpclient: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("httpclient: invalid %s", e.Field)
}

// Unwrap allows errors.Is(err, ErrInvalidRequest) as well as matching the cause.
func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidRequest}
	}
	return []error{ErrInvalidRequest, e.Err}
}

func newConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

// TransportError is returned by Dispatch when the transport failed and the
// retry policy gave up.
type TransportError struct {
	// Attempts is the number of network calls performed, including the first.
	Attempts int

	// Err is the last transport error.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("httpclient: transport failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is returned by Dispatch in strict mode when the final response
// status is not 200 OK.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpclient: unexpected status %d", e.StatusCode)
}
