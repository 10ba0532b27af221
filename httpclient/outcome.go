package httpclient

import (
	"net/http"
)

// OutcomeKind tags the result of a single attempt.
type OutcomeKind int

const (
	// OutcomeSuccess is a completed round trip with a 2xx status.
	OutcomeSuccess OutcomeKind = iota + 1

	// OutcomeTransportError means the transport returned an error and no response.
	OutcomeTransportError

	// OutcomeHTTPError is a completed round trip with a non-2xx status.
	OutcomeHTTPError
)

// String returns a low-cardinality label, suitable for logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeHTTPError:
		return "http_error"
	default:
		return "unknown"
	}
}

// Outcome describes what one attempt produced. It is what a RetryPolicy sees.
//
// Body is set by the dispatcher once the final response has been read.
// Retry decisions see StatusCode and Err only.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Err        error
}

// NewOutcome classifies the (resp, err) pair returned by a RoundTripper.
func NewOutcome(resp *http.Response, err error) Outcome {
	if err != nil || resp == nil {
		return Outcome{Kind: OutcomeTransportError, Err: err}
	}

	kind := OutcomeHTTPError
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		kind = OutcomeSuccess
	}
	return Outcome{Kind: kind, StatusCode: resp.StatusCode}
}

// IsTransportError reports whether the attempt failed below HTTP.
func (o Outcome) IsTransportError() bool {
	return o.Kind == OutcomeTransportError
}

// IsRateLimited reports a completed round trip answered with 429.
func (o Outcome) IsRateLimited() bool {
	return o.Kind != OutcomeTransportError && o.StatusCode == http.StatusTooManyRequests
}
