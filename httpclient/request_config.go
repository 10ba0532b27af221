package httpclient

import (
	"bytes"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// RequestConfig is the per-request configuration assembled before the client
// is built. It is owned by exactly one dispatch and is not modified once the
// request is executing.
type RequestConfig struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration

	// ConnectTimeout bounds connection establishment for a single attempt.
	ConnectTimeout time.Duration

	// Delay is waited before the first attempt is sent.
	Delay time.Duration

	// Debug enables per-attempt debug logging.
	Debug bool

	// Headers are sent with every attempt.
	Headers map[string]string

	// Body is the encoded payload, re-sent unchanged on every attempt.
	Body []byte
}

// IsZero reports whether no field is set. A zero RequestConfig passed as
// overrides means "use the dispatcher defaults".
func (c *RequestConfig) IsZero() bool {
	return c == nil ||
		(c.Timeout == 0 && c.ConnectTimeout == 0 && c.Delay == 0 && !c.Debug &&
			len(c.Headers) == 0 && c.Body == nil)
}

// clone returns a deep copy so the caller's maps and slices are never shared.
func (c RequestConfig) clone() RequestConfig {
	out := c
	out.Headers = canonicalHeaders(c.Headers)
	if c.Body != nil {
		out.Body = append([]byte(nil), c.Body...)
	}
	return out
}

// buildRequestConfig assembles the RequestConfig of one dispatch.
//
// Non-empty overrides replace the defaults wholesale; fields are not merged.
// Caller headers are applied on top, then the payload is encoded into Body.
func buildRequestConfig(
	defaults Config,
	overrides *RequestConfig,
	headers map[string]string,
	payload any,
) (RequestConfig, error) {
	var rc RequestConfig
	if overrides.IsZero() {
		rc = defaults.requestDefaults()
	} else {
		rc = overrides.clone()
	}

	if len(headers) > 0 {
		if rc.Headers == nil {
			rc.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			rc.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if payload != nil {
		body, contentType, err := encodePayload(payload)
		if err != nil {
			return RequestConfig{}, newConfigError("payload", err)
		}
		rc.Body = body
		if _, ok := rc.Headers["Content-Type"]; contentType != "" && !ok {
			if rc.Headers == nil {
				rc.Headers = make(map[string]string, 1)
			}
			rc.Headers["Content-Type"] = contentType
		}
	}

	return rc, nil
}

// encodePayload turns a payload into request body bytes.
//
// Encoding rules:
//   - []byte: raw bytes, no content type
//   - string: raw text, no content type
//   - json.RawMessage: passthrough as JSON
//   - anything else: JSON without escaping non-ASCII or HTML characters
func encodePayload(payload any) ([]byte, string, error) {
	switch p := payload.(type) {
	case []byte:
		return p, "", nil
	case string:
		return []byte(p), "", nil
	case json.RawMessage:
		return p, "application/json", nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(p); err != nil {
			return nil, "", err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), "application/json", nil
	}
}

// canonicalHeaders copies headers with canonicalized keys.
func canonicalHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}
