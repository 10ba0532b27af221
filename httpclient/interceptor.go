package httpclient

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestInterceptor allows modification of a request before it is sent.
// Interceptors are executed in the order they are added, once per logical
// request; retried attempts reuse the intercepted request.
//
// Common use cases:
//   - Adding authentication headers (Bearer tokens, API keys)
//   - Injecting correlation IDs
//   - Request logging
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor allows inspection of the final response.
// Interceptors are executed in the order they are added.
//
// Common use cases:
//   - Response logging
//   - Custom error handling
type ResponseInterceptor func(resp *http.Response, req *http.Request) error

// InterceptorChain manages request and response interceptors.
type InterceptorChain struct {
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// NewInterceptorChain creates an empty interceptor chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor adds a request interceptor to the chain.
func (c *InterceptorChain) AddRequestInterceptor(i RequestInterceptor) {
	c.requestInterceptors = append(c.requestInterceptors, i)
}

// AddResponseInterceptor adds a response interceptor to the chain.
func (c *InterceptorChain) AddResponseInterceptor(i ResponseInterceptor) {
	c.responseInterceptors = append(c.responseInterceptors, i)
}

// Len returns the total number of interceptors.
func (c *InterceptorChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.requestInterceptors) + len(c.responseInterceptors)
}

// ApplyRequestInterceptors runs all request interceptors in order.
// Returns an error if any interceptor fails.
func (c *InterceptorChain) ApplyRequestInterceptors(req *http.Request) error {
	for _, interceptor := range c.requestInterceptors {
		if err := interceptor(req); err != nil {
			return err
		}
	}
	return nil
}

// ApplyResponseInterceptors runs all response interceptors in order.
// Returns an error if any interceptor fails.
func (c *InterceptorChain) ApplyResponseInterceptors(resp *http.Response, req *http.Request) error {
	for _, interceptor := range c.responseInterceptors {
		if err := interceptor(resp, req); err != nil {
			return err
		}
	}
	return nil
}

// Middleware returns the chain as a stack middleware.
//
// Request interceptors see a clone of the outgoing request. When a response
// interceptor fails, the response body is closed and its error is returned.
func (c *InterceptorChain) Middleware() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			req = req.Clone(req.Context())
			if err := c.ApplyRequestInterceptors(req); err != nil {
				return nil, err
			}

			resp, err := next.RoundTrip(req)
			if err != nil {
				return nil, err
			}

			if err := c.ApplyResponseInterceptors(resp, req); err != nil {
				resp.Body.Close()
				return nil, err
			}
			return resp, nil
		})
	}
}

// Common interceptor helpers

// HeaderRequestID is the header set by RequestIDInterceptor.
const HeaderRequestID = "X-Request-ID"

// RequestIDInterceptor sets X-Request-ID to a random UUID unless the request
// already carries one. All attempts of a logical request share the ID.
func RequestIDInterceptor() RequestInterceptor {
	return CorrelationIDInterceptor(HeaderRequestID, uuid.NewString)
}

// CorrelationIDInterceptor creates an interceptor that adds a correlation ID
// under headerName when it is not already present.
func CorrelationIDInterceptor(headerName string, idFunc func() string) RequestInterceptor {
	return func(req *http.Request) error {
		if req.Header.Get(headerName) == "" {
			req.Header.Set(headerName, idFunc())
		}
		return nil
	}
}

// AuthBearerInterceptor creates an interceptor that adds a Bearer token.
func AuthBearerInterceptor(token string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// UserAgentInterceptor creates an interceptor that sets the User-Agent header.
func UserAgentInterceptor(userAgent string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("User-Agent", userAgent)
		return nil
	}
}
