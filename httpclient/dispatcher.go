package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Dispatcher issues logical HTTP requests, synchronously or asynchronously,
// retrying failed attempts according to the request's middleware options.
//
// A Dispatcher is safe for concurrent use. Every dispatch builds its own
// RequestConfig, middleware Stack and *http.Client; only the pooled base
// transport and the opted-in rate limiters and circuit breakers are shared.
//
// Example:
//
//	d := httpclient.New(httpclient.WithServiceName("notifier"))
//
//	body, err := d.Dispatch(ctx, httpclient.Request{
//	    URL:     "https://api.example.com/notify",
//	    Payload: map[string]string{"message": "héllo"},
//	    Middleware: httpclient.MiddlewareOptions{
//	        Retry: &httpclient.RetryOptions{},
//	    },
//	})
type Dispatcher struct {
	cfg *internalConfig
}

// New creates a Dispatcher. Config is copied in and never changes afterwards.
func New(opts ...Option) *Dispatcher {
	return &Dispatcher{cfg: newConfig(opts...)}
}

// Config returns the dispatcher defaults.
func (d *Dispatcher) Config() Config {
	return d.cfg.config
}

// Request is one logical request.
type Request struct {
	// URL is the absolute http or https target. Required.
	URL string

	// Method defaults to POST.
	Method string

	// Payload is encoded into the request body; see RequestConfig.
	// Nil sends no body.
	Payload any

	// Overrides replaces the dispatcher defaults wholesale when non-empty.
	Overrides *RequestConfig

	// Headers are applied on top of the assembled RequestConfig.
	Headers map[string]string

	// Middleware selects retry, rate limiting, circuit breaking and interceptors.
	Middleware MiddlewareOptions
}

// Result is the outcome of an asynchronous dispatch. Exactly one of Body or
// Err is meaningful: a failure always has an empty Body.
type Result struct {
	Body string
	Err  error
}

// Text returns the body on success and the error message on failure.
func (r Result) Text() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Body
}

// Dispatch performs req and blocks until a terminal outcome.
//
// A final 200 OK returns the response body. Any other final status returns
// an empty body and a nil error, or a *StatusError when the dispatcher was
// built WithStrictStatus. Transport failures that survive the retry policy
// return a *TransportError; invalid input returns a *ConfigError before any
// network I/O.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	method, target, err := req.validate()
	if err != nil {
		return "", err
	}

	rc, err := buildRequestConfig(d.cfg.config, req.Overrides, req.Headers, req.Payload)
	if err != nil {
		return "", err
	}

	stack := d.cfg.buildStack(req.Middleware, target.Host)

	base := newAttemptTransport(d.cfg.transport, rc, d.cfg)
	client := &http.Client{Transport: stack.Then(base)}

	var body io.Reader
	if rc.Body != nil {
		body = bytes.NewReader(rc.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return "", newConfigError("request", err)
	}
	for k, v := range rc.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Attempts: base.Attempts(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Attempts: base.Attempts(), Err: err}
	}

	final := NewOutcome(resp, nil)
	final.Body = data

	out, err := finalBody(final, d.cfg.strictStatus)
	if err == nil && final.StatusCode != http.StatusOK && rc.Debug {
		d.cfg.Logger.Debug().
			Int("status", final.StatusCode).
			Int("attempts", base.Attempts()).
			Str("url", target.String()).
			Msg("final status is not 200, returning empty body")
	}
	return out, err
}

// finalBody maps the outcome of the last attempt to what Dispatch returns.
// Only a 200 yields the body.
func finalBody(o Outcome, strict bool) (string, error) {
	if o.StatusCode == http.StatusOK {
		return string(o.Body), nil
	}
	if strict {
		return "", &StatusError{StatusCode: o.StatusCode, Body: string(o.Body)}
	}
	return "", nil
}

var errEmptyURL = errors.New("url is empty")

// validate checks the caller input and returns the effective method and URL.
func (r Request) validate() (string, *url.URL, error) {
	raw := strings.TrimSpace(r.URL)
	if raw == "" {
		return "", nil, newConfigError("url", errEmptyURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, newConfigError("url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", nil, newConfigError("url", errors.New("scheme must be http or https"))
	}
	if u.Host == "" {
		return "", nil, newConfigError("url", errors.New("host is empty"))
	}

	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodPost
	}
	if strings.ContainsAny(method, " \t\r\n()<>@,;:\\\"/[]?={}") {
		return "", nil, newConfigError("method", errors.New("not a valid token"))
	}

	return method, u, nil
}
