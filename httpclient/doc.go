// Package httpclient provides a retrying HTTP request dispatcher with
// built-in resilience, observability, and OpenTelemetry instrumentation.
//
// # Features
//
//   - Synchronous and asynchronous dispatch of one logical request
//   - Per-request configuration: timeouts, delay, debug, headers, JSON body
//   - Linear retry backoff on connection failures and 429 responses
//   - Pluggable RetryPolicy, rate limiting and circuit breaking middleware
//   - OpenTelemetry tracing per attempt, retry events and metrics
//   - Debug logging with reproducible cURL commands
//
// # Quick Start
//
//	d := httpclient.New(httpclient.WithServiceName("my-service"))
//
//	body, err := d.Dispatch(ctx, httpclient.Request{
//	    URL:     "https://api.example.com/users",
//	    Method:  http.MethodPost,
//	    Payload: newUser,
//	})
//
// A final 200 OK yields the body. Any other final status yields an empty
// body; build the dispatcher WithStrictStatus to get a *StatusError instead.
//
// # Request Configuration
//
// Every dispatch assembles a RequestConfig. Non-empty Request.Overrides
// replace the dispatcher defaults wholesale, they are never merged:
//
//	body, err := d.Dispatch(ctx, httpclient.Request{
//	    URL: "https://api.example.com/slow",
//	    Overrides: &httpclient.RequestConfig{
//	        Timeout: 30 * time.Second,
//	    },
//	})
//
// Here ConnectTimeout, Delay and Debug are zero, not the defaults.
//
// # Retry Configuration
//
// Retries are opted into per request. Retry n waits Interval × n:
//
//	body, err := d.Dispatch(ctx, httpclient.Request{
//	    URL: "https://api.example.com/events",
//	    Middleware: httpclient.MiddlewareOptions{
//	        Retry: &httpclient.RetryOptions{
//	            Interval:   100 * time.Millisecond,
//	            MaxRetries: httpclient.Retries(3),
//	        },
//	    },
//	})
//
// The default LinearRetryPolicy retries connection failures and 429 Too Many
// Requests only. Any other status, including 5xx, completes the request.
//
// # Asynchronous Dispatch
//
//	res := <-d.DispatchAsync(ctx, req)
//	fmt.Println(res.Text())
//
// The channel receives exactly one Result. DispatchAsyncFunc offers the same
// with onSuccess/onFailure callbacks.
//
// # Middleware
//
// Middleware run outermost first:
//
//	interceptors → retry → rate limit → circuit breaker → custom → transport
//
// Rate limiters and circuit breakers are shared by every dispatch of a
// Dispatcher that targets the same host (or uses the same explicit key).
//
// # Observability
//
// Each attempt creates a client span with W3C trace context propagation.
// Retries are recorded as span events. Metrics:
//
//	http.client.request.duration    - Histogram of attempt latency
//	http.client.active_requests     - In-flight attempts
//	http.client.errors              - Transport errors by error.type
//	http.client.retry.attempts      - Retries performed
//	http.client.retry.exhausted     - Requests that failed after retrying
//	http.client.retry.duration      - Time spent in the retry loop
//	http.client.breaker.requests    - Breaker outcomes (success, failure, rejected)
//	dispatch.async.inflight         - Asynchronous dispatches not yet completed
package httpclient
