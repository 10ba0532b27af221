// Command dispatch sends one HTTP request through the dispatcher and prints
// the response body.
//
//	dispatch -url https://api.example.com/notify -data '{"message":"hi"}' -retry -max-retries 3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kroma-labs/dispatch-go/httpclient"
	"github.com/kroma-labs/dispatch-go/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// headerFlags collects repeated -H "Key: Value" flags.
type headerFlags map[string]string

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("header %q is not in Key: Value form", s)
	}
	h[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

type options struct {
	url            string
	method         string
	async          bool
	data           string
	headers        headerFlags
	retry          bool
	retryInterval  time.Duration
	maxRetries     int
	timeout        time.Duration
	connectTimeout time.Duration
	delay          time.Duration
	debug          bool
	strict         bool
	rate           float64
	breaker        bool
	otelStdout     bool
	configPath     string
}

func parseFlags(args []string, stderr io.Writer) (*options, map[string]bool, error) {
	opts := &options{headers: headerFlags{}}

	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.url, "url", "", "target URL (required)")
	fs.StringVar(&opts.method, "method", "POST", "HTTP method")
	fs.BoolVar(&opts.async, "async", false, "dispatch asynchronously and wait for the result")
	fs.StringVar(&opts.data, "data", "", "request payload; valid JSON is sent as application/json")
	fs.Var(opts.headers, "H", "request header as \"Key: Value\" (repeatable)")
	fs.BoolVar(&opts.retry, "retry", false, "retry connection failures and 429 responses")
	fs.DurationVar(&opts.retryInterval, "retry-interval", 0, "base delay of the linear retry backoff")
	fs.IntVar(&opts.maxRetries, "max-retries", 0, "retry ceiling")
	fs.DurationVar(&opts.timeout, "timeout", 0, "per-attempt timeout")
	fs.DurationVar(&opts.connectTimeout, "connect-timeout", 0, "per-attempt connect timeout")
	fs.DurationVar(&opts.delay, "delay", 0, "delay before the first attempt")
	fs.BoolVar(&opts.debug, "debug", false, "log every attempt with a cURL command")
	fs.BoolVar(&opts.strict, "strict", false, "fail on a final status other than 200")
	fs.Float64Var(&opts.rate, "rate", 0, "client-side attempts per second (0 = unlimited)")
	fs.BoolVar(&opts.breaker, "breaker", false, "wrap attempts in a circuit breaker")
	fs.BoolVar(&opts.otelStdout, "otel-stdout", false, "export spans and metrics to stderr")
	fs.StringVar(&opts.configPath, "config", "", "YAML config file")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if opts.url == "" {
		return nil, nil, errors.New("-url is required")
	}
	return opts, set, nil
}

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config, opts *options, set map[string]bool) {
	if set["timeout"] {
		cfg.Timeout = opts.timeout
	}
	if set["connect-timeout"] {
		cfg.ConnectTimeout = opts.connectTimeout
	}
	if set["delay"] {
		cfg.Delay = opts.delay
	}
	if set["debug"] {
		cfg.Debug = opts.debug
	}
	if set["retry-interval"] {
		cfg.RetryInterval = opts.retryInterval
	}
	if set["max-retries"] {
		cfg.MaxRetries = opts.maxRetries
	}
	if cfg.Debug {
		cfg.LogLevel = zerolog.LevelDebugValue
	}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func buildRequest(opts *options, cfg *config.Config, redisClient redis.UniversalClient) httpclient.Request {
	req := httpclient.Request{
		URL:     opts.url,
		Method:  opts.method,
		Headers: opts.headers,
	}

	if opts.data != "" {
		if json.Valid([]byte(opts.data)) {
			req.Payload = json.RawMessage(opts.data)
		} else {
			req.Payload = opts.data
		}
	}

	if opts.retry {
		req.Middleware.Retry = &httpclient.RetryOptions{}
	}
	if opts.rate > 0 {
		rl := httpclient.DefaultRateLimitConfig()
		rl.RequestsPerSecond = opts.rate
		req.Middleware.RateLimit = &rl
	}
	if opts.breaker {
		bc := httpclient.DefaultBreakerConfig()
		if redisClient != nil {
			bc = httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(redisClient))
		}
		bc.Name = cfg.ServiceName
		req.Middleware.Breaker = &bc
	}
	req.Middleware.RequestInterceptors = []httpclient.RequestInterceptor{
		httpclient.RequestIDInterceptor(),
		httpclient.UserAgentInterceptor("dispatch-cli"),
	}

	return req
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, set, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	applyFlags(cfg, opts, set)

	logger := newLogger(stderr, cfg.LogLevel)

	var redisClient redis.UniversalClient
	if opts.breaker && cfg.BreakerRedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.BreakerRedisAddr})
		defer redisClient.Close()
	}

	dopts := []httpclient.Option{
		httpclient.WithConfig(cfg.Config),
		httpclient.WithLogger(logger),
		httpclient.WithServiceName(cfg.ServiceName),
		httpclient.WithMaxConcurrentAsync(cfg.MaxConcurrentAsync),
	}
	if opts.strict {
		dopts = append(dopts, httpclient.WithStrictStatus())
	}
	if opts.otelStdout {
		tel, err := newStdoutTelemetry(stderr, cfg.ServiceName)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()
		dopts = append(dopts,
			httpclient.WithTracerProvider(tel.tracerProvider),
			httpclient.WithMeterProvider(tel.meterProvider),
		)
	}
	d := httpclient.New(dopts...)

	req := buildRequest(opts, cfg, redisClient)

	var body string
	if opts.async {
		res := <-d.DispatchAsync(ctx, req)
		body, err = res.Body, res.Err
	} else {
		body, err = d.Dispatch(ctx, req)
	}

	if err != nil {
		logger.Error().Err(err).Str("url", opts.url).Msg("dispatch failed")
		return 1
	}

	fmt.Fprint(stdout, body)
	return 0
}
