package httpclient

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// generateCurlCommand creates a cURL command equivalent for the given request.
//
// The generated command can be used to reproduce the request from the command line.
// Sensitive headers like Authorization are included for debugging purposes.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"Jöhn"}'
func generateCurlCommand(req *http.Request, body []byte) string {
	var parts []string

	parts = append(parts, "curl")

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}

	parts = append(parts, fmt.Sprintf("'%s'", req.URL.String()))

	// Headers (sorted for consistent output)
	headerKeys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	for _, k := range headerKeys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, v))
		}
	}

	if len(body) > 0 {
		bodyStr := strings.ReplaceAll(string(body), "'", "'\\''")
		parts = append(parts, "-d", fmt.Sprintf("'%s'", bodyStr))
	}

	return strings.Join(parts, " ")
}

// logAttempt writes one debug line per attempt.
func logAttempt(
	logger zerolog.Logger,
	req *http.Request,
	body []byte,
	resp *http.Response,
	err error,
	attempt int,
	duration time.Duration,
	at *attemptTrace,
) {
	event := logger.Debug().
		Err(err).
		Int("attempt", attempt).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Dur("duration", duration).
		Object("timings", at).
		Str("curl", generateCurlCommand(req, body))

	if resp != nil {
		event = event.
			Int("status", resp.StatusCode).
			Int64("content_length", resp.ContentLength)
	}

	event.Msg("HTTP attempt")
}
