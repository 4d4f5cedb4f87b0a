package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/exec"
	"strings"
)

// ClassifyFallback decides whether err warrants invoking a configured
// fallback provider. Transport failures, timeouts, rate limiting, and 5xx
// responses are fallback-eligible; anything that looks like a problem with
// the prompt itself or a caller cancellation is not, since a fallback
// provider would fail identically or the caller no longer wants a result.
func ClassifyFallback(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var execErr *exec.ExitError
	if errors.As(err, &execErr) {
		// A nonzero exit from the CLI is usually transient (rate limit,
		// transport hiccup inside the subprocess) rather than a malformed
		// prompt, which the CLI itself would normally reject before exit.
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"circuit breaker open", "timeout", "connection reset", "eof", "rate limit", "unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// HTTPStatusError carries a REST adapter's response status for
// classification, since net/http doesn't produce a typed error for
// non-2xx responses on its own.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "http status " + http.StatusText(e.StatusCode)
}
