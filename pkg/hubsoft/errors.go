package hubsoft

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrNotFound is returned when the upstream has no record for the query
// (a valid CPF that is not a subscriber, an unknown atendimento id).
// Not retryable.
var ErrNotFound = errors.New("hubsoft: no matching record")

// APIError is a non-2xx upstream response. The body is kept for
// diagnostics but callers must never show it to end users.
type APIError struct {
	StatusCode int
	Message    string
	// RetryAfter is the rate-limit reset window from a 429 response,
	// zero when the upstream did not say.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubsoft: upstream returned %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// RetryAfter returns the upstream-dictated reset window, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// Retryable classifies an upstream failure. Timeouts, connection
// errors, an open circuit breaker, 5xx and 429 responses are transient;
// 4xx responses and not-found results are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	// Unrecognized transport failures (closed connections, DNS) arrive
	// wrapped by net/http as plain errors; treat them as transient.
	return true
}
