package retailer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/booksage/bookbuy-agent/internal/infrastructure/resilience"
)

// errEmptyBody marks a 2xx answer without a JSON document, such as 204.
var errEmptyBody = errors.New("empty response body")

// StatusError is a non-2xx answer from a shop.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Temporary reports whether the shop failed on its side.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500
}

// retryable reports whether an idempotent search may be reissued after err.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, context.DeadlineExceeded)
}

// countsAsFailure decides which errors move a shop's breaker towards open.
// A shop answering 4xx is up; it just does not have what we asked for.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// outcomeLabel maps a call result to the metrics outcome label.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "circuit_open"
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Temporary() {
			return "http_5xx"
		}
		return "http_4xx"
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	return "error"
}
