package feed

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy surfaced to the caller. The client performs no retries
// of its own; it classifies failures precisely enough for the caller's
// backoff policy to act on them.
var (
	// ErrTimeout is returned when the upstream did not answer in time.
	ErrTimeout = errors.New("feed request timed out")

	// ErrMalformedResponse is returned when the response body matches none
	// of the known envelope shapes. Not worth retrying immediately.
	ErrMalformedResponse = errors.New("malformed feed response")
)

// RateLimitedError is returned on HTTP 429. RetryAfter is zero when the
// upstream provided no hint; the caller substitutes its default delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("feed rate limited, retry after %s", e.RetryAfter)
	}
	return "feed rate limited"
}

// UpstreamError is returned for connection failures and non-2xx statuses
// other than 429. StatusCode is zero when no response was received.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("feed unavailable: %s", e.Message)
	}
	return fmt.Sprintf("feed returned status %d: %s", e.StatusCode, e.Message)
}

// IsAuthFailure reports whether err is an upstream rejection of the API
// credentials. This is the one failure treated as persistent rather than
// transient.
func IsAuthFailure(err error) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	return ue.StatusCode == 401 || ue.StatusCode == 403
}
