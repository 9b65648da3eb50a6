package monitor

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tokenwatch/internal/feed"
)

// Policy decides whether and how long to wait before retrying a failed
// feed fetch within one tick. It keeps two independent branches: a
// rate-limited response waits for the upstream-provided delay (or
// RateLimitDefault) plus a safety margin, while other transient failures
// back off exponentially. Malformed responses are never retried; the
// upstream broke its contract and the next tick is soon enough.
type Policy struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RateLimitDefault time.Duration
	SafetyMargin     time.Duration
}

// DefaultPolicy returns the retry policy used by the monitor loop.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		BaseDelay:        2 * time.Second,
		MaxDelay:         30 * time.Second,
		RateLimitDefault: 5 * time.Second,
		SafetyMargin:     500 * time.Millisecond,
	}
}

// Delay returns the wait before the attempt that follows the given failed
// attempt (1-based), and whether a retry should happen at all.
func (p Policy) Delay(attempt int, err error) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	if errors.Is(err, feed.ErrMalformedResponse) {
		return 0, false
	}

	var rl *feed.RateLimitedError
	if errors.As(err, &rl) {
		d := rl.RetryAfter
		if d <= 0 {
			d = p.RateLimitDefault
		}
		return d + p.SafetyMargin, true
	}

	return p.backoffDelay(attempt), true
}

// backoffDelay is the exponential branch: BaseDelay doubling per failed
// attempt, capped at MaxDelay. Randomization is disabled so the policy
// stays a pure function of (attempt, err).
func (p Policy) backoffDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0

	d := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}
