package dispatch

import (
	"context"
	"sync"

	"tokenwatch/internal/domain"
)

// Capture records delivered alerts in memory. Used by tests and by
// verification tooling to assert at-most-once delivery.
type Capture struct {
	mu     sync.Mutex
	alerts []*domain.AlertRequest

	// FailWith, when non-nil, is returned from every Deliver call while
	// still recording the alert. Lets tests exercise the rule that
	// delivery failures do not roll back freshness state.
	FailWith error
}

// NewCapture creates an empty capture dispatcher.
func NewCapture() *Capture {
	return &Capture{}
}

// Deliver records the alert.
func (c *Capture) Deliver(_ context.Context, req *domain.AlertRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, req)
	return c.FailWith
}

// Alerts returns a copy of everything delivered so far.
func (c *Capture) Alerts() []*domain.AlertRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.AlertRequest, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Count returns the number of delivered alerts.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
