// Package dispatch is the boundary to the alert-delivery collaborator.
// The core guarantees at most one Deliver call per (subscriber, token,
// filter) triple per polling cycle; everything after that call, including
// retries and persistence, belongs to the dispatcher.
package dispatch

import (
	"context"

	"github.com/sirupsen/logrus"

	"tokenwatch/internal/domain"
)

// Dispatcher delivers alert requests to subscribers. A Deliver failure is
// logged by the caller but never causes an event to be re-evaluated.
type Dispatcher interface {
	Deliver(ctx context.Context, req *domain.AlertRequest) error
}

// LogDispatcher writes each alert to the log. It stands in for a real
// delivery transport in the reference binary.
type LogDispatcher struct {
	logger logrus.FieldLogger
}

// NewLogDispatcher creates a dispatcher that logs alerts.
func NewLogDispatcher(logger logrus.FieldLogger) *LogDispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogDispatcher{logger: logger}
}

// Deliver logs the alert and always succeeds.
func (d *LogDispatcher) Deliver(_ context.Context, req *domain.AlertRequest) error {
	d.logger.WithFields(logrus.Fields{
		"alert_id":   req.ID,
		"subscriber": req.SubscriberID,
		"filter":     req.FilterID,
		"address":    req.Event.Address,
		"symbol":     req.Event.Symbol,
		"liquidity":  req.Event.LiquidityUsd.String(),
		"market_cap": req.Event.MarketCapUsd.String(),
	}).Info("alert")
	return nil
}
