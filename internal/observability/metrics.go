// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	// Polling metrics
	TicksTotal   prometheus.Counter
	TicksSkipped *prometheus.CounterVec
	TickDuration prometheus.Histogram

	// Feed metrics
	FetchAttempts prometheus.Counter
	FetchErrors   *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	EventsFetched prometheus.Counter

	// Matching metrics
	EventsFresh   prometheus.Counter
	AlertsEmitted prometheus.Counter

	// Dispatch metrics
	DeliveryFailures prometheus.Counter

	// Subscriber metrics
	ActiveSubscribers prometheus.Gauge

	// Health metrics
	LastSuccessfulPoll prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg. Tests pass a
// fresh prometheus.NewRegistry to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokenwatch"
	}
	factory := promauto.With(reg)

	return &Metrics{
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Total number of polling ticks started",
		}),
		TicksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_skipped_total",
			Help:      "Total number of ticks abandoned early by reason",
		}, []string{"reason"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Tick execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		FetchAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_attempts_total",
			Help:      "Total number of feed fetch attempts including retries",
		}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_errors_total",
			Help:      "Total number of feed fetch errors by kind",
		}, []string{"kind"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_duration_seconds",
			Help:      "Feed fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		EventsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_fetched_total",
			Help:      "Total number of normalized token events fetched",
		}),

		EventsFresh: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_fresh_total",
			Help:      "Total number of distinct token events fresh for at least one subscriber",
		}),
		AlertsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_emitted_total",
			Help:      "Total number of alert requests handed to the dispatcher",
		}),

		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivery_failures_total",
			Help:      "Total number of failed Deliver calls",
		}),

		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active_subscribers",
			Help:      "Number of subscribers with monitoring enabled",
		}),

		LastSuccessfulPoll: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of the last fully processed tick",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
