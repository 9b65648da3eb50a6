// Package monitor drives the polling cycle: fetch new token events,
// filter them for freshness per subscriber, evaluate active filter specs,
// and hand matching alerts to the dispatcher.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/remeh/sizedwaitgroup"
	"github.com/sirupsen/logrus"

	"tokenwatch/internal/dispatch"
	"tokenwatch/internal/domain"
	"tokenwatch/internal/feed"
	"tokenwatch/internal/freshness"
	"tokenwatch/internal/match"
	"tokenwatch/internal/observability"
	"tokenwatch/internal/specsource"
)

// Default loop parameters.
const (
	// DefaultInterval is 60s: earlier revisions of this system polled at
	// 30s, which sat too close to upstream rate limits for the alert
	// latency it bought.
	DefaultInterval    = 60 * time.Second
	DefaultFetchLimit  = 100
	DefaultParallelism = 4
)

// Feed fetches a page of recently launched tokens.
type Feed interface {
	Fetch(ctx context.Context, limit int, sinceMs, untilMs int64) ([]*domain.TokenEvent, error)
}

// Options for creating a Loop.
type Options struct {
	// Required collaborators
	Feed       Feed
	Specs      specsource.Source
	Dispatcher dispatch.Dispatcher

	// Optional, defaulted when zero
	Tracker     *freshness.Tracker
	Interval    time.Duration
	FetchLimit  int
	Retry       Policy
	Parallelism int
	Metrics     *observability.Metrics
	Logger      logrus.FieldLogger
}

// Loop is the scheduler tying feed, freshness, matching, and dispatch
// together on a single timer. One instance is constructed by the process
// composition root; there is no package-level singleton.
type Loop struct {
	feed        Feed
	specs       specsource.Source
	dispatcher  dispatch.Dispatcher
	tracker     *freshness.Tracker
	interval    time.Duration
	fetchLimit  int
	retry       Policy
	parallelism int
	metrics     *observability.Metrics
	logger      logrus.FieldLogger

	mu            sync.Mutex
	enabled       map[string]struct{}
	misconfigured bool

	// wake unparks the timer when the first subscriber enables.
	wake chan struct{}

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New creates a Loop from options, applying defaults for optional fields.
func New(opts Options) *Loop {
	l := &Loop{
		feed:        opts.Feed,
		specs:       opts.Specs,
		dispatcher:  opts.Dispatcher,
		tracker:     opts.Tracker,
		interval:    opts.Interval,
		fetchLimit:  opts.FetchLimit,
		retry:       opts.Retry,
		parallelism: opts.Parallelism,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		enabled:     make(map[string]struct{}),
		wake:        make(chan struct{}, 1),
		nowFn:       time.Now,
		sleepFn:     sleepCtx,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.fetchLimit <= 0 {
		l.fetchLimit = DefaultFetchLimit
	}
	if l.parallelism <= 0 {
		l.parallelism = DefaultParallelism
	}
	if l.retry == (Policy{}) {
		l.retry = DefaultPolicy()
	}
	if l.tracker == nil {
		l.tracker = freshness.NewTracker(freshness.DefaultConfig())
	}
	if l.logger == nil {
		l.logger = logrus.StandardLogger()
	}
	if l.metrics == nil {
		l.metrics = observability.NewMetrics(prometheus.NewRegistry(), "")
	}
	return l
}

// Enable turns monitoring on for the subscriber and re-seeds its
// freshness cursor to now-lookback, so enabling never resumes from a
// stale cursor. Idempotent: re-enabling is a no-op beyond logging.
// Refused after the feed rejected credentials; a restart with a valid
// key is required first.
func (l *Loop) Enable(subscriberID string) {
	l.mu.Lock()
	if l.misconfigured {
		l.mu.Unlock()
		l.logger.WithField("subscriber", subscriberID).
			Warn("feed credentials were rejected, enable refused until restart")
		return
	}
	if _, ok := l.enabled[subscriberID]; ok {
		l.mu.Unlock()
		l.logger.WithField("subscriber", subscriberID).Debug("monitoring already enabled")
		return
	}
	l.enabled[subscriberID] = struct{}{}
	count := len(l.enabled)
	l.mu.Unlock()

	l.tracker.Reset(subscriberID)
	l.metrics.ActiveSubscribers.Set(float64(count))
	l.logger.WithField("subscriber", subscriberID).Info("monitoring enabled")

	if count == 1 {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// Disable turns monitoring off for the subscriber. Idempotent. When the
// last subscriber disables, the timer parks instead of polling with zero
// recipients.
func (l *Loop) Disable(subscriberID string) {
	l.mu.Lock()
	if _, ok := l.enabled[subscriberID]; !ok {
		l.mu.Unlock()
		l.logger.WithField("subscriber", subscriberID).Debug("monitoring already disabled")
		return
	}
	delete(l.enabled, subscriberID)
	count := len(l.enabled)
	l.mu.Unlock()

	l.metrics.ActiveSubscribers.Set(float64(count))
	l.logger.WithField("subscriber", subscriberID).Info("monitoring disabled")
}

// IsEnabled reports whether the subscriber has monitoring enabled.
func (l *Loop) IsEnabled(subscriberID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.enabled[subscriberID]
	return ok
}

// ActiveCount returns the number of subscribers with monitoring enabled.
func (l *Loop) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.enabled)
}

// Misconfigured reports whether the loop disabled itself after the feed
// rejected its credentials. Cleared only by a process restart, which is
// also what a key change requires.
func (l *Loop) Misconfigured() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.misconfigured
}

// Start runs the polling loop until ctx is canceled. While no subscriber
// is enabled the timer is parked; Enable unparks it. An in-flight tick
// finishes (or abandons itself) on its own; cancellation means "the next
// tick doesn't happen".
func (l *Loop) Start(ctx context.Context) {
	l.logger.WithField("interval", l.interval).Info("monitor loop started")
	for {
		if l.ActiveCount() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			l.runTick(ctx)
		}
	}
}

// runTick wraps one tick with metrics and a panic guard: nothing a tick
// does may take down the loop or cancel the next firing.
func (l *Loop) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("tick panicked")
		}
	}()

	start := l.nowFn()
	l.metrics.TicksTotal.Inc()
	if err := l.tick(ctx); err != nil && ctx.Err() == nil {
		l.logger.WithError(err).Warn("tick abandoned, retrying on next interval")
	}
	l.metrics.TickDuration.Observe(l.nowFn().Sub(start).Seconds())
}

// tick executes one polling cycle. The enabled-subscriber snapshot is
// taken once up front; Enable/Disable calls racing with the tick affect
// the next one. The shared lock is never held across a network call.
func (l *Loop) tick(ctx context.Context) error {
	subscribers := l.enabledSnapshot()
	if len(subscribers) == 0 {
		l.metrics.TicksSkipped.WithLabelValues("no_subscribers").Inc()
		return nil
	}

	sinceMs := l.tracker.EarliestHighWaterMark(subscribers)
	untilMs := l.nowFn().UnixMilli()

	events, err := l.fetchWithRetry(ctx, sinceMs, untilMs)
	if err != nil {
		l.metrics.TicksSkipped.WithLabelValues("fetch_error").Inc()
		if feed.IsAuthFailure(err) {
			l.handleAuthFailure(err)
			return nil
		}
		return fmt.Errorf("fetch: %w", err)
	}
	l.metrics.EventsFetched.Add(float64(len(events)))

	if err := l.process(ctx, subscribers, events, l.tracker.FilterNew); err != nil {
		l.metrics.TicksSkipped.WithLabelValues("spec_load_error").Inc()
		return err
	}

	l.metrics.LastSuccessfulPoll.Set(float64(l.nowFn().Unix()))
	return nil
}

// ProcessBatch runs already-normalized events through dedup, matching,
// and dispatch for all enabled subscribers. This is the streaming feed's
// entry point: push events arrive one at a time, where the polling
// cursor comparison would drop distinct tokens sharing an observation
// timestamp, so only the address seen-set applies here.
func (l *Loop) ProcessBatch(ctx context.Context, events []*domain.TokenEvent) error {
	subscribers := l.enabledSnapshot()
	if len(subscribers) == 0 {
		return nil
	}

	eligible := make([]*domain.TokenEvent, 0, len(events))
	for _, ev := range events {
		if ev.Eligible() {
			eligible = append(eligible, ev)
		}
	}
	return l.process(ctx, subscribers, eligible, l.tracker.FilterUnseen)
}

// process applies freshness filtering, loads specs, and evaluates.
// Freshness runs first: accepted addresses are marked seen before any
// filter evaluation, so a failure further down cannot cause re-delivery.
// The filter function is the mode-specific freshness check: cursor plus
// seen-set for polling, seen-set only for streamed events.
func (l *Loop) process(ctx context.Context, subscribers []string, events []*domain.TokenEvent, filter func(string, []*domain.TokenEvent) []*domain.TokenEvent) error {
	fresh := make(map[string][]*domain.TokenEvent, len(subscribers))
	distinct := make(map[string]struct{})
	for _, sub := range subscribers {
		newEvents := filter(sub, events)
		if len(newEvents) > 0 {
			fresh[sub] = newEvents
			for _, ev := range newEvents {
				distinct[ev.Address] = struct{}{}
			}
		}
	}
	l.metrics.EventsFresh.Add(float64(len(distinct)))
	if len(distinct) == 0 {
		return nil
	}

	specs, err := l.specs.ListActiveSpecs(ctx, subscribers)
	if err != nil {
		// Never guess at specs; skip the cycle instead.
		return fmt.Errorf("load active specs: %w", err)
	}

	bySubscriber := make(map[string][]*domain.FilterSpec)
	for _, spec := range specs {
		if !spec.IsActive {
			continue
		}
		bySubscriber[spec.SubscriberID] = append(bySubscriber[spec.SubscriberID], spec)
	}

	// Subscribers are independent within a cycle; evaluate them in
	// parallel with a bounded group. The fetch stays single-flight.
	swg := sizedwaitgroup.New(l.parallelism)
	for _, sub := range subscribers {
		events := fresh[sub]
		specs := bySubscriber[sub]
		if len(events) == 0 || len(specs) == 0 {
			continue
		}
		swg.Add()
		go func(sub string, events []*domain.TokenEvent, specs []*domain.FilterSpec) {
			defer swg.Done()
			l.evaluate(ctx, sub, events, specs)
		}(sub, events, specs)
	}
	swg.Wait()

	return nil
}

// evaluate emits at most one alert per (event, spec) pair for one
// subscriber.
func (l *Loop) evaluate(ctx context.Context, subscriberID string, events []*domain.TokenEvent, specs []*domain.FilterSpec) {
	for _, ev := range events {
		for _, spec := range specs {
			res := match.Matches(ev, spec)
			if !res.Matched {
				l.logger.WithFields(logrus.Fields{
					"subscriber": subscriberID,
					"filter":     spec.ID,
					"address":    ev.Address,
					"predicate":  string(res.FailedPredicate),
				}).Debug("event did not match filter")
				continue
			}

			req := &domain.AlertRequest{
				ID:           uuid.NewString(),
				SubscriberID: subscriberID,
				Event:        ev,
				FilterID:     spec.ID,
				CreatedAtMs:  l.nowFn().UnixMilli(),
			}
			l.metrics.AlertsEmitted.Inc()
			if err := l.dispatcher.Deliver(ctx, req); err != nil {
				// Delivery retries belong to the dispatcher; the
				// freshness cursor is not rolled back.
				l.metrics.DeliveryFailures.Inc()
				l.logger.WithError(err).WithFields(logrus.Fields{
					"subscriber": subscriberID,
					"filter":     spec.ID,
					"address":    ev.Address,
				}).Warn("alert delivery failed")
			}
		}
	}
}

// fetchWithRetry drives the feed client through the retry policy. The
// whole sequence is abandoned on auth failures and on policy exhaustion;
// the tick, not the subscriber, is what gets dropped.
func (l *Loop) fetchWithRetry(ctx context.Context, sinceMs, untilMs int64) ([]*domain.TokenEvent, error) {
	for attempt := 1; ; attempt++ {
		l.metrics.FetchAttempts.Inc()
		start := l.nowFn()
		events, err := l.feed.Fetch(ctx, l.fetchLimit, sinceMs, untilMs)
		l.metrics.FetchDuration.Observe(l.nowFn().Sub(start).Seconds())
		if err == nil {
			return events, nil
		}
		l.metrics.FetchErrors.WithLabelValues(errorKind(err)).Inc()

		if feed.IsAuthFailure(err) {
			return nil, err
		}

		delay, retry := l.retry.Delay(attempt, err)
		if !retry {
			return nil, err
		}
		l.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("feed fetch failed, retrying")

		if err := l.sleepFn(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// handleAuthFailure reports a credential rejection once and disables all
// subscribers. Tick errors are silent from a subscriber's point of view,
// and a bad key would otherwise fail every tick forever.
func (l *Loop) handleAuthFailure(err error) {
	l.mu.Lock()
	already := l.misconfigured
	l.misconfigured = true
	cleared := len(l.enabled)
	l.enabled = make(map[string]struct{})
	l.mu.Unlock()

	l.metrics.ActiveSubscribers.Set(0)
	if !already {
		l.logger.WithError(err).WithField("subscribers_disabled", cleared).
			Error("feed rejected credentials, monitoring disabled until restart")
	}
}

// enabledSnapshot copies the enabled set under the lock, sorted for
// deterministic iteration.
func (l *Loop) enabledSnapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.enabled))
	for id := range l.enabled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, feed.ErrTimeout):
		return "timeout"
	case errors.Is(err, feed.ErrMalformedResponse):
		return "malformed"
	}
	var rl *feed.RateLimitedError
	if errors.As(err, &rl) {
		return "rate_limited"
	}
	var ue *feed.UpstreamError
	if errors.As(err, &ue) {
		return "upstream"
	}
	return "other"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
