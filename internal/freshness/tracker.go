// Package freshness decides which fetched token events are new. It keeps,
// per polling scope, a high-water mark over observation timestamps and a
// bounded set of recently seen addresses.
//
// State is in-memory only. After a process restart every cursor is
// re-seeded to "now minus lookback", which trades a small window of
// possible duplicate alerts against missing genuinely new tokens. This is
// a deliberate property, not a bug to fix with persistence.
package freshness

import (
	"sync"
	"time"

	"tokenwatch/internal/domain"
)

// Config holds tracker tuning parameters.
type Config struct {
	// Lookback seeds a fresh cursor to now-Lookback.
	Lookback time.Duration
	// EmptyAdvance bumps the cursor after a batch with no events, so a
	// quiet window is not re-requested forever. Never advances past now.
	EmptyAdvance time.Duration
	// SeenRetention bounds how long an address stays in the seen-set.
	SeenRetention time.Duration
	// SeenCapacity bounds the seen-set size; oldest entries evict first.
	SeenCapacity int
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		Lookback:      1 * time.Minute,
		EmptyAdvance:  5 * time.Second,
		SeenRetention: 1 * time.Hour,
		SeenCapacity:  4096,
	}
}

// seenEntry is one address in the FIFO eviction queue.
type seenEntry struct {
	address string
	atMs    int64
}

// scopeState is the cursor and seen-set for one polling scope.
type scopeState struct {
	highWaterMarkMs int64
	seen            map[string]struct{}
	queue           []seenEntry // append-only FIFO, front is oldest
}

// Tracker maintains freshness state keyed by scope. Scopes are isolated
// defensively: in practice every subscriber shares one feed, but state
// from one scope can never leak into another.
type Tracker struct {
	mu     sync.Mutex
	config Config
	scopes map[string]*scopeState
	nowFn  func() time.Time
}

// NewTracker creates a tracker with the given configuration. Zero-value
// fields fall back to defaults.
func NewTracker(config Config) *Tracker {
	def := DefaultConfig()
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	if config.EmptyAdvance <= 0 {
		config.EmptyAdvance = def.EmptyAdvance
	}
	if config.SeenRetention <= 0 {
		config.SeenRetention = def.SeenRetention
	}
	if config.SeenCapacity <= 0 {
		config.SeenCapacity = def.SeenCapacity
	}
	return &Tracker{
		config: config,
		scopes: make(map[string]*scopeState),
		nowFn:  time.Now,
	}
}

// FilterNew returns the events that are new for the scope: observed after
// the scope's high-water mark and not in its seen-set. Accepted addresses
// enter the seen-set immediately, before the caller evaluates any filter,
// so a failure downstream cannot cause re-delivery.
//
// The cursor advances to the maximum ObservedAtMs of a non-empty batch
// (never backward), or by EmptyAdvance for an empty batch.
func (t *Tracker) FilterNew(scope string, events []*domain.TokenEvent) []*domain.TokenEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn()
	nowMs := now.UnixMilli()
	st := t.scope(scope, now)
	t.evict(st, nowMs)

	if len(events) == 0 {
		advanced := st.highWaterMarkMs + t.config.EmptyAdvance.Milliseconds()
		if advanced > nowMs {
			advanced = nowMs
		}
		if advanced > st.highWaterMarkMs {
			st.highWaterMarkMs = advanced
		}
		return nil
	}

	var fresh []*domain.TokenEvent
	maxObserved := st.highWaterMarkMs
	for _, ev := range events {
		if ev.ObservedAtMs > maxObserved {
			maxObserved = ev.ObservedAtMs
		}
		if ev.ObservedAtMs <= st.highWaterMarkMs {
			continue
		}
		if _, ok := st.seen[ev.Address]; ok {
			continue
		}
		st.seen[ev.Address] = struct{}{}
		st.queue = append(st.queue, seenEntry{address: ev.Address, atMs: nowMs})
		fresh = append(fresh, ev)
	}

	// Advance to the batch maximum rather than "now": a burst of
	// backdated events from upstream must not be skipped on the next poll.
	st.highWaterMarkMs = maxObserved

	t.enforceCapacity(st)
	return fresh
}

// FilterUnseen returns the events whose addresses are not in the scope's
// seen-set, marking them immediately. The cursor is not consulted and not
// advanced: push sources deliver events one at a time, where a cursor
// comparison would drop distinct tokens sharing an observation timestamp.
func (t *Tracker) FilterUnseen(scope string, events []*domain.TokenEvent) []*domain.TokenEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn()
	nowMs := now.UnixMilli()
	st := t.scope(scope, now)
	t.evict(st, nowMs)

	var fresh []*domain.TokenEvent
	for _, ev := range events {
		if _, ok := st.seen[ev.Address]; ok {
			continue
		}
		st.seen[ev.Address] = struct{}{}
		st.queue = append(st.queue, seenEntry{address: ev.Address, atMs: nowMs})
		fresh = append(fresh, ev)
	}

	t.enforceCapacity(st)
	return fresh
}

// Reset re-seeds the scope's cursor to now-lookback. The seen-set is kept:
// a subscriber toggling monitoring off and on should not be re-alerted for
// tokens already delivered within the retention window.
func (t *Tracker) Reset(scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn()
	st := t.scope(scope, now)
	st.highWaterMarkMs = now.Add(-t.config.Lookback).UnixMilli()
}

// HighWaterMark returns the scope's cursor, seeding it if absent.
func (t *Tracker) HighWaterMark(scope string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.scope(scope, t.nowFn()).highWaterMarkMs
}

// EarliestHighWaterMark returns the minimum cursor across the given
// scopes. The poll window starts here so that no enabled scope misses
// events; per-scope filtering then drops anything stale for the others.
func (t *Tracker) EarliestHighWaterMark(scopes []string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFn()
	var earliest int64
	for i, scope := range scopes {
		hwm := t.scope(scope, now).highWaterMarkMs
		if i == 0 || hwm < earliest {
			earliest = hwm
		}
	}
	return earliest
}

// SeenCount returns the size of the scope's seen-set.
func (t *Tracker) SeenCount(scope string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.scopes[scope]
	if !ok {
		return 0
	}
	return len(st.seen)
}

// scope returns the state for a scope, seeding the cursor to
// now-lookback on first use. Caller must hold t.mu.
func (t *Tracker) scope(name string, now time.Time) *scopeState {
	st, ok := t.scopes[name]
	if !ok {
		st = &scopeState{
			highWaterMarkMs: now.Add(-t.config.Lookback).UnixMilli(),
			seen:            make(map[string]struct{}),
		}
		t.scopes[name] = st
	}
	return st
}

// evict drops seen entries older than the retention window. Caller must
// hold t.mu.
func (t *Tracker) evict(st *scopeState, nowMs int64) {
	cutoff := nowMs - t.config.SeenRetention.Milliseconds()
	i := 0
	for ; i < len(st.queue); i++ {
		if st.queue[i].atMs >= cutoff {
			break
		}
		delete(st.seen, st.queue[i].address)
	}
	if i > 0 {
		st.queue = append([]seenEntry(nil), st.queue[i:]...)
	}
}

// enforceCapacity evicts oldest entries past SeenCapacity. Caller must
// hold t.mu.
func (t *Tracker) enforceCapacity(st *scopeState) {
	excess := len(st.queue) - t.config.SeenCapacity
	if excess <= 0 {
		return
	}
	for i := 0; i < excess; i++ {
		delete(st.seen, st.queue[i].address)
	}
	st.queue = append([]seenEntry(nil), st.queue[excess:]...)
}
