// Package bwmgr implements the named token-bucket rate limiters shared
// by endpoints referencing them by name (spec.md §3 "Bandwidth manager",
// §4.A). Grounded on the teacher's lock-free, atomics-only style in
// internal/queue/runner.go (CAS state transitions, no mutex on the hot
// path) and expanded per spec.md's exact refresh algorithm.
package bwmgr

import (
	"sync/atomic"
	"time"
)

// Decision is the result of a TryConsume call.
type Decision struct {
	Allowed bool
	// RetryAfter is only meaningful when Allowed is false: the manager
	// should requeue the request and wake up no sooner than this.
	RetryAfter time.Duration
}

// Manager is a named token bucket. All fields that change after
// creation are touched with atomics only, per spec.md §4.A: "a single
// atomic subtract fast-path; refresh is also lock-free".
type Manager struct {
	Name string

	maxBytesPerSec   atomic.Int64
	startBytesPerSec atomic.Int64
	stepBytesPerSec  atomic.Int64

	available     atomic.Int64
	lastRefreshNs atomic.Int64

	refs atomic.Int32
}

// Config describes a bandwidth group as read from configuration
// (spec.md §6 "BwGroups/<name>/{Max,Start,Step}").
type Config struct {
	Name  string
	Max   int64
	Start int64 // defaults to Max if zero
	Step  int64 // defaults to 0 (no ramp-up) if unspecified
}

// New creates a bandwidth manager from configuration. If Start is zero
// it defaults to Max, matching spec.md §6's documented default.
func New(cfg Config, now time.Time) *Manager {
	start := cfg.Start
	if start == 0 {
		start = cfg.Max
	}
	m := &Manager{Name: cfg.Name}
	m.maxBytesPerSec.Store(cfg.Max)
	m.startBytesPerSec.Store(start)
	m.stepBytesPerSec.Store(cfg.Step)
	m.available.Store(start)
	m.lastRefreshNs.Store(now.UnixNano())
	return m
}

// Retain increments the reference count; called when an endpoint
// assigns this manager (spec.md §3: "endpoint assigns/reassigns a
// manager, the old manager's ref-count is decremented and the new
// one's incremented").
func (m *Manager) Retain() { m.refs.Add(1) }

// Release decrements the reference count and reports whether it
// reached zero (the caller may then free the manager).
func (m *Manager) Release() bool { return m.refs.Add(-1) == 0 }

// SetMax updates the cap and resets the ramp-up starting value so the
// new limit takes effect immediately (spec.md §4.H setBandwidthMax).
func (m *Manager) SetMax(newMax int64) {
	m.maxBytesPerSec.Store(newMax)
	m.startBytesPerSec.Store(newMax)
}

// TryConsume implements the algorithm in spec.md §4.A exactly: an
// atomic subtract fast path, and — on insufficient budget — a
// once-per-second CAS'd refresh with ramp-up, or a DENIED with a
// retry-after otherwise.
func (m *Manager) TryConsume(nBytes int64, now time.Time) Decision {
	remaining := m.available.Add(-nBytes)
	if remaining >= 0 {
		return Decision{Allowed: true}
	}

	nowNs := now.UnixNano()
	last := m.lastRefreshNs.Load()
	elapsed := time.Duration(nowNs - last)
	if elapsed < time.Second {
		// Not yet time to refresh: revert the subtraction and deny.
		m.available.Add(nBytes)
		return Decision{Allowed: false, RetryAfter: time.Second - elapsed}
	}

	if !m.lastRefreshNs.CompareAndSwap(last, nowNs) {
		// Another goroutine is refreshing concurrently; revert and let
		// the caller retry on the next wake-up rather than spin here.
		m.available.Add(nBytes)
		return Decision{Allowed: false, RetryAfter: 0}
	}

	// Ramp-up: grow start toward max, bounded by max.
	for {
		start := m.startBytesPerSec.Load()
		max := m.maxBytesPerSec.Load()
		if start >= max {
			break
		}
		step := m.stepBytesPerSec.Load()
		next := start + step
		if next > max {
			next = max
		}
		if m.startBytesPerSec.CompareAndSwap(start, next) {
			break
		}
	}

	// Reset budget to start minus this request (negative consumption
	// is credited, i.e. this request's cost carries into the new window).
	newStart := m.startBytesPerSec.Load()
	m.available.Store(newStart - nBytes)
	return Decision{Allowed: true}
}
