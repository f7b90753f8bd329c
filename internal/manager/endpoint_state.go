package manager

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/behrlich/go-aiocompl/internal/backend"
	"github.com/behrlich/go-aiocompl/internal/bwmgr"
	"github.com/behrlich/go-aiocompl/internal/rangelock"
	"github.com/behrlich/go-aiocompl/internal/reqpool"
	"github.com/behrlich/go-aiocompl/internal/taskqueue"
)

// DelayKind selects which operation kinds an injected delay applies to
// (spec.md §6 debug CLI "injectdelay read|write|flush|any").
type DelayKind int

const (
	DelayRead DelayKind = iota
	DelayWrite
	DelayFlush
	DelayAny
)

// matches reports whether a Job of the given Kind should be delayed.
func (k DelayKind) matches(jobKind Kind) bool {
	if k == DelayAny {
		return true
	}
	return DelayKind(jobKind) == k
}

// DelaySpec is an injected artificial latency (spec.md §6 debug CLI),
// consumed Remaining times and then cleared.
type DelaySpec struct {
	Kind      DelayKind
	Delay     time.Duration
	Jitter    time.Duration
	Remaining atomic.Int32 // <0 means unlimited
}

// sleep blocks for Delay plus up to Jitter of random extra latency.
// Used by the Failsafe manager, which is synchronous and single-job by
// design. The Normal manager must never block its main loop this way
// (see armDelay).
func (d *DelaySpec) sleep() {
	extra := time.Duration(0)
	if d.Jitter > 0 {
		extra = time.Duration(rand.Int63n(int64(d.Jitter)))
	}
	time.Sleep(d.Delay + extra)
}

// readyAt returns the time a delay armed now would release at.
func (d *DelaySpec) readyAt(now time.Time) time.Time {
	extra := time.Duration(0)
	if d.Jitter > 0 {
		extra = time.Duration(rand.Int63n(int64(d.Jitter)))
	}
	return now.Add(d.Delay + extra)
}

// FDBackend is the subset of backend.Backend the Normal manager needs
// to submit through internal/ioring: a real file descriptor. Backends
// without one (e.g. the in-memory test backend) can only ever be
// served by the Failsafe manager, which calls ReadAt/WriteAt/Flush
// directly and needs no descriptor.
type FDBackend interface {
	backend.Backend
	FD() int
}

// EndpointState is the manager-owned bookkeeping for one endpoint
// (spec.md §3 "Endpoint", the fields "mutable under the manager's
// thread only" and "atomic cross-thread"). Both Normal and Failsafe
// operate on the same EndpointState shape so migration between them
// (spec.md §4.F "degrade-on-error") only needs to hand over a pointer.
type EndpointState struct {
	ID      uint64
	Name    string // basename, matched by the debug-injection commands
	Backend backend.Backend

	// AlignmentBytes is the backend's minimum I/O alignment; 0 means no
	// constraint (BUFFERED backend).
	AlignmentBytes int

	NewTasks taskqueue.LIFO[*Job]
	Pending  taskqueue.Pending[*Job]
	RangeTbl *rangelock.Table[*Job]
	Bounce   *reqpool.BouncePool

	// FlushActive and AsyncFlushSupported are manager-thread-only
	// (spec.md §4.F "Flush semantics").
	FlushActive         bool
	AsyncFlushSupported bool

	bw atomic.Pointer[bwmgr.Manager]

	// Moving is set once a non-fatal error starts migration to a
	// Failsafe manager (spec.md §4.F "degrade-on-error").
	Moving atomic.Bool

	// Active is this endpoint's in-flight sub-request count, tracked
	// separately from the manager-wide cRequestsActive so
	// REMOVE_ENDPOINT/CLOSE_ENDPOINT can wait for just this endpoint to
	// drain (spec.md §4.F blocking events table).
	Active atomic.Int32

	// InjectedErrorRead/Write, when non-nil, fail the next matching
	// operation with that error and then clear (spec.md §6 debug CLI).
	InjectedErrorRead  atomic.Pointer[error]
	InjectedErrorWrite atomic.Pointer[error]

	// InjectedDelay, when non-nil, adds artificial latency to matching
	// operations until its Remaining counter is exhausted (spec.md §6
	// debug CLI "injectdelay").
	InjectedDelay atomic.Pointer[DelaySpec]

	// Delayed holds jobs an injected delay has deferred, manager-
	// thread-only (spec.md §4.J "append to an endpoint-local delayed
	// list, arm a timer, never block the main loop"). Only the Normal
	// manager uses this; Failsafe sleeps inline since it is already a
	// one-job-at-a-time synchronous path.
	Delayed []delayedJob
}

type delayedJob struct {
	job     *Job
	readyAt time.Time
}

// armDelay defers job until d's delay has elapsed instead of blocking
// the caller.
func (e *EndpointState) armDelay(job *Job, d *DelaySpec, now time.Time) {
	e.Delayed = append(e.Delayed, delayedJob{job: job, readyAt: d.readyAt(now)})
}

// drainReadyDelayed moves every delayed job whose wait has elapsed back
// onto Pending, to be resubmitted on the manager's next pass.
func (e *EndpointState) drainReadyDelayed(now time.Time) {
	if len(e.Delayed) == 0 {
		return
	}
	remaining := e.Delayed[:0]
	for _, dj := range e.Delayed {
		if !now.Before(dj.readyAt) {
			e.Pending.PushBack(dj.job)
		} else {
			remaining = append(remaining, dj)
		}
	}
	e.Delayed = remaining
}

// takeInjectedError returns and clears the injected error for kind, if
// any still applies.
func (e *EndpointState) takeInjectedError(kind Kind) error {
	var slot *atomic.Pointer[error]
	switch kind {
	case KindRead:
		slot = &e.InjectedErrorRead
	case KindWrite:
		slot = &e.InjectedErrorWrite
	default:
		return nil
	}
	if p := slot.Swap(nil); p != nil {
		return *p
	}
	return nil
}

// takeInjectedDelay returns the injected delay matching kind, if any,
// decrementing (and clearing once exhausted) its remaining count. It
// does not sleep; the caller decides how to wait.
func (e *EndpointState) takeInjectedDelay(kind Kind) *DelaySpec {
	d := e.InjectedDelay.Load()
	if d == nil || !d.Kind.matches(kind) {
		return nil
	}
	if d.Remaining.Load() >= 0 && d.Remaining.Add(-1) <= 0 {
		e.InjectedDelay.CompareAndSwap(d, nil)
	}
	return d
}

// applyInjectedDelay sleeps inline if an injected delay matches kind.
// Only the Failsafe manager uses this: it is already a one-job-at-a-
// time synchronous path, so blocking here doesn't stall other
// endpoints the way it would on the Normal manager's shared loop (see
// EndpointState.armDelay).
func (e *EndpointState) applyInjectedDelay(kind Kind) {
	if d := e.takeInjectedDelay(kind); d != nil {
		d.sleep()
	}
}

// NewEndpointState creates the shared bookkeeping for a newly created
// endpoint. boundCap and maxBounce size the per-endpoint bounce pool
// (spec.md §4.C).
func NewEndpointState(id uint64, name string, be backend.Backend, alignment int, boundCap, maxBounce int) *EndpointState {
	return &EndpointState{
		ID:                  id,
		Name:                name,
		Backend:             be,
		AlignmentBytes:      alignment,
		RangeTbl:            rangelock.New[*Job](),
		Bounce:              reqpool.NewBouncePool(boundCap, maxBounce),
		AsyncFlushSupported: true,
	}
}

// BandwidthManager returns the currently assigned manager, or nil.
func (e *EndpointState) BandwidthManager() *bwmgr.Manager { return e.bw.Load() }

// SetBandwidthManager assigns or clears the bandwidth manager,
// adjusting reference counts per spec.md §3.
func (e *EndpointState) SetBandwidthManager(m *bwmgr.Manager) {
	old := e.bw.Swap(m)
	if m != nil {
		m.Retain()
	}
	if old != nil {
		old.Release()
	}
}

// IsAligned reports whether offset and length satisfy this endpoint's
// alignment requirement. A zero AlignmentBytes means no constraint.
func (e *EndpointState) IsAligned(off int64, length int) bool {
	if e.AlignmentBytes == 0 {
		return true
	}
	a := int64(e.AlignmentBytes)
	return off%a == 0 && int64(length)%a == 0
}
