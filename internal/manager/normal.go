package manager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/behrlich/go-aiocompl/internal/bwmgr"
	"github.com/behrlich/go-aiocompl/internal/ioring"
	"github.com/behrlich/go-aiocompl/internal/logging"
	"github.com/behrlich/go-aiocompl/internal/rangelock"
)

const maxBatchSubmit = 20

// NormalConfig configures a Normal manager instance.
type NormalConfig struct {
	RingEntries      uint32
	ActiveRequestMax int
	Logger           *logging.Logger

	// IsFatal classifies a completion error as fatal (surfaced to the
	// consumer immediately) versus non-fatal (triggers migration to a
	// Failsafe manager), per spec.md §4.F / §7. Injected rather than
	// imported so this package never depends on the root error
	// taxonomy.
	IsFatal func(error) bool

	// OnMigrate is called when an endpoint needs to move to a Failsafe
	// manager after a non-fatal error (spec.md §4.F "degrade-on-error").
	// It runs on the manager goroutine; the caller is expected to
	// arrange for the endpoint to actually be reattached elsewhere
	// (e.g. via the Subsystem) without blocking this goroutine for long.
	OnMigrate func(ep *EndpointState)
}

// Normal is the async I/O manager (spec.md §4.F): one goroutine owning
// one kernel io_uring context, serving many endpoints. Grounded on the
// teacher's internal/queue/runner.go ioLoop, translated to
// channel-based control instead of OS-thread condvars.
type Normal struct {
	cfg  NormalConfig
	ring ioring.Ring

	state       atomic.Int32
	activeCount atomic.Int32
	activeMax   atomic.Int32

	wake   chan struct{}
	events chan Event

	// endpoints is touched only by the manager goroutine.
	endpoints map[uint64]*EndpointState
	order     []uint64

	// jobs tracks in-flight jobs by the user-data tag assigned at
	// submission, manager-goroutine-only.
	jobs map[uint64]*inflight

	nextUserData uint64

	completions chan []ioring.Result

	stopped chan struct{}
}

type inflight struct {
	ep  *EndpointState
	job *Job
}

// NewNormal creates a Normal manager with its own kernel ring.
func NewNormal(cfg NormalConfig) (*Normal, error) {
	if cfg.ActiveRequestMax <= 0 {
		cfg.ActiveRequestMax = 64
	}
	if cfg.IsFatal == nil {
		cfg.IsFatal = func(error) bool { return true }
	}
	ring, err := ioring.New(ioring.Config{Entries: cfg.RingEntries})
	if err != nil {
		return nil, err
	}
	n := &Normal{
		cfg:         cfg,
		ring:        ring,
		wake:        make(chan struct{}, 1),
		events:      make(chan Event, 1),
		endpoints:   make(map[uint64]*EndpointState),
		jobs:        make(map[uint64]*inflight),
		completions: make(chan []ioring.Result, 16),
		stopped:     make(chan struct{}),
	}
	n.activeMax.Store(int32(cfg.ActiveRequestMax))
	n.state.Store(int32(StateRunning))
	return n, nil
}

func (n *Normal) State() State { return State(n.state.Load()) }

func (n *Normal) ActiveMax() int { return int(n.activeMax.Load()) }

// Wake notifies the manager that new work may be available, the
// channel equivalent of pushing onto an endpoint's newTasks LIFO and
// kicking the event-semaphore.
func (n *Normal) Wake() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Normal) AddEndpoint(ep *EndpointState) {
	send(n.events, newEvent(EventAddEndpoint, ep))
}

func (n *Normal) RemoveEndpoint(ep *EndpointState) {
	send(n.events, newEvent(EventRemoveEndpoint, ep))
}

func (n *Normal) CloseEndpoint(ep *EndpointState) {
	send(n.events, newEvent(EventCloseEndpoint, ep))
}

func (n *Normal) Shutdown() {
	send(n.events, newEvent(EventShutdown, nil))
}

func (n *Normal) Suspend() { send(n.events, newEvent(EventSuspend, nil)) }
func (n *Normal) Resume()  { send(n.events, newEvent(EventResume, nil)) }

// Run is the manager's main loop (spec.md §4.F pseudocode), meant to
// be started with `go n.Run(ctx)`. It returns once StateShutdown is
// reached or ctx is cancelled.
func (n *Normal) Run(ctx context.Context) {
	defer close(n.stopped)
	go n.reapLoop(ctx)

	statsTick := time.NewTicker(time.Second)
	defer statsTick.Stop()

	// delayTick periodically releases jobs armed by an injectdelay
	// (spec.md §4.J); see tickDelayed. Polling at this granularity
	// keeps the timer mechanism a single ticker shared by every
	// endpoint instead of one goroutine/timer per armed job.
	delayTick := time.NewTicker(10 * time.Millisecond)
	defer delayTick.Stop()

	for {
		state := n.State()
		if state == StateShutdown {
			return
		}

		if n.activeCount.Load() == 0 {
			select {
			case <-ctx.Done():
				return
			case ev := <-n.events:
				n.handleEvent(ev)
				continue
			case <-n.wake:
			case <-delayTick.C:
				n.tickDelayed()
				continue
			case <-statsTick.C:
				continue
			}
		}

		select {
		case ev := <-n.events:
			n.handleEvent(ev)
		default:
		}

		state = n.State()
		if state == StateRunning || state == StateGrowing {
			n.queueAll()

			for n.activeCount.Load() > 0 {
				select {
				case <-ctx.Done():
					return
				case ev := <-n.events:
					n.handleEvent(ev)
				case results := <-n.completions:
					for _, r := range results {
						n.completeRequest(r)
					}
					if n.State() != StateGrowing {
						n.queueAll()
					}
				case <-delayTick.C:
					n.tickDelayed()
				case <-statsTick.C:
				}
			}

			if n.State() == StateGrowing {
				n.grow()
				n.queueAll()
			}
		}
	}
}

// tickDelayed releases any jobs whose injected delay has elapsed back
// onto their endpoint's Pending queue and, if the manager is accepting
// new work, gives queueAll a chance to resubmit them right away instead
// of waiting for the next completion or wake.
func (n *Normal) tickDelayed() {
	now := time.Now()
	for _, id := range n.order {
		if ep, ok := n.endpoints[id]; ok {
			ep.drainReadyDelayed(now)
		}
	}
	if n.State() == StateRunning {
		n.queueAll()
	}
}

// reapLoop continuously drains the kernel ring and forwards batches to
// the control loop, decoupling the (possibly blocking) kernel wait
// from channel-based control-plane events.
func (n *Normal) reapLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopped:
			return
		default:
		}
		results, err := n.ring.WaitCompletions(1)
		if err != nil {
			continue
		}
		if len(results) == 0 {
			continue
		}
		select {
		case n.completions <- results:
		case <-ctx.Done():
			return
		}
	}
}

func (n *Normal) handleEvent(ev Event) {
	defer close(ev.Done)
	switch ev.Kind {
	case EventAddEndpoint:
		n.endpoints[ev.Endpoint.ID] = ev.Endpoint
		n.order = append(n.order, ev.Endpoint.ID)
		n.queueEndpoint(ev.Endpoint)
	case EventRemoveEndpoint, EventCloseEndpoint:
		n.detach(ev.Endpoint.ID)
	case EventShutdown:
		n.state.Store(int32(StateShutdown))
	case EventSuspend:
		n.state.Store(int32(StateSuspending))
	case EventResume:
		n.state.Store(int32(StateRunning))
	}
}

func (n *Normal) detach(id uint64) {
	delete(n.endpoints, id)
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// queueAll runs queueReqs across every assigned endpoint, spec.md
// §4.F main-loop step "for each endpoint: queueReqs(endpoint)".
func (n *Normal) queueAll() {
	for _, id := range n.order {
		ep, ok := n.endpoints[id]
		if !ok {
			continue
		}
		n.queueEndpoint(ep)
	}
}

// queueEndpoint implements spec.md §4.F's queueReqs.
func (n *Normal) queueEndpoint(ep *EndpointState) {
	work := ep.Pending.DrainAll()
	work = append(work, ep.NewTasks.DrainFIFO()...)

	var leftover []*Job
	submitted := 0

	for _, job := range work {
		if ep.Moving.Load() {
			// Migrating: stop submitting new work through this manager
			// and just let already in-flight sub-requests drain so
			// maybeFinishMigration can hand the endpoint off.
			leftover = append(leftover, job)
			continue
		}
		if ep.FlushActive {
			leftover = append(leftover, job)
			continue
		}
		if n.State() != StateRunning {
			leftover = append(leftover, job)
			continue
		}
		if int(n.activeCount.Load()) >= int(n.activeMax.Load()) {
			leftover = append(leftover, job)
			continue
		}
		if bw := ep.BandwidthManager(); bw != nil && len(job.Buf) > 0 {
			d := bw.TryConsume(int64(len(job.Buf)), time.Now())
			if !d.Allowed {
				leftover = append(leftover, job)
				continue
			}
		}

		if !n.prepare(ep, job) {
			leftover = append(leftover, job)
			continue
		}

		submitted++
		if submitted >= maxBatchSubmit {
			n.flush()
			submitted = 0
		}
	}
	n.flush()

	for _, j := range leftover {
		ep.Pending.PushBack(j)
	}

	if len(leftover) > 0 && int(n.activeCount.Load()) >= int(n.activeMax.Load()) {
		n.state.CompareAndSwap(int32(StateRunning), int32(StateGrowing))
	}
}

func (n *Normal) nextTag() uint64 {
	n.nextUserData++
	return n.nextUserData
}

// prepare applies range-locking and submits job to the ring, per
// spec.md §4.F "prepare (alignment, bounce, range-lock)". Alignment
// and bounce decisions are made by the caller before the job reaches
// the manager (see aiocompl/endpoint.go); prepare only owns the
// range-lock gate and submission.
func (n *Normal) prepare(ep *EndpointState, job *Job) bool {
	if d := ep.takeInjectedDelay(job.Kind); d != nil {
		// Defer the job rather than blocking this goroutine (spec.md
		// §4.J): every other endpoint assigned to this manager would
		// otherwise stall for the sleep duration too. tickDelayed moves
		// it back onto Pending once the delay elapses, where it will
		// pass through prepare again (and hit the error check below,
		// if one is also armed).
		ep.armDelay(job, d, time.Now())
		return true
	}
	if injected := ep.takeInjectedError(job.Kind); injected != nil {
		if job.Bounce != nil {
			ep.Bounce.Release(job.Bounce)
		}
		job.OnDone(job.bytesDone, injected)
		return true
	}

	if job.Kind != KindFlush && job.rangeNode == nil {
		r := rangelock.Range{Start: job.Offset, Last: job.Offset + int64(len(job.Buf)) - 1, Write: job.Kind == KindWrite}
		aligned := ep.IsAligned(job.Offset, len(job.Buf))
		outcome, node := ep.RangeTbl.TryLock(r, job, aligned)
		if outcome == rangelock.Deferred {
			return true // queued onto the holder's waiter list; not leftover
		}
		job.rangeNode = node
	}

	fdb, ok := ep.Backend.(FDBackend)
	if !ok {
		return false
	}

	tag := n.nextTag()
	n.jobs[tag] = &inflight{ep: ep, job: job}

	req := ioring.Request{FD: fdb.FD(), Offset: job.Offset + int64(job.bytesDone), UserData: tag}
	switch job.Kind {
	case KindRead:
		req.Op = ioring.OpReadv
		req.Iovecs = [][]byte{job.remaining()}
	case KindWrite:
		req.Op = ioring.OpWritev
		req.Iovecs = [][]byte{job.remaining()}
	case KindFlush:
		req.Op = ioring.OpFsync
	}

	for {
		if err := n.ring.Prepare(req); err != nil {
			n.flush()
			continue
		}
		break
	}
	if job.Kind == KindFlush {
		ep.FlushActive = true
	}
	n.activeCount.Add(1)
	ep.Active.Add(1)
	return true
}

func (n *Normal) flush() {
	n.ring.Submit()
}

// completeRequest implements spec.md §4.F's completeRequest.
func (n *Normal) completeRequest(r ioring.Result) {
	inf, ok := n.jobs[r.UserData]
	if !ok {
		return
	}
	delete(n.jobs, r.UserData)
	ep, job := inf.ep, inf.job

	n.activeCount.Add(-1)
	ep.Active.Add(-1)

	err := r.Err()
	if err == nil {
		n.onJobSuccess(ep, job, int(r.Res))
	} else {
		n.onJobFailure(ep, job, err)
	}
	n.maybeFinishMigration(ep)
}

// maybeFinishMigration detaches ep and hands it to the Failsafe manager
// once a non-fatal error has marked it Moving and its last in-flight
// sub-request has drained. Called after every completion, not just the
// one that set Moving, so an endpoint with other sub-requests still in
// flight at failure time still migrates once those finish draining
// (spec.md §8 "must cause the endpoint to be attached to a SIMPLE
// manager within finite time after its active count drains").
func (n *Normal) maybeFinishMigration(ep *EndpointState) {
	if !ep.Moving.Load() || ep.Active.Load() != 0 {
		return
	}
	if !ep.Moving.CompareAndSwap(true, false) {
		return // another completion already finished this migration
	}
	n.detach(ep.ID)
	if n.cfg.Logger != nil {
		n.cfg.Logger.Warn("migrating endpoint to failsafe manager", "endpoint", ep.Name)
	}
	if n.cfg.OnMigrate != nil {
		n.cfg.OnMigrate(ep)
	}
}

func (n *Normal) onJobSuccess(ep *EndpointState, job *Job, transferred int) {
	job.bytesDone += transferred
	if job.Kind != KindFlush && job.bytesDone < len(job.Buf) {
		// Partial transfer: resubmit the remainder (spec.md §4.F).
		ep.Pending.PushFront(job)
		return
	}

	if job.IsPrefetch {
		copy(job.Bounce.Data[job.PrefetchCopyOff:job.PrefetchCopyOff+job.PrefetchCopyLen], job.UserPayload)
		job.IsPrefetch = false
		job.bytesDone = 0
		job.Kind = KindWrite
		ep.Pending.PushFront(job)
		return
	}

	n.releaseJob(ep, job)

	if job.Kind == KindFlush {
		ep.FlushActive = false
	}

	if job.CopyOutLen > 0 && job.UserDest != nil {
		copy(job.UserDest, job.Bounce.Data[job.CopyOutOff:job.CopyOutOff+job.CopyOutLen])
	}
	if job.Bounce != nil {
		ep.Bounce.Release(job.Bounce)
	}
	job.OnDone(job.bytesDone, nil)
}

func (n *Normal) onJobFailure(ep *EndpointState, job *Job, err error) {
	if n.cfg.IsFatal(err) {
		n.releaseJob(ep, job)
		if job.Kind == KindFlush {
			ep.FlushActive = false
		}
		if job.Bounce != nil {
			ep.Bounce.Release(job.Bounce)
		}
		job.OnDone(job.bytesDone, err)
		return
	}

	// Non-fatal: mark the endpoint for migration to a Failsafe manager
	// and requeue the failing job so it's retried there. The actual
	// detach/handoff happens in maybeFinishMigration once every other
	// sub-request in flight for this endpoint has also drained.
	if n.cfg.Logger != nil {
		n.cfg.Logger.Warn("non-fatal error, marking endpoint for migration", "endpoint", ep.Name, "error", err)
	}
	ep.Moving.Store(true)
	ep.Pending.PushFront(job)
}

func (n *Normal) releaseJob(ep *EndpointState, job *Job) {
	if job.rangeNode != nil {
		for _, waiter := range ep.RangeTbl.Unlock(job.rangeNode) {
			ep.Pending.PushBack(waiter)
		}
		job.rangeNode = nil
	}
}

// grow handles spec.md §4.F's grow() step: precondition
// cRequestsActive == 0 (guaranteed by the caller, which only calls
// this once the drain loop above has exited with activeCount == 0).
// It doubles the active-request cap and returns to RUNNING; the
// kernel ring created in NewNormal is kept as is and is not
// reallocated with more entries.
func (n *Normal) grow() {
	newMax := n.activeMax.Load() * 2
	n.activeMax.Store(newMax)
	n.state.Store(int32(StateRunning))
	if n.cfg.Logger != nil {
		n.cfg.Logger.Info("manager grew capacity", "new_max", newMax)
	}
}
