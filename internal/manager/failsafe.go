package manager

import (
	"context"
	"time"

	"github.com/behrlich/go-aiocompl/internal/logging"
)

// FailsafeConfig configures a Failsafe manager.
type FailsafeConfig struct {
	Logger *logging.Logger
}

// Failsafe is the degenerate synchronous fallback manager (spec.md
// §4.G): one endpoint at a time, no range locks, no bounce buffers, no
// bandwidth, no capacity cap. Every Job is executed inline against its
// backend the moment it's dequeued.
type Failsafe struct {
	cfg FailsafeConfig

	wake    chan struct{}
	events  chan Event
	stopped chan struct{}

	suspended bool
	order     []uint64
	endpoint  map[uint64]*EndpointState
}

// NewFailsafe creates a Failsafe manager.
func NewFailsafe(cfg FailsafeConfig) *Failsafe {
	return &Failsafe{
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		events:   make(chan Event, 1),
		stopped:  make(chan struct{}),
		endpoint: make(map[uint64]*EndpointState),
	}
}

func (f *Failsafe) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Failsafe) AddEndpoint(ep *EndpointState)    { send(f.events, newEvent(EventAddEndpoint, ep)) }
func (f *Failsafe) RemoveEndpoint(ep *EndpointState) { send(f.events, newEvent(EventRemoveEndpoint, ep)) }
func (f *Failsafe) CloseEndpoint(ep *EndpointState)  { send(f.events, newEvent(EventCloseEndpoint, ep)) }
func (f *Failsafe) Shutdown()                        { send(f.events, newEvent(EventShutdown, nil)) }
func (f *Failsafe) Suspend()                         { send(f.events, newEvent(EventSuspend, nil)) }
func (f *Failsafe) Resume()                          { send(f.events, newEvent(EventResume, nil)) }

// Run is the manager's main loop: wake up, drain pending+new work for
// every assigned endpoint, execute each Job synchronously against its
// backend. It shares the blocking-event set with Normal (spec.md §4.G
// "handles the same blocking events").
func (f *Failsafe) Run(ctx context.Context) {
	defer close(f.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.events:
			if f.handleEvent(ev) {
				return
			}
		case <-f.wake:
		case <-time.After(time.Second):
		}

		if f.suspended {
			continue
		}
		for _, id := range f.order {
			if ep, ok := f.endpoint[id]; ok {
				f.drain(ep)
			}
		}
	}
}

func (f *Failsafe) handleEvent(ev Event) (shutdown bool) {
	defer close(ev.Done)
	switch ev.Kind {
	case EventAddEndpoint:
		f.endpoint[ev.Endpoint.ID] = ev.Endpoint
		f.order = append(f.order, ev.Endpoint.ID)
		f.drain(ev.Endpoint)
	case EventRemoveEndpoint, EventCloseEndpoint:
		f.detach(ev.Endpoint.ID)
	case EventShutdown:
		return true
	case EventSuspend:
		f.suspended = true
	case EventResume:
		f.suspended = false
	}
	return false
}

func (f *Failsafe) detach(id uint64) {
	delete(f.endpoint, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *Failsafe) drain(ep *EndpointState) {
	work := ep.Pending.DrainAll()
	work = append(work, ep.NewTasks.DrainFIFO()...)

	for _, job := range work {
		f.execute(ep, job)
	}
}

func (f *Failsafe) execute(ep *EndpointState, job *Job) {
	ep.Active.Add(1)
	defer ep.Active.Add(-1)

	ep.applyInjectedDelay(job.Kind)
	if injected := ep.takeInjectedError(job.Kind); injected != nil {
		if job.Bounce != nil {
			ep.Bounce.Release(job.Bounce)
		}
		job.OnDone(job.bytesDone, injected)
		return
	}

	var n int
	var err error
	switch job.Kind {
	case KindRead:
		n, err = ep.Backend.ReadAt(job.remaining(), job.Offset+int64(job.bytesDone))
	case KindWrite:
		n, err = ep.Backend.WriteAt(job.remaining(), job.Offset+int64(job.bytesDone))
	case KindFlush:
		err = ep.Backend.Flush()
	}

	if err != nil {
		if job.Bounce != nil {
			ep.Bounce.Release(job.Bounce)
		}
		job.OnDone(job.bytesDone, err)
		return
	}

	job.bytesDone += n
	if job.Kind != KindFlush && job.bytesDone < len(job.Buf) {
		f.execute(ep, job) // synchronous retry; no partial-transfer surfacing needed here
		return
	}

	if job.IsPrefetch {
		copy(job.Bounce.Data[job.PrefetchCopyOff:job.PrefetchCopyOff+job.PrefetchCopyLen], job.UserPayload)
		job.IsPrefetch = false
		job.bytesDone = 0
		job.Kind = KindWrite
		f.execute(ep, job)
		return
	}

	if job.CopyOutLen > 0 && job.UserDest != nil {
		copy(job.UserDest, job.Bounce.Data[job.CopyOutOff:job.CopyOutOff+job.CopyOutLen])
	}
	if job.Bounce != nil {
		ep.Bounce.Release(job.Bounce)
	}
	job.OnDone(job.bytesDone, nil)
}
