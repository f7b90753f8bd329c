package aiocompl

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/go-aiocompl/internal/backend"
	"github.com/behrlich/go-aiocompl/internal/manager"
)

// Segment is one scatter/gather piece of a Read/Write call (spec.md
// §3 "one segment (pointer+length)").
type Segment = []byte

// OpenFlags control how CreateForFile opens its backing file (spec.md
// §6 consumer API table).
type OpenFlags int

const (
	OpenReadOnly OpenFlags = 1 << iota
	OpenDontLock
	OpenHostCacheEnabled
)

// ioManager is the subset of internal/manager.Normal/Failsafe an
// Endpoint needs: enough to hand off work and to move between
// managers on migration (spec.md §4.F "degrade-on-error").
type ioManager interface {
	Wake()
	AddEndpoint(*manager.EndpointState)
	RemoveEndpoint(*manager.EndpointState)
	CloseEndpoint(*manager.EndpointState)
}

// Endpoint is an open file with I/O context (spec.md §3 "Endpoint").
type Endpoint struct {
	id          uint64
	path        string
	readOnly    bool
	nonBuffered bool
	alignment   int

	backend backend.Backend
	state   *manager.EndpointState
	stats   *Stats
	sub     *Subsystem
	tmpl    *Template

	cachedSize atomic.Int64

	mgrMu sync.RWMutex
	mgr   ioManager

	closed atomic.Bool
}

func alignDown(off int64, alignment int) int64 {
	a := int64(alignment)
	return off &^ (a - 1)
}

func alignUp(off int64, alignment int) int64 {
	a := int64(alignment)
	return (off + a - 1) &^ (a - 1)
}

func (e *Endpoint) isAligned(off int64, length int) bool {
	if !e.nonBuffered {
		return true
	}
	return e.state.IsAligned(off, length)
}

func (e *Endpoint) currentManager() ioManager {
	e.mgrMu.RLock()
	defer e.mgrMu.RUnlock()
	return e.mgr
}

// setManager reassigns this endpoint to a new manager, used both at
// creation and by the degrade-on-error migration path.
func (e *Endpoint) setManager(m ioManager) {
	e.mgrMu.Lock()
	e.mgr = m
	e.mgrMu.Unlock()
}

// GetSize returns the cached file size.
func (e *Endpoint) GetSize() int64 { return e.cachedSize.Load() }

// SetSize synchronously resizes the backing file (spec.md §4.E).
func (e *Endpoint) SetSize(bytes int64) error {
	if err := e.backend.SetSize(bytes); err != nil {
		return WrapError("SetSize", err)
	}
	e.cachedSize.Store(bytes)
	return nil
}

// SetBandwidthManager assigns or clears (name == "") this endpoint's
// bandwidth group (spec.md §4.E).
func (e *Endpoint) SetBandwidthManager(name string) error {
	if name == "" {
		e.state.SetBandwidthManager(nil)
		return nil
	}
	m := e.sub.bandwidthManager(name)
	if m == nil {
		return NewEndpointError("SetBandwidthManager", e.id, CodeNotFound, "no bandwidth group named "+name)
	}
	e.state.SetBandwidthManager(m)
	return nil
}

// Close waits for all in-flight tasks to drain, detaches from the
// manager, and closes the backing file (spec.md §3 Endpoint lifecycle).
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m := e.currentManager(); m != nil {
		m.CloseEndpoint(e.state)
	}
	return e.backend.Close()
}

func (e *Endpoint) submit(job *manager.Job) {
	e.state.NewTasks.Push(job)
	if m := e.currentManager(); m != nil {
		m.Wake()
	}
}

// Read implements spec.md §4.E's read: EOF if off+totalBytes exceeds
// the cached size, otherwise one sub-request per segment, bounced
// through an aligned buffer when this endpoint is NON_BUFFERED and
// the segment isn't naturally aligned.
func (e *Endpoint) Read(off int64, segs []Segment, user any) (*Task, error) {
	total := 0
	for _, s := range segs {
		total += len(s)
	}
	if total == 0 {
		return nil, NewEndpointError("Read", e.id, CodeBadArg, "no bytes requested")
	}
	if off+int64(total) > e.GetSize() {
		return nil, NewEndpointError("Read", e.id, CodeEOF, "read past end of endpoint")
	}

	now := time.Now()
	task := newTask(e, e.tmpl, user, KindRead, total, off, now)

	segOff := off
	for _, seg := range segs {
		segLen := len(seg)
		e.submitRead(task, segOff, seg)
		segOff += int64(segLen)
	}
	return task, nil
}

func (e *Endpoint) submitRead(task *Task, off int64, dest []byte) {
	length := len(dest)
	onDone := func(n int, err error) { task.completeSegment(length, err, time.Now()) }

	if e.isAligned(off, length) {
		e.submit(&manager.Job{Kind: manager.KindRead, Offset: off, Buf: dest, OnDone: onDone})
		return
	}

	alignedOff := alignDown(off, e.alignment)
	alignedEnd := alignUp(off+int64(length), e.alignment)
	alignedLen := int(alignedEnd - alignedOff)

	bounce := e.state.Bounce.Acquire(alignedLen)
	e.submit(&manager.Job{
		Kind:       manager.KindRead,
		Offset:     alignedOff,
		Buf:        bounce.Data[:alignedLen],
		Bounce:     bounce,
		CopyOutOff: int(off - alignedOff),
		CopyOutLen: length,
		UserDest:   dest,
		OnDone:     onDone,
	})
}

// Write implements spec.md §4.E's write: NOT_SUPPORTED on a read-only
// endpoint, append-growth when the write extends past the cached
// size, and a bounce-buffer prefetch/write pair for misaligned
// segments on a NON_BUFFERED endpoint.
func (e *Endpoint) Write(off int64, segs []Segment, user any) (*Task, error) {
	if e.readOnly {
		return nil, NewEndpointError("Write", e.id, CodeNotSupported, "endpoint is read-only")
	}
	total := 0
	for _, s := range segs {
		total += len(s)
	}
	if total == 0 {
		return nil, NewEndpointError("Write", e.id, CodeBadArg, "no bytes to write")
	}

	newEnd := off + int64(total)
	if newEnd > e.GetSize() {
		if err := e.SetSize(newEnd); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	task := newTask(e, e.tmpl, user, KindWrite, total, off, now)

	segOff := off
	for _, seg := range segs {
		e.submitWrite(task, segOff, seg)
		segOff += int64(len(seg))
	}
	return task, nil
}

func (e *Endpoint) submitWrite(task *Task, off int64, src []byte) {
	length := len(src)
	onDone := func(n int, err error) { task.completeSegment(length, err, time.Now()) }

	if e.isAligned(off, length) {
		e.submit(&manager.Job{Kind: manager.KindWrite, Offset: off, Buf: src, OnDone: onDone})
		return
	}

	alignedOff := alignDown(off, e.alignment)
	alignedEnd := alignUp(off+int64(length), e.alignment)
	alignedLen := int(alignedEnd - alignedOff)

	bounce := e.state.Bounce.Acquire(alignedLen)
	e.submit(&manager.Job{
		Kind:            manager.KindRead,
		Offset:          alignedOff,
		Buf:             bounce.Data[:alignedLen],
		Bounce:          bounce,
		IsPrefetch:      true,
		PrefetchCopyOff: int(off - alignedOff),
		PrefetchCopyLen: length,
		UserPayload:     src,
		OnDone:          onDone,
	})
}

// Flush submits one flush sub-request (spec.md §4.E/§4.F flush
// semantics; at most one outstanding flush is enforced by the manager
// via EndpointState.FlushActive).
func (e *Endpoint) Flush(user any) (*Task, error) {
	now := time.Now()
	task := newTask(e, e.tmpl, user, KindFlush, 1, 0, now)
	onDone := func(n int, err error) { task.completeSegment(1, err, time.Now()) }
	e.submit(&manager.Job{Kind: manager.KindFlush, OnDone: onDone})
	return task, nil
}
