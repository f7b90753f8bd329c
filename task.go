package aiocompl

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/go-aiocompl/internal/manager"
)

// Kind identifies a Task's transfer type, mirroring
// internal/manager.Kind (spec.md §3 sub-request "transfer kind").
type Kind = manager.Kind

const (
	KindRead  = manager.KindRead
	KindWrite = manager.KindWrite
	KindFlush = manager.KindFlush
)

// Task is a consumer-visible async operation (spec.md §3 "Task"): the
// parent of 1..N sub-requests fanned out by Endpoint.Read/Write/Flush.
// Exactly one of its Template's callback fires, exactly once, when
// bytesRemaining reaches zero.
type Task struct {
	Endpoint *Endpoint
	UserData any
	Kind     Kind

	template *Template

	bytesRemaining atomic.Int64
	completed      atomic.Bool
	firstErr       atomic.Pointer[error]

	start      time.Time
	totalBytes int
	offset     int64
}

func newTask(ep *Endpoint, tmpl *Template, userData any, kind Kind, totalBytes int, offset int64, now time.Time) *Task {
	t := &Task{
		Endpoint:   ep,
		UserData:   userData,
		Kind:       kind,
		template:   tmpl,
		start:      now,
		totalBytes: totalBytes,
		offset:     offset,
	}
	t.bytesRemaining.Store(int64(totalBytes))
	if tmpl != nil {
		tmpl.retain()
	}
	return t
}

// Cancel always fails: spec.md explicitly preserves tasks as
// non-cancellable (§5 "Cancellation").
func (t *Task) Cancel() error {
	return NewError("Cancel", CodeNotImplemented, "tasks are not cancellable")
}

// completeSegment implements spec.md §4.J's completion-dispatch glue:
// decrement bytesRemaining by segLen (signed, atomic) regardless of
// error so the total still reaches zero; CAS the first-observed error
// in; the goroutine that takes the count to zero CAS-flips completed
// and fires the template callback exactly once.
func (t *Task) completeSegment(segLen int, err error, now time.Time) {
	if err != nil {
		e := err
		t.firstErr.CompareAndSwap(nil, &e)
	}

	remaining := t.bytesRemaining.Add(-int64(segLen))
	if remaining > 0 {
		return
	}

	if !t.completed.CompareAndSwap(false, true) {
		return // another goroutine already fired the callback
	}

	if t.template != nil {
		defer t.template.release()
	}

	var status error
	if p := t.firstErr.Load(); p != nil {
		status = *p
	}

	if t.Endpoint != nil && t.Endpoint.stats != nil {
		t.Endpoint.stats.RecordOp(t.Kind, t.totalBytes, t.offset, now.Sub(t.start), now, status)
	}

	if t.template != nil && t.template.callback != nil {
		t.template.callback(t.template.owner, t, t.template.user, status)
	}
}
