// Package manager implements the two async I/O manager flavors
// spec.md §4.F/§4.G describe: Normal, a dedicated goroutine driving a
// kernel io_uring context for many endpoints, and Failsafe, a
// synchronous one-request-at-a-time fallback. Grounded on the
// teacher's internal/queue/runner.go ioLoop/processRequests shape,
// translated from an OS-thread-plus-condvar design to goroutines and
// channels per Go idiom, exactly as spec.md §9 asks for "the right
// shape for the target language".
package manager

import (
	"github.com/behrlich/go-aiocompl/internal/rangelock"
	"github.com/behrlich/go-aiocompl/internal/reqpool"
)

// Bounce is re-exported from internal/reqpool so callers constructing
// a Job don't need to import reqpool directly.
type Bounce = reqpool.Bounce

// Kind identifies the transfer type of a Job, mirroring spec.md §3's
// sub-request "transfer kind {READ, WRITE, FLUSH}".
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindFlush
)

// Job is one sub-request: the manager-level unit of work fanned out
// from a consumer-visible Task (spec.md §3 "sub-request"). The root
// package constructs Jobs and owns everything above this layer (Task,
// Template, completion bookkeeping); the manager only needs enough to
// submit I/O and report back through OnDone.
type Job struct {
	Kind   Kind
	Offset int64

	// Buf is the buffer actually submitted to the kernel or backend:
	// either the caller's segment directly, or a bounce buffer's
	// window when alignment requires one.
	Buf []byte

	// Bounce, when non-nil, must be released after this Job's final
	// completion (success, fatal failure, or migration hand-off).
	Bounce *Bounce

	// IsPrefetch marks the READ half of a bounce write: on successful
	// completion the manager copies the caller's bytes into Bounce and
	// resubmits as a WRITE rather than calling OnDone.
	IsPrefetch bool
	// PrefetchCopyOff/PrefetchCopyLen locate the caller's bytes inside
	// Bounce.Data once the prefetch read completes.
	PrefetchCopyOff int
	PrefetchCopyLen int
	UserPayload     []byte // the caller's original bytes, for bounce writes

	// CopyOutOff/CopyOutLen locate the caller's requested slice inside
	// Bounce.Data for a bounce read, copied out on success.
	CopyOutOff int
	CopyOutLen int
	UserDest   []byte // caller's destination buffer, for bounce reads

	rangeNode *rangelock.Node[*Job]

	// bytesDone tracks partial-transfer progress across resubmits.
	bytesDone int

	// OnDone is invoked exactly once per Job's terminal outcome:
	// transferred bytes and err (nil on success). partial transfers
	// are handled internally by the manager and never reach OnDone.
	OnDone func(transferred int, err error)
}

func (j *Job) remaining() []byte { return j.Buf[j.bytesDone:] }
