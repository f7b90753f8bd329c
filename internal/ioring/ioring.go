// Package ioring provides the kernel async I/O context spec.md §4.F's
// Normal manager submits READV/WRITEV/FSYNC through. Grounded on the
// teacher's internal/uring package shape (a small Ring/Batch/Result
// interface plus a platform-specific backing implementation selected
// by NewRing), but aimed at plain file descriptors instead of ublk's
// URING_CMD control plane: spec.md's endpoints do buffered or
// O_DIRECT file I/O, not block-device command passthrough, so the
// opcodes here are the ordinary io_uring read/write/fsync ones.
package ioring

import "errors"

// ErrRingFull is returned when Prepare is called with no free
// submission slots; the caller should flush first.
var ErrRingFull = errors.New("ioring: submission queue full")

// Op identifies the kind of I/O a Request performs.
type Op int

const (
	OpReadv Op = iota
	OpWritev
	OpFsync
)

// Request describes one submission. Iovecs is used for OpReadv and
// OpWritev; it is ignored for OpFsync.
type Request struct {
	Op       Op
	FD       int
	Offset   int64
	Iovecs   [][]byte
	UserData uint64
}

// Result is one completion queue entry.
type Result struct {
	UserData uint64
	// Res is the raw completion result: a non-negative byte count on
	// success for OpReadv/OpWritev, or a negative errno magnitude.
	Res int32
}

// Err converts a negative Res into a Go error, or nil on success.
func (r Result) Err() error {
	if r.Res < 0 {
		return syscallErrno(-r.Res)
	}
	return nil
}

// Ring is a kernel async I/O submission/completion context. A single
// Ring is owned by one Normal manager loop (spec.md §4.F); it is not
// safe for concurrent use.
type Ring interface {
	// Prepare stages req without making it visible to the kernel.
	// Returns ErrRingFull if the ring has no space; the caller should
	// Submit first and retry.
	Prepare(req Request) error

	// Submit flushes staged requests with a single syscall and returns
	// how many were submitted.
	Submit() (int, error)

	// WaitCompletions blocks for at least minComplete completions (0
	// to poll without blocking) and returns whatever is ready.
	WaitCompletions(minComplete int) ([]Result, error)

	// Close releases the ring's kernel and mapped resources.
	Close() error
}

// Config selects ring size; FD is not needed since requests carry
// their own file descriptor, unlike the teacher's control-plane rings
// which were bound to a single ublk character device.
type Config struct {
	Entries uint32
}

// New creates a real io_uring context. On hosts without kernel ring
// support (non-Linux, or a kernel that rejects io_uring_setup) it
// returns the setup error, which is how hostprobe and NewNormal detect
// that the Simple manager must be used instead. The Failsafe manager
// never uses a Ring; it calls the backend directly.
func New(cfg Config) (Ring, error) {
	if cfg.Entries == 0 {
		cfg.Entries = 128
	}
	return newKernelRing(cfg)
}
