// Package backend provides the storage implementations an Endpoint
// reads and writes through (spec.md §3 "Endpoint", which models a
// backend as "open file descriptor/handle + async I/O context").
// Interface grounded directly on the teacher's
// internal/interfaces.Backend.
package backend

// Backend is the storage implementation an Endpoint drives. Every
// method may be called concurrently from multiple sub-requests once
// the caller has obtained the appropriate range lock; implementations
// need not serialize overlapping access themselves (spec.md §4.B owns
// that).
type Backend interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Size() int64
	Close() error
	Flush() error

	// SetSize grows or shrinks the backend, used by Endpoint's
	// append-growth policy (spec.md §4.E).
	SetSize(newSize int64) error
}

// AlignmentProber is an optional interface a Backend can implement to
// report its minimum I/O alignment in bytes, used to decide whether a
// request needs a bounce buffer (spec.md §3 "bounce buffer"). Backends
// that don't implement it are assumed unaligned-capable (alignment 1).
type AlignmentProber interface {
	Alignment() int
}
