package aiocompl

import (
	"sync"

	"github.com/behrlich/go-aiocompl/internal/backend"
)

// CountingBackend wraps another backend.Backend and tracks call counts
// and terminal state, the way the teacher's MockBackend tracks method
// calls for test assertions. Unlike the teacher's version this wraps a
// real backend (usually backend.Memory) instead of reimplementing
// storage, since internal/backend already has one.
type CountingBackend struct {
	backend.Backend

	mu         sync.Mutex
	readCalls  int
	writeCalls int
	flushCalls int
	closeCalls int
}

// NewCountingBackend wraps be for call-count assertions in tests.
func NewCountingBackend(be backend.Backend) *CountingBackend {
	return &CountingBackend{Backend: be}
}

func (c *CountingBackend) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	c.readCalls++
	c.mu.Unlock()
	return c.Backend.ReadAt(p, off)
}

func (c *CountingBackend) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	c.writeCalls++
	c.mu.Unlock()
	return c.Backend.WriteAt(p, off)
}

func (c *CountingBackend) Flush() error {
	c.mu.Lock()
	c.flushCalls++
	c.mu.Unlock()
	return c.Backend.Flush()
}

func (c *CountingBackend) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	return c.Backend.Close()
}

// CallCounts returns the number of times each method has been called.
func (c *CountingBackend) CallCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int{
		"read":  c.readCalls,
		"write": c.writeCalls,
		"flush": c.flushCalls,
		"close": c.closeCalls,
	}
}

var _ backend.Backend = (*CountingBackend)(nil)
