package backend

import (
	"fmt"
	"sync"
)

// shardSize bounds lock granularity so concurrent sub-requests against
// disjoint regions don't serialize on a single mutex. Matches the
// teacher's backend/mem.go sizing rationale: big enough that 4K random
// I/O doesn't pay excessive lock overhead, small enough that large
// devices don't need an enormous shard slice.
const shardSize = 64 * 1024

// Memory is an in-process RAM-backed Backend, used by tests and by
// spec.md's testing harness (spec.md §4.K) in place of a real file.
// Sharded RWMutex locking is grounded directly on the teacher's
// backend/mem.go; SetSize is new, needed by Endpoint's append-growth
// policy which the original ublk backend (a fixed-size block device)
// never required.
type Memory struct {
	mu     sync.Mutex // guards data/shards during SetSize only
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemory creates a memory backend of the given size.
func NewMemory(size int64) *Memory {
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards(size)),
	}
}

func numShards(size int64) int64 {
	return (size + shardSize - 1) / shardSize
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / shardSize)
	end = int((off + length - 1) / shardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, fmt.Errorf("backend: write beyond end of device")
	}
	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

func (m *Memory) Size() int64 { return m.size }

func (m *Memory) Close() error {
	m.data = nil
	return nil
}

func (m *Memory) Flush() error { return nil }

// SetSize grows or truncates the backend. Growth zero-fills the new
// region. Callers are expected to hold off concurrent I/O against the
// resized tail themselves (Endpoint serializes growth through its
// manager thread).
func (m *Memory) SetSize(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newSize == m.size {
		return nil
	}
	grown := make([]byte, newSize)
	n := m.size
	if newSize < n {
		n = newSize
	}
	copy(grown, m.data[:n])
	m.data = grown
	m.size = newSize
	m.shards = make([]sync.RWMutex, numShards(newSize))
	return nil
}

var _ Backend = (*Memory)(nil)
