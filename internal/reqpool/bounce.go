package reqpool

import "unsafe"

// pageSize is the alignment bounce buffers are carved to. Most
// platforms that care about O_DIRECT/unbuffered alignment are happy
// with any multiple of 4096, which is also the common host page size;
// spec.md §9 only requires "page-aligned", not a specific size.
const pageSize = 4096

// Bounce is a page-aligned scratch buffer used when a request's
// caller-supplied buffer violates the backend's alignment constraints
// (spec.md §3 "bounce buffer", §9 "allocated on prepare, freed on
// sub-request completion").
type Bounce struct {
	raw  []byte // the oversized backing allocation
	pad  int    // offset into raw where the aligned window starts
	full int    // size of the aligned window at allocation time
	Data []byte // the page-aligned window into raw, currently sized to the live request
}

func alignedAlloc(size int) *Bounce {
	raw := make([]byte, size+pageSize)
	base := uintptr(unsafe.Pointer(&raw[0]))
	pad := (pageSize - int(base%pageSize)) % pageSize
	return &Bounce{raw: raw, pad: pad, full: size, Data: raw[pad : pad+size]}
}

// BouncePool hands out page-aligned Bounce buffers sized to at most
// maxSize, pooled per spec.md §4.C's request-pool capping. Like Pool,
// it is manager-thread-only.
type BouncePool struct {
	free    []*Bounce
	cap     int
	maxSize int
}

// NewBouncePool creates a pool capped at capacity idle buffers, each
// large enough to serve any request up to maxSize bytes.
func NewBouncePool(capacity, maxSize int) *BouncePool {
	return &BouncePool{cap: capacity, maxSize: maxSize}
}

// Acquire returns a scoped Bounce buffer of at least n bytes. Callers
// must defer Release to guarantee it returns to the pool (or is freed)
// on every exit path, per spec.md §9's RAII-style lifecycle note.
func (p *BouncePool) Acquire(n int) *Bounce {
	if n <= p.maxSize {
		if k := len(p.free); k > 0 {
			b := p.free[k-1]
			p.free = p.free[:k-1]
			b.Data = b.Data[:n]
			return b
		}
	}
	size := n
	if size < p.maxSize {
		size = p.maxSize
	}
	return alignedAlloc(size)
}

// Release returns b to the free list if it is standard-sized and the
// pool is under capacity; otherwise it is left for the GC.
func (p *BouncePool) Release(b *Bounce) {
	if b.full != p.maxSize || len(p.free) >= p.cap {
		return
	}
	b.Data = b.raw[b.pad : b.pad+b.full]
	p.free = append(p.free, b)
}
