// Package rangelock implements the per-endpoint interval tree that
// serializes overlapping byte-range operations (spec.md §3 "Range
// lock", §4.B). It is accessed only from the owning endpoint's manager
// thread (spec.md §5), so — unlike internal/bwmgr and
// internal/taskqueue — it needs no atomics or locks of its own; the
// single-writer discipline is the caller's contract to keep.
//
// Grounded on the teacher's keyed-lookup style (internal/queue's
// per-tag state tracking) generalized from a fixed-size array to an
// ordered tree, using google/btree keyed by range start. TryLock scans
// held ranges in ascending start order and stops at the first one that
// overlaps the request or starts past its last byte.
package rangelock

import "github.com/google/btree"

// Range is an inclusive byte interval [Start, Last].
type Range struct {
	Start int64
	Last  int64
	Write bool
}

func (r Range) overlaps(o Range) bool {
	return r.Start <= o.Last && r.Last >= o.Start
}

// Outcome is the result of a TryLock call.
type Outcome int

const (
	// Locked means the caller now owns the range; Node identifies it
	// for the later Unlock call.
	Locked Outcome = iota
	// Deferred means an overlapping range is already held; the waiter
	// was appended to that range's FIFO and must wait for Unlock.
	Deferred
)

// Node is an allocated range-lock entry. The design note in spec.md §3
// models cRefs as a counter reserved for future read/read coalescing
// but asserted == 1 at release in the source; this implementation
// keeps the counter field for that documented future but only ever
// sets it to 1, matching the current single-holder semantics.
type Node[W any] struct {
	Range
	refs    int32
	waiters []W
}

// Table is a per-endpoint interval tree of in-flight ranges. W is the
// caller's sub-request handle type, kept opaque to this package.
type Table[W any] struct {
	tree             *btree.BTreeG[*Node[W]]
	misalignedActive int
}

func less[W any](a, b *Node[W]) bool { return a.Start < b.Start }

// New creates an empty range lock table.
func New[W any]() *Table[W] {
	return &Table[W]{tree: btree.NewG(32, less[W])}
}

// HasMisalignedActive reports whether any misaligned request is
// currently holding a range on this endpoint, the condition spec.md
// §4.B uses to decide whether the fast (lock-free) path applies.
func (t *Table[W]) HasMisalignedActive() bool { return t.misalignedActive > 0 }

// TryLock implements spec.md §4.B's tryLock: the fast path bypasses
// the tree entirely when there are no misaligned requests active and
// the new one is aligned; otherwise it searches for an overlap.
func (t *Table[W]) TryLock(r Range, waiter W, isAligned bool) (Outcome, *Node[W]) {
	if isAligned && t.misalignedActive == 0 {
		return Locked, nil
	}

	var conflict *Node[W]
	t.tree.Ascend(func(n *Node[W]) bool {
		if n.Start > r.Last {
			return false // nothing further in ascending order can overlap
		}
		if n.overlaps(r) {
			conflict = n
			return false
		}
		return true
	})

	if conflict != nil {
		conflict.waiters = append(conflict.waiters, waiter)
		return Deferred, conflict
	}

	node := &Node[W]{Range: r, refs: 1}
	t.tree.ReplaceOrInsert(node)
	t.misalignedActive++
	return Locked, node
}

// Unlock removes the range and returns its waiter FIFO (possibly
// empty) so the caller can re-queue them, per spec.md §4.B unlock.
// Unlock is a no-op for ranges locked via the fast path (node == nil).
func (t *Table[W]) Unlock(node *Node[W]) []W {
	if node == nil {
		return nil
	}
	t.tree.Delete(node)
	t.misalignedActive--
	return node.waiters
}
