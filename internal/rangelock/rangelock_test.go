package rangelock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFastPathBypassesTreeWhenAligned(t *testing.T) {
	tbl := New[string]()
	outcome, node := tbl.TryLock(Range{Start: 0, Last: 511}, "req1", true)
	require.Equal(t, Locked, outcome)
	require.Nil(t, node)
	require.False(t, tbl.HasMisalignedActive())
}

func TestMisalignedLocksAndTracksActive(t *testing.T) {
	tbl := New[string]()
	outcome, node := tbl.TryLock(Range{Start: 0, Last: 99}, "req1", false)
	require.Equal(t, Locked, outcome)
	require.NotNil(t, node)
	require.True(t, tbl.HasMisalignedActive())
}

// TestOverlappingWritesAreSerialized is spec.md §8 scenario 3: W2
// overlapping W1's still-held range is deferred onto W1's waiter list.
func TestOverlappingWritesAreSerialized(t *testing.T) {
	tbl := New[string]()

	outcome1, node1 := tbl.TryLock(Range{Start: 0, Last: 8191}, "W1", false)
	require.Equal(t, Locked, outcome1)

	outcome2, node2 := tbl.TryLock(Range{Start: 4096, Last: 12287}, "W2", false)
	require.Equal(t, Deferred, outcome2)
	require.Same(t, node1, node2)

	waiters := tbl.Unlock(node1)
	require.Equal(t, []string{"W2"}, waiters)
	require.False(t, tbl.HasMisalignedActive())
}

func TestDisjointRangesBothLock(t *testing.T) {
	tbl := New[string]()
	outcome1, _ := tbl.TryLock(Range{Start: 0, Last: 511}, "A", false)
	outcome2, _ := tbl.TryLock(Range{Start: 1024, Last: 1535}, "B", false)
	require.Equal(t, Locked, outcome1)
	require.Equal(t, Locked, outcome2)
}

func TestUnlockOnFastPathNodeIsNoop(t *testing.T) {
	tbl := New[string]()
	require.NotPanics(t, func() {
		waiters := tbl.Unlock(nil)
		require.Nil(t, waiters)
	})
}
