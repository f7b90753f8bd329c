package taskqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDrainFIFOPreservesPushOrder(t *testing.T) {
	var s LIFO[int]
	for i := 0; i < 5; i++ {
		s.Push(i)
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, s.DrainFIFO())
}

func TestDrainFIFOEmptyReturnsNil(t *testing.T) {
	var s LIFO[int]
	require.Nil(t, s.DrainFIFO())
}

func TestDrainFIFOIsAtomicSwap(t *testing.T) {
	var s LIFO[int]
	s.Push(1)
	first := s.DrainFIFO()
	second := s.DrainFIFO()
	require.Equal(t, []int{1}, first)
	require.Nil(t, second)
}

// TestConcurrentPushesAllSurviveDrain exercises the CAS loop under
// contention: every pushed value must appear exactly once across all
// drains, regardless of interleaving.
func TestConcurrentPushesAllSurviveDrain(t *testing.T) {
	var s LIFO[int]
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(v int) {
			defer wg.Done()
			s.Push(v)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, v := range s.DrainFIFO() {
		require.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
	require.Len(t, seen, n)
}

func TestPendingFIFOOrder(t *testing.T) {
	var p Pending[string]
	p.PushBack("a")
	p.PushBack("b")
	p.PushFront("c")
	require.Equal(t, 3, p.Len())
	require.Equal(t, []string{"c", "a", "b"}, p.DrainAll())
	require.Equal(t, 0, p.Len())
}

func TestPendingDrainAllEmptyReturnsNil(t *testing.T) {
	var p Pending[int]
	require.Nil(t, p.DrainAll())
}
