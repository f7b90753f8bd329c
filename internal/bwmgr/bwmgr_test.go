package bwmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryConsumeAllowsUnderBudget(t *testing.T) {
	now := time.Unix(0, 0)
	m := New(Config{Name: "g1", Max: 1 << 20, Start: 1 << 20}, now)

	d := m.TryConsume(1<<19, now)
	require.True(t, d.Allowed)
}

func TestTryConsumeDeniesOverBudgetWithinWindow(t *testing.T) {
	now := time.Unix(0, 0)
	m := New(Config{Name: "g1", Max: 1024, Start: 1024}, now)

	require.True(t, m.TryConsume(1024, now).Allowed)

	d := m.TryConsume(1, now.Add(100*time.Millisecond))
	require.False(t, d.Allowed)
	require.InDelta(t, 900*time.Millisecond, d.RetryAfter, float64(5*time.Millisecond))
}

// TestBandwidthThrottleScenario is spec.md §8 scenario 4: a 1MB/s cap
// with no ramp-up admits four 256KB writes immediately and denies the
// rest until the one-second window rolls over.
func TestBandwidthThrottleScenario(t *testing.T) {
	now := time.Unix(0, 0)
	m := New(Config{Name: "g1", Max: 1 << 20, Start: 1 << 20, Step: 0}, now)

	const chunk = 256 << 10
	admitted := 0
	for i := 0; i < 10; i++ {
		if m.TryConsume(chunk, now).Allowed {
			admitted++
		}
	}
	require.Equal(t, 4, admitted)

	later := now.Add(time.Second)
	admittedLater := 0
	for i := 0; i < 6; i++ {
		if m.TryConsume(chunk, later).Allowed {
			admittedLater++
		}
	}
	require.Equal(t, 4, admittedLater)
}

func TestRampUpIncreasesStartTowardMax(t *testing.T) {
	now := time.Unix(0, 0)
	m := New(Config{Name: "g1", Max: 1000, Start: 100, Step: 100}, now)

	require.True(t, m.TryConsume(100, now).Allowed)
	// Force a refresh a second later with a request exceeding the
	// exhausted budget; start should ramp from 100 -> 200.
	d := m.TryConsume(50, now.Add(time.Second))
	require.True(t, d.Allowed)
	require.Equal(t, int64(200), m.startBytesPerSec.Load())
}

func TestSetMaxResetsRampImmediately(t *testing.T) {
	now := time.Unix(0, 0)
	m := New(Config{Name: "g1", Max: 100, Start: 10, Step: 10}, now)
	m.SetMax(5000)
	require.Equal(t, int64(5000), m.maxBytesPerSec.Load())
	require.Equal(t, int64(5000), m.startBytesPerSec.Load())
}

func TestRetainReleaseRefcount(t *testing.T) {
	m := New(Config{Name: "g1", Max: 100}, time.Unix(0, 0))
	m.Retain()
	m.Retain()
	require.False(t, m.Release())
	require.True(t, m.Release())
}
