package aiocompl

import (
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"
)

// numLatencyBuckets is 10 buckets each in ns/µs/ms/s plus one >100s
// overflow bucket (spec.md §4.J "40 time buckets... plus a >100s
// bucket", read as 40 + 1 per SPEC_FULL.md §6.3).
const numLatencyBuckets = 41

// latencyProgression is the within-decade multiplier set shared by
// every unit (ns/µs/ms/s): the last entry, 100, is what makes the
// final s-unit bucket land exactly at the spec's ">100s" boundary.
var latencyProgression = [10]int64{1, 2, 3, 5, 7, 10, 15, 20, 50, 100}

// latencyBoundsNs holds the upper bound (inclusive, nanoseconds) of
// each of the 40 regular buckets; the 41st bucket has no upper bound.
var latencyBoundsNs = func() [40]uint64 {
	var b [40]uint64
	units := [4]int64{1, 1_000, 1_000_000, 1_000_000_000}
	for u, unit := range units {
		for i, mult := range latencyProgression {
			b[u*10+i] = uint64(mult * unit)
		}
	}
	return b
}()

// numSizeBuckets covers power-of-two transfer sizes from 512B to
// 512K, with the 12th bucket catching everything larger.
const numSizeBuckets = 12

// Stats is the per-endpoint statistics surface from spec.md §6 /
// SPEC_FULL.md §6.3: latency histogram, size histogram, unaligned
// counters, and a rolling IOPS counter. Grounded on the teacher's
// Metrics (internal counters + Snapshot), expanded to the bucket
// counts and alignment counters the expanded spec calls for.
type Stats struct {
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	FlushOps   atomic.Uint64
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	FlushErrors atomic.Uint64

	LatencyHistogram [numLatencyBuckets]atomic.Uint64
	SizeHistogram    [numSizeBuckets]atomic.Uint64

	Unaligned512 atomic.Uint64
	Unaligned4K  atomic.Uint64
	Unaligned8K  atomic.Uint64

	// iopsWindowStartNs/iopsWindowCount implement the rolling 1-second
	// IOPS counter: the window resets whenever it's recorded into more
	// than a second after it opened.
	iopsWindowStartNs atomic.Int64
	iopsWindowCount    atomic.Uint64
	lastIOPS           atomic.Uint64

	StartTimeNs atomic.Int64
}

// NewStats creates a zeroed Stats with its start time set to now.
func NewStats(now time.Time) *Stats {
	s := &Stats{}
	s.StartTimeNs.Store(now.UnixNano())
	s.iopsWindowStartNs.Store(now.UnixNano())
	return s
}

// RecordOp records one completed operation's byte count, latency, and
// success/failure, folding it into every relevant bucket.
func (s *Stats) RecordOp(kind Kind, bytes int, off int64, latency time.Duration, now time.Time, err error) {
	switch kind {
	case KindRead:
		s.ReadOps.Add(1)
		if err != nil {
			s.ReadErrors.Add(1)
		} else {
			s.ReadBytes.Add(uint64(bytes))
		}
	case KindWrite:
		s.WriteOps.Add(1)
		if err != nil {
			s.WriteErrors.Add(1)
		} else {
			s.WriteBytes.Add(uint64(bytes))
		}
	case KindFlush:
		s.FlushOps.Add(1)
		if err != nil {
			s.FlushErrors.Add(1)
		}
	}

	s.recordLatency(latency)
	if bytes > 0 {
		s.recordSize(bytes)
		s.recordAlignment(off, bytes)
	}
	s.recordIOPS(now)
}

func (s *Stats) recordLatency(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	for i, bound := range latencyBoundsNs {
		if ns <= bound {
			s.LatencyHistogram[i].Add(1)
			return
		}
	}
	s.LatencyHistogram[numLatencyBuckets-1].Add(1)
}

func (s *Stats) recordSize(bytes int) {
	bucket := numSizeBuckets - 1
	threshold := 512
	for i := 0; i < numSizeBuckets-1; i++ {
		if bytes <= threshold {
			bucket = i
			break
		}
		threshold *= 2
	}
	s.SizeHistogram[bucket].Add(1)
}

func (s *Stats) recordAlignment(off int64, length int) {
	if off%512 != 0 || int64(length)%512 != 0 {
		s.Unaligned512.Add(1)
	}
	if off%4096 != 0 || int64(length)%4096 != 0 {
		s.Unaligned4K.Add(1)
	}
	if off%8192 != 0 || int64(length)%8192 != 0 {
		s.Unaligned8K.Add(1)
	}
}

func (s *Stats) recordIOPS(now time.Time) {
	nowNs := now.UnixNano()
	start := s.iopsWindowStartNs.Load()
	if time.Duration(nowNs-start) >= time.Second {
		s.lastIOPS.Store(s.iopsWindowCount.Load())
		s.iopsWindowCount.Store(0)
		s.iopsWindowStartNs.Store(nowNs)
	}
	s.iopsWindowCount.Add(1)
}

// IOPS returns the most recently completed 1-second window's op count.
func (s *Stats) IOPS() uint64 { return s.lastIOPS.Load() }

// StatsSnapshot is a point-in-time copy of Stats for consumers that
// want to export it without holding references into live counters.
type StatsSnapshot struct {
	ReadOps, WriteOps, FlushOps          uint64
	ReadBytes, WriteBytes                uint64
	ReadErrors, WriteErrors, FlushErrors uint64
	LatencyHistogram                     [numLatencyBuckets]uint64
	SizeHistogram                        [numSizeBuckets]uint64
	Unaligned512, Unaligned4K, Unaligned8K uint64
	IOPS                                  uint64
	UptimeNs                              uint64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot(now time.Time) StatsSnapshot {
	var snap StatsSnapshot
	snap.ReadOps = s.ReadOps.Load()
	snap.WriteOps = s.WriteOps.Load()
	snap.FlushOps = s.FlushOps.Load()
	snap.ReadBytes = s.ReadBytes.Load()
	snap.WriteBytes = s.WriteBytes.Load()
	snap.ReadErrors = s.ReadErrors.Load()
	snap.WriteErrors = s.WriteErrors.Load()
	snap.FlushErrors = s.FlushErrors.Load()
	for i := range s.LatencyHistogram {
		snap.LatencyHistogram[i] = s.LatencyHistogram[i].Load()
	}
	for i := range s.SizeHistogram {
		snap.SizeHistogram[i] = s.SizeHistogram[i].Load()
	}
	snap.Unaligned512 = s.Unaligned512.Load()
	snap.Unaligned4K = s.Unaligned4K.Load()
	snap.Unaligned8K = s.Unaligned8K.Load()
	snap.IOPS = s.IOPS()
	snap.UptimeNs = uint64(math.Max(0, float64(now.UnixNano()-s.StartTimeNs.Load())))
	return snap
}

// StatsKey returns the spec.md §6 style registration key for an
// endpoint's statistics, for consumers exporting into their own
// metrics system (this module does not push metrics anywhere itself).
func (s *Subsystem) StatsKey(e *Endpoint) string {
	return fmt.Sprintf("/PDM/AsyncCompletion/File/%s/%d", filepath.Base(e.path), e.id)
}
