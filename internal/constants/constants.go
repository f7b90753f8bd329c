// Package constants holds tuning knobs shared across the async
// completion subsystem, grouped the way the rest of the package tree
// expects them: small, typed, documented at the point of use.
package constants

import "time"

// Alignment and transfer-size constants (spec.md §4.E/§4.F).
const (
	// AlignmentBytes is the sector size a NON_BUFFERED endpoint must
	// present offsets, lengths, and buffer bases aligned to, or else
	// fall back to a bounce buffer.
	AlignmentBytes = 512

	// BounceWindowBytes is the size of the aligned window a bounce
	// buffer prefetches/writes through.
	BounceWindowBytes = AlignmentBytes

	// DefaultQueueDepth is the entry count of the normal manager's
	// kernel ring.
	DefaultQueueDepth = 128

	// DefaultMaxIOSize bounds a single segment's length.
	DefaultMaxIOSize = 1 << 20

	// MaxBatchSubmit is the maximum number of sub-requests the normal
	// manager batches into one kernel submit call (spec.md §4.F step 3).
	MaxBatchSubmit = 20

	// DefaultRequestCacheCap is the cap on the per-endpoint free list of
	// idle bounce buffers (spec.md §4.C).
	DefaultRequestCacheCap = 256

	// DefaultActiveRequestsMax is the initial cRequestsActiveMax for a
	// freshly created normal manager, before any GROWING transition.
	DefaultActiveRequestsMax = 64
)

// Timing constants.
const (
	// BandwidthRefreshInterval is the minimum spacing between ramp-up
	// refreshes of a bandwidth manager's budget (spec.md §4.A).
	BandwidthRefreshInterval = time.Second

	// StatsWindowInterval is the rolling window used for IOPS sampling.
	StatsWindowInterval = time.Second

	// ShutdownDrainPoll is how often Close/Terminate re-checks that an
	// endpoint's active request count has reached zero.
	ShutdownDrainPoll = time.Millisecond
)
