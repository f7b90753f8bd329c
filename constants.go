package aiocompl

import "github.com/behrlich/go-aiocompl/internal/constants"

// Re-exported tuning knobs for the public API (spec.md §4.C/§4.E/§4.F).
const (
	AlignmentBytes           = constants.AlignmentBytes
	BounceWindowBytes        = constants.BounceWindowBytes
	DefaultQueueDepth        = constants.DefaultQueueDepth
	DefaultMaxIOSize         = constants.DefaultMaxIOSize
	MaxBatchSubmit           = constants.MaxBatchSubmit
	DefaultRequestCacheCap   = constants.DefaultRequestCacheCap
	DefaultActiveRequestsMax = constants.DefaultActiveRequestsMax
)
