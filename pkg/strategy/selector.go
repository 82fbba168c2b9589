// Package strategy picks the execution plan for one import operation.
package strategy

import (
	"runtime"

	"github.com/tabflow/tabflow/pkg/memory"
)

// Strategy is the execution plan for one operation. It is chosen once,
// before the first row is parsed, and never changes mid-operation.
type Strategy int

const (
	// SingleThread parses and accumulates on the calling goroutine.
	SingleThread Strategy = iota
	// Parallel splits the materialized input across a worker group.
	Parallel
	// Streaming holds only the current batch in memory.
	Streaming
)

func (s Strategy) String() string {
	switch s {
	case SingleThread:
		return "single"
	case Parallel:
		return "parallel"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Decision is the selector's output: the plan plus the batch size the
// plan will run with.
type Decision struct {
	Strategy  Strategy
	BatchSize int
	// Workers is the parallel fan-out; 1 for the other strategies.
	Workers int
}

// Selector chooses a Decision from input characteristics and one heap
// snapshot. All knobs are fixed at construction, so the same inputs
// always yield the same decision.
type Selector struct {
	// MemoryThreshold is the input size in bytes past which streaming
	// is forced regardless of row count.
	MemoryThreshold int64
	// HeapFraction of the snapshot's available heap that an input may
	// occupy before streaming is forced. Expressed in percent.
	HeapFraction int
	// ParallelRows is the estimated row count past which a multi-core
	// machine goes parallel.
	ParallelRows int64
	// Workers caps the parallel fan-out; 0 means GOMAXPROCS.
	Workers int
	// MaxBatch clamps every computed batch size.
	MaxBatch int
	// StreamingBatch is the conservative fixed batch for streaming.
	StreamingBatch int
}

// Defaults mirror the tuning that held up in production: stream past
// 256MB of input or 40% of free heap, go parallel past 30k rows.
const (
	DefaultMemoryThreshold = 256 << 20
	DefaultHeapFraction    = 40
	DefaultParallelRows    = 30000
	DefaultMaxBatch        = 10000
	DefaultStreamingBatch  = 5000
)

// NewSelector fills zero knobs with defaults.
func NewSelector(s Selector) *Selector {
	if s.MemoryThreshold <= 0 {
		s.MemoryThreshold = DefaultMemoryThreshold
	}
	if s.HeapFraction <= 0 || s.HeapFraction > 100 {
		s.HeapFraction = DefaultHeapFraction
	}
	if s.ParallelRows <= 0 {
		s.ParallelRows = DefaultParallelRows
	}
	if s.Workers <= 0 {
		s.Workers = runtime.GOMAXPROCS(0)
	}
	if s.MaxBatch <= 0 {
		s.MaxBatch = DefaultMaxBatch
	}
	if s.StreamingBatch <= 0 {
		s.StreamingBatch = DefaultStreamingBatch
	}
	return &s
}

// Choose evaluates the rules in order against one heap snapshot:
//
//  1. streaming when the input is larger than the memory threshold or
//     would occupy more than HeapFraction of the free heap,
//  2. parallel when the row estimate clears ParallelRows and more than
//     one worker is available,
//  3. single-threaded otherwise.
//
// The memory rule is checked first so a huge input with a wrong row
// estimate can never be materialized for the parallel path.
func (s *Selector) Choose(inputBytes, rowEstimate int64, snap memory.Snapshot) Decision {
	if inputBytes > s.MemoryThreshold || inputBytes > snap.Available()*int64(s.HeapFraction)/100 {
		return Decision{Strategy: Streaming, BatchSize: s.StreamingBatch, Workers: 1}
	}
	if rowEstimate > s.ParallelRows && s.Workers > 1 {
		return Decision{Strategy: Parallel, BatchSize: s.batchFor(rowEstimate), Workers: s.Workers}
	}
	return Decision{Strategy: SingleThread, BatchSize: s.batchFor(rowEstimate), Workers: 1}
}

// batchFor tiers the batch size by expected volume. Small inputs keep
// batches small so partial failures lose little work; large inputs
// amortize per-batch overhead.
func (s *Selector) batchFor(rowEstimate int64) int {
	var size int
	switch {
	case rowEstimate < 10000:
		size = 2000
	case rowEstimate < 100000:
		size = 5000
	default:
		size = 10000
	}
	if size > s.MaxBatch {
		size = s.MaxBatch
	}
	return size
}

// EstimateRows guesses the row count of an input from its byte size and
// a per-row estimate. Used when the source cannot be counted cheaply.
func EstimateRows(inputBytes, rowSizeEstimate int64) int64 {
	if rowSizeEstimate <= 0 {
		rowSizeEstimate = 128
	}
	return inputBytes / rowSizeEstimate
}
