// Package memory tracks heap pressure and sizes batches against it.
package memory

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Snapshot is one observation of the Go heap. Strategy decisions are
// made against a single snapshot taken at the start of an operation so
// that concurrent allocations cannot flip the decision mid-flight.
type Snapshot struct {
	HeapAlloc int64 // bytes currently allocated on the heap
	HeapSys   int64 // bytes obtained from the OS for the heap
	Limit     int64 // configured ceiling, 0 means derived from HeapSys
}

// Take reads the runtime heap counters once. limit of 0 falls back to
// the memory the OS has already granted the heap.
func Take(limit int64) Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Snapshot{
		HeapAlloc: int64(ms.HeapAlloc),
		HeapSys:   int64(ms.HeapSys),
		Limit:     limit,
	}
	if s.Limit == 0 {
		s.Limit = s.HeapSys
	}
	return s
}

// Available returns how many bytes the operation may still claim before
// reaching the limit. Never negative.
func (s Snapshot) Available() int64 {
	avail := s.Limit - s.HeapAlloc
	if avail < 0 {
		return 0
	}
	return avail
}

// Manager owns the memory policy for long-running operations: a hard
// limit, a high-water fraction past which it hints the collector, and
// rate limiting so streaming loops cannot turn the hint into a GC storm.
type Manager struct {
	limit     int64
	highWater int64 // bytes; GC hint threshold
	gcHints   atomic.Int64
	hintGate  atomic.Int64 // rows processed since last hint
	hintEvery int64
}

// Config configures a Manager.
type Config struct {
	Limit int64 // hard ceiling in bytes, 0 = derive from the heap
	// HighWaterPct is the percentage of Limit at which CheckPressure
	// starts hinting the collector. Zero means 80.
	HighWaterPct int
	// HintEveryRows spaces GC hints apart; zero means 100000.
	HintEveryRows int64
}

// NewManager builds a Manager. When cfg.Limit is nonzero it also
// installs it as the runtime soft memory limit.
func NewManager(cfg Config) *Manager {
	limit := cfg.Limit
	if limit == 0 {
		limit = Take(0).Limit
	}
	pct := cfg.HighWaterPct
	if pct <= 0 || pct > 100 {
		pct = 80
	}
	every := cfg.HintEveryRows
	if every <= 0 {
		every = 100000
	}
	if cfg.Limit > 0 {
		debug.SetMemoryLimit(cfg.Limit)
	}
	return &Manager{
		limit:     limit,
		highWater: limit * int64(pct) / 100,
		hintEvery: every,
	}
}

// Limit returns the configured hard ceiling in bytes.
func (m *Manager) Limit() int64 { return m.limit }

// Snapshot takes a fresh heap observation under this manager's limit.
func (m *Manager) Snapshot() Snapshot { return Take(m.limit) }

// CheckPressure is called from streaming loops after each batch of rows.
// Past the high-water mark it hints the collector, at most once per
// hintEvery rows. The hint is advisory: correctness never depends on it.
func (m *Manager) CheckPressure(rowsSinceLast int64) {
	if m.highWater == 0 {
		return
	}
	if m.hintGate.Add(rowsSinceLast) < m.hintEvery {
		return
	}
	m.hintGate.Store(0)
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if int64(ms.HeapAlloc) > m.highWater {
		m.gcHints.Add(1)
		runtime.GC()
	}
}

// GCHints reports how many times the manager nudged the collector.
func (m *Manager) GCHints() int64 { return m.gcHints.Load() }

// OptimalBatchSize sizes a batch so it fits comfortably in the
// available heap: half the headroom divided by the per-row estimate,
// clamped to [minBatch, maxBatch].
func OptimalBatchSize(availableBytes, rowSizeEstimate int64, minBatch, maxBatch int) int {
	if rowSizeEstimate <= 0 {
		rowSizeEstimate = 1024
	}
	calculated := int(availableBytes / 2 / rowSizeEstimate)
	if calculated < minBatch {
		return minBatch
	}
	if calculated > maxBatch {
		return maxBatch
	}
	return calculated
}

var (
	globalMgr  *Manager
	globalOnce sync.Once
)

// Global returns the process-wide manager with default policy.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager(Config{})
	})
	return globalMgr
}
