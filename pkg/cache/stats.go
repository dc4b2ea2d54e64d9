package cache

import "sync/atomic"

// Stats accumulates process-lifetime cache counters. All counters are atomics so the hot path
// never takes a lock for accounting.
type Stats struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	bypasses  atomic.Uint64
	// itemCount and totalSizeBytes drift between maintenance sweeps: overwrites and concurrent
	// mutation of shared tiers by other devices can't be observed from here. Cleanup recalibrates
	// both from a full listing.
	itemCount      atomic.Int64
	totalSizeBytes atomic.Int64
}

// Snapshot is a read-only copy of the counters at one instant. HitRate is recomputed on every
// snapshot, never stored.
type Snapshot struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	Bypasses       uint64
	ItemCount      int64
	TotalSizeBytes int64
	HitRate        float64
}

func (s *Stats) recordHit()    { s.hits.Add(1) }
func (s *Stats) recordMiss()   { s.misses.Add(1) }
func (s *Stats) recordBypass() { s.bypasses.Add(1) }
func (s *Stats) recordEvictions(n int) {
	if n > 0 {
		s.evictions.Add(uint64(n))
	}
}

// adjustUsage applies a best-effort delta to the usage gauges.
func (s *Stats) adjustUsage(itemDelta, sizeDelta int64) {
	s.itemCount.Add(itemDelta)
	s.totalSizeBytes.Add(sizeDelta)
}

// setUsage overwrites the usage gauges with exact values from a sweep.
func (s *Stats) setUsage(items, sizeBytes int64) {
	s.itemCount.Store(items)
	s.totalSizeBytes.Store(sizeBytes)
}

// Snapshot returns a consistent-enough view of the counters. Counters are read individually, so
// a snapshot taken during heavy traffic may be off by in-flight operations.
func (s *Stats) Snapshot() Snapshot {
	snapshot := Snapshot{
		Hits:           s.hits.Load(),
		Misses:         s.misses.Load(),
		Evictions:      s.evictions.Load(),
		Bypasses:       s.bypasses.Load(),
		ItemCount:      s.itemCount.Load(),
		TotalSizeBytes: s.totalSizeBytes.Load(),
	}
	if total := snapshot.Hits + snapshot.Misses; total > 0 {
		snapshot.HitRate = float64(snapshot.Hits) / float64(total)
	}
	return snapshot
}
