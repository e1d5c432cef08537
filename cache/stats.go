package cache

import "sync/atomic"

// Stats are the atomic counters spec'd for the cache layer: hits,
// misses, evictions, and bytes saved. The Prometheus metrics in the
// metrics package are the process-wide view; Stats gives a single
// cache instance its own cheap, allocation-free view for status
// commands that shouldn't depend on a metrics registry being wired up.
type Stats struct {
	hits, misses, evictions, bytesSaved atomic.Uint64
}

func (s *Stats) recordHit(n int) {
	s.hits.Add(1)
	s.bytesSaved.Add(uint64(n))
}

func (s *Stats) recordMiss() {
	s.misses.Add(1)
}

func (s *Stats) recordEviction() {
	s.evictions.Add(1)
}

// Snapshot is a point-in-time copy of Stats' counters.
type Snapshot struct {
	Hits, Misses, Evictions, BytesSaved uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Evictions:  s.evictions.Load(),
		BytesSaved: s.bytesSaved.Load(),
	}
}
