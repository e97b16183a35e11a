package pagecache

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// CacheStats tracks cache performance counters. All counters are relaxed
// atomics; only their sums are meaningful across concurrent operations.
type CacheStats struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	evictions atomic.Uint64
	promotes  atomic.Uint64
	demotes   atomic.Uint64
	flushes   atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Hits      uint64
	Misses    uint64
	Inserts   uint64
	Evictions uint64
	Promotes  uint64
	Demotes   uint64
	Flushes   uint64
}

// HitRatio returns hits/(hits+misses) as a percentage, or 0 when no
// fetches have been recorded.
func (s StatsSnapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100.0 / float64(total)
}

func (s *CacheStats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.inserts.Store(0)
	s.evictions.Store(0)
	s.promotes.Store(0)
	s.demotes.Store(0)
	s.flushes.Store(0)
}

func (s *CacheStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Inserts:   s.inserts.Load(),
		Evictions: s.evictions.Load(),
		Promotes:  s.promotes.Load(),
		Demotes:   s.demotes.Load(),
		Flushes:   s.flushes.Load(),
	}
}

// Log emits the counters and hit ratio at info level.
func (s *CacheStats) Log(logger *zap.Logger) {
	snap := s.Snapshot()
	logger.Info("Cache statistics",
		zap.Uint64("hits", snap.Hits),
		zap.Uint64("misses", snap.Misses),
		zap.Float64("hit_ratio_pct", snap.HitRatio()),
		zap.Uint64("inserts", snap.Inserts),
		zap.Uint64("evictions", snap.Evictions),
		zap.Uint64("promotes", snap.Promotes),
		zap.Uint64("demotes", snap.Demotes),
		zap.Uint64("flushes", snap.Flushes),
	)
}
