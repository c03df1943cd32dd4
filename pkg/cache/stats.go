package cache

import "sync/atomic"

// Statistics counts cache activity
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Hits returns the number of successful lookups
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of failed lookups
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Evictions returns the number of entries pushed out by capacity
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRatio returns hits over lookups, 0 before the first lookup
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
