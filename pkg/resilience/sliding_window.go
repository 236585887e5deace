package resilience

import (
	"sync"
	"time"
)

// pruneEvery controls how often Admit sweeps idle windows.
const pruneEvery = 1024

// SlidingWindow admits at most limit events per key within any window-long
// interval. Each key keeps the timestamps of its admitted events, oldest
// first. A key at its quota stays blocked until its oldest timestamp ages out;
// there is no refill tick.
//
// SlidingWindow is safe for concurrent use.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[int64][]time.Time
	calls   uint64
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[int64][]time.Time),
	}
}

// Admit records an event for key and reports whether it is within quota.
// Denied events are not recorded. A timestamp exactly window old counts as
// expired.
func (s *SlidingWindow) Admit(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	s.calls++
	if s.calls%pruneEvery == 0 {
		s.prune(now)
	}

	ts := s.evict(s.windows[key], now)
	if len(ts) >= s.limit {
		s.windows[key] = ts
		return false
	}

	s.windows[key] = append(ts, now)
	return true
}

// Len returns the number of timestamps currently held for key.
func (s *SlidingWindow) Len(key int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows[key])
}

// Keys returns the number of tracked keys.
func (s *SlidingWindow) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *SlidingWindow) evict(ts []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= s.window {
		i++
	}
	if i == 0 {
		return ts
	}
	// Copy down so the backing array does not grow without bound.
	n := copy(ts, ts[i:])
	return ts[:n]
}

// prune drops keys whose newest timestamp has expired. Must hold mu.
func (s *SlidingWindow) prune(now time.Time) {
	for key, ts := range s.windows {
		if len(ts) == 0 || now.Sub(ts[len(ts)-1]) >= s.window {
			delete(s.windows, key)
		}
	}
}
