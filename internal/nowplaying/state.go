package nowplaying

import (
	"sync"
	"time"
)

// State is the shared now-playing value. It is written by the Publisher
// and read by UIs and HTTP handlers.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Snapshot returns a copy of the current value.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.Item != nil {
		item := *snap.Item
		snap.Item = &item
	}
	return snap
}

func (s *State) setItem(item *Item, offset time.Duration, matchedAt, now time.Time) Snapshot {
	s.mu.Lock()
	if item != nil {
		copied := *item
		s.snap.Item = &copied
		s.snap.MatchOffsetMS = offset.Milliseconds()
		s.snap.MatchedAt = matchedAt
	} else {
		s.snap.Item = nil
		s.snap.MatchOffsetMS = 0
		s.snap.MatchedAt = time.Time{}
	}
	s.snap.UpdatedAt = now
	s.mu.Unlock()
	return s.Snapshot()
}

// setSilence updates the flag and reports whether it changed.
func (s *State) setSilence(silent bool, now time.Time) (Snapshot, bool) {
	s.mu.Lock()
	if s.snap.Silence == silent {
		s.mu.Unlock()
		return Snapshot{}, false
	}
	s.snap.Silence = silent
	s.snap.UpdatedAt = now
	s.mu.Unlock()
	return s.Snapshot(), true
}
