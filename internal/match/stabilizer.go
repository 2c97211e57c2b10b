package match

import (
	"tunetable/internal/config"
	"tunetable/internal/metrics"
	"tunetable/internal/nowplaying"
)

// Policy sets how much agreement the Stabilizer needs.
type Policy struct {
	ConfirmHits      int // Consecutive sightings of a new id before it is shown
	ClearAfterMisses int // Consecutive misses before the shown track is cleared
}

// DefaultPolicy requires two sightings and clears after three misses.
func DefaultPolicy() Policy {
	return Policy{
		ConfirmHits:      config.DefaultConfirmHits,
		ClearAfterMisses: config.DefaultClearAfterMisses,
	}
}

// StabilizerState is the debounce memory.
type StabilizerState struct {
	LastConfirmedID string
	PendingID       string
	PendingHits     int
	Misses          int // Consecutive NotFound or Failed outcomes
}

// Stabilizer turns raw outcomes into now-playing changes. A new id must be
// seen ConfirmHits times in a row before it is shown, and the shown track
// is only cleared after ClearAfterMisses misses in a row. It is not safe
// for concurrent use; the coordinator owns it.
type Stabilizer struct {
	policy  Policy
	state   StabilizerState
	current *nowplaying.Item
	metrics *metrics.Metrics
}

// NewStabilizer returns an empty stabilizer. Thresholds below one are
// raised to one.
func NewStabilizer(policy Policy, m *metrics.Metrics) *Stabilizer {
	policy.ConfirmHits = max(policy.ConfirmHits, 1)
	policy.ClearAfterMisses = max(policy.ClearAfterMisses, 1)
	return &Stabilizer{policy: policy, metrics: m}
}

// Apply folds o into the state. When the shown value changes it returns
// the new item (nil for None) and true.
func (s *Stabilizer) Apply(o Outcome) (*nowplaying.Item, bool) {
	if o.Kind != Found || o.Candidate == nil {
		return s.miss()
	}

	c := o.Candidate
	s.state.Misses = 0

	if c.ID == s.state.LastConfirmedID {
		s.state.PendingID, s.state.PendingHits = "", 0
		return nil, false
	}

	if c.ID == s.state.PendingID {
		s.state.PendingHits++
	} else {
		s.state.PendingID, s.state.PendingHits = c.ID, 1
	}
	if s.state.PendingHits < s.policy.ConfirmHits {
		return nil, false
	}

	s.state.LastConfirmedID = c.ID
	s.state.PendingID, s.state.PendingHits = "", 0

	item := c.Item()
	return s.show(&item)
}

func (s *Stabilizer) miss() (*nowplaying.Item, bool) {
	s.state.Misses++
	if s.state.Misses < s.policy.ClearAfterMisses {
		return nil, false
	}
	s.state = StabilizerState{}
	return s.show(nil)
}

// Reset forgets everything, as at the start of a new session. It returns
// true when a track was shown, in which case None must be published.
func (s *Stabilizer) Reset() bool {
	s.state = StabilizerState{}
	_, changed := s.show(nil)
	return changed
}

// show makes item current and reports whether that is a change.
func (s *Stabilizer) show(item *nowplaying.Item) (*nowplaying.Item, bool) {
	if nowplaying.Equal(s.current, item) {
		return nil, false
	}
	s.current = item
	s.metrics.ItemChanged(item == nil)
	return item, true
}

// Current returns the shown item, or nil.
func (s *Stabilizer) Current() *nowplaying.Item {
	return s.current
}

// State returns a copy of the debounce memory.
func (s *Stabilizer) State() StabilizerState {
	return s.state
}
