// SPDX-License-Identifier: MIT
package audio

import (
	"sync"
	"time"
)

// StateKind enumerates the engine states.
type StateKind uint32

const (
	StateStopped StateKind = iota
	StateInvalidInput
	StateSilenceDetected
	StateMatching
)

func (k StateKind) String() string {
	switch k {
	case StateStopped:
		return "stopped"
	case StateInvalidInput:
		return "invalid-input"
	case StateSilenceDetected:
		return "silence-detected"
	case StateMatching:
		return "matching"
	default:
		return "unknown"
	}
}

// State is one event on the engine state stream. Frame is only set for
// StateMatching and is a private copy owned by the receiver.
type State struct {
	Kind       StateKind
	Frame      Frame
	Time       time.Duration // Capture time of the analysed frame
	Level      float64       // Normalized level of the analysed frame
	Generation uint64        // Graph generation the state was produced in
}

// stateStream is a single-subscriber event stream. Subscribing again
// closes the previous channel: there is exactly one consumer at a time,
// which is what the coordinator needs. It is not a broadcast.
//
// publish never blocks. When the subscriber falls behind, Matching events
// are dropped and counted. A transition is never dropped for a Matching
// event: it evicts the oldest queued Matching event instead, and only when
// the queue holds nothing but transitions is the oldest one replaced.
type stateStream struct {
	mu      sync.Mutex
	ch      chan State
	scratch []State
	dropped func()
}

func (s *stateStream) subscribe(buffer int) <-chan State {
	if buffer < 1 {
		buffer = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
	}
	s.ch = make(chan State, buffer)
	s.scratch = make([]State, 0, buffer)
	return s.ch
}

// publish reports whether st was queued.
func (s *stateStream) publish(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return false
	}
	select {
	case s.ch <- st:
		return true
	default:
	}
	if st.Kind == StateMatching {
		s.drop()
		return false
	}
	s.makeRoom()
	select {
	case s.ch <- st:
		return true
	default:
		s.drop()
		return false
	}
}

// makeRoom frees one slot by removing the oldest Matching event, or the
// oldest event when none is queued. Order is kept. It does not allocate.
func (s *stateStream) makeRoom() {
	queued := s.scratch[:0]
drain:
	for len(queued) < cap(s.scratch) {
		select {
		case st := <-s.ch:
			queued = append(queued, st)
		default:
			break drain
		}
	}

	// The subscriber took some while we drained.
	if len(queued) < cap(s.ch) {
		s.refill(queued, -1)
		return
	}

	evict := 0
	for i, st := range queued {
		if st.Kind == StateMatching {
			evict = i
			break
		}
	}
	s.drop()
	s.refill(queued, evict)
}

func (s *stateStream) refill(queued []State, skip int) {
	for i, st := range queued {
		if i == skip {
			continue
		}
		s.ch <- st // cannot block: only this goroutine sends, under mu
	}
	clear(queued)
}

func (s *stateStream) drop() {
	if s.dropped != nil {
		s.dropped()
	}
}

func (s *stateStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}
