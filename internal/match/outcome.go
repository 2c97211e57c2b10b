// Package match sends active audio frames to a fingerprint service and
// turns its noisy answers into a stable now-playing value.
package match

import (
	"fmt"
	"time"

	"tunetable/internal/audio"
	"tunetable/internal/nowplaying"

	"github.com/google/uuid"
)

// OutcomeKind tags an Outcome.
type OutcomeKind uint8

const (
	Found OutcomeKind = iota
	NotFound
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Candidate is one identification returned by the service. ID is only
// used to compare successive answers.
type Candidate struct {
	ID      string
	Title   string
	Artist  string
	Artwork nowplaying.Artwork
	Offset  time.Duration // Predicted position in the track at capture time
}

// Item projects the candidate onto what the user sees.
func (c Candidate) Item() nowplaying.Item {
	return nowplaying.Item{Title: c.Title, Artist: c.Artist, Artwork: c.Artwork}
}

// Request is one frame submitted for matching.
type Request struct {
	ID    uuid.UUID
	Epoch uint64 // Graph generation the frame was captured in
	Frame audio.Frame
	Time  time.Duration // Capture time of the frame
	// CapturedAt is the wall time of the frame's first sample, estimated
	// at submission as now minus the frame duration.
	CapturedAt time.Time
}

// Outcome is the result of one Request. Candidate is set for Found and Err
// for Failed.
type Outcome struct {
	Kind       OutcomeKind
	Candidate  *Candidate
	Err        error
	RequestID  uuid.UUID
	Epoch      uint64
	Captured   time.Duration
	CapturedAt time.Time // Wall time of the matched audio, see Request
	Latency    time.Duration
}

// TransientFailure wraps a single failed request. It is absorbed by the
// Stabilizer and never surfaced to the user.
type TransientFailure struct {
	RequestID uuid.UUID
	Err       error
}

func (e *TransientFailure) Error() string {
	return fmt.Sprintf("match request %s failed: %v", e.RequestID, e.Err)
}

func (e *TransientFailure) Unwrap() error { return e.Err }
