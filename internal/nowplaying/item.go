// Package nowplaying holds the stabilized "now playing" value and fans
// changes out to UI and media-info sinks.
package nowplaying

import (
	"fmt"
	"time"
)

// Artwork references cover art either by URL or by an opaque handle the
// media sink knows how to resolve. Fetching the image is the sink's job.
type Artwork struct {
	URL    string `json:"url,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// IsZero reports whether no artwork is referenced.
func (a Artwork) IsZero() bool {
	return a.URL == "" && a.Handle == ""
}

// Item is the track shown to the user. Empty strings are absent fields.
// Items are compared by value.
type Item struct {
	Title   string  `json:"title,omitempty"`
	Artist  string  `json:"artist,omitempty"`
	Artwork Artwork `json:"artwork"`
}

func (i Item) String() string {
	switch {
	case i.Title != "" && i.Artist != "":
		return fmt.Sprintf("%s - %s", i.Artist, i.Title)
	case i.Title != "":
		return i.Title
	case i.Artist != "":
		return i.Artist
	default:
		return "(untitled)"
	}
}

// Snapshot is what UI sinks receive.
type Snapshot struct {
	Item          *Item     `json:"item"` // nil when nothing is playing
	Silence       bool      `json:"silence"`
	MatchOffsetMS int64     `json:"match_offset_ms,omitempty"` // Position in the track at MatchedAt
	MatchedAt     time.Time `json:"matched_at,omitzero"`       // When the matched audio was captured
	UpdatedAt     time.Time `json:"updated_at"`
}

// Position estimates the current playback position of Item at now.
func (s Snapshot) Position(now time.Time) time.Duration {
	if s.Item == nil || s.MatchedAt.IsZero() {
		return 0
	}
	return time.Duration(s.MatchOffsetMS)*time.Millisecond + now.Sub(s.MatchedAt)
}

// Equal reports whether a and b hold the same item, treating nil as None.
func Equal(a, b *Item) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
