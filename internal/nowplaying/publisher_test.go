package nowplaying

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tunetable/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	set     []Item
	clears  int
	failSet bool
}

func (f *fakeMedia) SetNowPlaying(item Item) error {
	f.set = append(f.set, item)
	if f.failSet {
		return errors.New("media unavailable")
	}
	return nil
}

func (f *fakeMedia) ClearNowPlaying() error {
	f.clears++
	return nil
}

var (
	testClock = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	blueTrain = Item{Title: "Blue Train", Artist: "John Coltrane", Artwork: Artwork{URL: "https://img.example/bt.jpg"}}
)

func newTestPublisher(t *testing.T) (*Publisher, *utils.RecordingTransport, *fakeMedia) {
	t.Helper()
	p := NewPublisher(&State{})
	p.now = func() time.Time { return testClock }
	ui := &utils.RecordingTransport{}
	media := &fakeMedia{}
	p.AddUISink(ui)
	p.AddMediaSink(media)
	t.Cleanup(p.Close)
	return p, ui, media
}

func TestPublishItem(t *testing.T) {
	p, ui, media := newTestPublisher(t)

	item := blueTrain
	p.PublishItem(&item, 90*time.Second, time.Time{})

	snap := p.Snapshot()
	require.NotNil(t, snap.Item)
	assert.Equal(t, blueTrain, *snap.Item)
	assert.Equal(t, int64(90000), snap.MatchOffsetMS)
	assert.Equal(t, testClock, snap.MatchedAt, "no capture time means now")

	p.Close()
	assert.Equal(t, []Item{blueTrain}, media.set)

	sent := ui.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, snap, sent[0])

	// Mutating the caller's item must not reach the shared state.
	item.Title = "Moment's Notice"
	assert.Equal(t, "Blue Train", p.Snapshot().Item.Title)
}

func TestPublishClear(t *testing.T) {
	p, ui, media := newTestPublisher(t)

	p.PublishItem(&blueTrain, time.Second, time.Time{})
	p.PublishItem(nil, 0, time.Time{})

	snap := p.Snapshot()
	assert.Nil(t, snap.Item)
	assert.Zero(t, snap.MatchOffsetMS)
	assert.True(t, snap.MatchedAt.IsZero())

	p.Close()
	assert.Equal(t, 1, media.clears, "the clear is delivered even if the set was replaced")
	assert.Len(t, ui.Sent(), 2)
}

func TestPublishUsesCaptureTime(t *testing.T) {
	p, _, _ := newTestPublisher(t)

	// Confirmed 4s after the matched audio was captured 30s into the track.
	captured := testClock.Add(-4 * time.Second)
	p.PublishItem(&blueTrain, 30*time.Second, captured)

	snap := p.Snapshot()
	assert.Equal(t, captured, snap.MatchedAt)
	assert.Equal(t, 34*time.Second, snap.Position(testClock))

	// A capture time ahead of the clock is not trusted.
	p.PublishItem(&blueTrain, 0, testClock.Add(time.Minute))
	assert.Equal(t, testClock, p.Snapshot().MatchedAt)
}

// blockingMedia stalls SetNowPlaying until released.
type blockingMedia struct {
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	got     []string
}

func (b *blockingMedia) SetNowPlaying(item Item) error {
	b.entered <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, item.Title)
	b.mu.Unlock()
	return nil
}

func (b *blockingMedia) ClearNowPlaying() error {
	b.mu.Lock()
	b.got = append(b.got, "")
	b.mu.Unlock()
	return nil
}

func TestSlowMediaSinkDoesNotBlockPublish(t *testing.T) {
	p := NewPublisher(&State{})
	media := &blockingMedia{entered: make(chan struct{}, 4), release: make(chan struct{})}
	p.AddMediaSink(media)

	first := Item{Title: "first"}
	p.PublishItem(&first, 0, time.Time{})
	<-media.entered // the worker is now stuck in the sink

	published := make(chan struct{})
	go func() {
		defer close(published)
		for _, title := range []string{"second", "third", "fourth"} {
			p.PublishItem(&Item{Title: title}, 0, time.Time{})
		}
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("PublishItem blocked on a stalled media sink")
	}
	assert.Equal(t, "fourth", p.Snapshot().Item.Title)

	close(media.release)
	p.Close()

	media.mu.Lock()
	defer media.mu.Unlock()
	assert.Equal(t, []string{"first", "fourth"}, media.got, "queued updates collapse to the newest")
}

func TestSetSilenceDeduplicates(t *testing.T) {
	p, ui, media := newTestPublisher(t)

	assert.False(t, p.SetSilence(false), "initial state is not silent")
	assert.True(t, p.SetSilence(true))
	assert.False(t, p.SetSilence(true))
	assert.True(t, p.SetSilence(false))

	assert.Len(t, ui.Sent(), 2)
	assert.Empty(t, media.set, "silence never reaches the media sink")
}

func TestSilenceKeepsItem(t *testing.T) {
	p, _, _ := newTestPublisher(t)

	p.PublishItem(&blueTrain, 0, time.Time{})
	p.SetSilence(true)

	snap := p.Snapshot()
	assert.True(t, snap.Silence)
	require.NotNil(t, snap.Item)
	assert.Equal(t, blueTrain, *snap.Item)
}

func TestMediaSinkErrorIsNotFatal(t *testing.T) {
	p, ui, media := newTestPublisher(t)
	media.failSet = true

	assert.NotPanics(t, func() {
		p.PublishItem(&blueTrain, 0, time.Time{})
		p.Close()
	})
	assert.Len(t, ui.Sent(), 1)
	assert.NotNil(t, p.Snapshot().Item)
}

func TestSnapshotJSON(t *testing.T) {
	p, _, _ := newTestPublisher(t)
	p.PublishItem(&blueTrain, 1500*time.Millisecond, time.Time{})

	data, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(1500), decoded["match_offset_ms"])
	item := decoded["item"].(map[string]any)
	assert.Equal(t, "John Coltrane", item["artist"])

	// Cleared items encode as null.
	p.PublishItem(nil, 0, time.Time{})
	data, err = json.Marshal(p.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"item":null`)
	assert.NotContains(t, string(data), "matched_at")
}

func TestSnapshotPosition(t *testing.T) {
	snap := Snapshot{Item: &blueTrain, MatchOffsetMS: 30000, MatchedAt: testClock}
	assert.Equal(t, 40*time.Second, snap.Position(testClock.Add(10*time.Second)))
	assert.Zero(t, Snapshot{}.Position(testClock))
}

func TestItem(t *testing.T) {
	assert.Equal(t, "John Coltrane - Blue Train", blueTrain.String())
	assert.Equal(t, "Blue Train", Item{Title: "Blue Train"}.String())
	assert.Equal(t, "(untitled)", Item{}.String())

	other := blueTrain
	assert.True(t, Equal(&blueTrain, &other))
	other.Artwork = Artwork{Handle: "asset-7"}
	assert.False(t, Equal(&blueTrain, &other))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(&blueTrain, nil))
	assert.True(t, Artwork{}.IsZero())
}
