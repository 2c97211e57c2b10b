package nowplaying

import (
	"sync"
	"time"

	applog "tunetable/internal/log"
)

var logger = applog.For("Publisher")

// UISink receives every snapshot change. transport.Transport satisfies it.
type UISink interface {
	Send(data any) error
}

// MediaSink is an OS-level media-info surface (lock screen, control
// center, a retained MQTT topic). It only sees item changes.
type MediaSink interface {
	SetNowPlaying(item Item) error
	ClearNowPlaying() error
}

// Publisher writes item and silence changes into State and fans them out.
// It is driven from a single goroutine and does not deduplicate items:
// callers only publish on value change.
//
// UI sinks are called inline and must not block. Media sinks may do
// network I/O, so they run on a worker goroutine fed by a single-slot
// queue where the newest item replaces one not yet delivered.
type Publisher struct {
	state *State
	ui    []UISink
	media []MediaSink
	now   func() time.Time

	pending   chan *Item
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPublisher returns a publisher writing to state.
func NewPublisher(state *State) *Publisher {
	return &Publisher{
		state:   state,
		now:     time.Now,
		pending: make(chan *Item, 1),
		done:    make(chan struct{}),
	}
}

// AddUISink registers a UI sink.
func (p *Publisher) AddUISink(s UISink) {
	p.ui = append(p.ui, s)
}

// AddMediaSink registers a media-info sink. Sinks must be added before
// the first PublishItem.
func (p *Publisher) AddMediaSink(s MediaSink) {
	p.media = append(p.media, s)
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.runMedia()
	})
}

// PublishItem replaces the current item. nil clears it. offset is the
// position in the track at capturedAt, the wall time the matched audio
// was captured; a zero capturedAt means now.
func (p *Publisher) PublishItem(item *Item, offset time.Duration, capturedAt time.Time) {
	now := p.now()
	if capturedAt.IsZero() || capturedAt.After(now) {
		capturedAt = now
	}
	snap := p.state.setItem(item, offset, capturedAt, now)

	if item == nil {
		logger.Infof("now playing cleared")
	} else {
		logger.Infof("now playing: %s", item)
	}

	p.sendUI(snap)
	if len(p.media) > 0 {
		p.queueMedia(snap.Item)
	}
}

// queueMedia hands item to the media worker without blocking. Only the
// publishing goroutine sends, so after draining a stale entry the send
// succeeds.
func (p *Publisher) queueMedia(item *Item) {
	select {
	case <-p.done:
		return
	default:
	}
	for {
		select {
		case p.pending <- item:
			return
		default:
		}
		select {
		case <-p.pending:
			logger.Debugf("media sink behind, replacing queued update")
		default:
		}
	}
}

func (p *Publisher) runMedia() {
	defer p.wg.Done()
	for {
		select {
		case item := <-p.pending:
			p.sendMedia(item)
		case <-p.done:
			// Deliver the last queued value before exiting.
			select {
			case item := <-p.pending:
				p.sendMedia(item)
			default:
			}
			return
		}
	}
}

func (p *Publisher) sendMedia(item *Item) {
	for _, m := range p.media {
		var err error
		if item == nil {
			err = m.ClearNowPlaying()
		} else {
			err = m.SetNowPlaying(*item)
		}
		if err != nil {
			logger.Warnf("media sink: %v", err)
		}
	}
}

// Close delivers any queued media update and stops the media worker.
// Later items still reach State and the UI sinks.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

// SetSilence forwards the silence flag when it changes and reports
// whether it did.
func (p *Publisher) SetSilence(silent bool) bool {
	snap, changed := p.state.setSilence(silent, p.now())
	if !changed {
		return false
	}
	logger.Debugf("silence: %t", silent)
	p.sendUI(snap)
	return true
}

// Snapshot returns the current value.
func (p *Publisher) Snapshot() Snapshot {
	return p.state.Snapshot()
}

func (p *Publisher) sendUI(snap Snapshot) {
	for _, s := range p.ui {
		if err := s.Send(snap); err != nil {
			logger.Warnf("ui sink: %v", err)
		}
	}
}
