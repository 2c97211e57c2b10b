// SPDX-License-Identifier: MIT
package route

import (
	"sync"
	"time"

	applog "tunetable/internal/log"
)

var logger = applog.For("Route")

// sleepFactor is how many poll intervals may pass between two ticks before
// the gap is taken as a system sleep.
const sleepFactor = 4

// Watcher polls the card list and reports attached and detached cards. A
// wall-clock gap between polls much longer than the interval is reported
// as WokeFromSleep. Other sources (signals, the UI) inject events with
// Notify.
type Watcher struct {
	list     Lister
	interval time.Duration
	now      func() time.Time
	events   chan Event

	known     map[string]Card
	lastPoll  time.Time
	listFails bool

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewWatcher returns a watcher polling list every interval. A nil list
// only detects sleep and forwards Notify events.
func NewWatcher(list Lister, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
		logger.Warnf("invalid poll interval, defaulting to %s", interval)
	}
	return &Watcher{
		list:     list,
		interval: interval,
		now:      time.Now,
		events:   make(chan Event, 16),
		doneChan: make(chan struct{}),
	}
}

// Events delivers route changes in the order they were detected.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start takes the initial card snapshot and begins polling. Calling Start
// on a running watcher is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.ticker != nil {
		w.mu.Unlock()
		logger.Warnf("Start called but already running")
		return
	}

	w.known = w.snapshot()
	w.lastPoll = w.now().Round(0)
	w.ticker = time.NewTicker(w.interval)
	w.doneChan = make(chan struct{})
	w.stopOnce = sync.Once{}

	ticker := w.ticker
	doneChan := w.doneChan
	w.mu.Unlock()

	logger.Infof("watching %d cards every %s", len(w.known), w.interval)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ticker.C:
				for _, ev := range w.poll() {
					if !w.send(ev, doneChan) {
						return
					}
				}
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop ends polling and waits for the goroutine to exit. It is safe to
// call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.ticker == nil {
		w.mu.Unlock()
		return nil
	}
	w.stopOnce.Do(func() {
		close(w.doneChan)
		w.ticker.Stop()
		w.ticker = nil
	})
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

// Notify injects an event from outside the poller. It drops the event if
// the queue is full.
func (w *Watcher) Notify(reason Reason, device string) {
	ev := Event{Reason: reason, Device: device, Time: w.now()}
	select {
	case w.events <- ev:
	default:
		logger.Warnf("event queue full, dropping %s", ev)
	}
}

func (w *Watcher) send(ev Event, done <-chan struct{}) bool {
	logger.Infof("route change: %s", ev)
	select {
	case w.events <- ev:
		return true
	case <-done:
		return false
	}
}

// poll compares the current card list with the last one.
func (w *Watcher) poll() []Event {
	// Round(0) strips the monotonic reading, which stops during suspend.
	now := w.now().Round(0)
	var events []Event

	if gap := now.Sub(w.lastPoll); gap > sleepFactor*w.interval {
		logger.Debugf("%s since last poll", gap.Round(time.Second))
		events = append(events, Event{Reason: WokeFromSleep, Time: now})
	}
	w.lastPoll = now

	if w.list == nil {
		return events
	}
	current := w.snapshot()
	if current == nil {
		return events
	}

	for key, card := range w.known {
		if _, ok := current[key]; !ok {
			events = append(events, Event{Reason: DeviceRemoved, Device: card.Name, Time: now})
		}
	}
	for key, card := range current {
		if _, ok := w.known[key]; !ok {
			events = append(events, Event{Reason: DeviceAdded, Device: card.Name, Time: now})
		}
	}
	w.known = current
	return events
}

// snapshot returns the current cards keyed by index and id, or nil when
// the list cannot be read.
func (w *Watcher) snapshot() map[string]Card {
	if w.list == nil {
		return map[string]Card{}
	}
	cards, err := w.list()
	if err != nil {
		if !w.listFails {
			logger.Warnf("cannot list cards, device changes will not be detected: %v", err)
			w.listFails = true
		}
		return nil
	}
	w.listFails = false

	out := make(map[string]Card, len(cards))
	for _, c := range cards {
		out[c.key()] = c
	}
	return out
}
