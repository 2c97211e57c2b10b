package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tunetable/internal/audio"
	"tunetable/internal/match"
	"tunetable/internal/nowplaying"
	"tunetable/internal/route"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLog records calls across all fakes in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

type fakeGraph struct {
	log        *callLog
	states     chan audio.State
	mu         sync.Mutex
	generation uint64
	setupErr   error
}

func (g *fakeGraph) Setup() error {
	g.log.add("setup")
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setupErr
}

func (g *fakeGraph) Start() error { g.log.add("start"); return nil }
func (g *fakeGraph) Stop() error  { g.log.add("stop"); return nil }

func (g *fakeGraph) Reset() error {
	g.log.add("reset")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	return nil
}

func (g *fakeGraph) Subscribe() <-chan audio.State { return g.states }

func (g *fakeGraph) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

func (g *fakeGraph) setSetupErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setupErr = err
}

type fakeDispatcher struct {
	log      *callLog
	outcomes chan match.Outcome
}

func (d *fakeDispatcher) Submit(epoch uint64, _ audio.Frame, _ time.Duration) bool {
	d.log.add("submit %d", epoch)
	return true
}

func (d *fakeDispatcher) CoolDown()                      { d.log.add("cooldown") }
func (d *fakeDispatcher) Outcomes() <-chan match.Outcome { return d.outcomes }

type fakePublisher struct {
	log *callLog
}

func (p *fakePublisher) PublishItem(item *nowplaying.Item, offset time.Duration, capturedAt time.Time) {
	if item == nil {
		p.log.add("publish none")
		return
	}
	p.log.add("publish %s", item.Title)
	if !capturedAt.IsZero() {
		p.log.add("at %s+%s", capturedAt.Format(time.TimeOnly), offset)
	}
}

func (p *fakePublisher) SetSilence(silent bool) bool {
	p.log.add("silence %t", silent)
	return true
}

type harness struct {
	log        *callLog
	graph      *fakeGraph
	dispatcher *fakeDispatcher
	coord      *Coordinator
	routes     chan route.Event
	startupErr error
	done       chan error
}

func newHarness(t *testing.T, opts Options, setupErr error) *harness {
	t.Helper()
	log := &callLog{}
	h := &harness{
		log:        log,
		graph:      &fakeGraph{log: log, states: make(chan audio.State, 16), setupErr: setupErr},
		dispatcher: &fakeDispatcher{log: log, outcomes: make(chan match.Outcome, 16)},
		routes:     make(chan route.Event, 4),
		startupErr: setupErr,
		done:       make(chan error, 1),
	}
	h.coord = New(h.graph, h.dispatcher, match.NewStabilizer(match.DefaultPolicy(), nil), &fakePublisher{log: log}, opts)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.coord.Run(ctx, h.routes) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	h.waitFor(t, "setup", 1)
	if h.startupErr == nil {
		h.waitFor(t, "start", 1)
	}
}

func (h *harness) waitFor(t *testing.T, call string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.log.count(call) >= n },
		time.Second, time.Millisecond, "waiting for %d x %q, got %v", n, call, h.log.snapshot())
}

func (h *harness) found(id string) {
	h.dispatcher.outcomes <- match.Outcome{
		Kind:      match.Found,
		Candidate: &match.Candidate{ID: id, Title: id, Artist: "Artist"},
		Epoch:     h.graph.Generation(),
	}
}

func (h *harness) confirm(t *testing.T, id string) {
	t.Helper()
	h.found(id)
	h.found(id)
	h.waitFor(t, "publish "+id, 1)
	h.waitFor(t, "cooldown", h.log.count("publish "+id))
}

func TestStartupRestart(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)

	assert.Equal(t, []string{"stop", "reset", "setup", "start"}, h.log.snapshot())
}

func TestMatchingSubmitsWithCurrentEpoch(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)
	h.log.reset()

	epoch := h.graph.Generation()
	h.graph.states <- audio.State{Kind: audio.StateMatching, Generation: epoch - 1}
	h.graph.states <- audio.State{Kind: audio.StateMatching, Generation: epoch}
	h.waitFor(t, fmt.Sprintf("submit %d", epoch), 1)

	assert.Equal(t, []string{"silence false", fmt.Sprintf("submit %d", epoch)}, h.log.snapshot(),
		"frames from an earlier generation must not be submitted")
}

func TestConfirmedItemPublishesAndCoolsDown(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)
	h.log.reset()

	h.found("A")
	h.found("A")
	h.waitFor(t, "cooldown", 1)

	assert.Equal(t, []string{"publish A", "cooldown"}, h.log.snapshot())
}

func TestStaleOutcomeIsDropped(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)

	stale := h.graph.Generation() - 1
	for range 3 {
		h.dispatcher.outcomes <- match.Outcome{
			Kind:      match.Found,
			Candidate: &match.Candidate{ID: "old", Title: "old"},
			Epoch:     stale,
		}
	}
	h.confirm(t, "B")

	assert.Zero(t, h.log.count("publish old"))
}

func TestRouteChangeClearsBeforeRestart(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)
	h.confirm(t, "A")
	h.log.reset()

	h.routes <- route.Event{Reason: route.DeviceRemoved, Device: "USB Audio CODEC"}
	h.waitFor(t, "start", 1)

	assert.Equal(t, []string{"publish none", "stop", "reset", "setup", "start"}, h.log.snapshot())
}

func TestOneRestartPerRouteEvent(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)
	h.log.reset()

	h.routes <- route.Event{Reason: route.DeviceAdded}
	h.routes <- route.Event{Reason: route.WokeFromSleep}
	h.waitFor(t, "start", 2)

	// Give a spurious third restart a chance to show up.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.log.count("reset"))
	assert.Zero(t, h.log.count("publish none"), "nothing was shown, nothing to clear")
}

func TestOutcomeFromBeforeRouteChangeIsDropped(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)

	before := h.graph.Generation()
	h.routes <- route.Event{Reason: route.CategoryChanged}
	h.waitFor(t, "start", 2)

	for range 2 {
		h.dispatcher.outcomes <- match.Outcome{
			Kind:      match.Found,
			Candidate: &match.Candidate{ID: "late", Title: "late"},
			Epoch:     before,
		}
	}
	h.confirm(t, "fresh")
	assert.Zero(t, h.log.count("publish late"))
}

func TestClearOnSilence(t *testing.T) {
	tests := []struct {
		name  string
		clear bool
		want  []string
	}{
		{"enabled", true, []string{"silence true", "publish none"}},
		{"disabled", false, []string{"silence true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{ClearOnSilence: tt.clear}, nil)
			h.run(t)
			h.confirm(t, "A")
			h.log.reset()

			h.graph.states <- audio.State{Kind: audio.StateSilenceDetected, Generation: h.graph.Generation()}
			h.waitFor(t, "silence true", 1)
			time.Sleep(10 * time.Millisecond)

			assert.Equal(t, tt.want, h.log.snapshot())
		})
	}
}

func TestStoppedClearsShownItem(t *testing.T) {
	h := newHarness(t, Options{ClearOnSilence: true}, nil)
	h.run(t)
	h.confirm(t, "A")

	h.graph.states <- audio.State{Kind: audio.StateStopped, Generation: h.graph.Generation()}
	h.waitFor(t, "publish none", 1)
}

func TestStoppedClearsSilence(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)

	gen := h.graph.Generation()
	h.graph.states <- audio.State{Kind: audio.StateSilenceDetected, Generation: gen}
	h.graph.states <- audio.State{Kind: audio.StateStopped, Generation: gen}
	h.waitFor(t, "silence false", 1)

	log := h.log.snapshot()
	require.Len(t, log, 6)
	assert.Equal(t, []string{"silence true", "silence false"}, log[4:])
}

func TestPublishCarriesCaptureTime(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)
	h.log.reset()

	captured := time.Date(2026, 3, 1, 21, 30, 5, 0, time.UTC)
	for range 2 {
		h.dispatcher.outcomes <- match.Outcome{
			Kind:       match.Found,
			Candidate:  &match.Candidate{ID: "A", Title: "A", Offset: 42 * time.Second},
			Epoch:      h.graph.Generation(),
			CapturedAt: captured,
		}
	}
	h.waitFor(t, "cooldown", 1)

	assert.Equal(t, []string{"publish A", "at 21:30:05+42s", "cooldown"}, h.log.snapshot())
}

func TestStartupFailureRaisesAlertAndRetry(t *testing.T) {
	h := newHarness(t, Options{}, &audio.InvalidInputError{Device: "USB Audio CODEC"})
	h.run(t)

	var a Alert
	select {
	case a = <-h.coord.Alerts():
	case <-time.After(time.Second):
		t.Fatal("no alert raised")
	}
	assert.Equal(t, "Invalid Input", a.Title)
	assert.True(t, a.Retryable)
	assert.True(t, IsRetryable(a.Err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := h.coord.Retry(ctx)
	var invalid *audio.InvalidInputError
	assert.ErrorAs(t, err, &invalid, "retry fails while the input is still missing")
	<-h.coord.Alerts()

	h.graph.setSetupErr(nil)
	require.NoError(t, h.coord.Retry(ctx))
	assert.Equal(t, 1, h.log.count("start"))
}

func TestRouteRecoveryFailureAlert(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.run(t)

	h.graph.setSetupErr(&audio.EngineStartError{Err: errors.New("device busy")})
	h.routes <- route.Event{Reason: route.DeviceRemoved, Device: "USB Audio CODEC"}

	var a Alert
	select {
	case a = <-h.coord.Alerts():
	case <-time.After(time.Second):
		t.Fatal("no alert raised")
	}
	assert.Equal(t, "Audio Route Changed", a.Title)
	assert.Contains(t, a.Message, "USB Audio CODEC")

	var recovery *RouteChangeRecoveryFailure
	require.ErrorAs(t, a.Err, &recovery)
	assert.Equal(t, route.DeviceRemoved, recovery.Event.Reason)
	var start *audio.EngineStartError
	assert.ErrorAs(t, a.Err, &start)
}

func TestRetryHonoursContext(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.coord.Retry(ctx), context.Canceled, "no Run loop to pick the request up")
}

func TestAlertFor(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"invalid input", &audio.InvalidInputError{Channels: 0}, "Invalid Input"},
		{"start", &audio.EngineStartError{Err: audio.ErrNotBuilt}, "Audio Engine Failed to Start"},
		{"wrapped start", fmt.Errorf("retry restart: %w", &audio.EngineStartError{Err: errors.New("x")}), "Audio Engine Failed to Start"},
		{"other", errors.New("boom"), "Audio Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := alertFor(tt.err)
			assert.Equal(t, tt.title, a.Title)
			assert.True(t, a.Retryable)
			assert.NotEmpty(t, a.Message)
		})
	}
	assert.False(t, IsRetryable(errors.New("boom")))
}
