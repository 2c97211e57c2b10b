// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	applog "tunetable/internal/log"
	"tunetable/internal/metrics"
)

var logger = applog.For("Graph")

// Lifecycle is the build state of the capture graph.
type Lifecycle uint32

const (
	LifecycleUninitialized Lifecycle = iota
	LifecycleBuilt
	LifecycleRunning
	LifecycleTearingDown
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleUninitialized:
		return "uninitialized"
	case LifecycleBuilt:
		return "built"
	case LifecycleRunning:
		return "running"
	case LifecycleTearingDown:
		return "tearing-down"
	default:
		return "unknown"
	}
}

// FrameSink receives every captured buffer on the audio thread. It must not
// block or retain in.
type FrameSink interface {
	WriteFrame(in [][]float32)
}

// GraphOptions configures a Graph.
type GraphOptions struct {
	FramesPerBuffer int     // Samples per analysis frame
	OutputChannels  int     // Pass-through channels, 0 disables the output node
	FloorDecibels   float64 // Level meter floor
	Threshold       float64 // Silence gate threshold
	StateBuffer     int     // Capacity of the state channel
	Metrics         *metrics.Metrics
}

// Graph owns the capture topology: the input feeds an analysis tap (level
// meter and silence gate) and, optionally, a pass-through output.
//
// Control methods are serialized by a mutex. The audio callback only reads
// atomics, so Reset can remove the tap while the stream is still draining.
type Graph struct {
	backend Backend
	opts    GraphOptions
	gate    *Gate
	metrics *metrics.Metrics

	mu        sync.Mutex
	stream    Stream
	input     InputInfo
	attempted bool // Setup ran since the last reset

	lifecycle   atomic.Uint32
	current     atomic.Uint32 // StateKind
	delivered   atomic.Uint32 // StateKind last accepted by the stream
	generation  atomic.Uint64
	tap         atomic.Pointer[analysisTap]
	passThrough atomic.Bool
	sink        atomic.Pointer[sinkRef]

	states stateStream
}

type sinkRef struct{ FrameSink }

// NewGraph returns an uninitialized graph over backend.
func NewGraph(backend Backend, opts GraphOptions) *Graph {
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 8192
	}
	if opts.FloorDecibels == 0 {
		opts.FloorDecibels = DefaultFloorDecibels
	}
	if opts.StateBuffer <= 0 {
		opts.StateBuffer = 16
	}

	g := &Graph{
		backend: backend,
		opts:    opts,
		gate:    NewGate(opts.Threshold),
		metrics: opts.Metrics,
	}
	g.states.dropped = opts.Metrics.StateEventDropped
	return g
}

// Subscribe returns the state stream. Only one subscriber is supported:
// a second call closes the channel returned by the first.
func (g *Graph) Subscribe() <-chan State {
	return g.states.subscribe(g.opts.StateBuffer)
}

// Setup builds the graph at the current input's native format. It is a
// no-op when the graph is already built. A zero-channel input emits
// StateInvalidInput and returns an *InvalidInputError without building.
func (g *Graph) Setup() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.Lifecycle() {
	case LifecycleBuilt, LifecycleRunning:
		return nil
	}
	g.attempted = true

	info, err := g.backend.InputInfo()
	if err != nil {
		g.emit(State{Kind: StateInvalidInput})
		return &InvalidInputError{Err: err}
	}
	if info.Format.Channels < 1 {
		logger.Warnf("input %q reports %d channels", info.Name, info.Format.Channels)
		g.emit(State{Kind: StateInvalidInput})
		return &InvalidInputError{Device: info.Name, Channels: info.Format.Channels}
	}

	cfg := StreamConfig{
		Input:           info.Format,
		OutputChannels:  g.opts.OutputChannels,
		FramesPerBuffer: g.opts.FramesPerBuffer,
	}
	stream, err := g.backend.OpenStream(cfg, g.process)
	if err != nil {
		return &EngineStartError{Device: info.Name, Err: err}
	}

	g.stream = stream
	g.input = info
	tap := newAnalysisTap(info.Format, g.opts.FramesPerBuffer, g.opts.FloorDecibels, g.gate, g.metrics, g.emit)
	tap.generation = g.generation.Load()
	g.tap.Store(tap)
	g.passThrough.Store(g.opts.OutputChannels > 0)
	g.lifecycle.Store(uint32(LifecycleBuilt))

	logger.Infof("built on %q: %.0f Hz, %d channels, %d frames per buffer",
		info.Name, info.Format.SampleRate, info.Format.Channels, g.opts.FramesPerBuffer)
	return nil
}

// Start runs the stream. It is a no-op when already running.
func (g *Graph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.Lifecycle() {
	case LifecycleRunning:
		return nil
	case LifecycleBuilt:
	default:
		return &EngineStartError{Device: g.input.Name, Err: ErrNotBuilt}
	}

	if err := g.stream.Start(); err != nil {
		return &EngineStartError{Device: g.input.Name, Err: err}
	}
	g.lifecycle.Store(uint32(LifecycleRunning))
	logger.Debugf("started")
	return nil
}

// Stop halts the stream, keeping the graph built. It is a no-op unless
// running.
func (g *Graph) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Lifecycle() != LifecycleRunning {
		return nil
	}

	err := g.stream.Stop()
	g.lifecycle.Store(uint32(LifecycleBuilt))
	g.emit(State{Kind: StateStopped})
	if err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	logger.Debugf("stopped")
	return nil
}

// Reset tears the graph down in dependency order (stop, remove tap, close
// the stream, detach the output) and then resets the backend. Every step is
// guarded, so a partially built graph is safe to reset. From an untouched
// graph it only clears flags. Errors from individual steps are joined and
// the graph always ends uninitialized.
func (g *Graph) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.generation.Add(1)

	prev := g.Lifecycle()
	if prev == LifecycleUninitialized && !g.attempted {
		g.passThrough.Store(false)
		return nil
	}
	g.lifecycle.Store(uint32(LifecycleTearingDown))

	var errs []error
	if prev == LifecycleRunning && g.stream != nil {
		if err := g.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
	}
	g.tap.Store(nil)
	if g.stream != nil {
		if err := g.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		g.stream = nil
	}
	g.passThrough.Store(false)
	if err := g.backend.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("backend reset: %w", err))
	}

	g.input = InputInfo{}
	g.attempted = false
	g.lifecycle.Store(uint32(LifecycleUninitialized))
	g.emit(State{Kind: StateStopped})

	logger.Debugf("reset from %s (generation %d)", prev, g.generation.Load())
	return errors.Join(errs...)
}

// Close resets the graph and closes the state stream.
func (g *Graph) Close() error {
	err := g.Reset()
	g.states.close()
	return err
}

// SetSink attaches s to the capture callback. nil detaches.
func (g *Graph) SetSink(s FrameSink) {
	if s == nil {
		g.sink.Store(nil)
		return
	}
	g.sink.Store(&sinkRef{s})
}

// Lifecycle returns the build state.
func (g *Graph) Lifecycle() Lifecycle {
	return Lifecycle(g.lifecycle.Load())
}

// State returns the kind of the last emitted state.
func (g *Graph) State() StateKind {
	return StateKind(g.current.Load())
}

// Generation increases on every Reset. Work started under an older
// generation belongs to a previous session.
func (g *Graph) Generation() uint64 {
	return g.generation.Load()
}

// Input returns the input the graph was built on.
func (g *Graph) Input() InputInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.input
}

// Gate returns the silence gate, whose threshold may be adjusted live.
func (g *Graph) Gate() *Gate {
	return g.gate
}

// emit records st as current and publishes it. Matching is published for
// every frame since each one carries audio; other kinds only when they
// differ from the last kind the subscriber was handed, so a transition
// that could not be queued is retried on the next frame.
func (g *Graph) emit(st State) {
	if st.Kind != StateMatching && st.Kind != StateSilenceDetected {
		st.Generation = g.generation.Load()
	}
	g.current.Store(uint32(st.Kind))
	if st.Kind != StateMatching && StateKind(g.delivered.Load()) == st.Kind {
		return
	}
	if g.states.publish(st) {
		g.delivered.Store(uint32(st.Kind))
	}
}

// process runs on the audio thread.
func (g *Graph) process(in, out [][]float32, captured time.Duration) {
	if g.passThrough.Load() {
		copyThrough(out, in)
	} else {
		for _, ch := range out {
			clear(ch)
		}
	}

	if s := g.sink.Load(); s != nil {
		s.WriteFrame(in)
	}

	if tap := g.tap.Load(); tap != nil {
		tap.analyse(in, captured)
	}
}

// copyThrough fills out from in, repeating input channels when the output
// is wider (mono input to a stereo output).
func copyThrough(out, in [][]float32) {
	if len(in) == 0 {
		for _, ch := range out {
			clear(ch)
		}
		return
	}
	for i, ch := range out {
		copy(ch, in[i%len(in)])
	}
}

// analysisTap mixes each buffer down to mono, measures it and gates it.
type analysisTap struct {
	generation uint64
	format     Format
	meter      *LevelMeter
	gate       *Gate
	mono       []float32
	metrics    *metrics.Metrics
	emit       func(State)
}

func newAnalysisTap(format Format, size int, floor float64, gate *Gate, m *metrics.Metrics, emit func(State)) *analysisTap {
	return &analysisTap{
		format:  format,
		meter:   NewLevelMeter(floor, size),
		gate:    gate,
		mono:    make([]float32, size),
		metrics: m,
		emit:    emit,
	}
}

func (t *analysisTap) analyse(in [][]float32, captured time.Duration) {
	t.mono = MixDown(t.mono, in)
	level := t.meter.Level(t.mono)

	if t.gate.Silent(level) {
		t.metrics.ObserveFrame(true)
		t.emit(State{Kind: StateSilenceDetected, Time: captured, Level: level, Generation: t.generation})
		return
	}
	t.metrics.ObserveFrame(false)

	// The frame leaves the audio thread, so it gets its own copy.
	frame := Frame{
		Samples:    [][]float32{t.mono},
		SampleRate: t.format.SampleRate,
		Time:       captured,
	}
	t.emit(State{
		Kind:       StateMatching,
		Frame:      frame.Clone(),
		Time:       captured,
		Level:      level,
		Generation: t.generation,
	})
}
