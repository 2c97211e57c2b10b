// SPDX-License-Identifier: MIT

// Package engine runs the capture and match pipeline on a single
// goroutine: it owns the stabilizer, reacts to graph states, match
// outcomes and route changes, and performs restarts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tunetable/internal/audio"
	applog "tunetable/internal/log"
	"tunetable/internal/match"
	"tunetable/internal/metrics"
	"tunetable/internal/nowplaying"
	"tunetable/internal/route"
)

var logger = applog.For("Engine")

// Graph is the capture graph lifecycle. *audio.Graph implements it.
type Graph interface {
	Setup() error
	Start() error
	Stop() error
	Reset() error
	Subscribe() <-chan audio.State
	Generation() uint64
}

// Dispatcher sends frames to the matcher. *match.Dispatcher implements it.
type Dispatcher interface {
	Submit(epoch uint64, frame audio.Frame, captured time.Duration) bool
	CoolDown()
	Outcomes() <-chan match.Outcome
}

// Publisher receives stabilized changes. *nowplaying.Publisher implements it.
type Publisher interface {
	PublishItem(item *nowplaying.Item, offset time.Duration, capturedAt time.Time)
	SetSilence(silent bool) bool
}

// Options tunes the coordinator.
type Options struct {
	ClearOnSilence bool // Clear the shown track on silence or stop
	Metrics        *metrics.Metrics
}

// Restart triggers.
const (
	triggerStartup = "startup"
	triggerRoute   = "route"
	triggerRetry   = "retry"
)

// Coordinator serializes every state change of the pipeline.
type Coordinator struct {
	graph      Graph
	dispatcher Dispatcher
	stabilizer *match.Stabilizer
	publisher  Publisher
	opts       Options
	metrics    *metrics.Metrics

	epoch  uint64
	retry  chan chan error
	alerts chan Alert
}

// New returns a coordinator. It takes ownership of stabilizer.
func New(graph Graph, dispatcher Dispatcher, stabilizer *match.Stabilizer, publisher Publisher, opts Options) *Coordinator {
	return &Coordinator{
		graph:      graph,
		dispatcher: dispatcher,
		stabilizer: stabilizer,
		publisher:  publisher,
		opts:       opts,
		metrics:    opts.Metrics,
		retry:      make(chan chan error),
		alerts:     make(chan Alert, 8),
	}
}

// Alerts delivers user-facing failures.
func (c *Coordinator) Alerts() <-chan Alert {
	return c.alerts
}

// Retry runs the full restart sequence on the coordinator goroutine and
// returns its result. It blocks until Run picks the request up.
func (c *Coordinator) Retry(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.retry <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the graph and processes events until ctx is done. routes may
// be nil.
func (c *Coordinator) Run(ctx context.Context, routes <-chan route.Event) error {
	states := c.graph.Subscribe()
	outcomes := c.dispatcher.Outcomes()

	if err := c.restart(triggerStartup); err != nil {
		c.raise(err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.handleState(st)

		case o, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			c.handleOutcome(o)

		case ev, ok := <-routes:
			if !ok {
				routes = nil
				continue
			}
			c.handleRoute(ev)

		case reply := <-c.retry:
			logger.Infof("retry requested")
			err := c.restart(triggerRetry)
			if err != nil {
				c.raise(err)
			}
			reply <- err
		}
	}
}

func (c *Coordinator) handleState(st audio.State) {
	switch st.Kind {
	case audio.StateMatching:
		if st.Generation != c.epoch {
			return
		}
		c.publisher.SetSilence(false)
		c.dispatcher.Submit(c.epoch, st.Frame, st.Time)

	case audio.StateSilenceDetected:
		if st.Generation != c.epoch {
			return
		}
		c.publisher.SetSilence(true)
		if c.opts.ClearOnSilence {
			c.clear()
		}

	case audio.StateStopped:
		// A stopped engine hears nothing; silence is only reported while
		// running.
		c.publisher.SetSilence(false)
		if c.opts.ClearOnSilence {
			c.clear()
		}

	case audio.StateInvalidInput:
		logger.Warnf("input reports no channels")
	}
}

func (c *Coordinator) handleOutcome(o match.Outcome) {
	if o.Epoch != c.epoch {
		c.metrics.StaleOutcome()
		logger.Debugf("dropping %s outcome from epoch %d (now %d)", o.Kind, o.Epoch, c.epoch)
		return
	}

	item, changed := c.stabilizer.Apply(o)
	if !changed {
		return
	}

	var offset time.Duration
	if o.Candidate != nil {
		offset = o.Candidate.Offset
	}
	c.publisher.PublishItem(item, offset, o.CapturedAt)
	if item != nil {
		c.dispatcher.CoolDown()
	}
}

func (c *Coordinator) handleRoute(ev route.Event) {
	logger.Infof("route changed: %s", ev)
	if err := c.restart(triggerRoute); err != nil {
		c.raise(&RouteChangeRecoveryFailure{Event: ev, Err: err})
	}
}

// restart clears the shown track, then runs stop, reset, setup and start.
// Outcomes of requests issued before the reset carry an older epoch and
// are dropped when they arrive.
func (c *Coordinator) restart(trigger string) error {
	c.clear()

	if err := c.graph.Stop(); err != nil {
		logger.Warnf("stop: %v", err)
	}
	if err := c.graph.Reset(); err != nil {
		logger.Warnf("reset: %v", err)
	}
	c.epoch = c.graph.Generation()

	err := c.graph.Setup()
	if err == nil {
		err = c.graph.Start()
	}
	c.metrics.Restarted(trigger, err != nil)

	if err != nil {
		return fmt.Errorf("%s restart: %w", trigger, err)
	}
	logger.Infof("listening (%s, epoch %d)", trigger, c.epoch)
	return nil
}

// clear forgets the stabilizer state and publishes None if a track was
// shown.
func (c *Coordinator) clear() {
	if c.stabilizer.Reset() {
		c.publisher.PublishItem(nil, 0, time.Time{})
	}
}

func (c *Coordinator) raise(err error) {
	a := alertFor(err)
	logger.Errorf("%s: %v", a.Title, err)
	select {
	case c.alerts <- a:
	default:
		logger.Warnf("alert queue full, dropping %q", a.Title)
	}
}

// IsRetryable reports whether err came from a failure the user can retry.
func IsRetryable(err error) bool {
	var invalid *audio.InvalidInputError
	var start *audio.EngineStartError
	var recovery *RouteChangeRecoveryFailure
	return errors.As(err, &invalid) || errors.As(err, &start) || errors.As(err, &recovery)
}
