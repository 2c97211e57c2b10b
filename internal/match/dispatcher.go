package match

import (
	"context"
	"sync"
	"time"

	"tunetable/internal/audio"
	applog "tunetable/internal/log"
	"tunetable/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var logger = applog.For("Dispatcher")

// DispatcherOptions configures throttling. The zero value dispatches every
// frame with no limit, no cool-down and no timeout.
type DispatcherOptions struct {
	Cooldown    time.Duration // Pause after a confirmed match
	MaxInFlight int           // 0 for unbounded
	Timeout     time.Duration // Per-request, 0 for none
	Buffer      int           // Outcome channel capacity
	Metrics     *metrics.Metrics
}

// Dispatcher runs one goroutine per submitted frame and delivers outcomes,
// in completion order, on a single channel.
type Dispatcher struct {
	matcher Matcher
	opts    DispatcherOptions
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	cooldownUntil time.Time

	outcomes chan Outcome
}

// NewDispatcher returns a dispatcher whose requests are cancelled when ctx
// is done or Close is called.
func NewDispatcher(ctx context.Context, matcher Matcher, opts DispatcherOptions) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		matcher:  matcher,
		opts:     opts,
		metrics:  opts.Metrics,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		outcomes: make(chan Outcome, opts.Buffer),
	}
	if opts.MaxInFlight > 0 {
		d.sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}
	return d
}

// Outcomes delivers one Outcome per accepted submission. It is closed by
// Close.
func (d *Dispatcher) Outcomes() <-chan Outcome {
	return d.outcomes
}

// Submit starts matching frame, which must be owned by the caller, and
// reports whether it was accepted. It never blocks.
func (d *Dispatcher) Submit(epoch uint64, frame audio.Frame, captured time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if d.now().Before(d.cooldownUntil) {
		d.metrics.MatchSkipped("cooldown")
		return false
	}
	if d.sem != nil && !d.sem.TryAcquire(1) {
		d.metrics.MatchSkipped("in_flight")
		return false
	}

	req := Request{
		ID:         uuid.New(),
		Epoch:      epoch,
		Frame:      frame,
		Time:       captured,
		CapturedAt: d.now().Add(-frame.Duration()),
	}
	d.metrics.MatchDispatched()
	d.wg.Add(1)
	go d.run(req)
	return true
}

// CoolDown suspends submissions for the configured window. It does
// nothing when no cool-down is configured.
func (d *Dispatcher) CoolDown() {
	if d.opts.Cooldown <= 0 {
		return
	}
	d.mu.Lock()
	d.cooldownUntil = d.now().Add(d.opts.Cooldown)
	d.mu.Unlock()
	logger.Debugf("cooling down for %s", d.opts.Cooldown)
}

// Close cancels in-flight requests, waits for them and closes Outcomes.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	close(d.outcomes)
}

func (d *Dispatcher) run(req Request) {
	defer d.wg.Done()
	if d.sem != nil {
		defer d.sem.Release(1)
	}

	ctx := d.ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	candidate, err := d.matcher.Match(ctx, req)
	out := Outcome{
		RequestID:  req.ID,
		Epoch:      req.Epoch,
		Captured:   req.Time,
		CapturedAt: req.CapturedAt,
		Latency:    time.Since(start),
	}

	label := metrics.OutcomeFound
	switch {
	case err != nil:
		out.Kind = Failed
		out.Err = &TransientFailure{RequestID: req.ID, Err: err}
		label = metrics.OutcomeError
		logger.Debugf("request %s failed: %v", req.ID, err)
	case candidate == nil:
		out.Kind = NotFound
		label = metrics.OutcomeNotFound
	default:
		out.Kind = Found
		out.Candidate = candidate
	}
	d.metrics.MatchCompleted(label, out.Latency.Seconds())

	select {
	case d.outcomes <- out:
	case <-d.ctx.Done():
	}
}
