// Package metrics exposes Prometheus collectors for the capture and match
// engine. A nil *Metrics is valid and records nothing, so components can be
// constructed without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics holds all engine collectors.
type Metrics struct {
	registry *prometheus.Registry

	framesTotal        *prometheus.CounterVec
	stateEventsDropped prometheus.Counter
	matchRequests      prometheus.Counter
	matchSkipped       *prometheus.CounterVec
	matchInFlight      prometheus.Gauge
	matchOutcomes      *prometheus.CounterVec
	matchLatency       prometheus.Histogram
	staleOutcomes      prometheus.Counter
	itemChanges        *prometheus.CounterVec
	restarts           *prometheus.CounterVec
	restartFailures    prometheus.Counter
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunetable_frames_total",
			Help: "Analysis frames processed by the silence gate",
		}, []string{"gate"}),
		stateEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunetable_state_events_dropped_total",
			Help: "Engine state events dropped because the subscriber was not keeping up",
		}),
		matchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunetable_match_requests_total",
			Help: "Match requests issued to the fingerprint service",
		}),
		matchSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunetable_match_skipped_total",
			Help: "Active frames not dispatched",
		}, []string{"reason"}),
		matchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunetable_match_in_flight",
			Help: "Match requests currently awaiting a response",
		}),
		matchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunetable_match_outcomes_total",
			Help: "Match outcomes received, by kind",
		}, []string{"outcome"}),
		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunetable_match_duration_seconds",
			Help:    "Time from dispatch to outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		staleOutcomes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunetable_match_stale_outcomes_total",
			Help: "Outcomes discarded because they belong to a previous session",
		}),
		itemChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunetable_now_playing_changes_total",
			Help: "Now playing changes emitted by the stabilizer",
		}, []string{"kind"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunetable_engine_restarts_total",
			Help: "Full stop/reset/setup/start cycles, by trigger",
		}, []string{"trigger"}),
		restartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunetable_engine_restart_failures_total",
			Help: "Restart cycles that ended in an error",
		}),
	}

	for _, c := range m.collectors() {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesTotal, m.stateEventsDropped, m.matchRequests, m.matchSkipped,
		m.matchInFlight, m.matchOutcomes, m.matchLatency, m.staleOutcomes,
		m.itemChanges, m.restarts, m.restartFailures,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFrame counts a gated frame.
func (m *Metrics) ObserveFrame(silent bool) {
	if m == nil {
		return
	}
	if silent {
		m.framesTotal.WithLabelValues("silent").Inc()
		return
	}
	m.framesTotal.WithLabelValues("active").Inc()
}

// StateEventDropped counts a state event lost to a full subscriber channel.
func (m *Metrics) StateEventDropped() {
	if m != nil {
		m.stateEventsDropped.Inc()
	}
}

// MatchDispatched counts a request and raises the in-flight gauge.
func (m *Metrics) MatchDispatched() {
	if m != nil {
		m.matchRequests.Inc()
		m.matchInFlight.Inc()
	}
}

// MatchSkipped counts an active frame that was not sent.
func (m *Metrics) MatchSkipped(reason string) {
	if m != nil {
		m.matchSkipped.WithLabelValues(reason).Inc()
	}
}

// MatchCompleted lowers the in-flight gauge and records the outcome.
func (m *Metrics) MatchCompleted(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.matchInFlight.Dec()
	m.matchOutcomes.WithLabelValues(outcome).Inc()
	m.matchLatency.Observe(seconds)
}

// StaleOutcome counts an outcome dropped by epoch.
func (m *Metrics) StaleOutcome() {
	if m != nil {
		m.staleOutcomes.Inc()
	}
}

// ItemChanged counts a now-playing emission; cleared is true for None.
func (m *Metrics) ItemChanged(cleared bool) {
	if m == nil {
		return
	}
	if cleared {
		m.itemChanges.WithLabelValues("cleared").Inc()
		return
	}
	m.itemChanges.WithLabelValues("confirmed").Inc()
}

// Restarted counts a restart cycle and whether it failed.
func (m *Metrics) Restarted(trigger string, failed bool) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(trigger).Inc()
	if failed {
		m.restartFailures.Inc()
	}
}
