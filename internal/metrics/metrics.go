// ABOUTME: Prometheus collectors for sessions, coordinator turns, polls, RPCs and sends
// ABOUTME: Registered on a dedicated registry; methods are no-ops on a nil *Metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a room.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	PollsTotal *prometheus.CounterVec

	RPCTotal *prometheus.CounterVec

	SendFailures *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "huddle"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of participant sessions currently active",
	})

	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Participant session lifecycle outcomes",
	}, []string{"outcome"})

	turnsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coordinator_turns_total",
		Help:      "Coordinator turns by outcome",
	}, []string{"outcome"})

	turnDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "coordinator_turn_duration_seconds",
		Help:      "Coordinator turn duration in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	pollsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_finalized_total",
		Help:      "Polls finalized by reason",
	}, []string{"reason"})

	rpcTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "RPC requests by method and outcome",
	}, []string{"method", "outcome"})

	sendFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Outbound topic sends that failed",
	}, []string{"topic"})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		turnsTotal,
		turnDuration,
		pollsTotal,
		rpcTotal,
		sendFailures,
	)

	return &Metrics{
		registry:       registry,
		SessionsActive: sessionsActive,
		SessionsTotal:  sessionsTotal,
		TurnsTotal:     turnsTotal,
		TurnDuration:   turnDuration,
		PollsTotal:     pollsTotal,
		RPCTotal:       rpcTotal,
		SendFailures:   sendFailures,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStarted counts a session that reached Active.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues("started").Inc()
}

// RecordSessionClosed counts a previously active session that closed.
func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues("closed").Inc()
}

// RecordSessionOutcome counts a lifecycle outcome that never reached Active
// ("cancelled", "failed").
func (m *Metrics) RecordSessionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordTurn counts a coordinator turn and its duration.
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordPoll counts a finalized poll.
func (m *Metrics) RecordPoll(reason string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(reason).Inc()
}

// RecordRPC counts an RPC request.
func (m *Metrics) RecordRPC(method, outcome string) {
	if m == nil {
		return
	}
	m.RPCTotal.WithLabelValues(method, outcome).Inc()
}

// RecordSendFailure counts a failed outbound send.
func (m *Metrics) RecordSendFailure(topic string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(topic).Inc()
}
