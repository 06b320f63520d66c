// Package pbmetrics exposes the Prometheus metrics for the portal box
// controller: session state transitions, backend request outcomes, power
// state, and notifier activity.
package pbmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "portalbox"
	subsystem = "controller"
)

const (
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelMode      = "mode"
	labelOutcome   = "outcome"
)

// Collector holds all portal box Prometheus metrics.
//
//   - PowerState tracks whether the relay is currently energized.
//   - StateTransitions counts FSM state changes for alerting on flapping.
//   - BackendRequests counts backend API calls per mode and outcome.
//   - NotificationsSent counts emails sent to users who left a card behind.
//   - CardReads counts raw reader events, independent of FSM interpretation.
type Collector struct {
	PowerState        prometheus.Gauge
	StateTransitions  *prometheus.CounterVec
	BackendRequests   *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	CardReads         prometheus.Counter
}

// NewCollector creates a Collector with all portal box metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PowerState,
		c.StateTransitions,
		c.BackendRequests,
		c.NotificationsSent,
		c.CardReads,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		PowerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "power_state",
			Help:      "1 if the equipment relay is currently energized, 0 otherwise.",
		}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total FSM state transitions.",
		}, []string{labelFromState, labelToState}),

		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_requests_total",
			Help:      "Total backend API calls by mode and outcome.",
		}, []string{labelMode, labelOutcome}),

		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_sent_total",
			Help:      "Total left-card email notifications sent, by outcome.",
		}, []string{labelOutcome}),

		CardReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "card_reads_total",
			Help:      "Total raw card-present reads from the RFID reader.",
		}),
	}
}

// SetPowerState updates the power gauge. energized reports whether the
// relay is currently closed.
func (c *Collector) SetPowerState(energized bool) {
	if energized {
		c.PowerState.Set(1)
	} else {
		c.PowerState.Set(0)
	}
}

// RecordStateTransition increments the transition counter for a from->to
// state change. Called once per tick in which the FSM state changed.
func (c *Collector) RecordStateTransition(from, to string) {
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordBackendRequest increments the backend request counter for the given
// API mode and outcome label (fsm.Session passes "ok", or "granted"/"denied"
// for log_access_attempt).
func (c *Collector) RecordBackendRequest(mode, outcome string) {
	c.BackendRequests.WithLabelValues(mode, outcome).Inc()
}

// RecordNotification increments the notification counter for the given
// outcome ("sent", "failed", "lookup_failed").
func (c *Collector) RecordNotification(outcome string) {
	c.NotificationsSent.WithLabelValues(outcome).Inc()
}

// IncCardReads increments the raw card-read counter.
func (c *Collector) IncCardReads() {
	c.CardReads.Inc()
}
