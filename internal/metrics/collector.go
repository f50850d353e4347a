package agentmetrics

import (
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "tunnel_agent"
	subsystem = "control"
)

// Label names for control-plane metrics.
const (
	labelCandidate = "candidate"
	labelOutcome   = "outcome"
)

// Register outcome label values, one per server response the register
// phase distinguishes plus the two local failure modes.
const (
	OutcomeRegistered       = "registered"
	OutcomeQueued           = "queued"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeTimeout          = "timeout"
	OutcomeSignError        = "sign_error"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Control-Plane Metrics
// -------------------------------------------------------------------------

// Collector holds all tunnel-agent control-plane Prometheus metrics.
//
// Metrics are designed for fleet monitoring:
//   - Probe counters track which candidates are reachable.
//   - Register counters record setup outcomes for alerting on credential
//     problems (invalid_signature / unauthorized spikes).
//   - The setup duration histogram tracks end-to-end connect latency.
//   - The session expiry gauge drives re-registration alerting.
type Collector struct {
	// ProbeAttempts counts Ping probes sent, labeled by candidate endpoint.
	ProbeAttempts *prometheus.CounterVec

	// ProbeSuccesses counts valid Pongs received, labeled by candidate.
	ProbeSuccesses *prometheus.CounterVec

	// RegisterAttempts counts register rounds sent to the control server.
	RegisterAttempts prometheus.Counter

	// RegisterOutcomes counts register results by outcome label.
	RegisterOutcomes *prometheus.CounterVec

	// SetupDuration observes the end-to-end probe+sign+register latency
	// in seconds for each completed (successful or failed) setup run.
	SetupDuration prometheus.Histogram

	// SessionExpiresAt exposes the current session's expiry as a Unix
	// timestamp in seconds, 0 when no session is established.
	SessionExpiresAt prometheus.Gauge
}

// NewCollector creates a Collector with all control-plane metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "tunnel_agent_control_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ProbeAttempts,
		c.ProbeSuccesses,
		c.RegisterAttempts,
		c.RegisterOutcomes,
		c.SetupDuration,
		c.SessionExpiresAt,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	candidateLabels := []string{labelCandidate}

	return &Collector{
		ProbeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probe_attempts_total",
			Help:      "Total Ping probes sent to tunnel server candidates.",
		}, candidateLabels),

		ProbeSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probe_successes_total",
			Help:      "Total valid Pong replies received from tunnel server candidates.",
		}, candidateLabels),

		RegisterAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "register_attempts_total",
			Help:      "Total registration rounds sent to the control server.",
		}),

		RegisterOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "register_outcomes_total",
			Help:      "Total registration outcomes by result.",
		}, []string{labelOutcome}),

		SetupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "setup_duration_seconds",
			Help:      "End-to-end probe/sign/register setup latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		SessionExpiresAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_expires_at_seconds",
			Help:      "Unix timestamp at which the current control session expires, 0 when not connected.",
		}),
	}
}

// -------------------------------------------------------------------------
// Probing
// -------------------------------------------------------------------------

// IncProbeAttempt increments the probe attempt counter for a candidate.
// Called on each Ping sent during the probing phase.
func (c *Collector) IncProbeAttempt(candidate netip.AddrPort) {
	c.ProbeAttempts.WithLabelValues(candidate.String()).Inc()
}

// IncProbeSuccess increments the probe success counter for a candidate.
// Called when a valid Pong is received from the candidate.
func (c *Collector) IncProbeSuccess(candidate netip.AddrPort) {
	c.ProbeSuccesses.WithLabelValues(candidate.String()).Inc()
}

// -------------------------------------------------------------------------
// Registration
// -------------------------------------------------------------------------

// IncRegisterAttempt increments the register round counter.
// Called on each signed-blob send during the registering phase.
func (c *Collector) IncRegisterAttempt() {
	c.RegisterAttempts.Inc()
}

// RecordRegisterOutcome increments the outcome counter for a register
// result. Use the Outcome* constants as values.
func (c *Collector) RecordRegisterOutcome(outcome string) {
	c.RegisterOutcomes.WithLabelValues(outcome).Inc()
}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// ObserveSetupDuration records one completed setup run's latency in seconds.
func (c *Collector) ObserveSetupDuration(seconds float64) {
	c.SetupDuration.Observe(seconds)
}

// SetSessionExpiry sets the current session expiry (Unix seconds).
// Pass 0 when the session is lost or not yet established.
func (c *Collector) SetSessionExpiry(unixSeconds float64) {
	c.SessionExpiresAt.Set(unixSeconds)
}
