package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the delegate subsystem.
type Metrics struct {
	registry          *prometheus.Registry
	DelegateRuns      *prometheus.CounterVec
	DelegateDuration  *prometheus.HistogramVec
	SessionEvents     *prometheus.CounterVec
	ApprovalDecisions *prometheus.CounterVec
	InstallOps        *prometheus.CounterVec
	ActiveSession     *prometheus.GaugeVec
	TransportErrs     *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with delegate collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faepi_delegate_runs_total",
		Help: "Delegated Pi tasks by outcome",
	}, []string{"outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faepi_delegate_duration_seconds",
		Help:    "Delegated task duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"outcome"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faepi_session_events_total",
		Help: "Pi RPC events received by type",
	}, []string{"type"})

	approvals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faepi_approval_decisions_total",
		Help: "Approval gate outcomes",
	}, []string{"decision"})

	installs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faepi_install_operations_total",
		Help: "Binary manager operations by result",
	}, []string{"operation", "result"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "faepi_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faepi_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	reg.MustRegister(runs, durs, events, approvals, installs, active, trErrors)

	return &Metrics{
		registry:          reg,
		DelegateRuns:      runs,
		DelegateDuration:  durs,
		SessionEvents:     events,
		ApprovalDecisions: approvals,
		InstallOps:        installs,
		ActiveSession:     active,
		TransportErrs:     trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDelegateRun records one delegated task with its outcome label.
func (m *Metrics) RecordDelegateRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.DelegateRuns.WithLabelValues(outcome).Inc()
	m.DelegateDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSessionEvent counts one received RPC event by type.
func (m *Metrics) RecordSessionEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.SessionEvents.WithLabelValues(eventType).Inc()
}

// RecordApprovalDecision counts one gate outcome (approved/denied/timeout/closed).
func (m *Metrics) RecordApprovalDecision(decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisions.WithLabelValues(decision).Inc()
}

// RecordInstallOp counts one binary manager operation.
func (m *Metrics) RecordInstallOp(operation, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.InstallOps.WithLabelValues(operation, result).Inc()
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	if transport == "" {
		transport = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.TransportErrs.WithLabelValues(transport, reason).Inc()
}
