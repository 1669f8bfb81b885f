package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WizardMetrics exposes counters/histograms for wizard flows.
type WizardMetrics struct {
	transitions        *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	notifyLatency      *prometheus.HistogramVec
	storageErrors      *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

func NewWizardMetrics(reg prometheus.Registerer) *WizardMetrics {
	m := &WizardMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proposal_wizard",
			Subsystem: "wizard",
			Name:      "step_transitions_total",
			Help:      "Step transitions by origin, destination and whether they were forced",
		}, []string{"from", "to", "forced"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proposal_wizard",
			Subsystem: "wizard",
			Name:      "validation_failures_total",
			Help:      "Rejected fields by step and field",
		}, []string{"step", "field"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proposal_wizard",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Outbound notifications by kind and status",
		}, []string{"kind", "status"}),
		notifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proposal_wizard",
			Subsystem: "notify",
			Name:      "latency_seconds",
			Help:      "Latency of outbound notifications",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proposal_wizard",
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Storage adapter failures by operation",
		}, []string{"op"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "proposal_wizard",
			Subsystem: "session",
			Name:      "active",
			Help:      "Wizard controllers currently held in memory",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.validationFailures, m.notifications, m.notifyLatency, m.storageErrors, m.activeSessions)
	return m
}

func (m *WizardMetrics) ObserveTransition(from, to string, forced bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, strconv.FormatBool(forced)).Inc()
}

func (m *WizardMetrics) ObserveValidationFailure(step, field string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(step, field).Inc()
}

// ObserveNotification records one send attempt of the given kind.
func (m *WizardMetrics) ObserveNotification(kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notifications.WithLabelValues(kind, status).Inc()
	m.notifyLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *WizardMetrics) ObserveStorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}

func (m *WizardMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
