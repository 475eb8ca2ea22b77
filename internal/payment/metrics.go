package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCheckouts       = "storefront_checkouts_total"
	MetricInitializations = "storefront_payment_initializations_total"
	MetricWebhookEvents   = "storefront_webhook_events_total"
	MetricTransitions     = "storefront_intent_transitions_total"
)

// Metrics contains Prometheus metrics for the payment pipeline.
// All operations are thread-safe.
type Metrics struct {
	checkouts       *prometheus.CounterVec
	initializations *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCheckouts,
			Help: "Total number of checkout attempts by result",
		}, []string{"result"}),
		initializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricInitializations,
			Help: "Total number of payment initializations by method",
		}, []string{"method"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricWebhookEvents,
			Help: "Total number of inbound gateway events by gateway and outcome",
		}, []string{"gateway", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTransitions,
			Help: "Total number of payment intent status transitions by target status",
		}, []string{"status"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.checkouts,
		m.initializations,
		m.webhookEvents,
		m.transitions,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCheckouts increments the checkout counter for the given result.
func (m *Metrics) IncCheckouts(result string) {
	m.checkouts.WithLabelValues(result).Inc()
}

// IncInitializations increments the initialization counter for a method.
func (m *Metrics) IncInitializations(method string) {
	m.initializations.WithLabelValues(method).Inc()
}

// IncWebhookEvents increments the gateway event counter.
func (m *Metrics) IncWebhookEvents(gateway, outcome string) {
	m.webhookEvents.WithLabelValues(gateway, outcome).Inc()
}

// IncTransitions increments the transition counter for a target status.
func (m *Metrics) IncTransitions(status string) {
	m.transitions.WithLabelValues(status).Inc()
}
