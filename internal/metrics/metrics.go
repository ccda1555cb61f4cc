package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Processing outcome labels.
const (
	OutcomeAck         = "ack"
	OutcomeNack        = "nack"
	OutcomeQuarantined = "quarantined"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	EventsPublished    *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	ProcessingLatency  *prometheus.HistogramVec
	AccountsRegistered prometheus.Counter
	EnumerationRuns    prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct. Callers pass a fresh registry so
// tests stay isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_events_published_total",
			Help: "Total number of events published, by topic.",
		}, []string{"topic"}),

		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_messages_processed_total",
			Help: "Total number of queue messages handled, by queue and outcome.",
		}, []string{"queue", "outcome"}),

		ProcessingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_message_processing_seconds",
			Help:    "Handler latency from receive to ack or nack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),

		AccountsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_accounts_registered_total",
			Help: "Total number of accounts registered through the API.",
		}),

		EnumerationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_enumeration_runs_total",
			Help: "Total number of account enumeration sweeps started.",
		}),
	}

	reg.MustRegister(
		m.EventsPublished,
		m.MessagesProcessed,
		m.ProcessingLatency,
		m.AccountsRegistered,
		m.EnumerationRuns,
	)

	return m
}

// ObserveProcessed records one handled message with its outcome and latency.
func (m *Metrics) ObserveProcessed(queue, outcome string, latency time.Duration) {
	m.MessagesProcessed.WithLabelValues(queue, outcome).Inc()
	m.ProcessingLatency.WithLabelValues(queue).Observe(latency.Seconds())
}

// Nop returns a Metrics backed by a throwaway registry for callers that do
// not export metrics, such as tests and the quarantine CLI.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
