package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the pipeline's Prometheus instruments. It is created from an
// explicit registry so multiple instances and tests stay isolated.
type Collector struct {
	EventsReceivedTotal *prometheus.CounterVec
	EventsOutcomeTotal  *prometheus.CounterVec
	DuplicatesTotal     *prometheus.CounterVec
	RateLimitedTotal    prometheus.Counter
	SignatureRejects    prometheus.Counter
	RetriesTotal        *prometheus.CounterVec
	DLQTotal            prometheus.Counter
	ProcessingSeconds   *prometheus.HistogramVec
	RetryBacklog        prometheus.Gauge
}

// New creates a Collector and registers its instruments on reg.
func New(reg *prometheus.Registry) *Collector {
	c := &Collector{
		EventsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mooring_events_received_total",
				Help: "Total number of webhook deliveries received, by event type.",
			},
			[]string{"event_type"},
		),
		EventsOutcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mooring_events_outcome_total",
				Help: "Total number of processed events by outcome.",
			},
			[]string{"event_type", "outcome"}, // completed, failed, failed_terminal, skipped
		),
		DuplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mooring_duplicates_total",
				Help: "Total number of duplicate deliveries absorbed by the ledger.",
			},
			[]string{"kind"}, // terminal, in_flight
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mooring_rate_limited_total",
				Help: "Total number of deliveries rejected by the rate limiter.",
			},
		),
		SignatureRejects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mooring_signature_rejects_total",
				Help: "Total number of deliveries rejected by signature verification.",
			},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mooring_retries_total",
				Help: "Total number of retry attempts dispatched, by source.",
			},
			[]string{"source"}, // sweep, replay
		),
		DLQTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mooring_dlq_total",
				Help: "Total number of exhausted entries published to the DLQ topic.",
			},
		),
		ProcessingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mooring_processing_seconds",
				Help:    "Handler dispatch duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		RetryBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mooring_retry_backlog",
				Help: "Number of failed ledger entries currently due for retry.",
			},
		),
	}

	reg.MustRegister(
		c.EventsReceivedTotal,
		c.EventsOutcomeTotal,
		c.DuplicatesTotal,
		c.RateLimitedTotal,
		c.SignatureRejects,
		c.RetriesTotal,
		c.DLQTotal,
		c.ProcessingSeconds,
		c.RetryBacklog,
	)
	return c
}

// RecordReceived increments the received counter for an event type.
func (c *Collector) RecordReceived(eventType string) {
	c.EventsReceivedTotal.WithLabelValues(eventType).Inc()
}

// RecordOutcome increments the outcome counter and observes dispatch duration.
func (c *Collector) RecordOutcome(eventType, outcome string, elapsed time.Duration) {
	c.EventsOutcomeTotal.WithLabelValues(eventType, outcome).Inc()
	c.ProcessingSeconds.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

// RecordDuplicate increments the duplicate counter.
func (c *Collector) RecordDuplicate(kind string) {
	c.DuplicatesTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimited increments the rate-limited counter.
func (c *Collector) RecordRateLimited() {
	c.RateLimitedTotal.Inc()
}

// RecordSignatureReject increments the signature rejection counter.
func (c *Collector) RecordSignatureReject() {
	c.SignatureRejects.Inc()
}

// RecordRetry increments the retry counter for a dispatch source.
func (c *Collector) RecordRetry(source string) {
	c.RetriesTotal.WithLabelValues(source).Inc()
}

// RecordDLQ increments the DLQ counter.
func (c *Collector) RecordDLQ() {
	c.DLQTotal.Inc()
}

// UpdateRetryBacklog sets the retry backlog gauge.
func (c *Collector) UpdateRetryBacklog(n float64) {
	c.RetryBacklog.Set(n)
}
