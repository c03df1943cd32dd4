package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the dynbus core metrics
type Metrics struct {
	// Session metrics
	SamplesPublished *prometheus.CounterVec
	SamplesDisposed  *prometheus.CounterVec
	SamplesDelivered *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
	CodecFailures    *prometheus.CounterVec
	TopicsOpen       prometheus.Gauge
	TypesDiscovered  *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metrics, unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		SamplesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dynbus",
				Subsystem: "samples",
				Name:      "published_total",
				Help:      "Samples written by topic handles",
			},
			[]string{"topic"},
		),

		SamplesDisposed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dynbus",
				Subsystem: "samples",
				Name:      "disposed_total",
				Help:      "Instance disposals written by topic handles",
			},
			[]string{"topic"},
		),

		SamplesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dynbus",
				Subsystem: "samples",
				Name:      "delivered_total",
				Help:      "Samples handed to subscription callbacks, by instance state",
			},
			[]string{"topic", "state"},
		),

		CallbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dynbus",
				Subsystem: "callbacks",
				Name:      "failures_total",
				Help:      "Subscription callbacks that returned an error or panicked",
			},
			[]string{"topic"},
		),

		CodecFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dynbus",
				Subsystem: "codec",
				Name:      "failures_total",
				Help:      "Encode or decode failures",
			},
			[]string{"topic", "operation"},
		),

		TopicsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dynbus",
				Subsystem: "session",
				Name:      "topics_open",
				Help:      "Topic handles currently open",
			},
		),

		TypesDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dynbus",
				Subsystem: "discovery",
				Name:      "types_total",
				Help:      "Types seen by the discovery watcher, by outcome",
			},
			[]string{"outcome"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dynbus",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dynbus",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dynbus",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.SamplesPublished,
		c.SamplesDisposed,
		c.SamplesDelivered,
		c.CallbackFailures,
		c.CodecFailures,
		c.TopicsOpen,
		c.TypesDiscovered,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordPublished increments the published counter for a topic
func (c *Metrics) RecordPublished(topic string) {
	c.SamplesPublished.WithLabelValues(topic).Inc()
}

// RecordDisposed increments the disposed counter for a topic
func (c *Metrics) RecordDisposed(topic string) {
	c.SamplesDisposed.WithLabelValues(topic).Inc()
}

// RecordDelivered counts one sample handed to a callback
func (c *Metrics) RecordDelivered(topic, state string) {
	c.SamplesDelivered.WithLabelValues(topic, state).Inc()
}

// RecordCallbackFailure counts a failed callback
func (c *Metrics) RecordCallbackFailure(topic string) {
	c.CallbackFailures.WithLabelValues(topic).Inc()
}

// RecordCodecFailure counts an encode or decode failure
func (c *Metrics) RecordCodecFailure(topic, operation string) {
	c.CodecFailures.WithLabelValues(topic, operation).Inc()
}

// SetTopicsOpen sets the open topic gauge
func (c *Metrics) SetTopicsOpen(n int) {
	c.TopicsOpen.Set(float64(n))
}

// RecordTypeDiscovered counts a discovered type by outcome (subscribed, skipped, unknown, failed)
func (c *Metrics) RecordTypeDiscovered(outcome string) {
	c.TypesDiscovered.WithLabelValues(outcome).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
