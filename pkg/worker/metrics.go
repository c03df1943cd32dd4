package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dynbus/metric"
)

// poolMetrics methods are no-ops on a nil receiver
type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Work items waiting across all worker queues",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Work items accepted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Work items whose processing returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Work items rejected by a full queue",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing one work item",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"status"}),
	}

	// a prefix registered twice keeps the first pool's collectors
	const service = "worker_pool"
	_ = registry.RegisterGauge(service, prefix+"_queue_depth", m.queueDepth)
	_ = registry.RegisterCounter(service, prefix+"_submitted_total", m.submitted)
	_ = registry.RegisterCounter(service, prefix+"_processed_total", m.processed)
	_ = registry.RegisterCounter(service, prefix+"_failed_total", m.failed)
	_ = registry.RegisterCounter(service, prefix+"_dropped_total", m.dropped)
	_ = registry.RegisterHistogramVec(service, prefix+"_processing_duration_seconds", m.duration)
	return m
}

func (m *poolMetrics) submit(depth int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *poolMetrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *poolMetrics) done(err error, took time.Duration, depth int) {
	if m == nil {
		return
	}
	m.processed.Inc()
	status := "success"
	if err != nil {
		m.failed.Inc()
		status = "error"
	}
	m.duration.WithLabelValues(status).Observe(took.Seconds())
	m.queueDepth.Set(float64(depth))
}
