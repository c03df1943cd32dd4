package relay

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dynbus/metric"
)

type hubMetrics struct {
	messagesPublished  prometheus.Counter
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	messagesDropped    prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

// newHubMetrics returns nil without a registry
func newHubMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *hubMetrics {
	if registry == nil {
		return nil
	}

	m := &hubMetrics{
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "messages_published_total",
			Help:      "Values handed to the relay",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "messages_sent_total",
			Help:      "Frames written to websocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to websocket clients",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Queued frames dropped for slow clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "clients_connected",
			Help:      "Currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "client_connections_total",
			Help:      "Client connections accepted",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "client_disconnections_total",
			Help:      "Client disconnections",
		}, []string{"disconnect_reason"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Relay errors",
		}, []string{"error_type"}),
	}

	regs := []struct {
		name string
		err  error
	}{
		{"messages_published_total", registry.RegisterCounter("relay", "messages_published_total", m.messagesPublished)},
		{"messages_sent_total", registry.RegisterCounter("relay", "messages_sent_total", m.messagesSent)},
		{"bytes_sent_total", registry.RegisterCounter("relay", "bytes_sent_total", m.bytesSent)},
		{"messages_dropped_total", registry.RegisterCounter("relay", "messages_dropped_total", m.messagesDropped)},
		{"clients_connected", registry.RegisterGauge("relay", "clients_connected", m.clientsConnected)},
		{"client_connections_total", registry.RegisterCounter("relay", "client_connections_total", m.connectionTotal)},
		{"client_disconnections_total", registry.RegisterCounterVec("relay", "client_disconnections_total", m.disconnectionTotal)},
		{"errors_total", registry.RegisterCounterVec("relay", "errors_total", m.errorsTotal)},
	}
	for _, r := range regs {
		if r.err != nil {
			logger.Warn("relay metric not registered", "metric", r.name, "error", r.err)
		}
	}
	return m
}

func (m *hubMetrics) published() {
	if m != nil {
		m.messagesPublished.Inc()
	}
}

func (m *hubMetrics) sent(n int) {
	if m != nil {
		m.messagesSent.Inc()
		m.bytesSent.Add(float64(n))
	}
}

func (m *hubMetrics) dropped() {
	if m != nil {
		m.messagesDropped.Inc()
	}
}

func (m *hubMetrics) connected(clients int) {
	if m != nil {
		m.connectionTotal.Inc()
		m.clientsConnected.Set(float64(clients))
	}
}

func (m *hubMetrics) disconnected(clients int, reason string) {
	if m != nil {
		m.disconnectionTotal.WithLabelValues(reason).Inc()
		m.clientsConnected.Set(float64(clients))
	}
}

func (m *hubMetrics) failure(kind string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(kind).Inc()
	}
}
