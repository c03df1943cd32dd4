// Package metric provides the Prometheus registry and scrape server used by
// dynbus sessions, transports and the worker pool.
//
// A MetricsRegistry owns a private Prometheus registry. It registers the core
// dynbus metrics (samples published, disposed and delivered per topic,
// callback and codec failures, discovery outcomes, NATS connection health)
// and lets components add their own collectors through MetricsRegistrar.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordPublished("Ping")
//
//	server := metric.NewServer(":9090", "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop()
//
// Registering the same service/metric pair twice returns an invalid-input
// error; registering a collector that clashes with an existing Prometheus
// descriptor returns the same class of error.
package metric
