package metric

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/errors"
)

func gathered(t *testing.T, r *MetricsRegistry, name string) bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_hist", Help: "h"})
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cv", Help: "cv"}, []string{"l"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gv", Help: "gv"}, []string{"l"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_hv", Help: "hv"}, []string{"l"})

	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_hist", hist))
	require.NoError(t, registry.RegisterCounterVec("svc", "test_cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("svc", "test_gv", gv))
	require.NoError(t, registry.RegisterHistogramVec("svc", "test_hv", hv))

	counter.Inc()
	gauge.Set(3)
	hist.Observe(0.5)
	cv.WithLabelValues("a").Inc()
	gv.WithLabelValues("a").Set(1)
	hv.WithLabelValues("a").Observe(1)

	for _, name := range []string{"test_counter", "test_gauge", "test_hist", "test_cv", "test_gv", "test_hv"} {
		assert.True(t, gathered(t, registry, name), name)
	}
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "d"})
	require.NoError(t, registry.RegisterCounter("svc", "dup_total", first))

	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "d"})
	err := registry.RegisterCounter("svc", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same descriptor under another service name collides inside Prometheus.
	err = registry.RegisterCounter("other", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "gone", Help: "g"})
	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))
	assert.False(t, gathered(t, registry, "gone"))

	// Re-registration is allowed after removal.
	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			errs <- registry.RegisterCounter("svc", name, c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetricsRegistry().CoreMetrics()

	m.RecordPublished("Ping")
	m.RecordPublished("Ping")
	m.RecordDisposed("Ping")
	m.RecordDelivered("Ping", "alive")
	m.RecordDelivered("Ping", "disposed")
	m.RecordCallbackFailure("Ping")
	m.RecordCodecFailure("Ping", "encode")
	m.SetTopicsOpen(4)
	m.RecordTypeDiscovered("active")
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesPublished.WithLabelValues("Ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesDisposed.WithLabelValues("Ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesDelivered.WithLabelValues("Ping", "disposed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallbackFailures.WithLabelValues("Ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CodecFailures.WithLabelValues("Ping", "encode")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TopicsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TypesDiscovered.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NATSCircuitBreaker))

	m.RecordNATSStatus(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSConnected))
}

func TestServer_Scrape(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordPublished("Ping")

	server := NewServer("127.0.0.1:0", "/metrics", registry)
	require.NoError(t, server.Start())
	defer server.Stop()

	assert.Error(t, server.Start(), "second start must fail")

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `dynbus_samples_published_total{topic="Ping"} 1`))

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop())
}

func TestServer_NilRegistry(t *testing.T) {
	server := NewServer("127.0.0.1:0", "", nil)
	err := server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
