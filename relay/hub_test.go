package relay_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/dds"
	"github.com/c360/dynbus/metric"
	"github.com/c360/dynbus/relay"
	"github.com/c360/dynbus/transport/memory"
	"github.com/c360/dynbus/typecode"
)

func serve(t *testing.T, hub *relay.Hub) string {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env relay.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitClients(t *testing.T, hub *relay.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestPublishReachesEveryClient(t *testing.T) {
	hub := relay.NewHub()
	defer hub.Close()
	url := serve(t, hub)

	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, hub, 2)

	require.NoError(t, hub.Publish(map[string]any{
		"name": "Sonar::Ping",
		"data": map[string]any{"sourceSystemID": "s1", "depth": int32(4)},
	}))

	for _, conn := range []*websocket.Conn{a, b} {
		env := read(t, conn)
		assert.Equal(t, "data", env.Type)
		assert.Equal(t, "Sonar::Ping", env.Topic)
		assert.NotEmpty(t, env.ID)

		var payload struct {
			Name string         `json:"name"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "Sonar::Ping", payload.Name)
		assert.Equal(t, "s1", payload.Data["sourceSystemID"])
		assert.EqualValues(t, 4, payload.Data["depth"])
	}
}

func TestPublishWithoutEnvelopeName(t *testing.T) {
	hub := relay.NewHub()
	defer hub.Close()
	conn := dial(t, serve(t, hub))
	waitClients(t, hub, 1)

	require.NoError(t, hub.Publish(map[string]any{"depth": 1}))
	env := read(t, conn)
	assert.Empty(t, env.Topic)
	assert.JSONEq(t, `{"depth":1}`, string(env.Payload))
}

func TestPublishWithoutClients(t *testing.T) {
	hub := relay.NewHub()
	defer hub.Close()
	assert.NoError(t, hub.Publish(map[string]any{"name": "Sonar::Ping"}))
	assert.Equal(t, 0, hub.Clients())
}

func TestPublishRejectsUnencodableValues(t *testing.T) {
	hub := relay.NewHub()
	defer hub.Close()
	err := hub.Publish(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}

func TestClientDisconnectIsRemoved(t *testing.T) {
	hub := relay.NewHub()
	defer hub.Close()
	conn := dial(t, serve(t, hub))
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub := relay.NewHub()
	conn := dial(t, serve(t, hub))
	waitClients(t, hub, 1)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.NoError(t, hub.Publish(map[string]any{"name": "late"}))
	assert.NoError(t, hub.Close())
}

func TestHubMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	hub := relay.NewHub(relay.WithMetrics(registry))
	defer hub.Close()
	conn := dial(t, serve(t, hub))
	waitClients(t, hub, 1)

	require.NoError(t, hub.Publish(map[string]any{"name": "Sonar::Ping"}))
	read(t, conn)

	assert.Equal(t, float64(1), gathered(t, registry, "dynbus_relay_messages_published_total"))
	assert.Eventually(t, func() bool {
		return gathered(t, registry, "dynbus_relay_messages_sent_total") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), gathered(t, registry, "dynbus_relay_clients_connected"))
	assert.Equal(t, float64(1), gathered(t, registry, "dynbus_relay_client_connections_total"))
}

// gathered sums every sample of the named family
func gathered(t *testing.T, registry *metric.MetricsRegistry, name string) float64 {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += sampleValue(f.GetType(), m)
		}
	}
	return total
}

func sampleValue(kind dto.MetricType, m *dto.Metric) float64 {
	switch kind {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}

const sonarLibrary = `
library: Sonar
types:
  - name: Sonar::Ping
    kind: struct
    members:
      - name: sourceSystemID
        type: string
        key: true
      - name: depth
        type: long
`

func TestRelayAllTopics(t *testing.T) {
	lib, err := typecode.ParseLibrary([]byte(sonarLibrary))
	require.NoError(t, err)

	bus := memory.NewBus()
	defer bus.Close()

	pub, err := dds.Open(bus, nil, dds.WithTypeLibraries(lib))
	require.NoError(t, err)
	defer pub.Close()
	writer, err := pub.GetTopic("Sonar::Ping")
	require.NoError(t, err)

	hub := relay.NewHub()
	defer hub.Close()
	spy, err := dds.SubscribeToAllTopics(bus, nil, hub.Publish, dds.WithTypeLibraries(lib))
	require.NoError(t, err)
	defer spy.Close()

	conn := dial(t, serve(t, hub))
	waitClients(t, hub, 1)
	require.Eventually(t, func() bool {
		topics := spy.Topics()
		return len(topics) == 1 && topics[0].Subscribed()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, writer.Publish(context.Background(), map[string]any{"sourceSystemID": "s9", "depth": 12}))

	env := read(t, conn)
	assert.Equal(t, "Sonar::Ping", env.Topic)
	assert.Contains(t, string(env.Payload), `"sourceSystemID":"s9"`)
}
