// Package natsclient manages the NATS connection used by the NATS-backed
// transport.
//
// A Client wraps one *nats.Conn with a connection status, a circuit breaker
// that stops connection attempts after repeated failures, and access to
// JetStream key-value buckets. Connection state changes are recorded in the
// dynbus core metrics when a registry is supplied with WithMetrics.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("ddsctl"),
//		natsclient.WithLogger(natsclient.NewSlogLogger(slog.Default())),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
// The client does not retry failed publishes. Reconnection after a dropped
// connection is left to the nats.go reconnect loop configured with
// WithMaxReconnects and WithReconnectWait.
//
// TestClient starts a NATS server in a container with testcontainers-go for
// integration tests.
package natsclient
