package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/dynbus/config"
	"github.com/c360/dynbus/metric"
	"github.com/c360/dynbus/natsclient"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/transport/memory"
	"github.com/c360/dynbus/transport/natsbus"
)

// openTransport builds the participant factory selected by cfg. The
// returned function releases it.
func openTransport(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (transport.ParticipantFactory, func() error, error) {
	var memOpts []memory.Option
	if cfg.Domain.QoSProfile != "" {
		memOpts = append(memOpts, memory.WithQoSProfiles(cfg.Domain.QoSLibrary+"::"+cfg.Domain.QoSProfile))
	}

	if cfg.Transport.Kind == config.TransportMemory {
		logger.Warn("Using the in-process transport; only participants of this process are visible")
		bus := memory.NewBus(append(memOpts,
			memory.WithLogger(logger),
			memory.WithMetrics(registry))...)
		return bus, bus.Close, nil
	}

	nc := cfg.Transport.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
		natsclient.WithName(nc.ClientName),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait),
		natsclient.WithMetrics(registry),
	}
	if nc.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(nc.Timeout))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}

	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", nc.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	if rtt, err := client.RTT(); err == nil {
		logger.Info("Connected to NATS", "rtt", rtt)
	}

	bus, err := natsbus.NewBus(ctx, client,
		natsbus.WithLogger(logger),
		natsbus.WithBucket(nc.DiscoveryBucket),
		natsbus.WithMetrics(registry),
		natsbus.WithMemoryOptions(memOpts...))
	if err != nil {
		_ = client.Close(context.Background())
		return nil, nil, fmt.Errorf("create NATS bus: %w", err)
	}

	closeAll := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return stderrors.Join(bus.Close(), client.Close(shutdownCtx))
	}
	return bus, closeAll, nil
}
