package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/dynbus/dds"
	"github.com/c360/dynbus/metric"
	"github.com/c360/dynbus/relay"
	"github.com/c360/dynbus/transport"
)

// runSpy prints every sample of every discovered topic, optionally
// relaying them to websocket clients
func runSpy(
	ctx context.Context,
	factory transport.ParticipantFactory,
	libraries []string,
	opts []dds.Option,
	cf *commandFlags,
	out *printer,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) error {
	onData := func(v map[string]any) error {
		name, _ := v["name"].(string)
		return out.value(name, v)
	}

	var server *http.Server
	if cf.RelayAddr != "" {
		hub := relay.NewHub(relay.WithLogger(logger), relay.WithMetrics(registry))
		defer func() { _ = hub.Close() }()

		mux := http.NewServeMux()
		mux.Handle(cf.RelayPath, hub)
		server = &http.Server{Addr: cf.RelayAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		show := onData
		onData = func(v map[string]any) error {
			return stderrors.Join(show(v), hub.Publish(v))
		}
	}

	revoked := func(v map[string]any) error {
		name, _ := v["name"].(string)
		return out.event(name, "instance revoked")
	}
	lost := func(v map[string]any) error {
		name, _ := v["name"].(string)
		return out.event(name, "liveliness lost")
	}

	session, err := dds.SubscribeToAllTopics(factory, libraries, onData,
		append(opts, dds.WithDiscoveryCallbacks(revoked, lost))...)
	if err != nil {
		return err
	}
	defer closeSession(session, logger)

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		logger.Info("Relaying samples", "address", cf.RelayAddr, "path", cf.RelayPath)
		g.Go(func() error {
			if err := server.ListenAndServe(); !stderrors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("relay server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func closeSession(s *dds.Session, logger *slog.Logger) {
	if err := s.Close(); err != nil {
		logger.Warn("Session close failed", "error", err)
	}
}
