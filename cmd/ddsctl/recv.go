package main

import (
	"context"
	"log/slog"

	"github.com/c360/dynbus/dds"
	"github.com/c360/dynbus/transport"
)

// runRecv prints samples of the named topics until ctx is cancelled
func runRecv(
	ctx context.Context,
	factory transport.ParticipantFactory,
	libraries []string,
	opts []dds.Option,
	cf *commandFlags,
	out *printer,
	logger *slog.Logger,
) error {
	session, err := dds.Open(factory, libraries, opts...)
	if err != nil {
		return err
	}
	defer closeSession(session, logger)

	for _, name := range cf.Topics {
		topic, err := session.GetTopic(name)
		if err != nil {
			return err
		}

		subOpts := []dds.SubscribeOption{
			dds.OnInstanceRevoked(func(map[string]any) error {
				return out.event(topic.Name(), "instance revoked")
			}),
			dds.OnLivelinessLost(func(map[string]any) error {
				return out.event(topic.Name(), "liveliness lost")
			}),
		}
		if cf.Filter != "" {
			subOpts = append(subOpts, dds.WithFilter(cf.Filter))
		}

		header := topic.QualifiedName()
		if _, err := topic.Subscribe(func(v map[string]any) error {
			return out.value(header, v)
		}, subOpts...); err != nil {
			return err
		}
		logger.Info("Subscribed", "topic", topic.QualifiedName(), "type", topic.TypeName(), "filter", cf.Filter)
	}

	<-ctx.Done()
	return nil
}
