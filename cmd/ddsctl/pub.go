package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/c360/dynbus/dds"
	"github.com/c360/dynbus/transport"
)

// runPub publishes the --data samples once per tick and disposes them on
// exit
func runPub(
	ctx context.Context,
	factory transport.ParticipantFactory,
	libraries []string,
	opts []dds.Option,
	cf *commandFlags,
	logger *slog.Logger,
) error {
	samples := make([]map[string]any, 0, len(cf.Data))
	for i, raw := range cf.Data {
		sample, err := parseSample(raw)
		if err != nil {
			return fmt.Errorf("--data #%d: %w", i+1, err)
		}
		samples = append(samples, sample)
	}

	session, err := dds.Open(factory, libraries, opts...)
	if err != nil {
		return err
	}
	defer closeSession(session, logger)

	topic, err := session.GetTopic(cf.Topics[0])
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(cf.Rate), 1)
	published := 0
	for tick := 1; cf.Count == 0 || tick <= cf.Count; tick++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		for _, sample := range samples {
			if cf.Counter != "" {
				if err := setPath(sample, cf.Counter, tick); err != nil {
					return err
				}
			}
			if err := publish(ctx, topic, sample, cf); err != nil {
				logger.Warn("Publish failed", "topic", topic.QualifiedName(), "error", err)
				continue
			}
			published++
		}
	}
	logger.Info("Publishing stopped", "topic", topic.QualifiedName(), "samples", published)

	if !cf.Dispose {
		return nil
	}
	var errs []error
	for _, sample := range samples {
		disposeCtx, cancel := context.WithTimeout(context.Background(), cf.Deadline)
		if err := topic.Dispose(disposeCtx, sample); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if len(errs) == 0 {
		logger.Info("Disposed instances", "topic", topic.QualifiedName(), "count", len(samples))
	}
	return stderrors.Join(errs...)
}

func publish(ctx context.Context, topic *dds.Topic, sample map[string]any, cf *commandFlags) error {
	ctx, cancel := context.WithTimeout(ctx, cf.Deadline)
	defer cancel()
	return topic.Publish(ctx, sample)
}

// parseSample decodes a JSON object keeping numbers exact
func parseSample(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var sample map[string]any
	if err := dec.Decode(&sample); err != nil {
		return nil, fmt.Errorf("parse sample: %w", err)
	}
	if sample == nil {
		return nil, fmt.Errorf("parse sample: not a JSON object")
	}
	return sample, nil
}

// setPath stores value at a dotted member path, creating intermediate
// structs
func setPath(sample map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := sample
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok {
			m := make(map[string]any)
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("counter path %q: member %q is not a struct", path, part)
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value
	return nil
}
