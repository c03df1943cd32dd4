// Package dynbus is a publish/subscribe client for dynamically typed
// topics on a data-distribution bus.
//
// Types are not compiled in. They are described in type libraries (YAML or
// JSON documents validated against a schema, package typecode) and values
// travel as plain Go trees: map[string]any for structs, []any for
// sequences and arrays, Go scalars for everything else. The codec package
// moves values between those trees and the transport's dynamic data
// buffers, checking names, ranges and enum labels on the way.
//
// # Packages
//
//   - dds: sessions, topics, filtered topics, subscriptions and the
//     discovery watcher behind SubscribeToAllTopics
//   - typecode: type descriptors and type libraries
//   - codec, dynamic: dynamic data encoding and decoding
//   - filter: the SQL-like content filter language
//   - transport: the capability interface a bus implements
//   - transport/memory: in-process bus with full entity lifecycle
//   - transport/natsbus: NATS-backed bus; samples on core subjects,
//     publication discovery in a JetStream key-value bucket
//   - natsclient: NATS connection with circuit breaker and KV helpers
//   - relay: websocket fan-out of discovered samples
//   - config, metric, errors: ambient configuration, Prometheus metrics
//     and classified errors
//   - cmd/ddsctl: spy, recv and pub commands
//
// # Example
//
//	bus := memory.NewBus()
//	defer bus.Close()
//
//	session, err := dds.Open(bus, []string{"Sonar"}, dds.WithTypeSearchPath("./types"))
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	ping, err := session.GetTopic("Sonar.Ping")
//	if err != nil {
//	    return err
//	}
//	_, err = ping.Subscribe(func(v map[string]any) error {
//	    fmt.Println(v["sourceSystemID"], v["depth"])
//	    return nil
//	}, dds.WithFilter("depth > 20 AND depth < 90"))
//
//	err = ping.Publish(ctx, map[string]any{"sourceSystemID": "19", "depth": 42})
package dynbus
