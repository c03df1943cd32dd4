// Package natsbus connects in-memory buses of separate processes over NATS.
//
// A Bus is a memory.Bus whose Link publishes every local sample event to
// the subject dds.<domain>.<topic> as a JSON CloudEvent, and applies the
// events of other processes with memory.Bus.Deliver. Events carry the
// exported value tree of the sample, so only processes that resolved the
// topic with an equal type see them.
//
// Publications are announced through a JetStream key-value bucket keyed
// <domain>.<writer>. Each Bus watches the keys of the domains it joined and
// feeds remote publications to the builtin publication readers, which is
// what SubscribeToAllTopics consumes.
//
//	client, _ := natsclient.NewClient(url)
//	_ = client.Connect(ctx)
//	bus, err := natsbus.NewBus(ctx, client, natsbus.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer bus.Close()
//	session, err := dds.Open(bus, []string{"Sonar"})
//
// A process that exits without deleting its writers leaves their records in
// the bucket; they are replayed to later watchers until overwritten.
package natsbus
