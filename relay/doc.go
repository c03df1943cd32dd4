// Package relay streams samples received by a dds session to websocket
// clients.
//
// A Hub is an http.Handler. Every connected client receives each value
// passed to Publish wrapped in an Envelope:
//
//	{"type":"data","id":"msg-1712-7","timestamp":1712000000000,
//	 "topic":"Sonar::Ping","payload":{"name":"Sonar::Ping","data":{...}}}
//
// Publish has the shape of a dds.Callback, so a hub can be handed directly
// to dds.SubscribeToAllTopics:
//
//	hub := relay.NewHub(relay.WithLogger(logger))
//	session, err := dds.SubscribeToAllTopics(bus, libs, hub.Publish)
//	http.Handle("/ws", hub)
//
// Clients are read-only. Each has a bounded outbound queue; when a client
// falls behind the oldest queued message is dropped. Idle connections are
// kept alive with ping frames and removed when a write fails.
package relay
