// Package dds publishes and subscribes to dynamically typed topics.
//
// A Session is one attachment to a domain: a participant, a publisher and a
// subscriber from a transport.ParticipantFactory, plus the registry of open
// topics. Types come from type libraries (see typecode.LoadLibrary) and are
// named with "::" or "." separators; the last component is the topic name.
//
//	s, err := dds.Open(bus, []string{"Sonar"}, dds.WithTypeSearchPath("./types"))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	ping, err := s.GetTopic("Sonar.Ping")
//	sub, err := ping.Subscribe(func(v map[string]any) error {
//	    fmt.Println(v["depth"])
//	    return nil
//	}, dds.OnInstanceRevoked(onGone))
//	err = ping.Publish(ctx, map[string]any{"sourceSystemID": "19", "depth": 42})
//
// Publish and Dispose accept sparse values: the value is merged onto the
// type's default instance before it is encoded.
//
// Callbacks run on transport goroutines, concurrently across topics. A
// callback error is logged and counted; it never prevents the sample loan
// from being returned.
//
// SubscribeToAllTopics opens a session in discovery mode: every type a
// remote writer announces is opened and subscribed, and its samples are
// delivered as {"name": <type name>, "data": <value>}.
package dds
