package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
)

type recordingLink struct {
	mu        sync.Mutex
	events    []Event
	announced []transport.PublicationData
	withdrawn []transport.PublicationData
}

func (l *recordingLink) Send(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *recordingLink) Announce(_ int, pub transport.PublicationData) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.announced = append(l.announced, pub)
	return nil
}

func (l *recordingLink) Withdraw(_ int, pub transport.PublicationData) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withdrawn = append(l.withdrawn, pub)
	return nil
}

func TestLinkForwardsLocalTraffic(t *testing.T) {
	link := &recordingLink{}
	bus := newBus(t, WithLink(link))
	a := newEndpoint(t, bus, 4).withWriter(t)

	require.NoError(t, a.writer.Write(ping(t, "19", 42), transport.HandleNil))
	require.NoError(t, a.writer.Dispose(ping(t, "20", 1), transport.HandleNil))
	require.NoError(t, a.writer.Write(ping(t, "21", 7), transport.HandleNil))
	require.NoError(t, a.pub.DeleteWriter(a.writer))

	link.mu.Lock()
	defer link.mu.Unlock()

	require.Len(t, link.announced, 1)
	assert.Equal(t, "Ping", link.announced[0].TopicName)
	require.Len(t, link.withdrawn, 1)
	assert.Equal(t, link.announced[0].Key, link.withdrawn[0].Key)

	require.Len(t, link.events, 6)
	first := link.events[0]
	assert.Equal(t, EventWrite, first.Kind)
	assert.Equal(t, 4, first.Domain)
	assert.Equal(t, "Ping", first.Topic)
	assert.Equal(t, "Sonar::Ping", first.TypeName)
	assert.Equal(t, link.announced[0].Key, first.Writer)
	assert.Equal(t, map[string]any{"sourceSystemID": "19", "depth": int32(42)}, first.Value)
	assert.Equal(t, EventDispose, link.events[1].Kind)

	var unregistered int
	for _, e := range link.events[3:] {
		assert.Equal(t, EventUnregister, e.Kind)
		unregistered++
	}
	assert.Equal(t, 3, unregistered, "one unregister per instance written")
}

func TestDeliverRemoteEvents(t *testing.T) {
	bus := newBus(t)
	b := newEndpoint(t, bus, 0).withReader(t)

	remote := func(kind EventKind, id string, depth int) Event {
		return Event{
			Domain:    0,
			Topic:     "Ping",
			TypeName:  "Sonar::Ping",
			Kind:      kind,
			Writer:    "remote-writer",
			Value:     map[string]any{"sourceSystemID": id, "depth": depth},
			Timestamp: time.Unix(100, 0),
		}
	}

	require.NoError(t, bus.Deliver(remote(EventWrite, "19", 42)))
	require.NoError(t, bus.Deliver(remote(EventUnregister, "19", 42)))

	got := drain(t, b.reader)
	require.Len(t, got, 2)
	assert.Equal(t, int32(42), got[0].depth)
	assert.Equal(t, time.Unix(100, 0), got[0].info.SourceTimestamp)
	assert.Equal(t, transport.InstanceNoWriters, got[1].info.InstanceState)

	// Unknown topics and domains are dropped quietly.
	ev := remote(EventWrite, "19", 1)
	ev.Topic = "Unknown"
	assert.NoError(t, bus.Deliver(ev))
	ev = remote(EventWrite, "19", 1)
	ev.Domain = 9
	assert.NoError(t, bus.Deliver(ev))

	ev = remote(EventWrite, "19", 1)
	ev.TypeName = "Other"
	assert.ErrorIs(t, bus.Deliver(ev), errors.ErrBadParameter)

	ev = remote(EventWrite, "19", 1)
	ev.Value = map[string]any{"depth": "deep"}
	assert.ErrorIs(t, bus.Deliver(ev), errors.ErrBadParameter)

	ev = remote("teleport", "19", 1)
	assert.ErrorIs(t, bus.Deliver(ev), errors.ErrBadParameter)
}

func TestRemotePublications(t *testing.T) {
	bus := newBus(t)
	b := newEndpoint(t, bus, 0).withReader(t)
	pr, err := b.p.PublicationReader()
	require.NoError(t, err)

	pub := transport.PublicationData{
		Key:            "remote-writer",
		ParticipantKey: "remote-participant",
		TopicName:      "Ping",
		TypeName:       "Sonar::Ping",
	}
	bus.AddPublication(0, pub)
	bus.AddPublication(7, pub) // no local participant in domain 7

	loan, err := pr.Take()
	require.NoError(t, err)
	assert.Equal(t, []transport.PublicationData{pub}, loan.Publications())
	require.NoError(t, pr.ReturnLoan(loan))

	require.NoError(t, bus.Deliver(Event{
		Topic: "Ping", TypeName: "Sonar::Ping", Kind: EventWrite, Writer: pub.Key,
		Value: map[string]any{"sourceSystemID": "19", "depth": 1},
	}))
	bus.RemovePublication(0, pub)

	got := drain(t, b.reader)
	require.Len(t, got, 2)
	assert.Equal(t, transport.InstanceNoWriters, got[1].info.InstanceState)
}
