package memory

import (
	"time"

	"github.com/c360/dynbus/dynamic"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
)

// EventKind distinguishes the sample events that cross a Link
type EventKind string

// Event kinds
const (
	EventWrite      EventKind = "write"
	EventDispose    EventKind = "dispose"
	EventUnregister EventKind = "unregister"
)

// Event is one sample event in transport-neutral form. Value is the
// exported value tree of the sample (see dynamic.Export).
type Event struct {
	Domain    int
	Topic     string
	TypeName  string
	Kind      EventKind
	Writer    string
	Value     any
	Timestamp time.Time
}

// Link carries local events to other processes. Calls are made without
// any bus lock held and may block.
type Link interface {
	Send(e Event) error
	Announce(domain int, pub transport.PublicationData) error
	Withdraw(domain int, pub transport.PublicationData) error
}

// Deliver applies an event that originated outside this bus. Events for
// topics no local participant has created are dropped.
func (b *Bus) Deliver(e Event) error {
	const op = "Deliver"
	d := b.domain(e.Domain)
	if d == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ts := d.topics[e.Topic]
	if ts == nil {
		return nil
	}
	if ts.t.Name() != e.TypeName {
		return errors.Transport(errors.RetcodeBadParameter, op,
			"topic %s carries %s, event has %s", e.Topic, ts.t.Name(), e.TypeName)
	}

	data, err := dynamic.Import(ts.t, e.Value)
	if err != nil {
		return errors.Transport(errors.RetcodeBadParameter, op, "%v", err)
	}
	key, err := dynamic.InstanceKey(data)
	if err != nil {
		return err
	}

	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	switch e.Kind {
	case EventWrite:
		_, err = d.write(ts, e.Writer, key, transport.HandleNil, data, at)
	case EventDispose:
		_, err = d.dispose(ts, e.Writer, key, transport.HandleNil, data, at)
	case EventUnregister:
		d.unregister(ts, e.Writer, key, at)
	default:
		err = errors.Transport(errors.RetcodeBadParameter, op, "unknown event kind %q", e.Kind)
	}
	return err
}

// AddPublication announces a remote writer to every participant of domainID
func (b *Bus) AddPublication(domainID int, pub transport.PublicationData) {
	if d := b.domain(domainID); d != nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.announce(pub)
	}
}

// RemovePublication forgets a remote writer, unregistering its instances
func (b *Bus) RemovePublication(domainID int, pub transport.PublicationData) {
	if d := b.domain(domainID); d != nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.withdraw(pub.Key)
		if ts := d.topics[pub.TopicName]; ts != nil {
			for key := range ts.instances {
				d.unregister(ts, pub.Key, key, time.Now())
			}
		}
	}
}
