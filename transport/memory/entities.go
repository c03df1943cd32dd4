package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/dynbus/dynamic"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/filter"
	"github.com/c360/dynbus/transport"
)

type publisher struct {
	owner   *participant
	writers map[*writer]struct{} // guarded by domain.mu
}

type subscriber struct {
	owner   *participant
	readers map[*reader]struct{} // guarded by domain.mu
}

type writer struct {
	owner *publisher
	topic *topic
	guid  string

	// guarded by domain.mu
	instances map[string]struct{}
	deleted   bool
}

var _ transport.DataWriter = (*writer)(nil)

func (pub *publisher) CreateWriter(tt transport.Topic) (transport.DataWriter, error) {
	const op = "CreateWriter"
	p := pub.owner
	t, ok := tt.(*topic)
	if !ok || t.owner != p {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "writers need a topic of this participant")
	}

	p.domain.mu.Lock()
	if _, ok := p.publishers[pub]; !ok {
		p.domain.mu.Unlock()
		return nil, errors.Transport(errors.RetcodeAlreadyDeleted, op, "publisher was deleted")
	}
	if p.topics[t.name] != t {
		p.domain.mu.Unlock()
		return nil, errors.Transport(errors.RetcodeAlreadyDeleted, op, "topic was deleted")
	}

	w := &writer{owner: pub, topic: t, guid: uuid.NewString(), instances: make(map[string]struct{})}
	pub.writers[w] = struct{}{}
	t.writers++
	announced := w.publication()
	p.domain.announce(announced)
	p.domain.mu.Unlock()

	if link := p.bus.link; link != nil {
		if err := link.Announce(p.domain.id, announced); err != nil {
			p.bus.logger.Warn("publication announcement failed", "topic", t.name, "error", err)
		}
	}
	return w, nil
}

func (w *writer) publication() transport.PublicationData {
	return transport.PublicationData{
		Key:            w.guid,
		ParticipantKey: w.owner.owner.key,
		TopicName:      w.topic.name,
		TypeName:       w.topic.TypeName(),
	}
}

func (pub *publisher) DeleteWriter(tw transport.DataWriter) error {
	const op = "DeleteWriter"
	w, ok := tw.(*writer)
	if !ok || w.owner != pub {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "writer does not belong to this publisher")
	}
	p := pub.owner
	d := p.domain

	d.mu.Lock()
	if w.deleted {
		d.mu.Unlock()
		return errors.Transport(errors.RetcodeAlreadyDeleted, op, "writer was deleted")
	}
	w.deleted = true

	now := time.Now()
	var unregistered []any
	for key := range w.instances {
		inst := w.topic.state.instances[key]
		d.unregister(w.topic.state, w.guid, key, now)
		if inst != nil && inst.last != nil {
			if v, err := dynamic.Export(inst.last); err == nil {
				unregistered = append(unregistered, v)
			}
		}
	}
	d.withdraw(w.guid)
	w.topic.writers--
	delete(pub.writers, w)
	d.mu.Unlock()

	if link := p.bus.link; link != nil {
		for _, v := range unregistered {
			if err := link.Send(w.event(EventUnregister, v, now)); err != nil {
				p.bus.logger.Warn("unregister forwarding failed", "topic", w.topic.name, "error", err)
			}
		}
		if err := link.Withdraw(d.id, w.publication()); err != nil {
			p.bus.logger.Warn("publication withdrawal failed", "topic", w.topic.name, "error", err)
		}
	}
	return nil
}

func (w *writer) event(kind EventKind, value any, at time.Time) Event {
	return Event{
		Domain:    w.topic.owner.domain.id,
		Topic:     w.topic.name,
		TypeName:  w.topic.TypeName(),
		Kind:      kind,
		Writer:    w.guid,
		Value:     value,
		Timestamp: at,
	}
}

func (w *writer) Write(d transport.DynamicData, h transport.InstanceHandle) error {
	return w.apply("Write", EventWrite, d, h)
}

func (w *writer) Dispose(d transport.DynamicData, h transport.InstanceHandle) error {
	return w.apply("Dispose", EventDispose, d, h)
}

func (w *writer) apply(op string, kind EventKind, d transport.DynamicData, h transport.InstanceHandle) error {
	data, ok := d.(*dynamic.Data)
	if !ok {
		return errors.Transport(errors.RetcodeBadParameter, op, "foreign buffer %T", d)
	}
	if data.Type() == nil {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "buffer is unbound")
	}
	if !data.Type().Equal(w.topic.ts.t) {
		return errors.Transport(errors.RetcodeBadParameter, op,
			"buffer of type %s written to topic of type %s", data.Type().Name(), w.topic.TypeName())
	}
	key, err := dynamic.InstanceKey(data)
	if err != nil {
		return err
	}

	snapshot := data.Clone()
	now := time.Now()
	dom := w.topic.owner.domain

	dom.mu.Lock()
	if w.deleted {
		dom.mu.Unlock()
		return errors.Transport(errors.RetcodeAlreadyDeleted, op, "writer was deleted")
	}
	if kind == EventWrite {
		_, err = dom.write(w.topic.state, w.guid, key, h, snapshot, now)
	} else {
		_, err = dom.dispose(w.topic.state, w.guid, key, h, snapshot, now)
	}
	if err == nil {
		w.instances[key] = struct{}{}
	}
	dom.mu.Unlock()
	if err != nil {
		return err
	}

	if link := w.topic.owner.bus.link; link != nil {
		v, err := dynamic.Export(snapshot)
		if err != nil {
			return err
		}
		if err := link.Send(w.event(kind, v, now)); err != nil {
			return err
		}
	}
	return nil
}

type reader struct {
	owner  *subscriber
	topic  transport.Topic
	state  *topicState
	filter *filter.Filter
	guid   string
	alloc  *dynamic.Allocator
	bus    *Bus
	depth  int

	seen    map[string]struct{} // guarded by domain.mu
	pending atomic.Bool

	mu       sync.Mutex
	queue    []transport.Sample
	loans    map[*loan]struct{}
	listener transport.ReaderListener
	deleted  bool
	dropped  int64
}

var _ transport.DataReader = (*reader)(nil)

type loan struct {
	samples []transport.Sample
}

func (l *loan) Samples() []transport.Sample { return l.samples }

func (sub *subscriber) CreateReader(tt transport.Topic) (transport.DataReader, error) {
	const op = "CreateReader"
	p := sub.owner

	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()

	if _, ok := p.subscribers[sub]; !ok {
		return nil, errors.Transport(errors.RetcodeAlreadyDeleted, op, "subscriber was deleted")
	}
	if tt == nil || p.topics[tt.Name()] != tt {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "topic does not belong to this participant")
	}

	r := &reader{
		owner: sub,
		topic: tt,
		guid:  uuid.NewString(),
		alloc: &dynamic.Allocator{},
		bus:   p.bus,
		depth: p.bus.historyDepth,
		seen:  make(map[string]struct{}),
		loans: make(map[*loan]struct{}),
	}
	switch t := tt.(type) {
	case *topic:
		r.state = t.state
		t.readers++
	case *filteredTopic:
		r.state = t.related.state
		r.filter = t.filter
		t.readers++
	}
	r.state.readers[r] = struct{}{}
	sub.readers[r] = struct{}{}
	return r, nil
}

func (sub *subscriber) DeleteReader(tr transport.DataReader) error {
	const op = "DeleteReader"
	r, ok := tr.(*reader)
	if !ok || r.owner != sub {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "reader does not belong to this subscriber")
	}
	d := sub.owner.domain

	d.mu.Lock()
	defer d.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return errors.Transport(errors.RetcodeAlreadyDeleted, op, "reader was deleted")
	}
	if n := len(r.loans); n > 0 {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "reader has %d outstanding loans", n)
	}

	r.deleted = true
	r.listener = nil
	for _, s := range r.queue {
		_ = r.alloc.DeleteData(s.Data)
	}
	r.queue = nil

	delete(r.state.readers, r)
	delete(sub.readers, r)
	switch t := r.topic.(type) {
	case *topic:
		t.readers--
	case *filteredTopic:
		t.readers--
	}
	return nil
}

// push queues a copy of data. Called with domain.mu held.
func (r *reader) push(data *dynamic.Data, info transport.SampleInfo) {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return
	}
	if len(r.queue) >= r.depth {
		_ = r.alloc.DeleteData(r.queue[0].Data)
		r.queue = r.queue[1:]
		r.dropped++
	}
	r.queue = append(r.queue, transport.Sample{Data: r.alloc.Clone(data), Info: info})
	l := r.listener
	r.mu.Unlock()

	if l != nil && r.pending.CompareAndSwap(false, true) {
		r.bus.notify(r)
	}
}

func (r *reader) Take() (transport.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return nil, errors.Transport(errors.RetcodeAlreadyDeleted, "Take", "reader was deleted")
	}
	if len(r.queue) == 0 {
		return nil, errors.Transport(errors.RetcodeNoData, "Take", "no samples available")
	}

	l := &loan{samples: r.queue}
	r.queue = nil
	r.loans[l] = struct{}{}
	return l, nil
}

func (r *reader) ReturnLoan(tl transport.Loan) error {
	const op = "ReturnLoan"
	l, ok := tl.(*loan)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !ok {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "loan %T was not issued by this reader", tl)
	}
	if _, out := r.loans[l]; !out {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "loan is not outstanding")
	}
	delete(r.loans, l)

	var first error
	for _, s := range l.samples {
		if err := r.alloc.DeleteData(s.Data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (r *reader) SetListener(l transport.ReaderListener) error {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return errors.Transport(errors.RetcodeAlreadyDeleted, "SetListener", "reader was deleted")
	}
	r.listener = l
	waiting := len(r.queue) > 0
	r.mu.Unlock()

	if l != nil && waiting && r.pending.CompareAndSwap(false, true) {
		r.bus.notify(r)
	}
	return nil
}

func (r *reader) currentListener() transport.ReaderListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil
	}
	return r.listener
}

func (r *reader) stats() (queued, loans int, live, dropped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue), len(r.loans), r.alloc.Live(), r.dropped
}
