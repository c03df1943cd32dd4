package memory

import (
	"github.com/google/uuid"

	"github.com/c360/dynbus/dynamic"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/filter"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

type participant struct {
	bus    *Bus
	domain *domain
	key    string
	qos    string

	// guarded by domain.mu
	types       map[string]*typeSupport
	topics      map[string]transport.Topic
	publishers  map[*publisher]struct{}
	subscribers map[*subscriber]struct{}
	builtin     *publicationReader
}

var _ transport.Participant = (*participant)(nil)

func newParticipant(b *Bus, d *domain) *participant {
	return &participant{
		bus:         b,
		domain:      d,
		key:         uuid.NewString(),
		types:       make(map[string]*typeSupport),
		topics:      make(map[string]transport.Topic),
		publishers:  make(map[*publisher]struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (p *participant) DomainID() int { return p.domain.id }

// Key is the participant's discovery key
func (p *participant) Key() string { return p.key }

// QoSProfile is the "library::profile" the participant was created with
func (p *participant) QoSProfile() string { return p.qos }

type typeSupport struct {
	*dynamic.Allocator
	owner *participant
	t     *typecode.Type
}

func (ts *typeSupport) Type() *typecode.Type { return ts.t }
func (ts *typeSupport) TypeName() string     { return ts.t.Name() }

func (p *participant) RegisterType(t *typecode.Type) (transport.TypeSupport, error) {
	const op = "RegisterType"
	if t == nil || t.Resolve().Kind() != typecode.KindStruct {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "topic types must be structs")
	}

	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()

	if existing, ok := p.types[t.Name()]; ok {
		if !existing.t.Equal(t) {
			return nil, errors.Transport(errors.RetcodePreconditionNotMet, op,
				"type %s already registered with a different definition", t.Name())
		}
		return existing, nil
	}
	ts := &typeSupport{Allocator: &dynamic.Allocator{}, owner: p, t: t}
	p.types[t.Name()] = ts
	return ts, nil
}

type topic struct {
	owner *participant
	name  string
	ts    *typeSupport
	state *topicState

	// guarded by domain.mu
	writers  int
	readers  int
	filtered int
}

func (t *topic) Name() string     { return t.name }
func (t *topic) TypeName() string { return t.ts.TypeName() }

type filteredTopic struct {
	owner      *participant
	name       string
	related    *topic
	expression string
	filter     *filter.Filter

	readers int
}

func (t *filteredTopic) Name() string     { return t.name }
func (t *filteredTopic) TypeName() string { return t.related.TypeName() }

// Expression returns the filter expression the topic was created with
func (t *filteredTopic) Expression() string { return t.expression }

func (p *participant) CreateTopic(name string, tts transport.TypeSupport) (transport.Topic, error) {
	const op = "CreateTopic"
	ts, ok := tts.(*typeSupport)
	if !ok || ts.owner != p {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "type support is not registered with this participant")
	}
	if name == "" {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "empty topic name")
	}

	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()

	if _, exists := p.topics[name]; exists {
		return nil, errors.Transport(errors.RetcodePreconditionNotMet, op, "topic %s already exists", name)
	}
	state, err := p.domain.addTopic(name, ts.t)
	if err != nil {
		return nil, err
	}

	t := &topic{owner: p, name: name, ts: ts, state: state}
	p.topics[name] = t
	return t, nil
}

func (p *participant) CreateContentFilteredTopic(name string, related transport.Topic,
	expression string, params []string) (transport.Topic, error) {
	const op = "CreateContentFilteredTopic"
	rt, ok := related.(*topic)
	if !ok || rt.owner != p {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "related topic does not belong to this participant")
	}
	if len(params) > 0 {
		return nil, errors.Transport(errors.RetcodeUnsupported, op, "filter parameters are not supported")
	}
	f, err := filter.Compile(expression)
	if err != nil {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "%v", err)
	}

	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()

	if _, exists := p.topics[name]; exists {
		return nil, errors.Transport(errors.RetcodePreconditionNotMet, op, "topic %s already exists", name)
	}
	if p.topics[rt.name] != rt {
		return nil, errors.Transport(errors.RetcodeAlreadyDeleted, op, "related topic was deleted")
	}

	ft := &filteredTopic{owner: p, name: name, related: rt, expression: expression, filter: f}
	rt.filtered++
	p.topics[name] = ft
	return ft, nil
}

func (p *participant) DeleteTopic(tt transport.Topic) error {
	const op = "DeleteTopic"
	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()

	if tt == nil || p.topics[tt.Name()] != tt {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "topic does not belong to this participant")
	}

	switch t := tt.(type) {
	case *topic:
		if t.writers+t.readers+t.filtered > 0 {
			return errors.Transport(errors.RetcodePreconditionNotMet, op,
				"topic %s still has %d writers, %d readers and %d filtered topics",
				t.name, t.writers, t.readers, t.filtered)
		}
		p.domain.dropTopic(t.state)
	case *filteredTopic:
		if t.readers > 0 {
			return errors.Transport(errors.RetcodePreconditionNotMet, op,
				"filtered topic %s still has %d readers", t.name, t.readers)
		}
		t.related.filtered--
	}
	delete(p.topics, tt.Name())
	return nil
}

func (p *participant) CreatePublisher() (transport.Publisher, error) {
	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()
	pub := &publisher{owner: p, writers: make(map[*writer]struct{})}
	p.publishers[pub] = struct{}{}
	return pub, nil
}

func (p *participant) DeletePublisher(tp transport.Publisher) error {
	const op = "DeletePublisher"
	pub, ok := tp.(*publisher)
	if !ok || pub.owner != p {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "publisher does not belong to this participant")
	}

	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()
	if _, ok := p.publishers[pub]; !ok {
		return errors.Transport(errors.RetcodeAlreadyDeleted, op, "publisher was deleted")
	}
	if n := len(pub.writers); n > 0 {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "publisher still has %d writers", n)
	}
	delete(p.publishers, pub)
	return nil
}

func (p *participant) CreateSubscriber() (transport.Subscriber, error) {
	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()
	sub := &subscriber{owner: p, readers: make(map[*reader]struct{})}
	p.subscribers[sub] = struct{}{}
	return sub, nil
}

func (p *participant) DeleteSubscriber(ts transport.Subscriber) error {
	const op = "DeleteSubscriber"
	sub, ok := ts.(*subscriber)
	if !ok || sub.owner != p {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "subscriber does not belong to this participant")
	}

	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()
	if _, ok := p.subscribers[sub]; !ok {
		return errors.Transport(errors.RetcodeAlreadyDeleted, op, "subscriber was deleted")
	}
	if n := len(sub.readers); n > 0 {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "subscriber still has %d readers", n)
	}
	delete(p.subscribers, sub)
	return nil
}

// PublicationReader returns the participant's builtin publication reader,
// preloaded with the writers other participants already announced.
func (p *participant) PublicationReader() (transport.PublicationReader, error) {
	p.domain.mu.Lock()
	defer p.domain.mu.Unlock()

	if p.builtin == nil {
		p.builtin = newPublicationReader()
		for _, pub := range p.domain.history(p) {
			p.builtin.push(pub)
		}
	}
	return p.builtin, nil
}

func (p *participant) CreateWaitSet() (transport.WaitSet, error) {
	return newWaitSet(), nil
}
