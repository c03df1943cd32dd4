package dds

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/dynbus/codec"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/filter"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

// Topic is one (name, type) pair of a session with its writer and reader.
// There is at most one Topic per name in a session.
type Topic struct {
	endpoint

	qualified string
	ts        transport.TypeSupport
	topic     transport.Topic
	writer    transport.DataWriter

	// guarded by session.mu
	refs     int
	filtered map[*FilteredTopic]struct{}
	closed   bool
}

// FilteredTopic delivers the samples of its parent that match a filter
// expression. It has no writer and is released with its parent.
type FilteredTopic struct {
	endpoint

	parent     *Topic
	expression string
	topic      transport.Topic
}

// Subscription identifies a registered set of callbacks
type Subscription struct {
	topic    *Topic
	filtered *FilteredTopic
}

// Filtered returns the filtered topic backing the subscription, or nil
func (s *Subscription) Filtered() *FilteredTopic { return s.filtered }

// Name returns the topic name
func (t *Topic) Name() string { return t.name }

// QualifiedName returns the name the topic was first resolved with
func (t *Topic) QualifiedName() string { return t.qualified }

// TypeName returns the registered type name
func (t *Topic) TypeName() string { return t.typeName }

// Type returns the topic's type
func (t *Topic) Type() *typecode.Type { return t.ts.Type() }

// Subscribed reports whether callbacks are registered directly on t
func (t *Topic) Subscribed() bool { return t.subscribed() }

// Publish merges sparse onto the type's default instance and writes it.
func (t *Topic) Publish(ctx context.Context, sparse map[string]any) error {
	if err := t.send(ctx, "Publish", sparse); err != nil {
		return err
	}
	t.session.metrics.published(t.name)
	return nil
}

// Dispose merges sparse onto the default instance and disposes the
// instance it identifies. Every key member must be present in sparse.
func (t *Topic) Dispose(ctx context.Context, sparse map[string]any) error {
	for _, k := range t.Type().Resolve().KeyMembers() {
		if _, ok := sparse[k.Name]; !ok {
			return errors.WrapInvalid(
				&errors.SchemaMismatchError{Path: k.Name, Reason: "key member required to dispose an instance"},
				"Topic", "Dispose", "select instance of "+t.name)
		}
	}
	if err := t.send(ctx, "Dispose", sparse); err != nil {
		return err
	}
	t.session.metrics.disposed(t.name)
	return nil
}

func (t *Topic) send(ctx context.Context, op string, sparse map[string]any) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return errors.Wrap(errors.ErrTopicClosed, "Topic", op, "write "+t.name)
	}

	base, err := codec.DefaultInstance(t.ts)
	if err != nil {
		return errors.Wrap(err, "Topic", op, "generate default instance")
	}
	value := codec.Merge(base, sparse)

	data, err := t.ts.NewData(t.ts.Type())
	if err != nil {
		return errors.Wrap(err, "Topic", op, "allocate sample")
	}
	defer func() {
		if derr := t.ts.DeleteData(data); derr != nil {
			err = stderrors.Join(err, errors.Wrap(derr, "Topic", op, "release sample"))
		}
	}()

	if err := t.codec.Encode(value, data); err != nil {
		t.session.metrics.codecFailure(t.name, "encode")
		return errors.WrapInvalid(err, "Topic", op, "encode "+t.typeName)
	}

	if op == "Dispose" {
		err = t.writer.Dispose(data, transport.HandleNil)
	} else {
		err = t.writer.Write(data, transport.HandleNil)
	}
	if err != nil {
		return errors.Wrap(err, "Topic", op, "write "+t.name)
	}
	return nil
}

func (t *Topic) isClosed() bool {
	t.session.mu.Lock()
	defer t.session.mu.Unlock()
	return t.closed
}

// Subscribe registers callbacks for the topic's samples. With WithFilter
// the callbacks go to a new FilteredTopic instead, and any number of
// filtered subscriptions may coexist. Subscribing a topic that is already
// subscribed directly panics.
func (t *Topic) Subscribe(onData Callback, opts ...SubscribeOption) (*Subscription, error) {
	if onData == nil {
		return nil, errors.WrapInvalid(stderrors.New("nil data callback"), "Topic", "Subscribe", "subscribe "+t.name)
	}
	sub := &subscription{onData: onData}
	for _, opt := range opts {
		opt(sub)
	}

	if t.isClosed() {
		return nil, errors.Wrap(errors.ErrTopicClosed, "Topic", "Subscribe", "subscribe "+t.name)
	}

	if sub.filter != "" {
		ft, err := t.newFiltered(sub.filter)
		if err != nil {
			return nil, err
		}
		if err := ft.subscribe(sub); err != nil {
			_ = t.session.releaseFiltered(ft)
			return nil, err
		}
		return &Subscription{topic: t, filtered: ft}, nil
	}

	if err := t.subscribe(sub); err != nil {
		if stderrors.Is(err, errAlreadySubscribed) {
			panic(fmt.Sprintf("dds: topic %s is already subscribed; unsubscribe first", t.name))
		}
		return nil, err
	}
	return &Subscription{topic: t}, nil
}

// Unsubscribe removes a subscription made on t. A filtered subscription
// releases its filtered topic.
func (t *Topic) Unsubscribe(s *Subscription) error {
	if s == nil || s.topic != t {
		return errors.WrapInvalid(errors.ErrNotSubscribed, "Topic", "Unsubscribe", "unsubscribe "+t.name)
	}
	if s.filtered != nil {
		return t.session.releaseFiltered(s.filtered)
	}
	if !t.subscribed() {
		return errors.WrapInvalid(errors.ErrNotSubscribed, "Topic", "Unsubscribe", "unsubscribe "+t.name)
	}
	return t.unsubscribe()
}

func (t *Topic) newFiltered(expression string) (*FilteredTopic, error) {
	if filter.HasParameters(expression) {
		return nil, errors.WrapInvalid(errors.ErrFilterParameters, "Topic", "Subscribe", "filter "+t.name)
	}
	if _, err := filter.Compile(expression); err != nil {
		return nil, errors.WrapInvalid(err, "Topic", "Subscribe", "filter "+t.name)
	}

	s := t.session
	cft, err := s.participant.CreateContentFilteredTopic(uuid.NewString(), t.topic, expression, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Topic", "Subscribe", "create content-filtered topic for "+t.name)
	}
	reader, err := s.subscriber.CreateReader(cft)
	if err != nil {
		_ = s.participant.DeleteTopic(cft)
		return nil, errors.Wrap(err, "Topic", "Subscribe", "create filtered reader for "+t.name)
	}

	ft := &FilteredTopic{
		endpoint: endpoint{
			session:  s,
			name:     t.name,
			typeName: t.typeName,
			reader:   reader,
			codec:    t.codec,
		},
		parent:     t,
		expression: expression,
		topic:      cft,
	}

	s.mu.Lock()
	if t.closed {
		s.mu.Unlock()
		return nil, stderrors.Join(
			errors.Wrap(errors.ErrTopicClosed, "Topic", "Subscribe", "filter "+t.name),
			s.deleteFiltered(ft))
	}
	t.filtered[ft] = struct{}{}
	s.mu.Unlock()
	return ft, nil
}

// Close drops one reference to the topic; the last reference releases its
// entities. Callbacks must not close the topic they are running for.
func (t *Topic) Close() error {
	return t.session.releaseTopic(t, false)
}

// Expression returns the filter expression
func (f *FilteredTopic) Expression() string { return f.expression }

// Parent returns the topic being filtered
func (f *FilteredTopic) Parent() *Topic { return f.parent }

// FilterName returns the generated name of the content-filtered topic
func (f *FilteredTopic) FilterName() string { return f.topic.Name() }
