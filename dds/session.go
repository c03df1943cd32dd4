package dds

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/c360/dynbus/codec"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/metric"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

// Session is one participant in a domain with one publisher, one
// subscriber and the topics resolved through it. A Session is safe for
// concurrent use.
type Session struct {
	factory     transport.ParticipantFactory
	participant transport.Participant
	publisher   transport.Publisher
	subscriber  transport.Subscriber
	types       *typecode.Set
	logger      *slog.Logger
	metrics     sessionMetrics
	watcher     *discoveryWatcher

	mu     sync.Mutex
	topics map[string]*Topic
	closed bool
}

// Open joins a domain through factory. libraries are the names of type
// libraries looked up in the type search path, in order; libraries passed
// with WithTypeLibraries are searched after them.
func Open(factory transport.ParticipantFactory, libraries []string, opts ...Option) (*Session, error) {
	return open(factory, libraries, nil, opts)
}

// SubscribeToAllTopics opens a session that subscribes onData to every
// topic another participant publishes, as its publications are
// discovered. Values are delivered in the {"name", "data"} envelope.
func SubscribeToAllTopics(factory transport.ParticipantFactory, libraries []string, onData Callback, opts ...Option) (*Session, error) {
	if onData == nil {
		return nil, errors.WrapInvalid(stderrors.New("nil data callback"), "Session", "SubscribeToAllTopics", "open discovery session")
	}
	return open(factory, libraries, onData, opts)
}

func open(factory transport.ParticipantFactory, libraries []string, onData Callback, opts []Option) (*Session, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if factory == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Session", "Open", "select participant factory")
	}
	if len(libraries) == 0 && len(o.libraries) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Session", "Open", "select type libraries")
	}

	loaded, err := typecode.LoadSet(o.searchPaths, libraries)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "Open", "load type libraries")
	}

	s := &Session{
		factory: factory,
		types:   typecode.NewSet(append(loaded.Libraries(), o.libraries...)...),
		logger:  o.logger.With("domain", o.domainID),
		topics:  make(map[string]*Topic),
	}
	if o.registry != nil {
		s.metrics = sessionMetrics{m: o.registry.CoreMetrics()}
	}

	if o.qosLibrary != "" || o.qosProfile != "" {
		if err := factory.SetQoSProfile(o.qosLibrary, o.qosProfile); err != nil {
			return nil, errors.Wrap(err, "Session", "Open", "set QoS profile")
		}
	}

	if err := s.build(o, onData); err != nil {
		if cerr := s.Close(); cerr != nil {
			err = stderrors.Join(err, cerr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Session) build(o options, onData Callback) error {
	p, err := s.factory.CreateParticipant(o.domainID)
	if err != nil {
		return errors.Wrap(err, "Session", "Open", fmt.Sprintf("create participant in domain %d", o.domainID))
	}
	s.participant = p

	if onData != nil {
		w, err := startWatcher(s, onData, o)
		if err != nil {
			return err
		}
		s.watcher = w
	}

	pub, err := p.CreatePublisher()
	if err != nil {
		return errors.Wrap(err, "Session", "Open", "create publisher")
	}
	s.publisher = pub

	sub, err := p.CreateSubscriber()
	if err != nil {
		return errors.Wrap(err, "Session", "Open", "create subscriber")
	}
	s.subscriber = sub

	if s.watcher != nil {
		s.watcher.initialize()
	}
	s.logger.Debug("session opened", "discovery", onData != nil)
	return nil
}

// DomainID returns the domain the session joined
func (s *Session) DomainID() int { return s.participant.DomainID() }

// Types returns the session's type libraries
func (s *Session) Types() *typecode.Set { return s.types }

// Topics returns the open topics sorted by name
func (s *Session) Topics() []*Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Topic) int { return strings.Compare(a.name, b.name) })
	return out
}

// GetTopic resolves a qualified name such as "Sonar::Ping" or "Sonar.Ping"
// to a topic. The type name is the components joined with "::" and the
// topic name is the last component. Repeated calls return the same Topic;
// each call takes a reference that Close releases.
func (s *Session) GetTopic(qualified string) (*Topic, error) {
	typeName, name, err := splitQualified(qualified)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Wrap(errors.ErrSessionClosed, "Session", "GetTopic", "resolve "+qualified)
	}
	if t, ok := s.topics[name]; ok {
		if t.typeName != typeName {
			return nil, &errors.ConflictError{Topic: name, Existing: t.typeName, Request: typeName}
		}
		t.refs++
		return t, nil
	}

	typ, err := s.types.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	t, err := s.createTopic(qualified, name, typ)
	if err != nil {
		return nil, err
	}
	s.topics[name] = t
	s.metrics.topicsOpen(len(s.topics))
	s.logger.Debug("topic created", "topic", name, "type", typeName)
	return t, nil
}

func splitQualified(qualified string) (typeName, name string, err error) {
	sep := "."
	if strings.Contains(qualified, "::") {
		sep = "::"
	}
	parts := strings.Split(qualified, sep)
	if slices.Contains(parts, "") {
		return "", "", &errors.TypeError{Type: qualified, Reason: "malformed qualified name"}
	}
	return strings.Join(parts, "::"), parts[len(parts)-1], nil
}

// createTopic registers the type and creates the topic with its writer
// and reader. Partially created entities are deleted on failure.
func (s *Session) createTopic(qualified, name string, typ *typecode.Type) (t *Topic, err error) {
	var cleanup []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			if cerr := cleanup[i](); cerr != nil {
				err = stderrors.Join(err, cerr)
			}
		}
	}()

	ts, err := s.participant.RegisterType(typ)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "GetTopic", "register type "+typ.Name())
	}
	tt, err := s.participant.CreateTopic(name, ts)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "GetTopic", "create topic "+name)
	}
	cleanup = append(cleanup, func() error { return s.participant.DeleteTopic(tt) })

	w, err := s.publisher.CreateWriter(tt)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "GetTopic", "create writer for "+name)
	}
	cleanup = append(cleanup, func() error { return s.publisher.DeleteWriter(w) })

	r, err := s.subscriber.CreateReader(tt)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "GetTopic", "create reader for "+name)
	}

	return &Topic{
		endpoint: endpoint{
			session:  s,
			name:     name,
			typeName: typ.Name(),
			reader:   r,
			codec:    codec.New(ts),
		},
		qualified: qualified,
		ts:        ts,
		topic:     tt,
		writer:    w,
		refs:      1,
		filtered:  make(map[*FilteredTopic]struct{}),
	}, nil
}

// releaseTopic drops a reference, or all of them when force is set, and
// deletes the topic's entities once none remain.
func (s *Session) releaseTopic(t *Topic, force bool) error {
	s.mu.Lock()
	if t.closed {
		s.mu.Unlock()
		return nil
	}
	if !force {
		t.refs--
		if t.refs > 0 {
			s.mu.Unlock()
			return nil
		}
	}
	t.closed = true
	delete(s.topics, t.name)
	filtered := make([]*FilteredTopic, 0, len(t.filtered))
	for ft := range t.filtered {
		filtered = append(filtered, ft)
	}
	t.filtered = make(map[*FilteredTopic]struct{})
	s.metrics.topicsOpen(len(s.topics))
	s.mu.Unlock()

	var errs []error
	for _, ft := range filtered {
		errs = append(errs, s.deleteFiltered(ft))
	}
	errs = append(errs, t.unsubscribe())
	t.quiesce()
	if err := s.subscriber.DeleteReader(t.reader); err != nil {
		errs = append(errs, errors.Wrap(err, "Topic", "Close", "delete reader for "+t.name))
	}
	if err := s.publisher.DeleteWriter(t.writer); err != nil {
		errs = append(errs, errors.Wrap(err, "Topic", "Close", "delete writer for "+t.name))
	}
	if err := s.participant.DeleteTopic(t.topic); err != nil {
		errs = append(errs, errors.Wrap(err, "Topic", "Close", "delete topic "+t.name))
	}
	s.logger.Debug("topic closed", "topic", t.name)
	return stderrors.Join(errs...)
}

func (s *Session) releaseFiltered(ft *FilteredTopic) error {
	s.mu.Lock()
	if _, ok := ft.parent.filtered[ft]; !ok {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotSubscribed, "Topic", "Unsubscribe", "release filter on "+ft.name)
	}
	delete(ft.parent.filtered, ft)
	s.mu.Unlock()
	return s.deleteFiltered(ft)
}

func (s *Session) deleteFiltered(ft *FilteredTopic) error {
	var errs []error
	errs = append(errs, ft.unsubscribe())
	ft.quiesce()
	if err := s.subscriber.DeleteReader(ft.reader); err != nil {
		errs = append(errs, errors.Wrap(err, "Topic", "Unsubscribe", "delete filtered reader for "+ft.name))
	}
	if err := s.participant.DeleteTopic(ft.topic); err != nil {
		errs = append(errs, errors.Wrap(err, "Topic", "Unsubscribe", "delete content-filtered topic for "+ft.name))
	}
	return stderrors.Join(errs...)
}

// Close stops discovery and deletes every topic and entity of the session.
// It is safe on a partially opened session and idempotent. Callbacks must
// not close the session that runs them.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.stop())
	}
	for _, t := range s.Topics() {
		errs = append(errs, s.releaseTopic(t, true))
	}
	if s.subscriber != nil {
		if err := s.participant.DeleteSubscriber(s.subscriber); err != nil {
			errs = append(errs, errors.Wrap(err, "Session", "Close", "delete subscriber"))
		}
	}
	if s.publisher != nil {
		if err := s.participant.DeletePublisher(s.publisher); err != nil {
			errs = append(errs, errors.Wrap(err, "Session", "Close", "delete publisher"))
		}
	}
	if s.participant != nil {
		if err := s.factory.DeleteParticipant(s.participant); err != nil {
			errs = append(errs, errors.Wrap(err, "Session", "Close", "delete participant"))
		}
	}

	err := stderrors.Join(errs...)
	if err != nil {
		s.logger.Warn("session closed with errors", "error", err)
	} else {
		s.logger.Debug("session closed")
	}
	return err
}

// Metrics exposes the core metrics the session records into, or nil
func (s *Session) Metrics() *metric.Metrics { return s.metrics.m }
