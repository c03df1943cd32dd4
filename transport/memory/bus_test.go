package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/dynamic"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

func pingType() *typecode.Type {
	return typecode.NewStruct("Sonar::Ping",
		typecode.KeyField("sourceSystemID", typecode.NewString(32)),
		typecode.Field("depth", typecode.Primitive(typecode.KindInt32)),
	)
}

// endpoint is one participant with a topic, a writer and a reader on "Ping"
type endpoint struct {
	p      transport.Participant
	ts     transport.TypeSupport
	topic  transport.Topic
	pub    transport.Publisher
	sub    transport.Subscriber
	writer transport.DataWriter
	reader transport.DataReader
}

func newEndpoint(t *testing.T, bus *Bus, domainID int) *endpoint {
	t.Helper()
	var err error
	e := &endpoint{}
	e.p, err = bus.CreateParticipant(domainID)
	require.NoError(t, err)
	e.ts, err = e.p.RegisterType(pingType())
	require.NoError(t, err)
	e.topic, err = e.p.CreateTopic("Ping", e.ts)
	require.NoError(t, err)
	e.pub, err = e.p.CreatePublisher()
	require.NoError(t, err)
	e.sub, err = e.p.CreateSubscriber()
	require.NoError(t, err)
	return e
}

func (e *endpoint) withWriter(t *testing.T) *endpoint {
	t.Helper()
	w, err := e.pub.CreateWriter(e.topic)
	require.NoError(t, err)
	e.writer = w
	return e
}

func (e *endpoint) withReader(t *testing.T) *endpoint {
	t.Helper()
	r, err := e.sub.CreateReader(e.topic)
	require.NoError(t, err)
	e.reader = r
	return e
}

func ping(t *testing.T, id string, depth int32) *dynamic.Data {
	t.Helper()
	d := dynamic.New(pingType())
	require.NoError(t, d.SetString("sourceSystemID", 0, id))
	require.NoError(t, d.SetInt32("depth", 0, depth))
	return d
}

type received struct {
	id    string
	depth int32
	info  transport.SampleInfo
}

func drain(t *testing.T, r transport.DataReader) []received {
	t.Helper()
	loan, err := r.Take()
	if errors.IsNoData(err) {
		return nil
	}
	require.NoError(t, err)
	defer func() { require.NoError(t, r.ReturnLoan(loan)) }()

	var out []received
	for _, s := range loan.Samples() {
		id, err := s.Data.GetString("sourceSystemID", 0)
		require.NoError(t, err)
		depth, err := s.Data.GetInt32("depth", 0)
		require.NoError(t, err)
		out = append(out, received{id: id, depth: depth, info: s.Info})
	}
	return out
}

func newBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	bus := NewBus(opts...)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestWriteDeliversToReadersOfTheDomain(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t)
	b := newEndpoint(t, bus, 0).withReader(t)
	other := newEndpoint(t, bus, 1).withReader(t)

	require.NoError(t, a.writer.Write(ping(t, "19", 42), transport.HandleNil))

	got := drain(t, b.reader)
	require.Len(t, got, 1)
	assert.Equal(t, "19", got[0].id)
	assert.Equal(t, int32(42), got[0].depth)
	assert.Equal(t, transport.InstanceAlive, got[0].info.InstanceState)
	assert.True(t, got[0].info.ValidData)
	assert.NotEqual(t, transport.HandleNil, got[0].info.InstanceHandle)

	assert.Empty(t, drain(t, other.reader), "domains are isolated")

	stats := bus.Stats()
	assert.Zero(t, stats.OutstandingLoans)
	assert.Zero(t, stats.LiveSamples)
}

func TestInstanceLifecycle(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t)
	b := newEndpoint(t, bus, 0).withReader(t)

	require.NoError(t, a.writer.Write(ping(t, "19", 1), transport.HandleNil))
	require.NoError(t, a.writer.Write(ping(t, "20", 2), transport.HandleNil))
	require.NoError(t, a.writer.Dispose(ping(t, "19", 1), transport.HandleNil))

	got := drain(t, b.reader)
	require.Len(t, got, 3)
	assert.Equal(t, got[0].info.InstanceHandle, got[2].info.InstanceHandle)
	assert.NotEqual(t, got[0].info.InstanceHandle, got[1].info.InstanceHandle)
	assert.Equal(t, transport.InstanceDisposed, got[2].info.InstanceState)
	assert.False(t, got[2].info.ValidData)
	assert.Equal(t, "19", got[2].id)

	// Deleting the writer leaves only the alive instance without writers.
	require.NoError(t, a.pub.DeleteWriter(a.writer))
	got = drain(t, b.reader)
	require.Len(t, got, 1)
	assert.Equal(t, "20", got[0].id)
	assert.Equal(t, transport.InstanceNoWriters, got[0].info.InstanceState)
	assert.False(t, got[0].info.ValidData)

	assert.ErrorIs(t, a.writer.Write(ping(t, "19", 1), transport.HandleNil), errors.ErrAlreadyDeleted)
	assert.ErrorIs(t, a.pub.DeleteWriter(a.writer), errors.ErrAlreadyDeleted)
}

func TestExplicitInstanceHandle(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t).withReader(t)

	require.NoError(t, a.writer.Write(ping(t, "19", 1), transport.HandleNil))
	got := drain(t, a.reader)
	require.Len(t, got, 1)
	h := got[0].info.InstanceHandle

	assert.NoError(t, a.writer.Write(ping(t, "19", 2), h))
	assert.ErrorIs(t, a.writer.Write(ping(t, "20", 2), h), errors.ErrBadParameter)
	assert.ErrorIs(t, a.writer.Write(ping(t, "20", 2), h+100), errors.ErrBadParameter)
}

func TestWriteRejectsForeignBuffers(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t)

	other := dynamic.New(typecode.NewStruct("Other", typecode.Field("x", typecode.Primitive(typecode.KindInt32))))
	assert.ErrorIs(t, a.writer.Write(other, transport.HandleNil), errors.ErrBadParameter)
	assert.ErrorIs(t, a.writer.Write(dynamic.New(nil), transport.HandleNil), errors.ErrPreconditionNotMet)
}

func TestTakeEmptyIsNoData(t *testing.T) {
	bus := newBus(t)
	b := newEndpoint(t, bus, 0).withReader(t)

	_, err := b.reader.Take()
	assert.True(t, errors.IsNoData(err))
}

func TestLoanAccounting(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t).withReader(t)
	require.NoError(t, a.writer.Write(ping(t, "19", 1), transport.HandleNil))

	loan, err := a.reader.Take()
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Stats().OutstandingLoans)
	assert.Equal(t, int64(1), bus.Stats().LiveSamples)

	assert.ErrorIs(t, a.sub.DeleteReader(a.reader), errors.ErrPreconditionNotMet,
		"readers with outstanding loans cannot be deleted")

	require.NoError(t, a.reader.ReturnLoan(loan))
	assert.ErrorIs(t, a.reader.ReturnLoan(loan), errors.ErrPreconditionNotMet)
	assert.Zero(t, bus.Stats().LiveSamples)

	require.NoError(t, a.sub.DeleteReader(a.reader))
	_, err = a.reader.Take()
	assert.ErrorIs(t, err, errors.ErrAlreadyDeleted)
}

func TestHistoryDepthDropsOldest(t *testing.T) {
	bus := newBus(t, WithHistoryDepth(2))
	a := newEndpoint(t, bus, 0).withWriter(t).withReader(t)

	for i := int32(1); i <= 3; i++ {
		require.NoError(t, a.writer.Write(ping(t, "19", i), transport.HandleNil))
	}
	got := drain(t, a.reader)
	require.Len(t, got, 2)
	assert.Equal(t, int32(2), got[0].depth)
	assert.Equal(t, int32(3), got[1].depth)
	assert.Equal(t, int64(1), bus.Stats().Dropped)
}

func TestContentFilteredReader(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t)
	b := newEndpoint(t, bus, 0)

	_, err := b.p.CreateContentFilteredTopic("deep", b.topic, "depth > %0", []string{"20"})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	_, err = b.p.CreateContentFilteredTopic("broken", b.topic, "depth >", nil)
	assert.ErrorIs(t, err, errors.ErrBadParameter)

	ft, err := b.p.CreateContentFilteredTopic("deep", b.topic, "depth > 20 and depth < 90", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sonar::Ping", ft.TypeName())
	r, err := b.sub.CreateReader(ft)
	require.NoError(t, err)

	require.NoError(t, a.writer.Write(ping(t, "shallow", 5), transport.HandleNil))
	require.NoError(t, a.writer.Write(ping(t, "deep", 42), transport.HandleNil))
	require.NoError(t, a.writer.Dispose(ping(t, "shallow", 5), transport.HandleNil))
	require.NoError(t, a.writer.Dispose(ping(t, "deep", 42), transport.HandleNil))

	got := drain(t, r)
	require.Len(t, got, 2)
	assert.Equal(t, "deep", got[0].id)
	assert.Equal(t, transport.InstanceAlive, got[0].info.InstanceState)
	assert.Equal(t, "deep", got[1].id)
	assert.Equal(t, transport.InstanceDisposed, got[1].info.InstanceState)

	assert.ErrorIs(t, b.p.DeleteTopic(b.topic), errors.ErrPreconditionNotMet,
		"a topic with filtered topics cannot be deleted")
	assert.ErrorIs(t, b.p.DeleteTopic(ft), errors.ErrPreconditionNotMet,
		"a filtered topic with readers cannot be deleted")
	require.NoError(t, b.sub.DeleteReader(r))
	require.NoError(t, b.p.DeleteTopic(ft))
	require.NoError(t, b.p.DeleteTopic(b.topic))
}

func TestFilterExportFailureSkipsOnlyFilteredReaders(t *testing.T) {
	exportSample = func(transport.DynamicData) (any, error) {
		return nil, errors.Transport(errors.RetcodeError, "Export", "unrenderable sample")
	}
	t.Cleanup(func() { exportSample = dynamic.Export })

	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t)
	b := newEndpoint(t, bus, 0)

	ft, err := b.p.CreateContentFilteredTopic("deep", b.topic, "depth > 20", nil)
	require.NoError(t, err)
	filtered, err := b.sub.CreateReader(ft)
	require.NoError(t, err)
	plain := make([]transport.DataReader, 3)
	for i := range plain {
		plain[i], err = b.sub.CreateReader(b.topic)
		require.NoError(t, err)
	}

	require.NoError(t, a.writer.Write(ping(t, "deep", 42), transport.HandleNil))

	assert.Empty(t, drain(t, filtered))
	for _, r := range plain {
		got := drain(t, r)
		require.Len(t, got, 1)
		assert.Equal(t, "deep", got[0].id)
	}
}

func TestTopicTypeConsistency(t *testing.T) {
	bus := newBus(t)
	_ = newEndpoint(t, bus, 0)

	p, err := bus.CreateParticipant(0)
	require.NoError(t, err)
	other := typecode.NewStruct("Sonar::Ping", typecode.Field("depth", typecode.Primitive(typecode.KindFloat64)))
	ts, err := p.RegisterType(other)
	require.NoError(t, err)

	_, err = p.CreateTopic("Ping", ts)
	assert.ErrorIs(t, err, &errors.TransportError{Code: errors.RetcodeInconsistentPolicy})

	_, err = p.RegisterType(pingType())
	assert.ErrorIs(t, err, errors.ErrPreconditionNotMet, "same name, different definition")

	_, err = p.RegisterType(typecode.Primitive(typecode.KindInt32))
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestTeardownPreconditions(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t).withReader(t)

	assert.ErrorIs(t, a.p.DeleteTopic(a.topic), errors.ErrPreconditionNotMet)
	assert.ErrorIs(t, a.p.DeletePublisher(a.pub), errors.ErrPreconditionNotMet)
	assert.ErrorIs(t, a.p.DeleteSubscriber(a.sub), errors.ErrPreconditionNotMet)
	assert.ErrorIs(t, bus.DeleteParticipant(a.p), errors.ErrPreconditionNotMet)

	require.NoError(t, a.pub.DeleteWriter(a.writer))
	require.NoError(t, a.sub.DeleteReader(a.reader))
	require.NoError(t, a.p.DeleteTopic(a.topic))
	require.NoError(t, a.p.DeleteSubscriber(a.sub))
	require.NoError(t, a.p.DeletePublisher(a.pub))
	require.NoError(t, bus.DeleteParticipant(a.p))

	assert.ErrorIs(t, bus.DeleteParticipant(a.p), errors.ErrAlreadyDeleted)
	assert.Zero(t, bus.Stats().Participants)
	assert.Zero(t, bus.Stats().Topics)
}

func TestListenerDispatch(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t)
	b := newEndpoint(t, bus, 0).withReader(t)

	// Samples written before the listener is set are announced on SetListener.
	require.NoError(t, a.writer.Write(ping(t, "19", 1), transport.HandleNil))

	var mu sync.Mutex
	var depths []int32
	require.NoError(t, b.reader.SetListener(transport.ListenerFunc(func(r transport.DataReader) {
		got := drain(t, r)
		mu.Lock()
		defer mu.Unlock()
		for _, s := range got {
			depths = append(depths, s.depth)
		}
	})))

	for i := int32(2); i <= 50; i++ {
		require.NoError(t, a.writer.Write(ping(t, "19", i), transport.HandleNil))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(depths) == 50
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	for i, d := range depths {
		assert.Equal(t, int32(i+1), d, "samples arrive in write order")
	}
	mu.Unlock()

	require.NoError(t, b.reader.SetListener(nil))
	require.NoError(t, a.writer.Write(ping(t, "19", 99), transport.HandleNil))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, bus.Stats().Queued, "without a listener samples wait for Take")
}

func TestListenerPanicIsContained(t *testing.T) {
	bus := newBus(t)
	a := newEndpoint(t, bus, 0).withWriter(t).withReader(t)

	calls := make(chan struct{}, 4)
	require.NoError(t, a.reader.SetListener(transport.ListenerFunc(func(transport.DataReader) {
		calls <- struct{}{}
		panic("boom")
	})))

	require.NoError(t, a.writer.Write(ping(t, "19", 1), transport.HandleNil))
	<-calls
	// The pool survives; the next notification still runs.
	require.NoError(t, a.writer.Write(ping(t, "19", 2), transport.HandleNil))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not invoked after a panic")
	}
}

func TestQoSProfiles(t *testing.T) {
	bus := newBus(t, WithQoSProfiles("Lib::Reliable"))

	assert.ErrorIs(t, bus.SetQoSProfile("Lib", "Fast"), errors.ErrBadParameter)
	assert.ErrorIs(t, bus.SetQoSProfile("", "Fast"), errors.ErrBadParameter)
	require.NoError(t, bus.SetQoSProfile("Lib", "Reliable"))

	p, err := bus.CreateParticipant(3)
	require.NoError(t, err)
	assert.Equal(t, "Lib::Reliable", p.(*participant).QoSProfile())
	assert.Equal(t, 3, p.DomainID())

	_, err = bus.CreateParticipant(-1)
	assert.ErrorIs(t, err, errors.ErrBadParameter)

	require.NoError(t, bus.Close())
	_, err = bus.CreateParticipant(0)
	assert.ErrorIs(t, err, errors.ErrNotEnabled)
}

func TestPublicationDiscovery(t *testing.T) {
	bus := newBus(t)
	early := newEndpoint(t, bus, 0).withWriter(t)
	watcher := newEndpoint(t, bus, 0)

	pr, err := watcher.p.PublicationReader()
	require.NoError(t, err)
	again, err := watcher.p.PublicationReader()
	require.NoError(t, err)
	assert.Same(t, pr, again)

	ws, err := watcher.p.CreateWaitSet()
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.Attach(pr.StatusCondition()))

	// The earlier writer is replayed.
	active, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, active, 1)

	loan, err := pr.Take()
	require.NoError(t, err)
	pubs := loan.Publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, "Ping", pubs[0].TopicName)
	assert.Equal(t, "Sonar::Ping", pubs[0].TypeName)
	assert.Equal(t, early.p.(*participant).Key(), pubs[0].ParticipantKey)
	require.NoError(t, pr.ReturnLoan(loan))
	assert.ErrorIs(t, pr.ReturnLoan(loan), errors.ErrPreconditionNotMet)

	// Own writers are not reported.
	watcher.withWriter(t)
	_, err = ws.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrTimeout)

	// A later writer of another participant wakes a blocked wait.
	done := make(chan []transport.Condition, 1)
	go func() {
		active, _ := ws.Wait(context.Background(), 0)
		done <- active
	}()
	newEndpoint(t, bus, 0).withWriter(t)
	select {
	case active := <-done:
		assert.Len(t, active, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("wait-set was not woken by a new publication")
	}
}

func TestWaitSetCancellation(t *testing.T) {
	bus := newBus(t)
	e := newEndpoint(t, bus, 0)
	pr, err := e.p.PublicationReader()
	require.NoError(t, err)

	ws, err := e.p.CreateWaitSet()
	require.NoError(t, err)
	require.NoError(t, ws.Attach(pr.StatusCondition()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = ws.Wait(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, ws.Detach(pr.StatusCondition()))
	assert.ErrorIs(t, ws.Detach(pr.StatusCondition()), errors.ErrPreconditionNotMet)
	require.NoError(t, ws.Close())
	_, err = ws.Wait(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrAlreadyDeleted)
}
