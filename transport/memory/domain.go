package memory

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/c360/dynbus/dynamic"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

// domain is the shared state of all participants attached to one domain id.
// Everything below is guarded by mu.
type domain struct {
	bus *Bus
	id  int

	mu sync.Mutex

	participants map[*participant]struct{}
	topics       map[string]*topicState
	publications map[string]transport.PublicationData
}

type topicState struct {
	name      string
	t         *typecode.Type
	refs      int
	instances map[string]*instance
	readers   map[*reader]struct{}
}

type instance struct {
	handle  transport.InstanceHandle
	state   transport.InstanceState
	writers map[string]struct{}
	last    *dynamic.Data
}

func newDomain(b *Bus, id int) *domain {
	return &domain{
		bus:          b,
		id:           id,
		participants: make(map[*participant]struct{}),
		topics:       make(map[string]*topicState),
		publications: make(map[string]transport.PublicationData),
	}
}

func (d *domain) join(p *participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participants[p] = struct{}{}
}

func (d *domain) leave(p *participant) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(p.topics) + len(p.publishers) + len(p.subscribers); n > 0 {
		return errors.Transport(errors.RetcodePreconditionNotMet, "DeleteParticipant",
			"participant still owns %d entities", n)
	}
	delete(d.participants, p)
	if p.builtin != nil {
		p.builtin.close()
	}
	return nil
}

// addTopic registers a participant's use of a topic name. Every participant
// in the domain must agree on the topic's type.
func (d *domain) addTopic(name string, t *typecode.Type) (*topicState, error) {
	ts, ok := d.topics[name]
	if !ok {
		ts = &topicState{
			name:      name,
			t:         t,
			instances: make(map[string]*instance),
			readers:   make(map[*reader]struct{}),
		}
		d.topics[name] = ts
	} else if !ts.t.Equal(t) {
		return nil, errors.Transport(errors.RetcodeInconsistentPolicy, "CreateTopic",
			"topic %s already uses type %s", name, ts.t.Name())
	}
	ts.refs++
	return ts, nil
}

func (d *domain) dropTopic(ts *topicState) {
	ts.refs--
	if ts.refs == 0 {
		for _, inst := range ts.instances {
			inst.last = nil
		}
		delete(d.topics, ts.name)
	}
}

func (d *domain) instanceFor(ts *topicState, key string, h transport.InstanceHandle, op string) (*instance, error) {
	inst, ok := ts.instances[key]
	if !ok {
		if h != transport.HandleNil {
			return nil, errors.Transport(errors.RetcodeBadParameter, op, "unknown instance handle %d", h)
		}
		inst = &instance{
			handle:  d.bus.nextHandle(),
			state:   transport.InstanceAlive,
			writers: make(map[string]struct{}),
		}
		ts.instances[key] = inst
		return inst, nil
	}
	if h != transport.HandleNil && h != inst.handle {
		return nil, errors.Transport(errors.RetcodePreconditionNotMet, op,
			"instance handle %d does not match the sample key", h)
	}
	return inst, nil
}

func (d *domain) write(ts *topicState, writer, key string, h transport.InstanceHandle,
	data *dynamic.Data, at time.Time) (*instance, error) {
	inst, err := d.instanceFor(ts, key, h, "Write")
	if err != nil {
		return nil, err
	}
	inst.state = transport.InstanceAlive
	inst.writers[writer] = struct{}{}
	inst.last = data

	d.deliver(ts, key, inst, data, true, at)
	return inst, nil
}

func (d *domain) dispose(ts *topicState, writer, key string, h transport.InstanceHandle,
	data *dynamic.Data, at time.Time) (*instance, error) {
	inst, err := d.instanceFor(ts, key, h, "Dispose")
	if err != nil {
		return nil, err
	}
	inst.state = transport.InstanceDisposed
	inst.writers[writer] = struct{}{}
	inst.last = data

	d.deliver(ts, key, inst, data, false, at)
	return inst, nil
}

// unregister removes writer from an instance. The last writer leaving an
// alive instance moves it to no-writers.
func (d *domain) unregister(ts *topicState, writer, key string, at time.Time) bool {
	inst, ok := ts.instances[key]
	if !ok {
		return false
	}
	if _, ok := inst.writers[writer]; !ok {
		return false
	}
	delete(inst.writers, writer)
	if len(inst.writers) > 0 || inst.state != transport.InstanceAlive {
		return false
	}

	inst.state = transport.InstanceNoWriters
	if inst.last != nil {
		d.deliver(ts, key, inst, inst.last, false, at)
	}
	return true
}

// exportSample renders samples for content filters
var exportSample = dynamic.Export

// deliver queues a copy of data on every reader of ts. Filtered readers
// receive alive samples that match their filter, and state changes only for
// instances they have already seen.
func (d *domain) deliver(ts *topicState, key string, inst *instance, data *dynamic.Data, valid bool, at time.Time) {
	var (
		exported     map[string]any
		exportFailed bool
	)
	info := transport.SampleInfo{
		InstanceState:   inst.state,
		InstanceHandle:  inst.handle,
		ValidData:       valid,
		SourceTimestamp: at,
	}

	for r := range ts.readers {
		if r.filter != nil {
			if valid {
				if exported == nil && !exportFailed {
					v, err := exportSample(data)
					if err != nil {
						d.bus.logger.Error("export for content filter failed", "topic", ts.name, "error", err)
						exportFailed = true
					}
					exported, _ = v.(map[string]any)
				}
				if exportFailed {
					continue
				}
				ok, err := r.filter.Match(exported)
				if err != nil {
					d.bus.logger.Warn("content filter evaluation failed",
						"topic", ts.name, "filter", r.filter.String(), "error", err)
				}
				if !ok {
					continue
				}
				r.seen[key] = struct{}{}
			} else if _, seen := r.seen[key]; !seen {
				continue
			}
		}
		r.push(data, info)
	}
}

// announce records a publication and queues it on the builtin reader of
// every participant other than its owner.
func (d *domain) announce(pub transport.PublicationData) {
	d.publications[pub.Key] = pub
	for p := range d.participants {
		if p.key != pub.ParticipantKey && p.builtin != nil {
			p.builtin.push(pub)
		}
	}
}

func (d *domain) withdraw(key string) {
	delete(d.publications, key)
}

// history returns the publications visible to p
func (d *domain) history(p *participant) []transport.PublicationData {
	var out []transport.PublicationData
	for pub := range maps.Values(d.publications) {
		if pub.ParticipantKey != p.key {
			out = append(out, pub)
		}
	}
	slices.SortFunc(out, func(a, b transport.PublicationData) int { return cmp.Compare(a.Key, b.Key) })
	return out
}
