package natsbus

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/metric"
	"github.com/c360/dynbus/natsclient"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/transport/memory"
)

// DefaultBucket is the discovery bucket used when none is configured
const DefaultBucket = "DYNBUS_PUBLICATIONS"

var (
	_ memory.Link                  = (*Bus)(nil)
	_ transport.ParticipantFactory = (*Bus)(nil)
)

type options struct {
	logger   *slog.Logger
	bucket   string
	timeout  time.Duration
	registry *metric.MetricsRegistry
	memory   []memory.Option
}

// Option configures a Bus
type Option func(*options)

// WithLogger sets the logger of the bus and its memory bus
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBucket sets the discovery key-value bucket
func WithBucket(name string) Option {
	return func(o *options) {
		if name != "" {
			o.bucket = name
		}
	}
}

// WithTimeout bounds each discovery bucket operation
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMetrics counts forwarded events in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithMemoryOptions passes options to the underlying memory bus
func WithMemoryOptions(opts ...memory.Option) Option {
	return func(o *options) { o.memory = append(o.memory, opts...) }
}

// Bus is a memory bus linked to other processes through NATS. It is a
// transport.ParticipantFactory.
type Bus struct {
	*memory.Bus

	client *natsclient.Client
	kv     *natsclient.KVStore
	logger *slog.Logger
	events *prometheus.CounterVec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	domains map[int]*domainLink
	closed  bool
}

// domainLink is the NATS state of one joined domain
type domainLink struct {
	sub *natsclient.Subscription

	mu     sync.Mutex
	remote map[string]transport.PublicationData // bucket key -> publication
}

// NewBus creates the discovery bucket if needed and returns a bus linked
// through client, which must be connected.
func NewBus(ctx context.Context, client *natsclient.Client, opts ...Option) (*Bus, error) {
	o := options{logger: slog.Default(), bucket: DefaultBucket, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsbus", "NewBus", "select NATS client")
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      o.bucket,
		Description: "dynbus publication discovery",
	})
	if err != nil {
		return nil, errors.Wrap(err, "natsbus", "NewBus", "open discovery bucket "+o.bucket)
	}

	b := &Bus{
		client:  client,
		kv:      client.NewKVStore(bucket, func(kv *natsclient.KVOptions) { kv.Timeout = o.timeout }),
		logger:  o.logger.With("component", "natsbus"),
		domains: make(map[int]*domainLink),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	if o.registry != nil {
		b.events = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynbus",
			Subsystem: "natsbus",
			Name:      "events_total",
			Help:      "Sample events exchanged over NATS by direction and kind",
		}, []string{"direction", "kind"})
		if err := o.registry.RegisterCounterVec("natsbus", "events_total", b.events); err != nil {
			b.cancel()
			return nil, err
		}
	}

	memOpts := append([]memory.Option{memory.WithLogger(o.logger)}, o.memory...)
	if o.registry != nil {
		memOpts = append(memOpts, memory.WithMetrics(o.registry))
	}
	b.Bus = memory.NewBus(append(memOpts, memory.WithLink(b))...)
	return b, nil
}

// CreateParticipant creates the participant and joins its domain on NATS.
// Publications already recorded in the bucket are visible when it returns.
func (b *Bus) CreateParticipant(domainID int) (transport.Participant, error) {
	p, err := b.Bus.CreateParticipant(domainID)
	if err != nil {
		return nil, err
	}
	if err := b.join(domainID); err != nil {
		return nil, stderrors.Join(err, b.Bus.DeleteParticipant(p))
	}
	return p, nil
}

// join subscribes to the domain's samples, seeds the publications already
// recorded and watches for changes. A domain stays joined until the bus
// closes.
func (b *Bus) join(domain int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.Transport(errors.RetcodeNotEnabled, "CreateParticipant", "bus was closed")
	}
	if _, ok := b.domains[domain]; ok {
		return nil
	}

	dl := &domainLink{remote: make(map[string]transport.PublicationData)}
	sub, err := b.client.Subscribe(domainSubject(domain), func(msg *nats.Msg) {
		b.receive(domain, msg)
	})
	if err != nil {
		return errors.Wrap(err, "natsbus", "CreateParticipant", "subscribe to domain samples")
	}

	watcher, err := b.kv.Watch(b.ctx, recordKey(domain, "*"))
	if err != nil {
		_ = sub.Unsubscribe()
		return errors.Wrap(err, "natsbus", "CreateParticipant", "watch domain publications")
	}
	dl.sub = sub
	b.domains[domain] = dl
	b.seed(domain, dl)

	b.wg.Add(1)
	go b.watch(domain, dl, watcher)
	b.logger.Debug("joined domain", "domain", domain)
	return nil
}

func (b *Bus) receive(domain int, msg *nats.Msg) {
	source, e, err := decodeEvent(domain, msg.Data)
	if err != nil {
		b.logger.Warn("dropping malformed event", "subject", msg.Subject, "error", err)
		b.count("in", "malformed")
		return
	}
	if source == b.ID() {
		return
	}
	b.count("in", string(e.Kind))
	if err := b.Deliver(e); err != nil {
		b.logger.Warn("remote event rejected", "topic", e.Topic, "type", e.TypeName, "error", err)
	}
}

// watch applies changes of the domain's publication records until the
// bus closes
func (b *Bus) watch(domain int, dl *domainLink, w jetstream.KeyWatcher) {
	defer b.wg.Done()
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-b.ctx.Done():
			return
		case entry, ok := <-w.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			b.applyRecord(domain, dl, entry)
		}
	}
}

// seed registers the domain's recorded publications. The watch replays
// them too; addRecord ignores keys it already holds.
func (b *Bus) seed(domain int, dl *domainLink) {
	keys, err := b.kv.Keys(b.ctx)
	if err != nil {
		b.logger.Warn("listing publication records failed", "domain", domain, "error", err)
		return
	}
	prefix := recordKey(domain, "")
	seeded := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := b.kv.Get(b.ctx, key)
		if err != nil {
			if !natsclient.IsKVNotFoundError(err) {
				b.logger.Warn("reading publication record failed", "key", key, "error", err)
			}
			continue
		}
		if b.addRecord(domain, dl, key, entry.Value) {
			seeded++
		}
	}
	b.logger.Debug("seeded publications", "domain", domain, "count", seeded)
}

func (b *Bus) applyRecord(domain int, dl *domainLink, entry jetstream.KeyValueEntry) {
	key := entry.Key()
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		b.addRecord(domain, dl, key, entry.Value())

	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		dl.mu.Lock()
		pub, ok := dl.remote[key]
		delete(dl.remote, key)
		dl.mu.Unlock()
		if ok {
			b.RemovePublication(domain, pub)
		}
	}
}

// addRecord registers a remote writer once per bucket key
func (b *Bus) addRecord(domain int, dl *domainLink, key string, value []byte) bool {
	var rec publicationRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		b.logger.Warn("dropping malformed publication record", "key", key, "error", err)
		return false
	}
	if rec.Source == b.ID() {
		return false
	}
	pub := rec.publication()
	dl.mu.Lock()
	if _, ok := dl.remote[key]; ok {
		dl.mu.Unlock()
		return false
	}
	dl.remote[key] = pub
	dl.mu.Unlock()
	b.AddPublication(domain, pub)
	return true
}

// Send publishes a local sample event
func (b *Bus) Send(e memory.Event) error {
	data, err := encodeEvent(b.ID(), e)
	if err != nil {
		return err
	}
	if err := b.client.Publish(subject(e.Domain, e.Topic), nil, data); err != nil {
		return errors.Transport(errors.RetcodeError, "Write", "forward to NATS: %v", err)
	}
	b.count("out", string(e.Kind))
	return nil
}

// Announce records a local writer in the discovery bucket
func (b *Bus) Announce(domain int, pub transport.PublicationData) error {
	if _, err := b.kv.PutJSON(b.ctx, recordKey(domain, pub.Key), newRecord(b.ID(), pub)); err != nil {
		return errors.Wrap(err, "natsbus", "Announce", "record publication of "+pub.TopicName)
	}
	return nil
}

// Withdraw removes a local writer from the discovery bucket
func (b *Bus) Withdraw(domain int, pub transport.PublicationData) error {
	ctx := b.ctx
	if ctx.Err() != nil {
		// writers deleted after Close still withdraw their records
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := b.kv.Delete(ctx, recordKey(domain, pub.Key)); err != nil {
		return errors.Wrap(err, "natsbus", "Withdraw", "remove publication of "+pub.TopicName)
	}
	return nil
}

func (b *Bus) count(direction, kind string) {
	if b.events != nil {
		b.events.WithLabelValues(direction, kind).Inc()
	}
}

// Close stops watching, unsubscribes every domain and closes the memory
// bus. The NATS client stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	domains := b.domains
	b.domains = make(map[int]*domainLink)
	b.mu.Unlock()

	b.cancel()
	var errs []error
	for _, dl := range domains {
		errs = append(errs, dl.sub.Unsubscribe())
	}
	b.wg.Wait()
	errs = append(errs, b.Bus.Close())
	return stderrors.Join(errs...)
}
