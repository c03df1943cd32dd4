package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/metric"
	"github.com/c360/dynbus/pkg/worker"
	"github.com/c360/dynbus/transport"
)

// Default tuning
const (
	DefaultWorkers      = 4
	DefaultQueueSize    = 1024
	DefaultHistoryDepth = 1024
	stopTimeout         = 5 * time.Second
)

// Bus is an in-process participant factory. The zero value is not usable;
// create one with NewBus and release it with Close.
type Bus struct {
	id     string
	logger *slog.Logger
	link   Link

	workers      int
	queueSize    int
	historyDepth int
	profiles     []string
	registry     *metric.MetricsRegistry

	pool   *worker.Pool[*reader]
	cancel context.CancelFunc

	handles atomic.Int64

	mu           sync.Mutex
	qosLibrary   string
	qosProfile   string
	domains      map[int]*domain
	participants map[*participant]struct{}
	closed       bool
}

var _ transport.ParticipantFactory = (*Bus)(nil)

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger used for dispatch failures
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithWorkers sizes the listener dispatch pool
func WithWorkers(workers, queueSize int) Option {
	return func(b *Bus) {
		b.workers = workers
		b.queueSize = queueSize
	}
}

// WithHistoryDepth bounds the samples a reader keeps before the oldest is dropped
func WithHistoryDepth(depth int) Option {
	return func(b *Bus) {
		if depth > 0 {
			b.historyDepth = depth
		}
	}
}

// WithQoSProfiles restricts SetQoSProfile to the given "library::profile"
// names. Without it every profile is accepted.
func WithQoSProfiles(profiles ...string) Option {
	return func(b *Bus) {
		b.profiles = append(b.profiles, profiles...)
	}
}

// WithMetrics registers listener pool metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bus) {
		b.registry = registry
	}
}

// WithLink bridges the bus to other processes
func WithLink(link Link) Option {
	return func(b *Bus) {
		b.link = link
	}
}

// NewBus creates a bus and starts its listener pool
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		id:           uuid.NewString(),
		logger:       slog.Default(),
		workers:      DefaultWorkers,
		queueSize:    DefaultQueueSize,
		historyDepth: DefaultHistoryDepth,
		domains:      make(map[int]*domain),
		participants: make(map[*participant]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	var poolOpts []worker.Option
	if b.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics(b.registry, "dynbus_listener_pool"))
	}
	b.pool = worker.NewPool(b.workers, b.queueSize, b.dispatch, poolOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	// Start only fails on a second call.
	_ = b.pool.Start(ctx)

	return b
}

// ID identifies the bus; links use it to drop their own echoes.
func (b *Bus) ID() string { return b.id }

// Close stops listener dispatch. Entities still alive are abandoned.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pool.Stop(stopTimeout)
	b.cancel()
	if err != nil {
		return errors.WrapTransient(err, "Bus", "Close", "stop listener pool")
	}
	return nil
}

// SetQoSProfile selects the profile applied to participants created afterwards
func (b *Bus) SetQoSProfile(library, profile string) error {
	if library == "" || profile == "" {
		return errors.Transport(errors.RetcodeBadParameter, "SetQoSProfile", "library and profile are required")
	}
	if len(b.profiles) > 0 && !slices.Contains(b.profiles, library+"::"+profile) {
		return errors.Transport(errors.RetcodeBadParameter, "SetQoSProfile", "unknown profile %s::%s", library, profile)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.qosLibrary, b.qosProfile = library, profile
	return nil
}

// CreateParticipant attaches a new participant to domainID
func (b *Bus) CreateParticipant(domainID int) (transport.Participant, error) {
	const op = "CreateParticipant"
	if domainID < 0 {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "domain id %d", domainID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Transport(errors.RetcodeNotEnabled, op, "bus is closed")
	}

	d, ok := b.domains[domainID]
	if !ok {
		d = newDomain(b, domainID)
		b.domains[domainID] = d
	}

	p := newParticipant(b, d)
	if b.qosProfile != "" {
		p.qos = b.qosLibrary + "::" + b.qosProfile
	}
	d.join(p)
	b.participants[p] = struct{}{}
	return p, nil
}

// DeleteParticipant detaches a participant. Its topics, publishers and
// subscribers must already be deleted.
func (b *Bus) DeleteParticipant(tp transport.Participant) error {
	const op = "DeleteParticipant"
	p, ok := tp.(*participant)
	if !ok || p.bus != b {
		return errors.Transport(errors.RetcodeBadParameter, op, "participant %T does not belong to this bus", tp)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.participants[p]; !ok {
		return errors.Transport(errors.RetcodeAlreadyDeleted, op, "participant was deleted")
	}
	if err := p.domain.leave(p); err != nil {
		return err
	}
	delete(b.participants, p)
	return nil
}

func (b *Bus) domain(id int) *domain {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.domains[id]
}

func (b *Bus) nextHandle() transport.InstanceHandle {
	return transport.InstanceHandle(b.handles.Add(1))
}

// notify schedules a listener run for r
func (b *Bus) notify(r *reader) {
	if err := b.pool.Submit(r.guid, r); err != nil {
		r.pending.Store(false)
		b.logger.Warn("listener notification dropped",
			"topic", r.topic.Name(), "reader", r.guid, "error", err)
	}
}

func (b *Bus) dispatch(_ context.Context, r *reader) error {
	r.pending.Store(false)
	l := r.currentListener()
	if l == nil {
		return nil
	}

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.Transport(errors.RetcodeError, "OnDataAvailable", "listener panicked: %v", rec)
			}
		}()
		l.OnDataAvailable(r)
	}()

	if err != nil {
		b.logger.Error("reader listener failed", "topic", r.topic.Name(), "reader", r.guid, "error", err)
	}
	return err
}

// Stats summarizes reader state across the bus
type Stats struct {
	Participants     int
	Topics           int
	Readers          int
	Queued           int
	OutstandingLoans int
	LiveSamples      int64
	Dropped          int64
}

// Stats returns a snapshot of reader queues and loans
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Participants: len(b.participants)}
	for _, d := range b.domains {
		d.mu.Lock()
		s.Topics += len(d.topics)
		for _, ts := range d.topics {
			for r := range ts.readers {
				queued, loans, live, dropped := r.stats()
				s.Readers++
				s.Queued += queued
				s.OutstandingLoans += loans
				s.LiveSamples += live
				s.Dropped += dropped
			}
		}
		d.mu.Unlock()
	}
	return s
}
