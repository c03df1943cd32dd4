package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/dynbus/metric"
)

type poolState int

const (
	stateIdle poolState = iota
	stateRunning
	stateStopped
)

// Pool is a keyed worker pool: every key is served by exactly one worker,
// so work submitted under the same key is processed in submission order
// while different keys proceed concurrently.
type Pool[T any] struct {
	process   func(context.Context, T) error
	queues    []chan T
	queueSize int
	metrics   *poolMetrics

	mu    sync.RWMutex // guards state and queue closing
	state poolState
	wg    sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Pool
type Option func(*poolConfig)

type poolConfig struct {
	registry *metric.MetricsRegistry
	prefix   string
}

// WithMetrics registers pool metrics named <prefix>_* with registry
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(c *poolConfig) {
		c.registry = registry
		c.prefix = prefix
	}
}

// NewPool creates a pool of workers, each with a queue of queueSize.
// Non-positive sizes fall back to 4 workers and 256 slots. process must
// not be nil.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option) *Pool[T] {
	if process == nil {
		panic("worker: nil process function")
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	var cfg poolConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pool[T]{
		process:   process,
		queues:    make([]chan T, workers),
		queueSize: queueSize,
	}
	for i := range p.queues {
		p.queues[i] = make(chan T, queueSize)
	}
	if cfg.registry != nil && cfg.prefix != "" {
		p.metrics = newPoolMetrics(cfg.registry, cfg.prefix)
	}
	return p
}

// Start launches one goroutine per queue. Workers exit when ctx is done or
// when Stop has drained their queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}

	for _, q := range p.queues {
		p.wg.Add(1)
		go p.run(ctx, q)
	}
	p.state = stateRunning
	return nil
}

// Submit queues work on the worker that owns key. It never blocks.
func (p *Pool[T]) Submit(key string, work T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.state {
	case stateIdle:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}

	select {
	case p.queues[p.shard(key)] <- work:
		p.submitted.Add(1)
		p.metrics.submit(p.depth())
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.drop()
		return ErrQueueFull
	}
}

func (p *Pool[T]) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pool[T]) depth() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

func (p *Pool[T]) run(ctx context.Context, queue <-chan T) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-queue:
			if !ok {
				return
			}
			start := time.Now()
			err := p.process(ctx, work)

			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}
			p.metrics.done(err, time.Since(start), p.depth())
		}
	}
}

// Stop rejects new work, lets queued work finish and waits up to timeout
// for the workers to exit. Stopping twice is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.state = stateStopped
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns the current counters
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    len(p.queues),
		QueueSize:  p.queueSize,
		QueueDepth: p.depth(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}
