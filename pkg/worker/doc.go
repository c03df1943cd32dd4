// Package worker provides a keyed worker pool.
//
// Work is submitted under a key; all work for one key runs on the same
// worker goroutine in submission order, while different keys are spread
// over the pool and run concurrently. The in-memory transport uses it to
// dispatch reader listeners: each reader is a key, so callbacks for one
// topic never overlap or reorder, and no ordering holds across topics.
//
//	pool := worker.NewPool[Job](4, 256, func(ctx context.Context, j Job) error {
//	    return j.Run(ctx)
//	})
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
//	err := pool.Submit("reader-7", job)
//	if errors.Is(err, worker.ErrQueueFull) {
//	    // backpressure: the worker for this key is behind
//	}
//
// Submit never blocks. Statistics are always tracked; Prometheus metrics
// are registered when WithMetrics is given.
package worker
