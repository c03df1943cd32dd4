package worker

import "errors"

// Submit and lifecycle errors
var (
	ErrNotStarted     = errors.New("worker: pool not started")
	ErrStopped        = errors.New("worker: pool stopped")
	ErrAlreadyStarted = errors.New("worker: pool already started")
	ErrQueueFull      = errors.New("worker: queue full")
	ErrStopTimeout    = errors.New("worker: stop timed out with work in flight")
)
