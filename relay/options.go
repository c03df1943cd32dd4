package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/dynbus/metric"
)

type options struct {
	logger       *slog.Logger
	registry     *metric.MetricsRegistry
	queueSize    int
	writeTimeout time.Duration
	pingInterval time.Duration
	checkOrigin  func(*http.Request) bool
}

// Option configures a Hub
type Option func(*options)

// WithLogger sets the hub logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers relay metrics with registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithQueueSize bounds each client's outbound queue
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single frame write
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithPingInterval sets the keepalive period. Clients silent for twice
// this period are dropped.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// WithCheckOrigin replaces the default allow-all origin check
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.checkOrigin = fn
		}
	}
}
