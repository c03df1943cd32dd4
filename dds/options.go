package dds

import (
	"log/slog"

	"github.com/c360/dynbus/metric"
	"github.com/c360/dynbus/typecode"
)

// Callback receives one decoded sample. Returned errors are logged and
// counted against the topic.
type Callback func(value map[string]any) error

type options struct {
	domainID    int
	qosLibrary  string
	qosProfile  string
	logger      *slog.Logger
	registry    *metric.MetricsRegistry
	searchPaths []string
	libraries   []*typecode.Library

	// discovery mode
	onRevoked Callback
	onLost    Callback
}

// Option configures a Session
type Option func(*options)

// WithDomainID selects the domain to join (default 0)
func WithDomainID(id int) Option {
	return func(o *options) { o.domainID = id }
}

// WithQoSProfile sets the participant QoS profile before the participant is created
func WithQoSProfile(library, profile string) Option {
	return func(o *options) {
		o.qosLibrary = library
		o.qosProfile = profile
	}
}

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records session metrics in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithTypeSearchPath sets the directories searched for named type libraries
func WithTypeSearchPath(paths ...string) Option {
	return func(o *options) { o.searchPaths = append(o.searchPaths, paths...) }
}

// WithTypeLibraries adds already loaded libraries. They are searched after
// the libraries named in Open.
func WithTypeLibraries(libs ...*typecode.Library) Option {
	return func(o *options) { o.libraries = append(o.libraries, libs...) }
}

// WithDiscoveryCallbacks sets the revoked and liveliness-lost callbacks
// used for topics opened by SubscribeToAllTopics. Either may be nil.
func WithDiscoveryCallbacks(onRevoked, onLivelinessLost Callback) Option {
	return func(o *options) {
		o.onRevoked = onRevoked
		o.onLost = onLivelinessLost
	}
}

// SubscribeOption configures a subscription
type SubscribeOption func(*subscription)

type subscription struct {
	onData    Callback
	onRevoked Callback
	onLost    Callback
	filter    string
	envelope  bool
}

// OnInstanceRevoked is called with samples of disposed instances
func OnInstanceRevoked(cb Callback) SubscribeOption {
	return func(s *subscription) { s.onRevoked = cb }
}

// OnLivelinessLost is called with samples of instances that lost all writers
func OnLivelinessLost(cb Callback) SubscribeOption {
	return func(s *subscription) { s.onLost = cb }
}

// WithFilter subscribes through a content-filtered topic. The expression
// must not use positional parameters.
func WithFilter(expression string) SubscribeOption {
	return func(s *subscription) { s.filter = expression }
}

// WithEnvelope wraps delivered values as {"name": <type name>, "data": <value>}
func WithEnvelope() SubscribeOption {
	return func(s *subscription) { s.envelope = true }
}
