package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/dynbus/errors"
)

// Transport kinds
const (
	TransportMemory = "memory" // In-process bus, single process only
	TransportNATS   = "nats"   // NATS core subjects + JetStream KV discovery
)

// Config is the complete dynbus configuration
type Config struct {
	Domain    DomainConfig    `yaml:"domain" json:"domain"`
	Types     TypesConfig     `yaml:"types" json:"types"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// DomainConfig selects the domain and an optional QoS profile
type DomainConfig struct {
	ID         int    `yaml:"id" json:"id"`
	QoSLibrary string `yaml:"qos_library,omitempty" json:"qos_library,omitempty"`
	QoSProfile string `yaml:"qos_profile,omitempty" json:"qos_profile,omitempty"`
}

// TypesConfig names the type libraries to load, searched in order
type TypesConfig struct {
	SearchPaths []string `yaml:"search_paths,omitempty" json:"search_paths,omitempty"`
	Libraries   []string `yaml:"libraries,omitempty" json:"libraries,omitempty"`
}

// TransportConfig selects and configures the transport
type TransportConfig struct {
	Kind string     `yaml:"kind" json:"kind"`
	NATS NATSConfig `yaml:"nats,omitempty" json:"nats,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs            []string      `yaml:"urls,omitempty" json:"urls,omitempty"`
	ClientName      string        `yaml:"client_name,omitempty" json:"client_name,omitempty"`
	Username        string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password        string        `yaml:"password,omitempty" json:"password,omitempty"`
	Token           string        `yaml:"token,omitempty" json:"token,omitempty"`
	MaxReconnects   int           `yaml:"max_reconnects,omitempty" json:"max_reconnects,omitempty"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait,omitempty" json:"reconnect_wait,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	DiscoveryBucket string        `yaml:"discovery_bucket,omitempty" json:"discovery_bucket,omitempty"`
}

// LoggingConfig configures the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig configures the Prometheus scrape endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Domain: DomainConfig{ID: 0},
		Types: TypesConfig{
			SearchPaths: []string{"."},
		},
		Transport: TransportConfig{
			Kind: TransportMemory,
			NATS: NATSConfig{
				URLs:            []string{"nats://localhost:4222"},
				ClientName:      "dynbus",
				MaxReconnects:   -1,
				ReconnectWait:   2 * time.Second,
				Timeout:         5 * time.Second,
				DiscoveryBucket: "DYNBUS_PUBLICATIONS",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090", Path: "/metrics"},
	}
}

// Validate checks the configuration and normalizes case-insensitive fields
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
			"Config", "Validate", "validate configuration")
	}

	if c.Domain.ID < 0 || c.Domain.ID > 232 {
		return fail("domain.id %d not in range [0, 232]", c.Domain.ID)
	}
	if (c.Domain.QoSLibrary == "") != (c.Domain.QoSProfile == "") {
		return fail("domain.qos_library and domain.qos_profile must be set together")
	}

	for i, name := range c.Types.Libraries {
		if strings.TrimSpace(name) == "" {
			return fail("types.libraries[%d] is empty", i)
		}
	}

	c.Transport.Kind = strings.ToLower(c.Transport.Kind)
	switch c.Transport.Kind {
	case TransportMemory:
	case TransportNATS:
		if len(c.Transport.NATS.URLs) == 0 {
			return fail("transport.nats.urls is required for the nats transport")
		}
		if c.Transport.NATS.DiscoveryBucket == "" {
			return fail("transport.nats.discovery_bucket is required for the nats transport")
		}
		if c.Transport.NATS.Timeout < 0 || c.Transport.NATS.ReconnectWait < 0 {
			return fail("transport.nats durations must not be negative")
		}
	default:
		return fail("transport.kind %q must be %q or %q", c.Transport.Kind, TransportMemory, TransportNATS)
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fail("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fail("logging.format %q must be json or text", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fail("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.Types.SearchPaths = append([]string(nil), c.Types.SearchPaths...)
	clone.Types.Libraries = append([]string(nil), c.Types.Libraries...)
	clone.Transport.NATS.URLs = append([]string(nil), c.Transport.NATS.URLs...)
	return &clone
}

// String renders the configuration as YAML with credentials masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, secret := range []*string{
		&masked.Transport.NATS.Password,
		&masked.Transport.NATS.Token,
	} {
		if *secret != "" {
			*secret = "****"
		}
	}
	data, _ := yaml.Marshal(masked)
	return string(data)
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapFatal(err, "Config", "SaveToFile", "marshal configuration")
	}
	return safeWriteFile(path, data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "replace configuration")
	}

	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = next
	return nil
}
