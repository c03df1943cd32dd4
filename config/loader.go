package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/dynbus/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "DYNBUS"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// Load reads the given file (if any) over the defaults, applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		layer, err := loadRaw(path)
		if err != nil {
			return nil, err
		}
		merged = deepMergeMaps(merged, layer)
	}

	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "marshal merged layers")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged layers")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "marshal defaults")
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "decode defaults")
	}
	return m, nil
}

// loadRaw reads a YAML or JSON file into a map. JSON is parsed by the YAML
// decoder since it is a subset.
func loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "read "+path)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "Load", "parse "+path)
	}
	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// applyEnvOverrides applies <prefix>_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, true, nil
	}

	var firstErr error
	str := func(name string, dst *string) {
		val, ok, err := get(name)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			*dst = val
		}
	}
	list := func(name string, dst *[]string, split func(string) []string) {
		var val string
		str(name, &val)
		if val != "" {
			*dst = split(val)
		}
	}
	commas := func(s string) []string {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	var domain string
	str("DOMAIN_ID", &domain)
	if domain != "" {
		id, err := strconv.Atoi(domain)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides",
				"parse "+l.envPrefix+"_DOMAIN_ID")
		}
		cfg.Domain.ID = id
	}

	var qos string
	str("QOS_PROFILE", &qos)
	if qos != "" {
		lib, profile, ok := strings.Cut(qos, "::")
		if !ok {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q is not library::profile", errors.ErrInvalidConfig, qos),
				"Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_QOS_PROFILE")
		}
		cfg.Domain.QoSLibrary, cfg.Domain.QoSProfile = lib, profile
	}

	list("TYPE_PATH", &cfg.Types.SearchPaths, filepath.SplitList)
	list("TYPE_LIBRARIES", &cfg.Types.Libraries, commas)
	str("TRANSPORT", &cfg.Transport.Kind)
	list("NATS_URLS", &cfg.Transport.NATS.URLs, commas)
	str("NATS_USERNAME", &cfg.Transport.NATS.Username)
	str("NATS_PASSWORD", &cfg.Transport.NATS.Password)
	str("NATS_TOKEN", &cfg.Transport.NATS.Token)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("METRICS_ADDR", &cfg.Metrics.Addr)

	return firstErr
}
