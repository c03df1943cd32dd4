// Package config loads dynbus configuration.
//
// A Config is built from Default, then each file layer (YAML or JSON) is
// deep-merged over it, then DYNBUS_* environment variables are applied, and
// finally Validate runs:
//
//	loader := config.NewLoader()
//	loader.AddLayer("dynbus.yaml")
//	loader.AddLayer("dynbus.local.yaml") // overrides the first layer
//	cfg, err := loader.Load()
//
// Recognized environment overrides:
//
//	DYNBUS_DOMAIN_ID        domain id
//	DYNBUS_QOS_PROFILE      library::profile
//	DYNBUS_TYPE_PATH        type library search path (os.PathListSeparator)
//	DYNBUS_TYPE_LIBRARIES   comma separated library names
//	DYNBUS_TRANSPORT        memory | nats
//	DYNBUS_NATS_URLS        comma separated server URLs
//	DYNBUS_NATS_USERNAME, DYNBUS_NATS_PASSWORD, DYNBUS_NATS_TOKEN
//	DYNBUS_LOG_LEVEL, DYNBUS_LOG_FORMAT
//	DYNBUS_METRICS_ADDR
//
// SafeConfig wraps a Config behind an RWMutex; Get returns a deep copy and
// Update validates before swapping.
package config
