package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds global command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Transport   string
	DomainID    int
	Libraries   []string
	TypePath    string
	MetricsAddr string
	Debug       bool
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
	SaveConfig  string

	Command string
	Args    []string
}

// commandFlags holds the flags of the spy, recv and pub commands
type commandFlags struct {
	Topics    []string
	Filter    string
	Indent    bool
	RelayAddr string
	RelayPath string

	Data     []string
	Rate     float64
	Count    int
	Counter  string
	Dispose  bool
	Deadline time.Duration
}

// listFlag collects a repeatable or comma-separated flag
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// rawListFlag collects a repeatable flag without splitting on commas
type rawListFlag []string

func (l *rawListFlag) String() string { return strings.Join(*l, " ") }

func (l *rawListFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("DYNBUS_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: DYNBUS_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("DYNBUS_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: DYNBUS_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (overrides config)")
	fs.StringVar(&cfg.Transport, "transport", "",
		"Transport: memory, nats (overrides config)")
	fs.IntVar(&cfg.DomainID, "domain", -1,
		"Domain id (overrides config)")
	fs.Var((*listFlag)(&cfg.Libraries), "lib",
		"Type library to load, repeatable (overrides config)")
	fs.StringVar(&cfg.TypePath, "type-path", "",
		"Type library search path, "+string(os.PathListSeparator)+"-separated (overrides config)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address (overrides config)")
	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("DYNBUS_DEBUG", false),
		"Enable debug logging (env: DYNBUS_DEBUG)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.StringVar(&cfg.SaveConfig, "save-config", "", "Write the effective configuration to this file and exit")

	fs.Usage = func() { printDetailedHelp(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if fs.NArg() > 0 {
		cfg.Command = fs.Arg(0)
		cfg.Args = fs.Args()[1:]
	}
	return cfg, nil
}

func parseCommandFlags(command string, args []string, stderr io.Writer) (*commandFlags, error) {
	cf := &commandFlags{}
	fs := flag.NewFlagSet(appName+" "+command, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch command {
	case "spy":
		fs.BoolVar(&cf.Indent, "indent", true, "Indent printed samples")
		fs.StringVar(&cf.RelayAddr, "relay", "", "Also stream samples to websocket clients on this address")
		fs.StringVar(&cf.RelayPath, "relay-path", "/ws", "Websocket endpoint path")
	case "recv":
		fs.Var((*listFlag)(&cf.Topics), "topic", "Qualified topic name, repeatable")
		fs.StringVar(&cf.Filter, "filter", "", "Content filter expression applied to every topic")
		fs.BoolVar(&cf.Indent, "indent", true, "Indent printed samples")
	case "pub":
		fs.Var((*listFlag)(&cf.Topics), "topic", "Qualified topic name")
		fs.Var((*rawListFlag)(&cf.Data), "data", "JSON sample, repeatable; each is published every tick")
		fs.Float64Var(&cf.Rate, "rate", 1, "Ticks per second")
		fs.IntVar(&cf.Count, "count", 0, "Stop after this many ticks, 0 runs until interrupted")
		fs.StringVar(&cf.Counter, "counter", "", "Dotted member path set to the tick number")
		fs.BoolVar(&cf.Dispose, "dispose", true, "Dispose published instances on exit")
		fs.DurationVar(&cf.Deadline, "timeout", 5*time.Second, "Per-publish timeout")
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cf, validateCommandFlags(command, cf)
}

func validateCommandFlags(command string, cf *commandFlags) error {
	switch command {
	case "recv":
		if len(cf.Topics) == 0 {
			return fmt.Errorf("recv: at least one --topic is required")
		}
	case "pub":
		if len(cf.Topics) != 1 {
			return fmt.Errorf("pub: exactly one --topic is required")
		}
		if len(cf.Data) == 0 {
			return fmt.Errorf("pub: at least one --data sample is required")
		}
		if cf.Rate <= 0 {
			return fmt.Errorf("pub: --rate must be positive")
		}
		if cf.Count < 0 {
			return fmt.Errorf("pub: --count must not be negative")
		}
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - dynamic-typing publish/subscribe client

Usage: %s [options] <command> [command options]

Commands:
  spy    subscribe to every topic announced on the domain
  recv   subscribe to named topics, optionally filtered
  pub    publish samples periodically, dispose on exit

Send SIGHUP to reload the configuration file; the log level applies
immediately, other changes on restart.

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Print every sample seen on domain 0
  %[1]s --lib Sonar spy

  # Stream everything to websocket clients as well
  %[1]s --config dynbus.yaml spy --relay :8081

  # Receive filtered samples
  %[1]s --lib Sonar recv --topic Sonar.Ping --filter "depth > 20 AND depth < 90"

  # Publish twice a second with an increasing depth
  %[1]s --lib Sonar pub --topic Sonar.Ping --data '{"sourceSystemID":"19"}' --counter depth --rate 2

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
