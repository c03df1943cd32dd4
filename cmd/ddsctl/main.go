// Package main implements ddsctl, a command-line client that discovers,
// prints and publishes dynamically typed topics.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/c360/dynbus/config"
	"github.com/c360/dynbus/dds"
	"github.com/c360/dynbus/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ddsctl"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case stderrors.Is(err, flag.ErrHelp):
	default:
		slog.Error("ddsctl failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// run executes one command until it finishes or ctx is cancelled
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		return flag.ErrHelp
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Logging.Level))
	logger := newLogger(stderr, level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid")
		_, _ = fmt.Fprint(stdout, cfg.String())
		return nil
	}
	if cli.SaveConfig != "" {
		if err := cfg.SaveToFile(cli.SaveConfig); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		logger.Info("Saved configuration", "path", cli.SaveConfig)
		return nil
	}
	if cli.Command == "" {
		return fmt.Errorf("missing command: spy, recv or pub")
	}
	cmdFlags, err := parseCommandFlags(cli.Command, cli.Args, stderr)
	if err != nil {
		return err
	}

	registry := metric.NewMetricsRegistry()
	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = server.Stop() }()
		logger.Info("Serving metrics", "address", server.Address())
	}

	factory, closeTransport, err := openTransport(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTransport(); err != nil {
			logger.Warn("Transport close failed", "error", err)
		}
	}()

	live := config.NewSafeConfig(cfg)
	reloadCtx, stopReload := context.WithCancel(ctx)
	defer stopReload()
	go watchReload(reloadCtx, cli, live, level, logger)

	opts := sessionOptions(cfg, logger, registry)
	logger.Info("Starting", "command", cli.Command, "transport", cfg.Transport.Kind,
		"domain", cfg.Domain.ID, "libraries", cfg.Types.Libraries)

	out := newPrinter(stdout, cmdFlags.Indent)
	switch cli.Command {
	case "spy":
		return runSpy(ctx, factory, cfg.Types.Libraries, opts, cmdFlags, out, logger, registry)
	case "recv":
		return runRecv(ctx, factory, cfg.Types.Libraries, opts, cmdFlags, out, logger)
	default:
		return runPub(ctx, factory, cfg.Types.Libraries, opts, cmdFlags, logger)
	}
}

// loadConfig layers command-line overrides on the loaded configuration
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	loader.EnableValidation(false)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if cli.Transport != "" {
		cfg.Transport.Kind = cli.Transport
	}
	if cli.DomainID >= 0 {
		cfg.Domain.ID = cli.DomainID
	}
	if len(cli.Libraries) > 0 {
		cfg.Types.Libraries = cli.Libraries
	}
	if cli.TypePath != "" {
		cfg.Types.SearchPaths = filepath.SplitList(cli.TypePath)
	}
	if cli.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = cli.MetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchReload reloads the configuration on SIGHUP until ctx is done
func watchReload(ctx context.Context, cli *CLIConfig, live *config.SafeConfig, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(cli, live, level, logger); err != nil {
				logger.Warn("Configuration reload failed; keeping the current configuration", "error", err)
			}
		}
	}
}

// reload loads the configuration again and applies the log level. Other
// settings are held for the next start.
func reload(cli *CLIConfig, live *config.SafeConfig, level *slog.LevelVar, logger *slog.Logger) error {
	next, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if err := live.Update(next); err != nil {
		return err
	}
	level.Set(parseLevel(live.Get().Logging.Level))
	logger.Info("Reloaded configuration", "log_level", level.Level().String())
	return nil
}

func sessionOptions(cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry) []dds.Option {
	opts := []dds.Option{
		dds.WithDomainID(cfg.Domain.ID),
		dds.WithLogger(logger),
		dds.WithMetrics(registry),
		dds.WithTypeSearchPath(cfg.Types.SearchPaths...),
	}
	if cfg.Domain.QoSProfile != "" {
		opts = append(opts, dds.WithQoSProfile(cfg.Domain.QoSLibrary, cfg.Domain.QoSProfile))
	}
	return opts
}
