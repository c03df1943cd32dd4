package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/config"
	"github.com/c360/dynbus/errors"
)

const sonarLibrary = `
library: Sonar
types:
  - name: Sonar::Position
    kind: struct
    members:
      - name: altitude
        type: long
  - name: Sonar::Ping
    kind: struct
    members:
      - name: sourceSystemID
        type: string
        key: true
      - name: depth
        type: long
      - name: position
        type: Sonar::Position
`

func typeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Sonar.yaml"), []byte(sonarLibrary), 0o600))
	return dir
}

func runFor(t *testing.T, d time.Duration, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	var stdout, stderr bytes.Buffer
	err := run(ctx, args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunVersion(t *testing.T) {
	out, _, err := runFor(t, time.Second, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "ddsctl version "+Version)
}

func TestRunHelp(t *testing.T) {
	_, _, err := runFor(t, time.Second, "--help")
	assert.True(t, stderrors.Is(err, flag.ErrHelp))
}

func TestRunValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domain:
  id: 7
transport:
  kind: nats
  nats:
    token: secret
`), 0o600))

	out, _, err := runFor(t, time.Second, "--config", path, "--validate")
	require.NoError(t, err)
	assert.Contains(t, out, "id: 7")
	assert.NotContains(t, out, "secret")
}

func TestRunSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "effective.yaml")
	_, _, err := runFor(t, time.Second, "--domain", "4", "--lib", "Sonar", "--save-config", path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	saved, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, saved.Domain.ID)
	assert.Equal(t, []string{"Sonar"}, saved.Types.Libraries)

	_, _, err = runFor(t, time.Second, "--save-config", filepath.Join(t.TempDir(), "effective.txt"))
	assert.ErrorContains(t, err, "save config")
}

func TestReloadAppliesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynbus.yaml")
	write := func(doc string) {
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	}
	write("logging:\n  level: info\n  format: text\n")

	cli := &CLIConfig{ConfigPath: path, DomainID: -1}
	cfg, err := loadConfig(cli)
	require.NoError(t, err)
	live := config.NewSafeConfig(cfg)
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Logging.Level))
	var logs bytes.Buffer
	logger := newLogger(&logs, level, "text")

	write("logging:\n  level: debug\n  format: text\ndomain:\n  id: 3\n")
	require.NoError(t, reload(cli, live, level, logger))
	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Equal(t, 3, live.Get().Domain.ID)
	assert.Contains(t, logs.String(), "Reloaded configuration")

	write("transport:\n  kind: carrier-pigeon\n")
	assert.Error(t, reload(cli, live, level, logger))
	assert.Equal(t, slog.LevelDebug, level.Level(), "a rejected reload keeps the current level")
	assert.Equal(t, 3, live.Get().Domain.ID)
}

func TestRunRejectsBadConfiguration(t *testing.T) {
	_, _, err := runFor(t, time.Second, "--transport", "carrier-pigeon", "spy")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, _, err = runFor(t, time.Second, "--log-level", "error")
	assert.ErrorContains(t, err, "missing command")

	_, _, err = runFor(t, time.Second, "--log-level", "error", "dance")
	assert.ErrorContains(t, err, "unknown command")
}

func TestRunPublishesAndDisposes(t *testing.T) {
	_, logs, err := runFor(t, 5*time.Second,
		"--lib", "Sonar", "--type-path", typeDir(t), "--log-format", "json",
		"pub", "--topic", "Sonar.Ping",
		"--data", `{"sourceSystemID":"19","position":{"altitude":3}}`,
		"--data", `{"sourceSystemID":"pwahahaha"}`,
		"--counter", "depth", "--rate", "1000", "--count", "3")
	require.NoError(t, err)
	assert.Contains(t, logs, `"samples":6`)
	assert.Contains(t, logs, "Disposed instances")
}

func TestRunPublishRejectsBadSamples(t *testing.T) {
	_, _, err := runFor(t, time.Second,
		"--lib", "Sonar", "--type-path", typeDir(t), "--log-level", "error",
		"pub", "--topic", "Sonar.Ping", "--data", `[1, 2]`)
	assert.ErrorContains(t, err, "--data #1")
}

func TestRunRecvUntilCancelled(t *testing.T) {
	_, logs, err := runFor(t, 200*time.Millisecond,
		"--lib", "Sonar", "--type-path", typeDir(t),
		"recv", "--topic", "Sonar.Ping", "--filter", "depth > 20 AND depth < 90")
	require.NoError(t, err)
	assert.Contains(t, logs, "Subscribed")
}

func TestRunRecvRejectsParameterizedFilter(t *testing.T) {
	_, _, err := runFor(t, time.Second,
		"--lib", "Sonar", "--type-path", typeDir(t), "--log-level", "error",
		"recv", "--topic", "Sonar.Ping", "--filter", "depth > %0")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrFilterParameters))
}

func TestRunSpyWithRelay(t *testing.T) {
	_, logs, err := runFor(t, 300*time.Millisecond,
		"--lib", "Sonar", "--type-path", typeDir(t),
		"spy", "--relay", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, logs, "Relaying samples")
}

func TestCommandFlagValidation(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseCommandFlags("recv", nil, &stderr)
	assert.ErrorContains(t, err, "--topic")

	_, err = parseCommandFlags("pub", []string{"--topic", "A.B"}, &stderr)
	assert.ErrorContains(t, err, "--data")

	_, err = parseCommandFlags("pub", []string{"--topic", "A.B", "--data", "{}", "--rate", "0"}, &stderr)
	assert.ErrorContains(t, err, "--rate")

	cf, err := parseCommandFlags("pub", []string{"--topic", "A.B", "--data", `{"a":1,"b":2}`, "--data", "{}"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1,"b":2}`, "{}"}, cf.Data)
}

func TestParseSampleKeepsNumbers(t *testing.T) {
	sample, err := parseSample(`{"big": 18446744073709551615, "ratio": 0.5}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("18446744073709551615"), sample["big"])
	assert.Equal(t, json.Number("0.5"), sample["ratio"])

	_, err = parseSample(`null`)
	assert.Error(t, err)
}

func TestSetPath(t *testing.T) {
	sample := map[string]any{"position": map[string]any{"latitude": 1}}
	require.NoError(t, setPath(sample, "position.altitude", 5))
	require.NoError(t, setPath(sample, "attitude.rotation.z", 6))
	require.NoError(t, setPath(sample, "depth", 7))

	assert.Equal(t, map[string]any{
		"position": map[string]any{"latitude": 1, "altitude": 5},
		"attitude": map[string]any{"rotation": map[string]any{"z": 6}},
		"depth":    7,
	}, sample)

	assert.Error(t, setPath(sample, "depth.inner", 1))
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	require.NoError(t, p.value("Sonar::Ping", map[string]any{"depth": 4}))
	require.NoError(t, p.event("Ping", "instance revoked"))
	assert.Equal(t, "Sonar::Ping\n{\"depth\":4}\nPing instance revoked ...\n", buf.String())
}
