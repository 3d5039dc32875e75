package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/MeKo-Tech/dpmscan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs a fresh command tree with args from an isolated working
// directory and returns stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := NewRootCommand()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// isolate keeps config files and environment of the host out of a test.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "dpmscan", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
}

func TestRootCommandHelp(t *testing.T) {
	isolate(t)

	stdout, _, err := executeCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "DataMatrix")
	assert.Contains(t, stdout, "Available Commands:")
	assert.Contains(t, stdout, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	isolate(t)

	stdout, _, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "dpmscan version")

	stdout, _, err = executeCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "dpmscan "), stdout)
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, sub := range NewRootCommand().Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"decode", "machines", "config", "serve", "history", "version"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	isolate(t)

	_, _, err := executeCommand(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_InvalidLogLevel(t *testing.T) {
	isolate(t)

	_, _, err := executeCommand(t, "machines", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading configuration")
}

func TestRootCommand_ConfigFileFromFlag(t *testing.T) {
	dir := isolate(t)
	path := dir + "/custom.yaml"
	require.NoError(t, writeFile(path, "machine: machine_3\n"))

	stdout, _, err := executeCommand(t, "machines", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "* machine_3")
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		cfg  config.Config
		want slog.Level
	}{
		{config.Config{LogLevel: "debug"}, slog.LevelDebug},
		{config.Config{LogLevel: "WARN"}, slog.LevelWarn},
		{config.Config{LogLevel: "error"}, slog.LevelError},
		{config.Config{LogLevel: "info"}, slog.LevelInfo},
		{config.Config{LogLevel: "error", Verbose: true}, slog.LevelDebug},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, logLevel(&tt.cfg), "%+v", tt.cfg)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(buf, &config.Config{LogLevel: "info", LogFormat: "json"})
	logger.Debug("hidden")
	logger.Info("shown", "machine", "machine_1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"machine":"machine_1"`)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
