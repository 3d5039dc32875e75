package support

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	TempDir string
	EnvVars map[string]string
	// Dirs maps placeholder names used in commands to absolute paths.
	Dirs map[string]string
	// CurrentDir is the directory new photographs are written to.
	CurrentDir string

	// Server state
	HTTPTestServer     *HTTPTestServerWrapper
	LastHTTPStatusCode int
	LastHTTPResponse   string
}

// NewTestContext creates a test context with its own temporary directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "dpmscan-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{
		TempDir: tempDir,
		EnvVars: map[string]string{},
		Dirs:    map[string]string{"tmp": tempDir},
	}, nil
}

// Cleanup stops the server and removes the temporary directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.HTTPTestServer != nil {
		testCtx.HTTPTestServer.Close()
		testCtx.HTTPTestServer = nil
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// AddEnvVar sets an environment variable for the next commands.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars[name] = value
}

// path resolves name against the current photo directory.
func (testCtx *TestContext) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	dir := testCtx.CurrentDir
	if dir == "" {
		dir = testCtx.TempDir
	}
	return filepath.Join(dir, name)
}

// substituteCommandVariables replaces {name} placeholders with directories
// created by earlier steps.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	for name, dir := range testCtx.Dirs {
		command = strings.ReplaceAll(command, "{"+name+"}", dir)
	}
	return command
}
