package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/batch"
	"github.com/MeKo-Tech/dpmscan/internal/history"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/MeKo-Tech/dpmscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// photoDir writes a.png (DataMatrix "12345" for machine_1) and b.png (blank).
func photoDir(t *testing.T) string {
	t.Helper()

	profile, err := machine.DefaultRegistry().Resolve(machine.Machine1)
	require.NoError(t, err)
	dir := t.TempDir()
	testutil.WriteDataMatrixPNG(t, dir, "a.png", "12345", profile)
	testutil.WriteBlankPNG(t, dir, "b.png")
	return dir
}

func TestDecodeCommand_TextReport(t *testing.T) {
	isolate(t)
	dir := photoDir(t)

	stdout, stderr, err := executeCommand(t, "decode", dir, "--machine", "machine_1")
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, batch.ReportTitle)
	a := strings.Index(stdout, "a.png")
	b := strings.Index(stdout, "b.png")
	require.NotEqual(t, -1, a)
	require.NotEqual(t, -1, b)
	assert.Less(t, a, b, "rows follow discovery order")
	assert.Contains(t, stdout, "12345")
	assert.Contains(t, stdout, barcode.NotFoundMessage)
	assert.Contains(t, stderr, "Found 2 images.")
}

func TestDecodeCommand_JSONToFile(t *testing.T) {
	isolate(t)
	dir := photoDir(t)
	out := filepath.Join(t.TempDir(), "report.json")

	stdout, stderr, err := executeCommand(t, "decode", dir, "--format", "json", "--output", out, "--workers", "2")
	require.NoError(t, err, stderr)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var report struct {
		Machine string `json:"machine"`
		Rows    []struct {
			File   string `json:"file"`
			Status string `json:"status"`
			Data   string `json:"data"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "machine_1", report.Machine)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, "a.png", report.Rows[0].File)
	assert.Equal(t, "decoded", report.Rows[0].Status)
	assert.Equal(t, "12345", report.Rows[0].Data)
	assert.Equal(t, "not_found", report.Rows[1].Status)
}

func TestDecodeCommand_UnknownMachine(t *testing.T) {
	isolate(t)

	// The directory does not exist: the machine must be rejected first.
	stdout, _, err := executeCommand(t, "decode", "/nonexistent/photos", "--machine", "machine_9")
	require.Error(t, err)
	assert.True(t, machine.IsConfigurationError(err), "got %v", err)
	assert.Contains(t, err.Error(), "machine_9")
	assert.Empty(t, stdout)
}

func TestDecodeCommand_EmptyDirectory(t *testing.T) {
	isolate(t)

	stdout, stderr, err := executeCommand(t, "decode", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Equal(t, 1, strings.Count(stderr, batch.NoImagesMessage))
}

func TestDecodeCommand_UnreadableImage(t *testing.T) {
	isolate(t)
	dir := photoDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.jpg"), []byte("not a jpeg"), 0o600))

	stdout, _, err := executeCommand(t, "decode", dir)
	require.Error(t, err)
	var loadErr *batch.ImageLoadError
	require.True(t, errors.As(err, &loadErr), "got %v", err)
	assert.Empty(t, stdout)
}

func TestDecodeCommand_InvalidFlags(t *testing.T) {
	isolate(t)
	dir := photoDir(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"format", []string{"--format", "xml"}, "unsupported report format"},
		{"workers", []string{"--workers", "0"}, "invalid worker count"},
		{"display wait", []string{"--display-wait", "soon"}, "invalid display wait"},
		{"blur kernel", []string{"--blur-kernel", "4x4"}, "blur"},
		{"morph kernel", []string{"--morph-kernel", "big"}, "invalid morph kernel"},
		{"backend", []string{"--backend", "zbar"}, "no decoder backend"},
		{"missing dir", nil, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"decode", dir}
			if tt.args == nil {
				args = []string{"decode"}
			}
			_, _, err := executeCommand(t, append(args, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeCommand_EmptyDisplayWait(t *testing.T) {
	home := isolate(t)
	dir := photoDir(t)
	require.NoError(t, writeFile(filepath.Join(home, "dpmscan.yaml"), "display:\n  wait: \"\"\n"))

	stdout, stderr, err := executeCommand(t, "config", "show")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "wait: \"\"")

	// An empty wait means no pause, as in the configuration file.
	stdout, stderr, err = executeCommand(t, "decode", dir)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "12345")

	_, stderr, err = executeCommand(t, "decode", dir, "--display-wait", "")
	require.NoError(t, err, stderr)
}

func TestDecodeCommand_DisplayWritesStages(t *testing.T) {
	isolate(t)
	dir := photoDir(t)
	stages := filepath.Join(t.TempDir(), "stages")

	_, stderr, err := executeCommand(t, "decode", dir, "--display", "--display-dir", stages, "--display-wait", "0s")
	require.NoError(t, err, stderr)

	entries, err := os.ReadDir(stages)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDecodeCommand_RecordsHistory(t *testing.T) {
	isolate(t)
	dir := photoDir(t)
	db := filepath.Join(t.TempDir(), "runs.db")

	_, stderr, err := executeCommand(t, "decode", dir, "--history-db", db)
	require.NoError(t, err, stderr)

	store, err := history.Open(context.Background(), db, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	runs, err := store.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Total)
	assert.Equal(t, 1, runs[0].Decoded)
	assert.Equal(t, "machine_1", runs[0].Machine)

	stdout, _, err := executeCommand(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, runs[0].RunID)

	stdout, _, err = executeCommand(t, "history", "--db", db, runs[0].RunID, "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, stdout, "a.png")
	assert.Contains(t, stdout, "12345")
}

func TestHistoryCommand_Errors(t *testing.T) {
	isolate(t)

	_, _, err := executeCommand(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history database")

	db := filepath.Join(t.TempDir(), "empty.db")
	stdout, _, err := executeCommand(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No runs recorded.")

	_, _, err = executeCommand(t, "history", "--db", db, "missing-run")
	require.ErrorIs(t, err, history.ErrRunNotFound)
}
