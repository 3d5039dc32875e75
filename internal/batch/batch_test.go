package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/MeKo-Tech/dpmscan/internal/preprocess"
	"github.com/MeKo-Tech/dpmscan/internal/testutil"
	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

// fakePreprocessor returns a 1x1 image; names listed in fail error out and
// names in delay sleep first.
type fakePreprocessor struct {
	fail  map[string]bool
	delay map[string]time.Duration
}

func (f *fakePreprocessor) Process(ctx context.Context, name string, _ image.Image) (*image.Gray, error) {
	if d := f.delay[name]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[name] {
		return nil, errors.New("preprocess exploded")
	}
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

// nameDecoder succeeds for images whose name starts with "ok".
type nameDecoder struct {
	mu    sync.Mutex
	calls int
}

func (d *nameDecoder) Decode(_ context.Context, name string, _ image.Image) barcode.Outcome {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if strings.HasPrefix(name, "ok") {
		return barcode.Outcome{Status: barcode.StatusSuccess, Payload: "payload-" + name}
	}
	return barcode.NotFound("no symbol found")
}

func writeBlanks(t *testing.T, names ...string) string {
	t.Helper()
	dir := testutil.CreateTempDir(t)
	img := testutil.CreateTestImage(8, 8, testutil.SurfaceColor)
	for _, n := range names {
		testutil.SaveImage(t, img, filepath.Join(dir, n))
	}
	return dir
}

var rowCmp = cmpopts.IgnoreFields(Row{}, "Path", "Duration", "Reason")

func TestNewRunner_RequiresCollaborators(t *testing.T) {
	_, err := NewRunner(Config{}, nil, &nameDecoder{})
	require.Error(t, err)
	_, err = NewRunner(Config{}, &fakePreprocessor{}, nil)
	require.Error(t, err)
}

func TestRun_EmptyDirectory(t *testing.T) {
	logger, buf := bufferLogger()
	dec := &nameDecoder{}
	r, err := NewRunner(Config{Machine: "machine_1"}, &fakePreprocessor{}, dec, WithLogger(logger))
	require.NoError(t, err)

	dir := testutil.CreateImageDir(t, map[string][]byte{"readme.txt": []byte("x")})
	res, err := r.Run(context.Background(), dir)
	require.ErrorIs(t, err, ErrNoImages)
	assert.Nil(t, res)
	assert.Equal(t, 1, strings.Count(buf.String(), "level=WARN"))
	assert.Contains(t, buf.String(), NoImagesMessage)
	assert.Zero(t, dec.calls)
}

func TestRun_MixedOutcomesInDiscoveryOrder(t *testing.T) {
	dir := writeBlanks(t, "ok_3.png", "bad_1.jpg", "ok_1.png", "bad_2.PNG", "ok_2.jpeg")
	logger, buf := bufferLogger()
	r, err := NewRunner(Config{Machine: "machine_2"}, &fakePreprocessor{}, &nameDecoder{}, WithLogger(logger))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), dir)
	require.NoError(t, err)

	want := []Row{
		{File: "bad_1.jpg", Status: barcode.StatusNotFound, Data: barcode.NotFoundMessage},
		{File: "bad_2.PNG", Status: barcode.StatusNotFound, Data: barcode.NotFoundMessage},
		{File: "ok_1.png", Status: barcode.StatusSuccess, Data: "payload-ok_1.png"},
		{File: "ok_2.jpeg", Status: barcode.StatusSuccess, Data: "payload-ok_2.jpeg"},
		{File: "ok_3.png", Status: barcode.StatusSuccess, Data: "payload-ok_3.png"},
	}
	if diff := cmp.Diff(want, res.Rows, rowCmp); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, res.Total())
	assert.Equal(t, 3, res.Decoded())
	assert.Equal(t, 2, res.NotFound())
	assert.Equal(t, "machine_2", res.Machine)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Workers)
	assert.Contains(t, buf.String(), "count=5")
	assert.Contains(t, buf.String(), "Found 5 images.")
}

func TestRun_PreprocessFailureIsNotFound(t *testing.T) {
	dir := writeBlanks(t, "ok_a.png", "ok_b.png")
	pre := &fakePreprocessor{fail: map[string]bool{"ok_a.png": true}}
	r, err := NewRunner(Config{}, pre, &nameDecoder{}, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, barcode.NotFoundMessage, res.Rows[0].Data)
	assert.Contains(t, res.Rows[0].Reason, "exploded")
	assert.True(t, res.Rows[1].Found())
}

func TestRun_LoadFailureAborts(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			dir := writeBlanks(t, "a.png", "c.png", "d.png")
			broken := filepath.Join(dir, "b.png")
			require.NoError(t, os.WriteFile(broken, []byte("definitely not a png"), 0o600))

			var rows int
			r, err := NewRunner(Config{Workers: workers}, &fakePreprocessor{}, &nameDecoder{},
				WithLogger(slog.New(slog.DiscardHandler)),
				WithOnRow(func(Row) { rows++ }))
			require.NoError(t, err)

			res, err := r.Run(context.Background(), dir)
			require.Error(t, err)
			assert.Nil(t, res)

			var le *ImageLoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, broken, le.Path)
			if workers == 1 {
				assert.Equal(t, 1, rows, "sequential run stops at the broken file")
			}
		})
	}
}

func TestRun_ParallelPreservesOrder(t *testing.T) {
	// Listed in discovery (byte-wise name) order; the delays make the
	// first images finish last.
	names := []string{"ok_0.png", "ok_1.png", "ok_2.png", "ok_3.png", "x_4.png", "x_5.png"}
	require.True(t, slices.IsSorted(names))
	dir := writeBlanks(t, names...)
	pre := &fakePreprocessor{delay: map[string]time.Duration{
		"ok_0.png": 60 * time.Millisecond,
		"ok_1.png": 40 * time.Millisecond,
		"ok_2.png": 20 * time.Millisecond,
	}}

	var mu sync.Mutex
	var seen []string
	r, err := NewRunner(Config{Workers: 3}, pre, &nameDecoder{},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithOnRow(func(row Row) {
			mu.Lock()
			seen = append(seen, row.File)
			mu.Unlock()
		}))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Rows, len(names))
	for i, row := range res.Rows {
		assert.Equal(t, names[i], row.File)
	}
	assert.ElementsMatch(t, names, seen)
	assert.Equal(t, 3, res.Workers)
	assert.Equal(t, 4, res.Decoded())
}

func TestRun_CancelledContext(t *testing.T) {
	dir := writeBlanks(t, "a.png")
	r, err := NewRunner(Config{}, &fakePreprocessor{}, &nameDecoder{}, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_MissingDirectory(t *testing.T) {
	r, err := NewRunner(Config{}, &fakePreprocessor{}, &nameDecoder{}, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	_, err = r.Run(context.Background(), "/nonexistent/dpm")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoImages)
}

func TestRun_SyntheticPhotographs(t *testing.T) {
	profile, err := machine.DefaultRegistry().Resolve(machine.Machine1)
	require.NoError(t, err)

	dir := testutil.CreateTempDir(t)
	testutil.WriteDataMatrixPNG(t, dir, "a.png", "12345", profile)
	testutil.WriteBlankPNG(t, dir, "b.png")

	logger := slog.New(slog.DiscardHandler)
	pre, err := preprocess.New(profile, preprocess.DefaultParams(), preprocess.WithLogger(logger))
	require.NoError(t, err)
	backend, err := barcode.NewBackend(barcode.BackendZXing)
	require.NoError(t, err)
	dec, err := barcode.NewDecoder(backend, barcode.WithLogger(logger))
	require.NoError(t, err)

	r, err := NewRunner(Config{Machine: profile.Name()}, pre, dec, WithLogger(logger))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), dir)
	require.NoError(t, err)

	want := []Row{
		{File: "a.png", Status: barcode.StatusSuccess, Data: "12345"},
		{File: "b.png", Status: barcode.StatusNotFound, Data: "DataMatrix out of focus or not found"},
	}
	if diff := cmp.Diff(want, res.Rows, rowCmp); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_AnyCameraResolution(t *testing.T) {
	profile, err := machine.DefaultRegistry().Resolve(machine.Machine1)
	require.NoError(t, err)
	photo, err := testutil.DataMatrixPhoto("12345", profile.Rectangle(), testutil.DefaultModuleSize)
	require.NoError(t, err)

	// Photos are rescaled to the 1224x1024 frame before cropping.
	sizes := []struct{ w, h int }{{2448, 2048}, {1920, 1080}, {612, 512}}
	dir := testutil.CreateTempDir(t)
	for _, sz := range sizes {
		scaled := imaging.Resize(photo, sz.w, sz.h, imaging.Lanczos)
		require.Equal(t, sz.w, scaled.Bounds().Dx())
		testutil.SaveImage(t, scaled, filepath.Join(dir, fmt.Sprintf("cam_%dx%d.png", sz.w, sz.h)))
	}

	logger := slog.New(slog.DiscardHandler)
	pre, err := preprocess.New(profile, preprocess.DefaultParams(), preprocess.WithLogger(logger))
	require.NoError(t, err)
	backend, err := barcode.NewBackend(barcode.BackendZXing)
	require.NoError(t, err)
	dec, err := barcode.NewDecoder(backend, barcode.WithLogger(logger))
	require.NoError(t, err)
	r, err := NewRunner(Config{Machine: profile.Name()}, pre, dec, WithLogger(logger))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Rows, len(sizes))
	for _, row := range res.Rows {
		assert.True(t, row.Found(), row.File)
		assert.Equal(t, "12345", row.Data, row.File)
	}
}
