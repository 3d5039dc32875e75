package preprocess

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resolve(t *testing.T, name string) machine.Profile {
	t.Helper()
	p, err := machine.DefaultRegistry().Resolve(name)
	require.NoError(t, err)
	return p
}

// photo returns a light frame with a dark square centred on the machine_1 crop.
func photo(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	sx := float64(w) / machine.FrameWidth
	sy := float64(h) / machine.FrameHeight
	for y := range h {
		for x := range w {
			fx, fy := float64(x)/sx, float64(y)/sy
			c := color.RGBA{R: 210, G: 215, B: 220, A: 255}
			if fx >= 520 && fx < 700 && fy >= 420 && fy < 600 {
				c = color.RGBA{R: 35, G: 30, B: 30, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    Size
		wantErr bool
	}{
		{"3x3", Size{3, 3}, false},
		{"7X5", Size{7, 5}, false},
		{" 5 ", Size{5, 5}, false},
		{"", Size{}, true},
		{"ax3", Size{}, true},
		{"3xb", Size{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	mutate := map[string]func(*Params){
		"zero morph":     func(p *Params) { p.MorphKernel = Size{0, 3} },
		"even blur":      func(p *Params) { p.BlurKernel = Size{6, 7} },
		"negative blur":  func(p *Params) { p.BlurKernel = Size{-1, -1} },
		"negative sigma": func(p *Params) { p.BlurSigma = -1 },
		"base too large": func(p *Params) { p.ThresholdBase = 256 },
		"max negative":   func(p *Params) { p.ThresholdMax = -1 },
		"negative wait":  func(p *Params) { p.DisplayWait = -time.Second },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			fn(&p)
			assert.Error(t, p.Validate())
		})
	}

	p := DefaultParams()
	p.MorphKernel = Size{4, 2}
	assert.NoError(t, p.Validate(), "morphology kernels may be even")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(machine.Profile{}, DefaultParams())
	require.Error(t, err)

	bad := DefaultParams()
	bad.BlurKernel = Size{4, 4}
	_, err = New(resolve(t, machine.Machine1), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blur kernel")
}

func TestProcess_DimensionsAndValues(t *testing.T) {
	for _, name := range machine.DefaultRegistry().Names() {
		t.Run(name, func(t *testing.T) {
			profile := resolve(t, name)
			pre, err := New(profile, DefaultParams(), WithLogger(quietLogger()))
			require.NoError(t, err)

			roi, err := pre.Process(context.Background(), "frame.png", photo(612, 512))
			require.NoError(t, err)
			assert.Equal(t, profile.Crop().Width(), roi.Bounds().Dx())
			assert.Equal(t, profile.Crop().Height(), roi.Bounds().Dy())
			assert.Equal(t, image.Point{}, roi.Bounds().Min)

			for _, v := range roi.Pix {
				if v != 0 && v != 255 {
					t.Fatalf("unexpected pixel value %d", v)
				}
			}
		})
	}
}

func TestProcess_SeparatesSymbolFromBackground(t *testing.T) {
	pre, err := New(resolve(t, machine.Machine1), DefaultParams(), WithLogger(quietLogger()))
	require.NoError(t, err)

	roi, err := pre.Process(context.Background(), "frame.png", photo(machine.FrameWidth, machine.FrameHeight))
	require.NoError(t, err)

	// crop origin is (412,312); the dark square spans 520..700 x 420..600
	assert.Equal(t, uint8(0), roi.GrayAt(200, 200).Y)
	assert.Equal(t, uint8(255), roi.GrayAt(10, 10).Y)
	assert.Equal(t, uint8(255), roi.GrayAt(390, 390).Y)
}

func TestProcess_Deterministic(t *testing.T) {
	pre, err := New(resolve(t, machine.Machine2), DefaultParams(), WithLogger(quietLogger()))
	require.NoError(t, err)

	img := photo(800, 700)
	first, err := pre.Process(context.Background(), "x.png", img)
	require.NoError(t, err)
	second, err := pre.Process(context.Background(), "x.png", img)
	require.NoError(t, err)
	assert.Equal(t, first.Pix, second.Pix)
}

func TestProcess_FixedThresholdAndMax(t *testing.T) {
	params := DefaultParams()
	params.AutoThreshold = false
	params.ThresholdBase = 128
	params.ThresholdMax = 200
	pre, err := New(resolve(t, machine.Machine1), params, WithLogger(quietLogger()))
	require.NoError(t, err)

	roi, err := pre.Process(context.Background(), "x.png", photo(machine.FrameWidth, machine.FrameHeight))
	require.NoError(t, err)
	assert.Equal(t, uint8(200), roi.GrayAt(10, 10).Y)
	assert.Equal(t, uint8(0), roi.GrayAt(200, 200).Y)
}

func TestProcess_NilAndEmptyImage(t *testing.T) {
	pre, err := New(resolve(t, machine.Machine1), DefaultParams(), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = pre.Process(context.Background(), "nil.png", nil)
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "resize", ipe.Operation)

	_, err = pre.Process(context.Background(), "empty.png", image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.Error(t, err)
}

func TestProcess_CancelledContext(t *testing.T) {
	pre, err := New(resolve(t, machine.Machine1), DefaultParams(), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pre.Process(ctx, "x.png", photo(100, 100))
	require.ErrorIs(t, err, context.Canceled)
}

type recordingViewer struct {
	mu     sync.Mutex
	names  []string
	stages []Stages
	err    error
}

func (v *recordingViewer) Show(_ context.Context, name string, s Stages) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.names = append(v.names, name)
	v.stages = append(v.stages, s)
	// tamper with what we were given
	if s.Morphology != nil {
		for i := range s.Morphology.Pix {
			s.Morphology.Pix[i] = 7
		}
	}
	return v.err
}

func TestProcess_DisplayDoesNotAlterOutput(t *testing.T) {
	img := photo(machine.FrameWidth, machine.FrameHeight)
	profile := resolve(t, machine.Machine1)

	plain, err := New(profile, DefaultParams(), WithLogger(quietLogger()))
	require.NoError(t, err)
	want, err := plain.Process(context.Background(), "a.png", img)
	require.NoError(t, err)

	params := DefaultParams()
	params.Display = true
	params.DisplayWait = 0
	viewer := &recordingViewer{err: assert.AnError}
	shown, err := New(profile, params, WithLogger(quietLogger()), WithViewer(viewer))
	require.NoError(t, err)
	got, err := shown.Process(context.Background(), "a.png", img)
	require.NoError(t, err)

	assert.Equal(t, want.Pix, got.Pix)
	require.Equal(t, []string{"a.png"}, viewer.names)
	s := viewer.stages[0]
	assert.NotNil(t, s.Original)
	assert.Equal(t, 400, s.Focused.Bounds().Dx())
	assert.NotNil(t, s.Grayscale)
	assert.NotNil(t, s.Threshold)
}

func TestProcess_ProfileDisplayFlag(t *testing.T) {
	reg, err := machine.NewRegistry(map[string]machine.Spec{
		"bench": {Crop: machine.Rect{Top: 0, Bottom: 100, Left: 0, Right: 100}, Display: true},
	})
	require.NoError(t, err)
	profile, err := reg.Resolve("bench")
	require.NoError(t, err)

	params := DefaultParams()
	params.DisplayWait = 0
	viewer := &recordingViewer{}
	pre, err := New(profile, params, WithLogger(quietLogger()), WithViewer(viewer))
	require.NoError(t, err)

	_, err = pre.Process(context.Background(), "b.png", photo(200, 200))
	require.NoError(t, err)
	assert.Len(t, viewer.names, 1)
}

func TestProcess_DisplayWaitHonoursContext(t *testing.T) {
	params := DefaultParams()
	params.Display = true
	params.DisplayWait = time.Hour
	pre, err := New(resolve(t, machine.Machine1), params, WithLogger(quietLogger()), WithViewer(&recordingViewer{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	roi, err := pre.Process(ctx, "c.png", photo(300, 250))
	require.NoError(t, err)
	assert.NotNil(t, roi)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestDirViewer_WritesContactSheet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stages")
	viewer := NewDirViewer(dir)

	params := DefaultParams()
	params.Display = true
	params.DisplayWait = 0
	pre, err := New(resolve(t, machine.Machine3), params, WithLogger(quietLogger()), WithViewer(viewer))
	require.NoError(t, err)

	_, err = pre.Process(context.Background(), "part_01.jpg", photo(640, 512))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "part_01_stages.png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Equal(t, 1, viewer.Count())
}

func TestDirViewer_EmptyDir(t *testing.T) {
	err := (&DirViewer{}).Show(context.Background(), "x.png", Stages{})
	require.Error(t, err)
}

func TestContactSheet_SkipsMissingStages(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 50, 50))
	sheet := ContactSheet(Stages{Grayscale: g})
	assert.Equal(t, panelHeight+captionHeight+panelGap, sheet.Bounds().Dy())
	assert.Equal(t, panelGap+panelHeight+panelGap, sheet.Bounds().Dx())
}
