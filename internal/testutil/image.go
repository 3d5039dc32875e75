package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/stretchr/testify/require"
)

// Shades used for synthetic direct-part-mark photographs.
var (
	SurfaceColor = color.RGBA{R: 220, G: 222, B: 218, A: 255}
	MarkColor    = color.RGBA{R: 30, G: 28, B: 32, A: 255}
)

// DefaultModuleSize is the edge length in pixels of one symbol module.
const DefaultModuleSize = 20

// RenderDataMatrix encodes text as a DataMatrix symbol with module-pixel
// cells surrounded by a quiet zone of quiet modules. Dark modules are 0.
func RenderDataMatrix(text string, module, quiet int) (*image.Gray, error) {
	if module <= 0 {
		return nil, fmt.Errorf("module size must be positive, got %d", module)
	}
	matrix, err := datamatrix.NewDataMatrixWriter().Encode(text, gozxing.BarcodeFormat_DATA_MATRIX, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("encode datamatrix: %w", err)
	}

	cols, rows := matrix.GetWidth(), matrix.GetHeight()
	w := (cols + 2*quiet) * module
	h := (rows + 2*quiet) * module
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for my := range rows {
		for mx := range cols {
			if !matrix.Get(mx, my) {
				continue
			}
			x0 := (mx + quiet) * module
			y0 := (my + quiet) * module
			draw.Draw(img, image.Rect(x0, y0, x0+module, y0+module), image.Black, image.Point{}, draw.Src)
		}
	}
	return img, nil
}

// BlankPhoto returns a uniform surface frame of the canonical size.
func BlankPhoto() *image.RGBA {
	return CreateTestImage(machine.FrameWidth, machine.FrameHeight, SurfaceColor)
}

// DataMatrixPhoto renders text as a marked surface photograph of the
// canonical size with the symbol centred in crop.
func DataMatrixPhoto(text string, crop image.Rectangle, module int) (*image.RGBA, error) {
	symbol, err := RenderDataMatrix(text, module, 2)
	if err != nil {
		return nil, err
	}
	sb := symbol.Bounds()
	if sb.Dx() > crop.Dx() || sb.Dy() > crop.Dy() {
		return nil, fmt.Errorf("symbol %dx%d does not fit crop %v", sb.Dx(), sb.Dy(), crop)
	}

	img := BlankPhoto()
	ox := crop.Min.X + (crop.Dx()-sb.Dx())/2
	oy := crop.Min.Y + (crop.Dy()-sb.Dy())/2
	for y := range sb.Dy() {
		for x := range sb.Dx() {
			if symbol.GrayAt(x, y).Y == 0 {
				img.SetRGBA(ox+x, oy+y, MarkColor)
			}
		}
	}
	return img, nil
}

// CreateTestImage creates a simple test image with the specified dimensions and color.
func CreateTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// SaveImage saves an image to the specified path as PNG.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600), "Failed to write %s", path)
}

// WriteDataMatrixPNG writes a photograph of text marked inside the crop of
// profile to dir/name and returns the path.
func WriteDataMatrixPNG(t *testing.T, dir, name, text string, profile machine.Profile) string {
	t.Helper()

	img, err := DataMatrixPhoto(text, profile.Rectangle(), DefaultModuleSize)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	SaveImage(t, img, path)
	return path
}

// WriteBlankPNG writes an unmarked surface photograph to dir/name.
func WriteBlankPNG(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	SaveImage(t, BlankPhoto(), path)
	return path
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")
	return img
}
