package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
)

// LoadImage opens and decodes the image at path.
func LoadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, &ImageLoadError{Path: path, Err: errors.New("empty path")}
	}
	f, err := os.Open(path) //nolint:gosec // G304: Reading user-provided image file path is expected
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	return img, nil
}

// Classify preprocesses img and attempts one decode. A preprocessing failure
// is reported as not found.
func (r *Runner) Classify(ctx context.Context, name string, img image.Image) barcode.Outcome {
	roi, err := r.pre.Process(ctx, name, img)
	if err != nil {
		r.logger.Warn("preprocessing failed", "file", name, "error", err)
		return barcode.NotFound(err.Error())
	}
	return r.dec.Decode(ctx, name, roi)
}

// processImage runs one image through load, preprocess and decode. Only a
// load failure or cancellation is returned as an error.
func (r *Runner) processImage(ctx context.Context, im Image) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	start := time.Now()

	img, err := LoadImage(im.Path)
	if err != nil {
		r.logger.Error("failed to load image", "file", im.Name, "path", im.Path, "error", err)
		return Row{}, err
	}

	outcome := r.Classify(ctx, im.Name, img)
	return Row{
		File:     im.Name,
		Path:     im.Path,
		Status:   outcome.Status,
		Data:     outcome.Display(),
		Reason:   outcome.Reason,
		Duration: time.Since(start),
	}, nil
}
