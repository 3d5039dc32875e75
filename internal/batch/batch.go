// Package batch drives preprocessing and decoding over a directory of
// photographs and renders the per-image report.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Preprocessor turns a raw photograph into a binarized region of interest.
type Preprocessor interface {
	Process(ctx context.Context, name string, img image.Image) (*image.Gray, error)
}

// Decoder classifies a region of interest.
type Decoder interface {
	Decode(ctx context.Context, name string, roi image.Image) barcode.Outcome
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the run logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOnRow installs a hook called once per finished row. Calls are
// serialized but, with several workers, arrive in completion order.
func WithOnRow(fn func(Row)) Option {
	return func(r *Runner) { r.onRow = fn }
}

// Runner processes one directory per Run call.
type Runner struct {
	cfg    Config
	pre    Preprocessor
	dec    Decoder
	logger *slog.Logger

	onRow func(Row)
	mu    sync.Mutex
}

// NewRunner wires a runner from its collaborators.
func NewRunner(cfg Config, pre Preprocessor, dec Decoder, opts ...Option) (*Runner, error) {
	if pre == nil {
		return nil, errors.New("batch: preprocessor is required")
	}
	if dec == nil {
		return nil, errors.New("batch: decoder is required")
	}
	r := &Runner{cfg: cfg, pre: pre, dec: dec, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run discovers the images in dir and processes them. It returns ErrNoImages
// when there is nothing to do and an *ImageLoadError when any image cannot
// be read; in both cases no result is produced.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	images, err := Discover(dir, r.cfg.Recursive, r.cfg.Exclude...)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		r.logger.Warn(NoImagesMessage, "dir", dir)
		return nil, ErrNoImages
	}
	r.logger.Info(fmt.Sprintf("Found %d images.", len(images)), "count", len(images), "dir", dir)

	res := &Result{
		RunID:     uuid.NewString(),
		Machine:   r.cfg.Machine,
		Dir:       dir,
		StartedAt: time.Now().UTC(),
		Workers:   max(r.cfg.Workers, 1),
	}

	var rows []Row
	if r.cfg.Workers > 1 && len(images) > 1 {
		rows, err = r.runParallel(ctx, images)
	} else {
		rows, err = r.runSequential(ctx, images)
	}
	if err != nil {
		return nil, err
	}

	res.Rows = rows
	res.Duration = time.Since(res.StartedAt)
	r.logger.Info("batch finished",
		"run_id", res.RunID,
		"total", res.Total(),
		"decoded", res.Decoded(),
		"not_found", res.NotFound(),
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (r *Runner) runSequential(ctx context.Context, images []Image) ([]Row, error) {
	rows := make([]Row, 0, len(images))
	for _, im := range images {
		row, err := r.processImage(ctx, im)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		r.emit(row)
	}
	return rows, nil
}

// runParallel processes images on a bounded pool. Rows are placed by index
// so discovery order holds; the first error cancels the remaining work.
func (r *Runner) runParallel(ctx context.Context, images []Image) ([]Row, error) {
	rows := make([]Row, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, im := range images {
		g.Go(func() error {
			row, err := r.processImage(gctx, im)
			if err != nil {
				return err
			}
			rows[i] = row
			r.emit(row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Runner) emit(row Row) {
	if r.onRow == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRow(row)
}
