package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/disintegration/imaging"
)

// Stages holds the intermediate images of one Process call.
type Stages struct {
	Original   image.Image
	Focused    image.Image
	Grayscale  *image.Gray
	Threshold  *image.Gray
	Morphology *image.Gray
	Level      int
}

// StageViewer presents intermediate stages for visual inspection.
type StageViewer interface {
	Show(ctx context.Context, name string, stages Stages) error
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Preprocessor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithViewer installs the viewer used when stage display is enabled.
func WithViewer(v StageViewer) Option {
	return func(p *Preprocessor) { p.viewer = v }
}

// Preprocessor turns a raw photograph into a binarized region of interest.
// It holds no per-image state and is safe for concurrent use.
type Preprocessor struct {
	profile machine.Profile
	params  Params
	logger  *slog.Logger
	viewer  StageViewer
}

// New builds a Preprocessor for profile.
func New(profile machine.Profile, params Params, opts ...Option) (*Preprocessor, error) {
	if profile.IsZero() {
		return nil, errors.New("preprocess: machine profile is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	p := &Preprocessor{profile: profile, params: params, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Profile returns the machine profile the preprocessor crops for.
func (p *Preprocessor) Profile() machine.Profile { return p.profile }

// Params returns the processing parameters.
func (p *Preprocessor) Params() Params { return p.params }

// Process resizes img to the canonical frame, crops the machine's region,
// blurs, converts to grayscale, thresholds and closes it. The returned image
// has the dimensions of the crop and holds only 0 and ThresholdMax.
func (p *Preprocessor) Process(ctx context.Context, name string, img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if img.Bounds().Empty() {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is empty")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame := imaging.Resize(img, machine.FrameWidth, machine.FrameHeight, imaging.Lanczos)
	crop := p.profile.Crop()
	focused := imaging.Crop(frame, crop.Rectangle())
	if focused.Bounds().Dx() != crop.Width() || focused.Bounds().Dy() != crop.Height() {
		return nil, &ImageProcessingError{
			Operation: "crop",
			Err:       fmt.Errorf("crop %s produced %dx%d", crop, focused.Bounds().Dx(), focused.Bounds().Dy()),
		}
	}

	blurred := gaussianBlur(focused, p.params.BlurKernel, p.params.BlurSigma)
	gray := grayscale(blurred)

	level := p.params.ThresholdBase
	if p.params.AutoThreshold {
		level = otsuThreshold(gray)
	}
	thresh := binarize(gray, level, uint8(p.params.ThresholdMax)) //nolint:gosec // G115: validated to [0,255]
	roi := closing(thresh, p.params.MorphKernel)

	p.logger.Debug("preprocessed image",
		"file", name,
		"machine", p.profile.Name(),
		"threshold", level,
		"width", roi.Bounds().Dx(),
		"height", roi.Bounds().Dy())

	if p.displayEnabled() {
		p.display(ctx, name, Stages{
			Original:   img,
			Focused:    focused,
			Grayscale:  gray,
			Threshold:  thresh,
			Morphology: cloneGray(roi),
			Level:      level,
		})
	}
	return roi, nil
}

func (p *Preprocessor) displayEnabled() bool {
	return p.params.Display || p.profile.Display()
}

// display hands the stages to the viewer and holds the caller for the
// configured wait. Failures are logged only.
func (p *Preprocessor) display(ctx context.Context, name string, stages Stages) {
	if p.viewer == nil {
		p.logger.Debug("stage display enabled without a viewer", "file", name)
		return
	}
	if err := p.viewer.Show(ctx, name, stages); err != nil {
		p.logger.Warn("stage display failed", "file", name, "error", err)
	}
	if p.params.DisplayWait <= 0 {
		return
	}
	t := time.NewTimer(p.params.DisplayWait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
