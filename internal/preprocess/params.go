package preprocess

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Size is a kernel extent in pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// String renders the size as WxH.
func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ParseSize parses "WxH" or a single integer meaning a square kernel.
func ParseSize(v string) (Size, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return Size{}, errors.New("empty kernel size")
	}
	w, h, found := strings.Cut(v, "x")
	if !found {
		h = w
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Size{}, fmt.Errorf("invalid kernel width %q: %w", w, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Size{}, fmt.Errorf("invalid kernel height %q: %w", h, err)
	}
	return Size{Width: width, Height: height}, nil
}

// Params are the photometric settings of the transform chain.
type Params struct {
	MorphKernel   Size
	BlurKernel    Size
	BlurSigma     float64
	ThresholdBase int
	ThresholdMax  int
	AutoThreshold bool
	Display       bool
	DisplayWait   time.Duration
}

// DefaultParams returns the stock settings used on all machines.
func DefaultParams() Params {
	return Params{
		MorphKernel:   Size{Width: 3, Height: 3},
		BlurKernel:    Size{Width: 7, Height: 7},
		BlurSigma:     5,
		ThresholdBase: 0,
		ThresholdMax:  255,
		AutoThreshold: true,
		Display:       false,
		DisplayWait:   time.Second,
	}
}

// Validate rejects out-of-range settings.
func (p Params) Validate() error {
	if p.MorphKernel.Width <= 0 || p.MorphKernel.Height <= 0 {
		return fmt.Errorf("morphology kernel must be positive, got %s", p.MorphKernel)
	}
	if p.BlurKernel.Width <= 0 || p.BlurKernel.Height <= 0 ||
		p.BlurKernel.Width%2 == 0 || p.BlurKernel.Height%2 == 0 {
		return fmt.Errorf("blur kernel must be positive and odd, got %s", p.BlurKernel)
	}
	if p.BlurSigma < 0 {
		return fmt.Errorf("blur sigma must be non-negative, got %g", p.BlurSigma)
	}
	if p.ThresholdBase < 0 || p.ThresholdBase > 255 {
		return fmt.Errorf("threshold base must be in [0,255], got %d", p.ThresholdBase)
	}
	if p.ThresholdMax < 0 || p.ThresholdMax > 255 {
		return fmt.Errorf("threshold max must be in [0,255], got %d", p.ThresholdMax)
	}
	if p.DisplayWait < 0 {
		return fmt.Errorf("display wait must be non-negative, got %s", p.DisplayWait)
	}
	return nil
}
