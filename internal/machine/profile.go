package machine

import (
	"fmt"
	"image"
)

// Canonical frame every photograph is resized to before cropping.
const (
	FrameWidth  = 1224
	FrameHeight = 1024
)

// Rect is a crop region expressed as offsets into the canonical frame.
// Bottom and Right are exclusive.
type Rect struct {
	Top    int `json:"top" yaml:"top"`
	Bottom int `json:"bottom" yaml:"bottom"`
	Left   int `json:"left" yaml:"left"`
	Right  int `json:"right" yaml:"right"`
}

// Width returns the horizontal extent of the region.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns the vertical extent of the region.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Rectangle converts the region into image coordinates.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// Validate checks that the region lies strictly inside the canonical frame
// and is non-empty on both axes.
func (r Rect) Validate() error {
	if r.Top < 0 || r.Left < 0 {
		return fmt.Errorf("crop origin (%d,%d) is negative", r.Left, r.Top)
	}
	if r.Top >= r.Bottom {
		return fmt.Errorf("crop top %d must be less than bottom %d", r.Top, r.Bottom)
	}
	if r.Left >= r.Right {
		return fmt.Errorf("crop left %d must be less than right %d", r.Left, r.Right)
	}
	if r.Bottom > FrameHeight {
		return fmt.Errorf("crop bottom %d exceeds frame height %d", r.Bottom, FrameHeight)
	}
	if r.Right > FrameWidth {
		return fmt.Errorf("crop right %d exceeds frame width %d", r.Right, FrameWidth)
	}
	return nil
}

// String renders the region as top:bottom,left:right.
func (r Rect) String() string {
	return fmt.Sprintf("%d:%d,%d:%d", r.Top, r.Bottom, r.Left, r.Right)
}

// Spec is the mutable description a Profile is built from.
type Spec struct {
	Crop    Rect `json:"crop" yaml:"crop"`
	Display bool `json:"display" yaml:"display"`
}

// Profile is the resolved, read-only configuration of one capture machine.
type Profile struct {
	name    string
	crop    Rect
	display bool
}

// NewProfile validates spec and returns the profile for name.
func NewProfile(name string, spec Spec) (Profile, error) {
	name = Normalize(name)
	if name == "" {
		return Profile{}, &ConfigurationError{Err: fmt.Errorf("machine name is empty")}
	}
	if err := spec.Crop.Validate(); err != nil {
		return Profile{}, &ConfigurationError{Machine: name, Err: err}
	}
	return Profile{name: name, crop: spec.Crop, display: spec.Display}, nil
}

// Name returns the machine identifier.
func (p Profile) Name() string { return p.name }

// Crop returns the region of interest in canonical frame coordinates.
func (p Profile) Crop() Rect { return p.crop }

// Display reports whether intermediate stages should be shown for this machine.
func (p Profile) Display() bool { return p.display }

// Rectangle returns the crop as an image.Rectangle.
func (p Profile) Rectangle() image.Rectangle { return p.crop.Rectangle() }

// IsZero reports whether p was never resolved.
func (p Profile) IsZero() bool { return p.name == "" }
