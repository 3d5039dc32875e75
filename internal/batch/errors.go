package batch

import (
	"errors"
	"fmt"
)

// NoImagesMessage is logged once when a directory holds no supported images.
const NoImagesMessage = "No images found in the specified folder."

// ErrNoImages ends a run that found nothing to process. It is not a failure;
// callers produce no report and exit cleanly.
var ErrNoImages = errors.New("no images found")

// ImageLoadError reports an image that could not be read or decoded. It
// aborts the whole run.
type ImageLoadError struct {
	Path string
	Err  error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("failed to load image %s: %v", e.Path, e.Err)
}

func (e *ImageLoadError) Unwrap() error { return e.Err }
