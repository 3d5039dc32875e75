package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
)

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatDataMatrix
)

func (f Format) String() string {
	switch f {
	case FormatDataMatrix:
		return "DATA_MATRIX"
	default:
		return "UNKNOWN"
	}
}

// Options controls backend decoding behavior.
type Options struct {
	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// PureBarcode tells the backend the image holds only the symbol and its
	// quiet zone, skipping the finder search.
	PureBarcode bool

	// CharacterSet hints the encoding of byte-mode payload segments.
	CharacterSet string
}

// Point is an integer point in image coordinates.
type Point struct {
	X int
	Y int
}

// Result represents a decoded symbol.
type Result struct {
	Type    Format
	Payload []byte
	Points  []Point // Corner or key points if available
}

// Backend is a pluggable symbol decoder implementation.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

var (
	// ErrNoBackend is returned for unknown backend names.
	ErrNoBackend = errors.New("barcode: no decoder backend")
	// ErrNotFound is returned by backends that located no symbol.
	ErrNotFound = errors.New("barcode: no symbol found")
)

// BackendZXing is the name of the gozxing DataMatrix backend.
const BackendZXing = "zxing"

var backends = map[string]func() Backend{
	BackendZXing: func() Backend { return newZXingBackend() },
}

// NewBackend returns the backend registered under name. An empty name
// selects the default zxing backend.
func NewBackend(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = BackendZXing
	}
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrNoBackend, name, strings.Join(BackendNames(), ", "))
	}
	return ctor(), nil
}

// BackendNames lists the registered backends.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
