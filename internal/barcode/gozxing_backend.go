package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
)

type zxingBackend struct{}

func newZXingBackend() *zxingBackend { return &zxingBackend{} }

// Decode runs the gozxing DataMatrix reader once over img.
func (b *zxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNotFound
	}

	hints := make(map[gozxing.DecodeHintType]interface{})
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if opts.PureBarcode {
		hints[gozxing.DecodeHintType_PURE_BARCODE] = true
	}
	if opts.CharacterSet != "" {
		hints[gozxing.DecodeHintType_CHARACTER_SET] = opts.CharacterSet
	}

	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("build binary bitmap: %w", err)
	}

	r, err := datamatrix.NewDataMatrixReader().Decode(bitmap, hints)
	if err != nil {
		var nf gozxing.NotFoundException
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, fmt.Errorf("datamatrix decode: %w", err)
	}
	if r == nil {
		return nil, ErrNotFound
	}

	pts := r.GetResultPoints()
	var points []Point
	if len(pts) > 0 {
		points = make([]Point, 0, len(pts))
		for _, p := range pts {
			points = append(points, Point{X: int(p.GetX()), Y: int(p.GetY())})
		}
	}
	return []Result{{
		Type:    mapFormatFromZXing(r.GetBarcodeFormat()),
		Payload: []byte(r.GetText()),
		Points:  points,
	}}, nil
}

func mapFormatFromZXing(bf gozxing.BarcodeFormat) Format {
	if bf == gozxing.BarcodeFormat_DATA_MATRIX {
		return FormatDataMatrix
	}
	return FormatUnknown
}
