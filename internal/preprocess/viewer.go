package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	panelHeight   = 256
	captionHeight = 20
	panelGap      = 8
)

// DirViewer writes a captioned contact sheet of all stages per image into Dir.
type DirViewer struct {
	Dir string

	mu    sync.Mutex
	count int
}

// NewDirViewer returns a viewer writing into dir.
func NewDirViewer(dir string) *DirViewer {
	return &DirViewer{Dir: dir}
}

// Show renders the stages into <Dir>/<name>_stages.png.
func (v *DirViewer) Show(ctx context.Context, name string, s Stages) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.Dir == "" {
		return errors.New("stage viewer directory is empty")
	}
	if err := os.MkdirAll(v.Dir, 0o750); err != nil {
		return fmt.Errorf("create stage directory: %w", err)
	}

	sheet := ContactSheet(s)
	path := filepath.Join(v.Dir, sheetName(name))
	if err := imaging.Save(sheet, path); err != nil {
		return fmt.Errorf("save stage sheet %s: %w", path, err)
	}

	v.mu.Lock()
	v.count++
	v.mu.Unlock()
	return nil
}

// Count returns the number of sheets written.
func (v *DirViewer) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count
}

func sheetName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		base = "image"
	}
	return base + "_stages.png"
}

// ContactSheet lays the stages out left to right with a caption above each.
func ContactSheet(s Stages) *image.NRGBA {
	type panel struct {
		label string
		img   image.Image
	}
	panels := []panel{
		{"original", s.Original},
		{"focused", s.Focused},
		{"grayscale", s.Grayscale},
		{fmt.Sprintf("threshold t=%d", s.Level), s.Threshold},
		{"morphology", s.Morphology},
	}

	scaled := make([]*image.NRGBA, 0, len(panels))
	labels := make([]string, 0, len(panels))
	width := panelGap
	for _, p := range panels {
		if p.img == nil || isNilImage(p.img) || p.img.Bounds().Empty() {
			continue
		}
		img := imaging.Resize(p.img, 0, panelHeight, imaging.NearestNeighbor)
		scaled = append(scaled, img)
		labels = append(labels, p.label)
		width += img.Bounds().Dx() + panelGap
	}

	sheet := imaging.New(width, panelHeight+captionHeight+panelGap, color.White)
	x := panelGap
	for i, img := range scaled {
		sheet = imaging.Paste(sheet, img, image.Pt(x, captionHeight))
		drawCaption(sheet, labels[i], x, captionHeight-6)
		x += img.Bounds().Dx() + panelGap
	}
	return sheet
}

func isNilImage(img image.Image) bool {
	g, ok := img.(*image.Gray)
	return ok && g == nil
}

func drawCaption(dst *image.NRGBA, label string, x, y int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}
