package batch

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
)

// Config holds the settings of one batch run.
type Config struct {
	// Machine is recorded in the result; the profile itself lives in the preprocessor.
	Machine string

	// Workers bounds concurrent images. Values below 2 process strictly sequentially.
	Workers int

	// File discovery settings
	Recursive bool
	Exclude   []string
}

// Row is the outcome of one image.
type Row struct {
	File     string         `json:"file"`
	Path     string         `json:"path"`
	Status   barcode.Status `json:"status"`
	Data     string         `json:"data"`
	Reason   string         `json:"-"`
	Duration time.Duration  `json:"-"`
}

// Found reports whether the row holds a decoded payload.
func (r Row) Found() bool { return r.Status == barcode.StatusSuccess }

// Result is the read-only outcome of a run. Rows are in discovery order.
type Result struct {
	RunID     string
	Machine   string
	Dir       string
	StartedAt time.Time
	Duration  time.Duration
	Workers   int
	Rows      []Row
}

// Total returns the number of processed images.
func (r *Result) Total() int { return len(r.Rows) }

// Decoded returns the number of rows with a payload.
func (r *Result) Decoded() int {
	n := 0
	for _, row := range r.Rows {
		if row.Found() {
			n++
		}
	}
	return n
}

// NotFound returns the number of rows holding the sentinel.
func (r *Result) NotFound() int { return r.Total() - r.Decoded() }

// SaveReport renders the result in format to outputFile, or to stdout when
// outputFile is empty.
func (r *Result) SaveReport(format Format, outputFile string, stdout io.Writer) error {
	if outputFile == "" {
		return FormatReport(stdout, r, format)
	}

	f, err := os.Create(outputFile) //nolint:gosec // G304: output path is user-provided
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := FormatReport(f, r, format); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return nil
}
