package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// Format selects a report rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a report format name. Empty selects text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format %q (supported: text, json, csv)", s)
	}
}

// Report banner and column headers.
const (
	ReportTitle  = "DataMatrix Decode Report"
	ColumnImage  = "Image"
	ColumnData   = "Decoded Data"
	bannerMargin = 4
)

// FormatReport renders res to w in the given format.
func FormatReport(w io.Writer, res *Result, format Format) error {
	if res == nil {
		return fmt.Errorf("no result to report")
	}
	switch format {
	case FormatJSON:
		return formatJSON(w, res)
	case FormatCSV:
		return formatCSV(w, res)
	case FormatText, "":
		return formatText(w, res)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

type jsonRow struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Data   string `json:"data"`
}

type jsonReport struct {
	RunID      string    `json:"run_id"`
	Machine    string    `json:"machine"`
	Directory  string    `json:"directory"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Total      int       `json:"total"`
	Decoded    int       `json:"decoded"`
	NotFound   int       `json:"not_found"`
	Rows       []jsonRow `json:"rows"`
}

// formatJSON formats results as JSON.
func formatJSON(w io.Writer, res *Result) error {
	rep := jsonReport{
		RunID:      res.RunID,
		Machine:    res.Machine,
		Directory:  res.Dir,
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
		Total:      res.Total(),
		Decoded:    res.Decoded(),
		NotFound:   res.NotFound(),
		Rows:       make([]jsonRow, 0, len(res.Rows)),
	}
	for _, row := range res.Rows {
		rep.Rows = append(rep.Rows, jsonRow{File: row.File, Status: row.Status.String(), Data: row.Data})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// formatCSV formats results as CSV.
func formatCSV(w io.Writer, res *Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"file", "status", "data"}); err != nil {
		return err
	}
	for _, row := range res.Rows {
		if err := writer.Write([]string{row.File, row.Status.String(), row.Data}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// formatText renders the banner, a two-column grid and the totals footer.
// Column widths follow terminal display width so wide runes line up.
func formatText(w io.Writer, res *Result) error {
	imgW := runewidth.StringWidth(ColumnImage)
	dataW := runewidth.StringWidth(ColumnData)
	for _, row := range res.Rows {
		imgW = max(imgW, runewidth.StringWidth(row.File))
		dataW = max(dataW, runewidth.StringWidth(row.Data))
	}

	sep := "+" + strings.Repeat("-", imgW+2) + "+" + strings.Repeat("-", dataW+2) + "+"
	line := func(a, b string) string {
		return "| " + runewidth.FillRight(a, imgW) + " | " + runewidth.FillRight(b, dataW) + " |"
	}

	banner := strings.Repeat("=", max(runewidth.StringWidth(sep), len(ReportTitle)+2*bannerMargin))
	var sb strings.Builder
	sb.WriteString(banner + "\n")
	sb.WriteString(centre(ReportTitle, len(banner)) + "\n")
	if res.Machine != "" {
		sb.WriteString("Machine: " + res.Machine + "\n")
	}
	if res.Dir != "" {
		sb.WriteString("Directory: " + res.Dir + "\n")
	}
	sb.WriteString(banner + "\n")

	sb.WriteString(sep + "\n")
	sb.WriteString(line(ColumnImage, ColumnData) + "\n")
	sb.WriteString(sep + "\n")
	for _, row := range res.Rows {
		sb.WriteString(line(row.File, row.Data) + "\n")
	}
	sb.WriteString(sep + "\n")
	fmt.Fprintf(&sb, "Total: %d  Decoded: %d  Not found: %d\n", res.Total(), res.Decoded(), res.NotFound())
	sb.WriteString(banner + "\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func centre(s string, width int) string {
	pad := (width - runewidth.StringWidth(s)) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}
