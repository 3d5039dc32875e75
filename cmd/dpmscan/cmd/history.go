package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/batch"
	"github.com/MeKo-Tech/dpmscan/internal/history"
	"github.com/spf13/cobra"
)

func (a *app) newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded decode runs",
		Long: `Show the runs recorded with "decode --history-db".

Without arguments the most recent runs are listed; with a run ID the full
report of that run is printed again.

Examples:
  dpmscan history --db runs.db
  dpmscan history --db runs.db 2f1c9a4e-... --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runHistory,
	}
	historyCmd.Flags().String("db", "", "history database (default history.path from the configuration)")
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list")
	historyCmd.Flags().StringP("format", "f", "text", "report format for a single run (text, json, csv)")
	return historyCmd
}

func (a *app) runHistory(cmd *cobra.Command, args []string) error {
	cfg := a.config()
	path := cfg.History.Path
	if cmd.Flags().Changed("db") {
		path, _ = cmd.Flags().GetString("db")
	}
	if path == "" {
		return errors.New("no history database configured (use --db or history.path)")
	}

	store, err := history.Open(cmd.Context(), path, a.log())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		formatName, _ := cmd.Flags().GetString("format")
		format, err := batch.ParseFormat(formatName)
		if err != nil {
			return err
		}
		res, err := store.Result(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return batch.FormatReport(out, res, format)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return writeRuns(out, runs)
}

func writeRuns(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	if _, err := fmt.Fprintf(w, "%-36s  %-20s  %-10s  %7s  %7s  %10s  %s\n",
		"RUN ID", "STARTED", "MACHINE", "IMAGES", "DECODED", "DURATION", "DIR"); err != nil {
		return err
	}
	for _, r := range runs {
		if _, err := fmt.Fprintf(w, "%-36s  %-20s  %-10s  %7d  %7d  %10s  %s\n",
			r.RunID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Machine,
			r.Total,
			r.Decoded,
			r.Duration.Round(time.Millisecond),
			r.Dir); err != nil {
			return err
		}
	}
	return nil
}
