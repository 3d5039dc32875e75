// Package history persists batch runs in a SQLite database so past reports
// can be listed and re-rendered.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/barcode"
	"github.com/MeKo-Tech/dpmscan/internal/batch"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by Run for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		machine TEXT NOT NULL,
		directory TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		workers INTEGER NOT NULL,
		total INTEGER NOT NULL,
		decoded INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS rows (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		file TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);
`

// Run summarizes one stored batch run.
type Run struct {
	RunID     string
	Machine   string
	Dir       string
	StartedAt time.Time
	Duration  time.Duration
	Workers   int
	Total     int
	Decoded   int
}

// Store is a run history backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores res and its rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, res *batch.Result) error {
	if res == nil || res.RunID == "" {
		return errors.New("run has no ID")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("failed to rollback history transaction", "error", err)
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, machine, directory, started_at, duration_ms, workers, total, decoded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Machine, res.Dir, res.StartedAt.UTC(), res.Duration.Milliseconds(),
		res.Workers, res.Total(), res.Decoded())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rows (run_id, position, file, path, status, data) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range res.Rows {
		if _, err := stmt.ExecContext(ctx, res.RunID, i, row.File, row.Path, row.Status.String(), row.Data); err != nil {
			return fmt.Errorf("failed to insert row %s: %w", row.File, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("run stored", "run_id", res.RunID, "rows", len(res.Rows))
	return nil
}

// Runs lists stored runs, newest first. limit <= 0 returns all runs.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT run_id, machine, directory, started_at, duration_ms, workers, total, decoded
	      FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Result loads a stored run with its rows in discovery order.
func (s *Store) Result(ctx context.Context, runID string) (*batch.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, machine, directory, started_at, duration_ms, workers, total, decoded
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT file, path, status, data FROM rows WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	res := &batch.Result{
		RunID:     run.RunID,
		Machine:   run.Machine,
		Dir:       run.Dir,
		StartedAt: run.StartedAt,
		Duration:  run.Duration,
		Workers:   run.Workers,
	}
	for rows.Next() {
		var r batch.Row
		var status string
		if err := rows.Scan(&r.File, &r.Path, &status, &r.Data); err != nil {
			return nil, err
		}
		if status == barcode.StatusSuccess.String() {
			r.Status = barcode.StatusSuccess
		} else {
			r.Status = barcode.StatusNotFound
		}
		res.Rows = append(res.Rows, r)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var ms int64
	if err := sc.Scan(&r.RunID, &r.Machine, &r.Dir, &r.StartedAt, &ms, &r.Workers, &r.Total, &r.Decoded); err != nil {
		return Run{}, err
	}
	r.Duration = time.Duration(ms) * time.Millisecond
	return r, nil
}
