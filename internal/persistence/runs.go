package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("not found")

// StartRun records a new run. An empty ID is filled with a fresh UUID, a zero
// StartedAt with the current time.
func (s *SQLiteStore) StartRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = newRunID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, output, threads, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Output, run.Threads, string(run.Status), run.Error, toMillis(run.StartedAt), toMillis(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := insertInputs(ctx, tx, run.ID, 0, run.Inputs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddInputs appends input files streamed into a run after it started.
func (s *SQLiteStore) AddInputs(ctx context.Context, runID string, paths ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM run_inputs WHERE run_id = ?
	`, runID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to query input count: %w", err)
	}

	if err := insertInputs(ctx, tx, runID, next, paths); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertInputs(ctx context.Context, tx *sql.Tx, runID string, first int, paths []string) error {
	for i, path := range paths {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_inputs (run_id, position, path)
			VALUES (?, ?, ?)
		`, runID, first+i, path)
		if err != nil {
			return fmt.Errorf("failed to insert input %s: %w", path, err)
		}
	}
	return nil
}

// FinishRun sets the final status and error of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status RunStatus, runErr error) error {
	errorStr := ""
	if runErr != nil {
		errorStr = runErr.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(status), errorStr, time.Now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID, including its inputs.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, output, threads, status, error, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if run.Inputs, err = s.inputs(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of 0 or less returns
// every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, output, threads, status, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	// Release the connection before the per-run input queries.
	rows.Close()

	for _, run := range runs {
		if run.Inputs, err = s.inputs(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLiteStore) inputs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM run_inputs WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inputs: %w", err)
	}
	defer rows.Close()

	inputs := []string{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan input: %w", err)
		}
		inputs = append(inputs, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inputs: %w", err)
	}
	return inputs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var status string
	var started, finished int64
	if err := row.Scan(&run.ID, &run.Output, &run.Threads, &status, &run.Error, &started, &finished); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartedAt = fromMillis(started)
	run.FinishedAt = fromMillis(finished)
	return run, nil
}
