package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newRunID() string {
	return uuid.NewString()
}

// SaveTaskResult saves or updates the outcome of one task in a run.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveTaskResult(ctx context.Context, runID string, result TaskResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (run_id, name, position, dependencies, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, name) DO UPDATE SET
			position = excluded.position,
			dependencies = excluded.dependencies,
			status = excluded.status,
			error = excluded.error,
			duration_ms = excluded.duration_ms
	`, runID, result.Name, result.Index, strings.Join(result.Dependencies, "\n"),
		string(result.Status), result.Error, result.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to save result for %s: %w", result.Name, err)
	}
	return nil
}

// TaskResults returns the task outcomes of a run in submission order.
func (s *SQLiteStore) TaskResults(ctx context.Context, runID string) ([]TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, position, dependencies, status, error, duration_ms
		FROM task_results
		WHERE run_id = ?
		ORDER BY position, name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	var results []TaskResult
	for rows.Next() {
		var r TaskResult
		var deps, status string
		var durationMS int64
		if err := rows.Scan(&r.Name, &r.Index, &deps, &status, &r.Error, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		if deps != "" {
			r.Dependencies = strings.Split(deps, "\n")
		}
		r.Status = TaskStatus(status)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task results: %w", err)
	}
	return results, nil
}
