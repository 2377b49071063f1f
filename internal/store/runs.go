package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunAborted   = "aborted"
)

// Run is one recorded batch invocation.
type Run struct {
	ID           string
	PolicyPath   string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	FilesTotal   int
	FilesFailed  int
	FilesSkipped int
}

// StartRun records a new batch and returns its generated id.
func (s *Store) StartRun(ctx context.Context, policyPath string, filesTotal int) (string, error) {
	runID := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO processing_runs (run_id, policy_path, started_at, status, files_total)
        VALUES (?, ?, ?, ?, ?)`,
		runID,
		policyPath,
		time.Now().UTC().Format(time.RFC3339Nano),
		RunRunning,
		filesTotal,
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return runID, nil
}

// FinishRun records the final status and counters of a batch.
func (s *Store) FinishRun(ctx context.Context, runID, status string, failed, skipped int) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE processing_runs
        SET finished_at = ?, status = ?, files_failed = ?, files_skipped = ?
        WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		status,
		failed,
		skipped,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, policy_path, started_at, finished_at, status, files_total, files_failed, files_skipped
        FROM processing_runs
        ORDER BY started_at DESC
        LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&run.ID, &run.PolicyPath, &started, &finished, &run.Status, &run.FilesTotal, &run.FilesFailed, &run.FilesSkipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if parsed, parseErr := time.Parse(time.RFC3339Nano, started); parseErr == nil {
			run.StartedAt = parsed
		}
		if finished.Valid {
			if parsed, parseErr := time.Parse(time.RFC3339Nano, finished.String); parseErr == nil {
				run.FinishedAt = &parsed
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
