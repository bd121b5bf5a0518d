package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lakemart/internal/domain"
)

var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo persists stage run reports.
type RunRepo struct {
	db *sql.DB
}

func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Insert records a newly started run (status RUNNING, counts zero).
func (r *RunRepo) Insert(ctx context.Context, rep *domain.RunReport) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		rep.ID, rep.Stage, rep.Status, rep.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rep.ID, err)
	}
	return nil
}

// Finish writes the final status and counts for a run.
func (r *RunRepo) Finish(ctx context.Context, rep *domain.RunReport) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stage_runs SET
			status = ?, rows_read = ?, rows_ingested = ?, merged_new = ?,
			merged_updated = ?, unchanged = ?, quarantined = ?, failed_files = ?,
			error = ?, finished_at = ?
		WHERE id = ?`,
		rep.Status, rep.RowsRead, rep.RowsIngested, rep.MergedNew,
		rep.MergedUpdated, rep.Unchanged, rep.Quarantined, rep.FailedFiles,
		rep.Error, rep.FinishedAt, rep.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", rep.ID, err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (r *RunRepo) List(ctx context.Context, limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, stage, status, rows_read, rows_ingested, merged_new,
			merged_updated, unchanged, quarantined, failed_files, error,
			started_at, finished_at
		FROM stage_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var reports []domain.RunReport
	for rows.Next() {
		var rep domain.RunReport
		if err := rows.Scan(&rep.ID, &rep.Stage, &rep.Status, &rep.RowsRead,
			&rep.RowsIngested, &rep.MergedNew, &rep.MergedUpdated, &rep.Unchanged,
			&rep.Quarantined, &rep.FailedFiles, &rep.Error,
			&rep.StartedAt, &rep.FinishedAt); err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}
