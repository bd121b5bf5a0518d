// Package repository implements metastore persistence on plain SQL.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lakemart/internal/domain"
)

// Compile-time check.
var _ domain.CheckpointRepository = (*CheckpointRepo)(nil)

// CheckpointRepo persists the consumed-file ledger in the SQLite metastore.
type CheckpointRepo struct {
	db *sql.DB
}

// NewCheckpointRepo creates a CheckpointRepo on the write pool.
func NewCheckpointRepo(db *sql.DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// ListConsumed returns the set of file IDs already consumed for a stream.
func (r *CheckpointRepo) ListConsumed(ctx context.Context, streamID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT file_id FROM ingest_checkpoints WHERE stream_id = ?`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %q: %w", streamID, err)
	}
	defer rows.Close()

	consumed := make(map[string]bool)
	for rows.Next() {
		var fileID string
		if err := rows.Scan(&fileID); err != nil {
			return nil, err
		}
		consumed[fileID] = true
	}
	return consumed, rows.Err()
}

// Commit marks the given files consumed in a single transaction. INSERT OR
// IGNORE keeps the ledger monotone: re-committing an already-consumed file
// is a no-op, which is what makes rerun-after-crash safe.
func (r *CheckpointRepo) Commit(ctx context.Context, streamID string, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint commit: %w", err)
	}
	defer tx.Rollback()

	for _, fileID := range fileIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO ingest_checkpoints (stream_id, file_id) VALUES (?, ?)`,
			streamID, fileID); err != nil {
			return fmt.Errorf("commit checkpoint %s/%s: %w", streamID, fileID, err)
		}
	}

	return tx.Commit()
}

// Reset clears the ledger for a stream and returns the number of entries
// removed. Explicit operator action only; the ingester never calls this.
func (r *CheckpointRepo) Reset(ctx context.Context, streamID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM ingest_checkpoints WHERE stream_id = ?`, streamID)
	if err != nil {
		return 0, fmt.Errorf("reset checkpoint %q: %w", streamID, err)
	}
	return res.RowsAffected()
}
