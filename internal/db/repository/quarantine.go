package repository

import (
	"context"
	"database/sql"
	"fmt"

	"lakemart/internal/domain"
)

var _ domain.QuarantineRepository = (*QuarantineRepo)(nil)

// QuarantineRepo is the metastore-backed quarantine sink. The pipeline
// only ever inserts; listing exists for operators and external alerting.
type QuarantineRepo struct {
	db *sql.DB
}

func NewQuarantineRepo(db *sql.DB) *QuarantineRepo {
	return &QuarantineRepo{db: db}
}

func (r *QuarantineRepo) Insert(ctx context.Context, row *domain.QuarantinedRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO quarantine (run_id, entity, natural_key, rule, payload) VALUES (?, ?, ?, ?, ?)`,
		row.RunID, row.Entity, row.NaturalKey, row.Rule, row.Payload)
	if err != nil {
		return fmt.Errorf("insert quarantine row: %w", err)
	}
	return nil
}

func (r *QuarantineRepo) List(ctx context.Context, limit int) ([]domain.QuarantinedRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, entity, natural_key, rule, payload, created_at
		FROM quarantine ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()

	var out []domain.QuarantinedRow
	for rows.Next() {
		var q domain.QuarantinedRow
		if err := rows.Scan(&q.ID, &q.RunID, &q.Entity, &q.NaturalKey,
			&q.Rule, &q.Payload, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
