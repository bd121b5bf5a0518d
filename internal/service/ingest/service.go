// Package ingest implements the checkpointed incremental ingester: it
// discovers unconsumed source files, parses them against an evolving
// schema, appends rows to the bronze layer with provenance, and advances
// the checkpoint only after the write succeeds.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lakemart/internal/domain"
	"lakemart/internal/source"
	"lakemart/internal/warehouse"
)

// Provenance columns present on every bronze table.
const (
	colSourceFile = "_source_file"
	colRowOffset  = "_row_offset"
	colIngestedAt = "_ingested_at"
)

// Service is the incremental ingester for one warehouse.
type Service struct {
	container   domain.Container
	checkpoints domain.CheckpointRepository
	wh          *sql.DB
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates an ingester reading from container and appending to
// the bronze schema of wh.
func NewService(container domain.Container, checkpoints domain.CheckpointRepository,
	wh *sql.DB, logger *slog.Logger) *Service {
	return &Service{
		container:   container,
		checkpoints: checkpoints,
		wh:          wh,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run ingests all unconsumed files for the stream. Delivery contract:
// at-least-once file delivery plus idempotent per-file append gives
// effectively-once bronze data. A file whose bronze write succeeded but
// whose checkpoint commit was lost is simply re-ingested next run; the
// delete-then-insert append replaces its rows instead of duplicating them.
//
// A file that fails to parse is skipped and left unconsumed (reported in
// FailedFiles); the rest of the batch proceeds.
func (s *Service) Run(ctx context.Context, streamID string) (*domain.RunReport, error) {
	report := &domain.RunReport{Stage: domain.StageIngest, StartedAt: s.now()}
	logger := s.logger.With("stream", streamID)

	available, err := s.container.List(ctx)
	if err != nil {
		return report, err
	}

	consumed, err := s.checkpoints.ListConsumed(ctx, streamID)
	if err != nil {
		return report, err
	}

	var pending []domain.SourceFile
	for _, f := range available {
		if !consumed[f.ID] {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		logger.Info("no unconsumed files, nothing to ingest")
		return report, nil
	}

	table := bronzeTableName(streamID)
	for _, file := range pending {
		n, err := s.ingestFile(ctx, streamID, table, file)
		if err != nil {
			var pbe *domain.PartialBatchError
			if errors.As(err, &pbe) {
				logger.Warn("source file failed to parse, leaving unconsumed",
					"file", file.ID, "error", pbe.Message)
				report.FailedFiles++
				continue
			}
			return report, err
		}

		// Checkpoint after the write. A crash before this point leaves the
		// file unconsumed and its rows are replaced on the retry.
		if err := s.checkpoints.Commit(ctx, streamID, []string{file.ID}); err != nil {
			return report, err
		}

		report.RowsRead += n
		report.RowsIngested += n
		logger.Info("ingested file", "file", file.ID, "rows", n)
	}

	return report, nil
}

// ingestFile parses one file and replaces its rows in the bronze table
// within a single warehouse transaction.
func (s *Service) ingestFile(ctx context.Context, streamID, table string, file domain.SourceFile) (int64, error) {
	rc, err := s.container.Open(ctx, file.ID)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	batch, err := source.ReadCSVBatch(rc)
	if err != nil {
		return 0, domain.ErrPartialBatch(file.ID, "parse csv: %v", err)
	}
	if len(batch.Columns) == 0 {
		return 0, domain.ErrPartialBatch(file.ID, "empty file, no header")
	}

	schema, err := s.ensureBronzeTable(ctx, streamID, table, batch.Columns)
	if err != nil {
		return 0, err
	}

	// Positions of the file's columns within the evolved schema.
	positions := make([]int, len(batch.Columns))
	for i, c := range batch.Columns {
		positions[i] = schema.Index(c.Name)
	}

	ingestedAt := s.now()
	err = warehouse.WithTx(ctx, s.wh, func(tx *sql.Tx) error {
		qt := warehouse.QualifiedTable(warehouse.SchemaBronze, table)
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+qt+" WHERE "+colSourceFile+" = ?", file.ID); err != nil {
			return fmt.Errorf("clear prior rows of %q: %w", file.ID, err)
		}

		stmt, err := tx.PrepareContext(ctx, insertSQL(table, schema))
		if err != nil {
			return fmt.Errorf("prepare bronze insert: %w", err)
		}
		defer stmt.Close()

		for offset, row := range batch.Rows {
			args := make([]any, 3+len(schema.Columns))
			args[0] = file.ID
			args[1] = int64(offset)
			args[2] = ingestedAt
			for i, pos := range positions {
				if i < len(row) {
					args[3+pos] = row[i]
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert row %d of %q: %w", offset, file.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return int64(len(batch.Rows)), nil
}

// ensureBronzeTable creates the bronze table on first contact and widens
// it when the file carries columns not seen before. Schema drift is never
// fatal; missing expected columns are simply null-filled at insert time.
func (s *Service) ensureBronzeTable(ctx context.Context, streamID, table string, incoming []domain.Column) (*domain.Schema, error) {
	qt := warehouse.QualifiedTable(warehouse.SchemaBronze, table)

	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE IF NOT EXISTS " + qt + " (")
	ddl.WriteString(colSourceFile + " VARCHAR NOT NULL, ")
	ddl.WriteString(colRowOffset + " BIGINT NOT NULL, ")
	ddl.WriteString(colIngestedAt + " TIMESTAMP NOT NULL")
	for _, c := range incoming {
		ddl.WriteString(", " + warehouse.QuoteIdent(c.Name) + " VARCHAR")
	}
	ddl.WriteString(")")
	if _, err := s.wh.ExecContext(ctx, ddl.String()); err != nil {
		return nil, fmt.Errorf("create bronze table %s: %w", table, err)
	}

	schema, err := s.readBronzeSchema(ctx, table)
	if err != nil {
		return nil, err
	}

	added := schema.Widen(incoming)
	for _, name := range added {
		if _, err := s.wh.ExecContext(ctx,
			"ALTER TABLE "+qt+" ADD COLUMN IF NOT EXISTS "+warehouse.QuoteIdent(name)+" VARCHAR"); err != nil {
			return nil, fmt.Errorf("widen bronze table %s with %q: %w", table, name, err)
		}
		s.logger.Info("schema drift: widened bronze table",
			"stream", streamID, "table", table, "column", name)
	}

	return schema, nil
}

// readBronzeSchema returns the data columns of the bronze table, in
// physical order, excluding the provenance columns.
func (s *Service) readBronzeSchema(ctx context.Context, table string) (*domain.Schema, error) {
	rows, err := s.wh.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
		warehouse.SchemaBronze, table)
	if err != nil {
		return nil, fmt.Errorf("read bronze schema of %s: %w", table, err)
	}
	defer rows.Close()

	schema := &domain.Schema{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name == colSourceFile || name == colRowOffset || name == colIngestedAt {
			continue
		}
		schema.Columns = append(schema.Columns, domain.Column{Name: name, Type: domain.ColumnTypeVarchar})
	}
	return schema, rows.Err()
}

func insertSQL(table string, schema *domain.Schema) string {
	cols := []string{colSourceFile, colRowOffset, colIngestedAt}
	for _, c := range schema.Columns {
		cols = append(cols, warehouse.QuoteIdent(c.Name))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return "INSERT INTO " + warehouse.QualifiedTable(warehouse.SchemaBronze, table) +
		" (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"
}

// bronzeTableName maps a stream ID to its bronze table name.
func bronzeTableName(streamID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, streamID)
}
