// Package conform rebuilds the silver layer from bronze: casts the raw
// VARCHAR columns into typed entity rows, trims and normalizes values, and
// deduplicates on the natural key. The rebuild is deterministic, so
// re-running the stage on unchanged bronze data is idempotent.
package conform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"lakemart/internal/domain"
	"lakemart/internal/warehouse"
)

// TieBreak selects which duplicate of a natural key survives dedup.
type TieBreak string

const (
	// TieBreakLastWins keeps the last duplicate by arrival order. Default.
	TieBreakLastWins TieBreak = "last"
	// TieBreakFirstWins keeps the first duplicate by arrival order.
	TieBreakFirstWins TieBreak = "first"
)

// Service rebuilds silver entity tables from bronze streams.
type Service struct {
	wh         *sql.DB
	quarantine domain.QuarantineRepository
	logger     *slog.Logger
	tieBreak   TieBreak
}

// NewService creates a conformance transformer. tieBreak controls the
// duplicate-natural-key policy; pass TieBreakLastWins unless a deployment
// has confirmed first-wins upstream semantics.
func NewService(wh *sql.DB, quarantine domain.QuarantineRepository,
	tieBreak TieBreak, logger *slog.Logger) *Service {
	if tieBreak == "" {
		tieBreak = TieBreakLastWins
	}
	return &Service{wh: wh, quarantine: quarantine, logger: logger, tieBreak: tieBreak}
}

// Run rebuilds the silver tables for all entity types. Rows that cannot
// be cast to the entity's types are quarantined and never reach silver.
func (s *Service) Run(ctx context.Context, runID string) (*domain.RunReport, error) {
	report := &domain.RunReport{Stage: domain.StageConform, StartedAt: time.Now().UTC()}

	for _, entity := range []domain.EntityType{domain.EntityCustomers, domain.EntityProducts, domain.EntityOrders} {
		sub, err := s.conformEntity(ctx, runID, entity)
		if err != nil {
			return report, err
		}
		report.Merge(sub)
	}
	return report, nil
}

// conformEntity rebuilds one silver table from its bronze stream.
func (s *Service) conformEntity(ctx context.Context, runID string, entity domain.EntityType) (*domain.RunReport, error) {
	report := &domain.RunReport{Stage: domain.StageConform}
	spec, ok := entitySpecs[entity]
	if !ok {
		return report, domain.ErrValidation("unknown entity type %q", entity)
	}

	exists, err := s.tableExists(ctx, warehouse.SchemaBronze, string(entity))
	if err != nil {
		return report, err
	}
	if !exists {
		// Stream not ingested yet; leave silver alone.
		s.logger.Info("bronze table missing, skipping conform", "entity", entity)
		return report, nil
	}

	rows, err := s.readBronze(ctx, entity, spec)
	if err != nil {
		return report, err
	}
	report.RowsRead = int64(len(rows))

	// Dedup on natural key. Rows arrive in arrival order
	// (_ingested_at, _source_file, _row_offset), so map overwrite
	// implements last-wins; first-wins skips keys already seen.
	deduped := make(map[string][]any)
	var order []string
	for _, raw := range rows {
		typed, key, castErr := spec.cast(raw)
		if castErr != nil {
			report.Quarantined++
			s.quarantineRow(ctx, runID, entity, raw, castErr)
			continue
		}
		if _, seen := deduped[key]; !seen {
			order = append(order, key)
		} else if s.tieBreak == TieBreakFirstWins {
			continue
		}
		deduped[key] = typed
	}

	err = warehouse.WithTx(ctx, s.wh, func(tx *sql.Tx) error {
		qt := warehouse.QualifiedTable(warehouse.SchemaSilver, string(entity))
		if _, err := tx.ExecContext(ctx, spec.ddl); err != nil {
			return fmt.Errorf("create silver table %s: %w", entity, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+qt); err != nil {
			return fmt.Errorf("clear silver table %s: %w", entity, err)
		}

		stmt, err := tx.PrepareContext(ctx, spec.insertSQL())
		if err != nil {
			return fmt.Errorf("prepare silver insert: %w", err)
		}
		defer stmt.Close()

		for _, key := range order {
			if _, err := stmt.ExecContext(ctx, deduped[key]...); err != nil {
				return fmt.Errorf("insert silver %s row %s: %w", entity, key, err)
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	report.RowsIngested = int64(len(order))
	s.logger.Info("conformed entity", "entity", entity,
		"read", report.RowsRead, "written", report.RowsIngested,
		"quarantined", report.Quarantined)
	return report, nil
}

// readBronze selects the entity's columns from bronze in arrival order,
// null-filling columns the stream has never carried.
func (s *Service) readBronze(ctx context.Context, entity domain.EntityType, spec entitySpec) ([]map[string]*string, error) {
	existing, err := s.columnSet(ctx, warehouse.SchemaBronze, string(entity))
	if err != nil {
		return nil, err
	}

	var sel []string
	for _, col := range spec.columns {
		if existing[col] {
			sel = append(sel, warehouse.QuoteIdent(col))
		} else {
			sel = append(sel, "NULL AS "+warehouse.QuoteIdent(col))
		}
	}

	query := "SELECT " + strings.Join(sel, ", ") +
		" FROM " + warehouse.QualifiedTable(warehouse.SchemaBronze, string(entity)) +
		" ORDER BY _ingested_at, _source_file, _row_offset"

	rows, err := s.wh.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read bronze %s: %w", entity, err)
	}
	defer rows.Close()

	var out []map[string]*string
	for rows.Next() {
		vals := make([]any, len(spec.columns))
		for i := range vals {
			vals[i] = new(sql.NullString)
		}
		if err := rows.Scan(vals...); err != nil {
			return nil, err
		}
		m := make(map[string]*string, len(spec.columns))
		for i, col := range spec.columns {
			ns := vals[i].(*sql.NullString)
			if ns.Valid {
				v := strings.TrimSpace(ns.String)
				m[col] = &v
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Service) quarantineRow(ctx context.Context, runID string, entity domain.EntityType,
	raw map[string]*string, castErr error) {
	payload, _ := json.Marshal(raw)
	key := ""
	if spec, ok := entitySpecs[entity]; ok {
		if v := raw[spec.naturalKey]; v != nil {
			key = *v
		}
	}
	qErr := s.quarantine.Insert(ctx, &domain.QuarantinedRow{
		RunID:      runID,
		Entity:     string(entity),
		NaturalKey: key,
		Rule:       "cast: " + castErr.Error(),
		Payload:    string(payload),
	})
	if qErr != nil {
		s.logger.Error("failed to quarantine row", "entity", entity, "error", qErr)
	}
}

func (s *Service) tableExists(ctx context.Context, schema, table string) (bool, error) {
	var n int
	err := s.wh.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		schema, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", schema, table, err)
	}
	return n > 0, nil
}

func (s *Service) columnSet(ctx context.Context, schema, table string) (map[string]bool, error) {
	rows, err := s.wh.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = ? AND table_name = ?`,
		schema, table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = true
	}
	return set, rows.Err()
}

// entitySpec describes how one entity's bronze columns become typed
// silver values. cast returns the insert args and the natural key.
type entitySpec struct {
	table      string // silver table name, equals the entity stream name
	columns    []string
	naturalKey string
	ddl        string
	cast       func(raw map[string]*string) ([]any, string, error)
}

func (e entitySpec) insertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(e.columns)), ", ")
	return "INSERT INTO " + warehouse.QualifiedTable(warehouse.SchemaSilver, e.table) +
		" (" + strings.Join(quoteAll(e.columns), ", ") + ") VALUES (" + placeholders + ")"
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = warehouse.QuoteIdent(c)
	}
	return out
}

var entitySpecs = map[domain.EntityType]entitySpec{
	domain.EntityCustomers: {
		table:      "customers",
		columns:    []string{"customer_id", "name", "email", "city", "segment"},
		naturalKey: "customer_id",
		ddl: `CREATE TABLE IF NOT EXISTS silver.customers (
			customer_id BIGINT NOT NULL, name VARCHAR, email VARCHAR, city VARCHAR, segment VARCHAR)`,
		cast: func(raw map[string]*string) ([]any, string, error) {
			id, err := requiredInt(raw, "customer_id")
			if err != nil {
				return nil, "", err
			}
			return []any{id, text(raw, "name"), text(raw, "email"), text(raw, "city"), text(raw, "segment")},
				strconv.FormatInt(id, 10), nil
		},
	},
	domain.EntityProducts: {
		table:      "products",
		columns:    []string{"product_id", "name", "category", "price"},
		naturalKey: "product_id",
		ddl: `CREATE TABLE IF NOT EXISTS silver.products (
			product_id BIGINT NOT NULL, name VARCHAR, category VARCHAR, price DOUBLE)`,
		cast: func(raw map[string]*string) ([]any, string, error) {
			id, err := requiredInt(raw, "product_id")
			if err != nil {
				return nil, "", err
			}
			price, err := optionalFloat(raw, "price")
			if err != nil {
				return nil, "", err
			}
			return []any{id, text(raw, "name"), text(raw, "category"), price},
				strconv.FormatInt(id, 10), nil
		},
	},
	domain.EntityOrders: {
		table:      "orders",
		columns:    []string{"order_id", "customer_id", "product_id", "quantity", "amount", "event_ts"},
		naturalKey: "order_id",
		ddl: `CREATE TABLE IF NOT EXISTS silver.orders (
			order_id BIGINT NOT NULL, customer_id BIGINT NOT NULL, product_id BIGINT NOT NULL,
			quantity BIGINT, amount DOUBLE, event_ts TIMESTAMP NOT NULL)`,
		cast: func(raw map[string]*string) ([]any, string, error) {
			orderID, err := requiredInt(raw, "order_id")
			if err != nil {
				return nil, "", err
			}
			customerID, err := requiredInt(raw, "customer_id")
			if err != nil {
				return nil, "", err
			}
			productID, err := requiredInt(raw, "product_id")
			if err != nil {
				return nil, "", err
			}
			quantity, err := optionalInt(raw, "quantity")
			if err != nil {
				return nil, "", err
			}
			amount, err := optionalFloat(raw, "amount")
			if err != nil {
				return nil, "", err
			}
			eventTS, err := requiredTime(raw, "event_ts")
			if err != nil {
				return nil, "", err
			}
			return []any{orderID, customerID, productID, quantity, amount, eventTS},
				strconv.FormatInt(orderID, 10), nil
		},
	},
}

func text(raw map[string]*string, col string) any {
	if v := raw[col]; v != nil {
		return *v
	}
	return nil
}

func requiredInt(raw map[string]*string, col string) (int64, error) {
	v := raw[col]
	if v == nil || *v == "" {
		return 0, fmt.Errorf("%s is required", col)
	}
	n, err := strconv.ParseInt(*v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer: %q", col, *v)
	}
	return n, nil
}

func optionalInt(raw map[string]*string, col string) (any, error) {
	v := raw[col]
	if v == nil || *v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(*v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: not an integer: %q", col, *v)
	}
	return n, nil
}

func optionalFloat(raw map[string]*string, col string) (any, error) {
	v := raw[col]
	if v == nil || *v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(*v, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: not a number: %q", col, *v)
	}
	return f, nil
}

// timeLayouts accepted for event timestamps, tried in order.
var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func requiredTime(raw map[string]*string, col string) (time.Time, error) {
	v := raw[col]
	if v == nil || *v == "" {
		return time.Time{}, fmt.Errorf("%s is required", col)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, *v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: unrecognized timestamp: %q", col, *v)
}
