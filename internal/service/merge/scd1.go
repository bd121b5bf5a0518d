package merge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lakemart/internal/domain"
	"lakemart/internal/warehouse"
)

// SCD1Engine reconciles a deduplicated entity snapshot against an
// overwrite-in-place dimension: changed attributes are overwritten, new
// natural keys are inserted, absent keys are left untouched.
type SCD1Engine struct {
	wh     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSCD1Engine creates an SCD1 merge engine on the warehouse.
func NewSCD1Engine(wh *sql.DB, logger *slog.Logger) *SCD1Engine {
	return &SCD1Engine{wh: wh, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// scd1Existing is the dimension state for one natural key.
type scd1Existing struct {
	surrogate int64
	attrs     map[string]any
}

// Run merges the spec's silver snapshot into its gold dimension. The
// whole merge commits in one transaction; re-applying the same snapshot
// is a no-op (update_date is untouched the second time).
func (e *SCD1Engine) Run(ctx context.Context, spec DimensionSpec) (*domain.RunReport, error) {
	report := &domain.RunReport{Stage: domain.StageSCD1, StartedAt: e.now()}

	if err := ensureTable(ctx, e.wh, spec); err != nil {
		return report, err
	}

	incoming, err := readSource(ctx, e.wh, spec)
	if err != nil {
		return report, err
	}
	report.RowsRead = int64(len(incoming))
	if len(incoming) == 0 {
		return report, nil
	}

	existing, err := e.loadExisting(ctx, spec)
	if err != nil {
		return report, err
	}

	nextKey, err := maxSurrogate(ctx, e.wh, spec)
	if err != nil {
		return report, err
	}

	now := e.now()
	err = warehouse.WithTx(ctx, e.wh, func(tx *sql.Tx) error {
		for _, row := range incoming {
			current, found := existing[row.Key]
			switch {
			case !found:
				nextKey++
				if err := e.insert(ctx, tx, spec, nextKey, row, now); err != nil {
					return err
				}
				report.MergedNew++
			case changedIn(spec.Attributes, row.Attrs, current.attrs):
				if err := e.update(ctx, tx, spec, row, now); err != nil {
					return err
				}
				report.MergedUpdated++
			default:
				report.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	e.logger.Info("scd1 merge complete", "dimension", spec.Table,
		"new", report.MergedNew, "updated", report.MergedUpdated, "unchanged", report.Unchanged)
	return report, nil
}

// loadExisting reads the full dimension keyed by natural key. Exactly one
// row per natural key is the SCD1 table invariant; finding more is fatal.
func (e *SCD1Engine) loadExisting(ctx context.Context, spec DimensionSpec) (map[int64]scd1Existing, error) {
	cols := append([]string{spec.SurrogateKey, spec.NaturalKey}, spec.Attributes...)
	rows, err := e.wh.QueryContext(ctx,
		"SELECT "+strings.Join(quoteAll(cols), ", ")+" FROM "+
			warehouse.QualifiedTable(warehouse.SchemaGold, spec.Table))
	if err != nil {
		return nil, fmt.Errorf("load dimension %s: %w", spec.Table, err)
	}
	defer rows.Close()

	existing := make(map[int64]scd1Existing)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		surrogate, _ := toInt64(vals[0])
		natural, _ := toInt64(vals[1])
		if _, dup := existing[natural]; dup {
			return nil, domain.ErrInvariantViolation(
				"%s: natural key %d has more than one row", spec.Table, natural)
		}
		attrs := make(map[string]any, len(spec.Attributes))
		for i, a := range spec.Attributes {
			attrs[a] = normalize(vals[i+2])
		}
		existing[natural] = scd1Existing{surrogate: surrogate, attrs: attrs}
	}
	return existing, rows.Err()
}

func (e *SCD1Engine) insert(ctx context.Context, tx *sql.Tx, spec DimensionSpec,
	surrogate int64, row Row, now time.Time) error {

	cols := append([]string{spec.SurrogateKey, spec.NaturalKey}, spec.Attributes...)
	cols = append(cols, "create_date", "update_date")

	args := []any{surrogate, row.Key}
	for _, a := range spec.Attributes {
		args = append(args, row.Attrs[a])
	}
	args = append(args, now, now)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err := tx.ExecContext(ctx,
		"INSERT INTO "+warehouse.QualifiedTable(warehouse.SchemaGold, spec.Table)+
			" ("+strings.Join(quoteAll(cols), ", ")+") VALUES ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("insert %s key %d: %w", spec.Table, row.Key, err)
	}
	return nil
}

func (e *SCD1Engine) update(ctx context.Context, tx *sql.Tx, spec DimensionSpec,
	row Row, now time.Time) error {

	var set []string
	var args []any
	for _, a := range spec.Attributes {
		set = append(set, warehouse.QuoteIdent(a)+" = ?")
		args = append(args, row.Attrs[a])
	}
	set = append(set, "update_date = ?")
	args = append(args, now, row.Key)

	_, err := tx.ExecContext(ctx,
		"UPDATE "+warehouse.QualifiedTable(warehouse.SchemaGold, spec.Table)+
			" SET "+strings.Join(set, ", ")+
			" WHERE "+warehouse.QuoteIdent(spec.NaturalKey)+" = ?", args...)
	if err != nil {
		return fmt.Errorf("update %s key %d: %w", spec.Table, row.Key, err)
	}
	return nil
}
