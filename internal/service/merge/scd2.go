package merge

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

// SCD2Engine applies a change stream to a history-preserving dimension:
// superseded versions are closed (end-dated, current flag cleared) and new
// open-ended versions inserted, never mutating a closed version again.
type SCD2Engine struct {
	wh         *sql.DB
	gate       *Gate
	quarantine domain.QuarantineRepository
	logger     *slog.Logger
	now        func() time.Time
}

// NewSCD2Engine creates an SCD2 merge engine. gate may be nil when no
// data-quality expectations are configured.
func NewSCD2Engine(wh *sql.DB, gate *Gate, quarantine domain.QuarantineRepository,
	logger *slog.Logger) *SCD2Engine {
	return &SCD2Engine{
		wh:         wh,
		gate:       gate,
		quarantine: quarantine,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// scd2Current is the open version for one natural key.
type scd2Current struct {
	surrogate int64
	attrs     map[string]any
}

// Run merges the spec's silver change stream into its gold dimension.
//
// Per natural key, in order: rows failing an expectation are quarantined
// and never touch dimension state; a key with no current version gets a
// fresh open version; a key whose tracked attributes are unchanged is a
// no-op; otherwise the current version is closed and a new open version
// inserted inside one transaction, so readers never observe a key with
// zero or two current versions.
func (e *SCD2Engine) Run(ctx context.Context, runID string, spec DimensionSpec) (*domain.RunReport, error) {
	report := &domain.RunReport{Stage: domain.StageSCD2, StartedAt: e.now()}

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

	current, err := e.loadCurrent(ctx, spec)
	if err != nil {
		return report, err
	}

	nextKey, err := maxSurrogate(ctx, e.wh, spec)
	if err != nil {
		return report, err
	}

	now := e.now()
	for _, row := range incoming {
		if failure := e.checkExpectations(ctx, runID, spec, row); failure {
			report.Quarantined++
			continue
		}

		open, found := current[row.Key]
		switch {
		case !found:
			nextKey++
			if err := e.insertVersion(ctx, e.wh, spec, nextKey, row, now); err != nil {
				return report, err
			}
			report.MergedNew++
		case !changedIn(spec.Tracked, row.Attrs, open.attrs):
			report.Unchanged++
		default:
			nextKey++
			if err := e.supersede(ctx, spec, open.surrogate, nextKey, row, now); err != nil {
				return report, err
			}
			report.MergedUpdated++
		}
	}

	e.logger.Info("scd2 merge complete", "dimension", spec.Table,
		"new", report.MergedNew, "versioned", report.MergedUpdated,
		"unchanged", report.Unchanged, "quarantined", report.Quarantined)
	return report, nil
}

// supersede closes the open version and inserts its replacement in one
// transaction. The closing write is the only mutation a version ever
// receives after insert.
func (e *SCD2Engine) supersede(ctx context.Context, spec DimensionSpec,
	oldSurrogate, newSurrogate int64, row Row, now time.Time) error {

	return warehouse.WithTx(ctx, e.wh, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE "+warehouse.QualifiedTable(warehouse.SchemaGold, spec.Table)+
				" SET effective_end_date = ?, is_current = false"+
				" WHERE "+warehouse.QuoteIdent(spec.SurrogateKey)+" = ? AND is_current",
			now, oldSurrogate)
		if err != nil {
			return fmt.Errorf("close version %d of %s: %w", oldSurrogate, spec.Table, err)
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return domain.ErrInvariantViolation(
				"%s: closing version %d affected %d rows, want 1", spec.Table, oldSurrogate, n)
		}
		return e.insertVersion(ctx, tx, spec, newSurrogate, row, now)
	})
}

// execer lets insertVersion run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (e *SCD2Engine) insertVersion(ctx context.Context, db execer, spec DimensionSpec,
	surrogate int64, row Row, now time.Time) error {

	cols := append([]string{spec.SurrogateKey, spec.NaturalKey}, spec.Attributes...)
	cols = append(cols, "effective_start_date", "effective_end_date", "is_current")

	args := []any{surrogate, row.Key}
	for _, a := range spec.Attributes {
		args = append(args, row.Attrs[a])
	}
	args = append(args, now, nil, true)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	_, err := db.ExecContext(ctx,
		"INSERT INTO "+warehouse.QualifiedTable(warehouse.SchemaGold, spec.Table)+
			" ("+strings.Join(quoteAll(cols), ", ")+") VALUES ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("insert version of %s key %d: %w", spec.Table, row.Key, err)
	}
	return nil
}

// loadCurrent reads the open version of every natural key. Two current
// versions for one key means a prior run broke the invariant: fatal.
func (e *SCD2Engine) loadCurrent(ctx context.Context, spec DimensionSpec) (map[int64]scd2Current, error) {
	cols := append([]string{spec.SurrogateKey, spec.NaturalKey}, spec.Attributes...)
	rows, err := e.wh.QueryContext(ctx,
		"SELECT "+strings.Join(quoteAll(cols), ", ")+" FROM "+
			warehouse.QualifiedTable(warehouse.SchemaGold, spec.Table)+
			" WHERE is_current")
	if err != nil {
		return nil, fmt.Errorf("load current versions of %s: %w", spec.Table, err)
	}
	defer rows.Close()

	current := make(map[int64]scd2Current)
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
		if _, dup := current[natural]; dup {
			return nil, domain.ErrInvariantViolation(
				"%s: natural key %d has two current versions", spec.Table, natural)
		}
		attrs := make(map[string]any, len(spec.Attributes))
		for i, a := range spec.Attributes {
			attrs[a] = normalize(vals[i+2])
		}
		current[natural] = scd2Current{surrogate: surrogate, attrs: attrs}
	}
	return current, rows.Err()
}

// checkExpectations runs the data-quality gate. Failing rows are routed
// to the quarantine sink (drop-and-report) and reported true.
func (e *SCD2Engine) checkExpectations(ctx context.Context, runID string,
	spec DimensionSpec, row Row) bool {
	if e.gate == nil {
		return false
	}

	failures := e.gate.Evaluate(string(spec.Entity), row.Key, row.Attrs)
	quarantined := false
	for _, f := range failures {
		if f.Action == ActionWarn {
			e.logger.Warn("expectation failed (warn-and-pass)",
				"entity", spec.Entity, "key", row.Key, "rule", f.Rule, "reason", f.Reason)
			continue
		}
		quarantined = true
		payload, _ := json.Marshal(row.Attrs)
		if err := e.quarantine.Insert(ctx, &domain.QuarantinedRow{
			RunID:      runID,
			Entity:     string(spec.Entity),
			NaturalKey: strconv.FormatInt(row.Key, 10),
			Rule:       f.Rule,
			Payload:    string(payload),
		}); err != nil {
			e.logger.Error("failed to quarantine row", "entity", spec.Entity, "error", err)
		}
	}
	return quarantined
}
