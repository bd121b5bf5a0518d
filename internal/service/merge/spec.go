// Package merge implements the dimension-merge engines: SCD Type 1
// (overwrite in place) and SCD Type 2 (full history, effective-dated
// versions with a current-row flag). Both engines classify incoming rows
// as new, changed, or unchanged and are idempotent under re-application.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lakemart/internal/domain"
	"lakemart/internal/warehouse"
)

// DimensionSpec describes one dimension table and how a conformed silver
// entity maps onto it.
type DimensionSpec struct {
	Entity       domain.EntityType
	Table        string   // gold table name, e.g. "dim_customers"
	SurrogateKey string   // e.g. "customer_key"
	NaturalKey   string   // e.g. "customer_id"
	Attributes   []string // business attribute columns
	// Tracked lists the attributes whose change opens a new SCD2 version.
	// Changes in untracked attributes are ignored by the SCD2 engine.
	Tracked     []string
	SourceTable string // silver table
	DDL         string // CREATE TABLE IF NOT EXISTS for the gold table
}

// Row is one incoming conformed entity row keyed by its natural key.
type Row struct {
	Key   int64
	Attrs map[string]any
}

// DimCustomers is the SCD1 customer dimension.
var DimCustomers = DimensionSpec{
	Entity:       domain.EntityCustomers,
	Table:        "dim_customers",
	SurrogateKey: "customer_key",
	NaturalKey:   "customer_id",
	Attributes:   []string{"name", "email", "city", "segment"},
	SourceTable:  "customers",
	DDL: `CREATE TABLE IF NOT EXISTS gold.dim_customers (
		customer_key BIGINT NOT NULL, customer_id BIGINT NOT NULL,
		name VARCHAR, email VARCHAR, city VARCHAR, segment VARCHAR,
		create_date TIMESTAMP NOT NULL, update_date TIMESTAMP NOT NULL)`,
}

// DimProducts is the SCD2 product dimension. Price and category changes
// open a new version; name changes are folded into the current version's
// attribute set only when a tracked change opens one.
var DimProducts = DimensionSpec{
	Entity:       domain.EntityProducts,
	Table:        "dim_products",
	SurrogateKey: "product_key",
	NaturalKey:   "product_id",
	Attributes:   []string{"name", "category", "price"},
	Tracked:      []string{"category", "price"},
	SourceTable:  "products",
	DDL: `CREATE TABLE IF NOT EXISTS gold.dim_products (
		product_key BIGINT NOT NULL, product_id BIGINT NOT NULL,
		name VARCHAR, category VARCHAR, price DOUBLE,
		effective_start_date TIMESTAMP NOT NULL,
		effective_end_date TIMESTAMP,
		is_current BOOLEAN NOT NULL)`,
}

// readSource loads the incoming rows from the spec's silver table,
// ordered by natural key for deterministic application.
func readSource(ctx context.Context, db *sql.DB, spec DimensionSpec) ([]Row, error) {
	cols := append([]string{spec.NaturalKey}, spec.Attributes...)
	query := "SELECT " + strings.Join(quoteAll(cols), ", ") +
		" FROM " + warehouse.QualifiedTable(warehouse.SchemaSilver, spec.SourceTable) +
		" ORDER BY " + warehouse.QuoteIdent(spec.NaturalKey)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read silver %s: %w", spec.SourceTable, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		key, ok := toInt64(vals[0])
		if !ok {
			return nil, domain.ErrValidation("silver %s: natural key %v is not an integer",
				spec.SourceTable, vals[0])
		}
		attrs := make(map[string]any, len(spec.Attributes))
		for i, a := range spec.Attributes {
			attrs[a] = normalize(vals[i+1])
		}
		out = append(out, Row{Key: key, Attrs: attrs})
	}
	return out, rows.Err()
}

// maxSurrogate returns the highest surrogate key in use, 0 when the table
// is empty. New keys are assigned strictly above it; the single-writer
// assumption keeps this collision-free.
func maxSurrogate(ctx context.Context, db *sql.DB, spec DimensionSpec) (int64, error) {
	var max sql.NullInt64
	err := db.QueryRowContext(ctx,
		"SELECT MAX("+warehouse.QuoteIdent(spec.SurrogateKey)+") FROM "+
			warehouse.QualifiedTable(warehouse.SchemaGold, spec.Table)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max surrogate key of %s: %w", spec.Table, err)
	}
	if max.Valid && max.Int64 < 0 {
		return 0, domain.ErrInvariantViolation(
			"negative surrogate key %d in %s", max.Int64, spec.Table)
	}
	return max.Int64, nil
}

func ensureTable(ctx context.Context, db *sql.DB, spec DimensionSpec) error {
	if _, err := db.ExecContext(ctx, spec.DDL); err != nil {
		return fmt.Errorf("create gold table %s: %w", spec.Table, err)
	}
	return nil
}

// attrsEqual compares two attribute values after normalization. NULLs
// compare equal to each other only.
func attrsEqual(a, b any) bool {
	return normalize(a) == normalize(b)
}

// changedIn reports whether any of the named attributes differ between
// incoming and existing.
func changedIn(names []string, incoming, existing map[string]any) bool {
	for _, n := range names {
		if !attrsEqual(incoming[n], existing[n]) {
			return true
		}
	}
	return false
}

// normalize maps driver-specific scan types onto comparable values.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = warehouse.QuoteIdent(c)
	}
	return out
}
