// Package warehouse manages the DuckDB database holding the medallion
// layers: bronze (raw), silver (conformed), gold (dimensions and facts).
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Medallion schema names.
const (
	SchemaBronze = "bronze"
	SchemaSilver = "silver"
	SchemaGold   = "gold"
)

// Open opens the DuckDB warehouse at path ("" for in-memory) and creates
// the medallion schemas if missing.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	if err := EnsureSchemas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchemas creates the bronze/silver/gold schemas if they don't exist.
func EnsureSchemas(ctx context.Context, db *sql.DB) error {
	for _, schema := range []string{SchemaBronze, SchemaSilver, SchemaGold} {
		if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+QuoteIdent(schema)); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	return nil
}

// QuoteIdent quotes a SQL identifier for DuckDB.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedTable returns a quoted schema.table reference.
func QualifiedTable(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// QuoteLiteral quotes a string literal for DuckDB.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. The SCD2 close+insert pair relies on this so readers
// never observe a natural key with zero or two current versions.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin warehouse tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
