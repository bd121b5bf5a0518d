package merge

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakemart/internal/domain"
	"lakemart/internal/warehouse"
)

func newTestWarehouse(t *testing.T) *sql.DB {
	t.Helper()
	wh, err := warehouse.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })
	return wh
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedSilverCustomers(t *testing.T, wh *sql.DB, rows [][]any) {
	t.Helper()
	_, err := wh.Exec(`CREATE TABLE IF NOT EXISTS silver.customers (
		customer_id BIGINT NOT NULL, name VARCHAR, email VARCHAR, city VARCHAR, segment VARCHAR)`)
	require.NoError(t, err)
	_, err = wh.Exec("DELETE FROM silver.customers")
	require.NoError(t, err)
	for _, row := range rows {
		_, err := wh.Exec("INSERT INTO silver.customers VALUES (?, ?, ?, ?, ?)", row...)
		require.NoError(t, err)
	}
}

func TestSCD1InsertsNewKeys(t *testing.T) {
	wh := newTestWarehouse(t)
	engine := NewSCD1Engine(wh, discardLogger())
	seedSilverCustomers(t, wh, [][]any{
		{1, "Alice", "alice@example.com", "Berlin", "retail"},
		{2, "Bob", "bob@example.com", nil, nil},
	})

	report, err := engine.Run(context.Background(), DimCustomers)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RowsRead)
	assert.Equal(t, int64(2), report.MergedNew)
	assert.Zero(t, report.MergedUpdated)

	// Surrogate keys are distinct and dense from 1.
	rows, err := wh.Query("SELECT customer_key, customer_id FROM gold.dim_customers ORDER BY customer_id")
	require.NoError(t, err)
	defer rows.Close()
	var keys []int64
	for rows.Next() {
		var key, id int64
		require.NoError(t, rows.Scan(&key, &id))
		keys = append(keys, key)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{1, 2}, keys)
}

func TestSCD1OverwritesChangedAttributes(t *testing.T) {
	wh := newTestWarehouse(t)
	engine := NewSCD1Engine(wh, discardLogger())
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return first }

	seedSilverCustomers(t, wh, [][]any{
		{1, "Alice", "alice@example.com", "Berlin", "retail"},
	})
	_, err := engine.Run(context.Background(), DimCustomers)
	require.NoError(t, err)

	// Alice corrects her name to Alicia.
	second := first.Add(24 * time.Hour)
	engine.now = func() time.Time { return second }
	seedSilverCustomers(t, wh, [][]any{
		{1, "Alicia", "alice@example.com", "Berlin", "retail"},
	})
	report, err := engine.Run(context.Background(), DimCustomers)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.MergedUpdated)
	assert.Zero(t, report.MergedNew)

	var key int64
	var name string
	var createDate, updateDate time.Time
	require.NoError(t, wh.QueryRow(
		"SELECT customer_key, name, create_date, update_date FROM gold.dim_customers WHERE customer_id = 1").
		Scan(&key, &name, &createDate, &updateDate))
	assert.Equal(t, "Alicia", name)
	assert.Equal(t, int64(1), key)
	assert.True(t, createDate.Equal(first))
	assert.True(t, updateDate.Equal(second))

	// No history row was created.
	var n int64
	require.NoError(t, wh.QueryRow("SELECT count(*) FROM gold.dim_customers").Scan(&n))
	assert.Equal(t, int64(1), n)
}

func TestSCD1UnchangedSnapshotIsNoOp(t *testing.T) {
	wh := newTestWarehouse(t)
	engine := NewSCD1Engine(wh, discardLogger())
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return first }

	seedSilverCustomers(t, wh, [][]any{
		{1, "Alice", "alice@example.com", "Berlin", "retail"},
		{2, "Bob", "bob@example.com", nil, nil},
	})
	_, err := engine.Run(context.Background(), DimCustomers)
	require.NoError(t, err)

	engine.now = func() time.Time { return first.Add(time.Hour) }
	report, err := engine.Run(context.Background(), DimCustomers)
	require.NoError(t, err)
	assert.Zero(t, report.MergedNew)
	assert.Zero(t, report.MergedUpdated)
	assert.Equal(t, int64(2), report.Unchanged)

	// update_date untouched by the no-op run.
	var updateDate time.Time
	require.NoError(t, wh.QueryRow(
		"SELECT update_date FROM gold.dim_customers WHERE customer_id = 1").Scan(&updateDate))
	assert.True(t, updateDate.Equal(first))
}

func TestSCD1EmptySource(t *testing.T) {
	wh := newTestWarehouse(t)
	engine := NewSCD1Engine(wh, discardLogger())
	seedSilverCustomers(t, wh, nil)

	report, err := engine.Run(context.Background(), DimCustomers)
	require.NoError(t, err)
	assert.Zero(t, report.RowsRead)
}

func TestSCD1DuplicateNaturalKeyIsFatal(t *testing.T) {
	wh := newTestWarehouse(t)
	engine := NewSCD1Engine(wh, discardLogger())
	seedSilverCustomers(t, wh, [][]any{
		{1, "Alice", "alice@example.com", nil, nil},
	})

	// A corrupt dimension with two rows for one natural key.
	_, err := wh.Exec(DimCustomers.DDL)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, key := range []int64{1, 2} {
		_, err := wh.Exec(
			"INSERT INTO gold.dim_customers VALUES (?, 1, 'Alice', 'alice@example.com', NULL, NULL, ?, ?)",
			key, now, now)
		require.NoError(t, err)
	}

	_, err = engine.Run(context.Background(), DimCustomers)
	var invariantErr *domain.InvariantViolationError
	require.ErrorAs(t, err, &invariantErr)
}
