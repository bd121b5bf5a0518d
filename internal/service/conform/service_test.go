package conform

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakemart/internal/domain"
	"lakemart/internal/warehouse"
)

type fakeQuarantine struct {
	mu   sync.Mutex
	rows []domain.QuarantinedRow
}

func (f *fakeQuarantine) Insert(_ context.Context, row *domain.QuarantinedRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *row)
	return nil
}

func (f *fakeQuarantine) List(_ context.Context, _ int) ([]domain.QuarantinedRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.QuarantinedRow(nil), f.rows...), nil
}

func newTestService(t *testing.T, tieBreak TieBreak) (*Service, *sql.DB, *fakeQuarantine) {
	t.Helper()
	wh, err := warehouse.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })

	q := &fakeQuarantine{}
	svc := NewService(wh, q, tieBreak, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, wh, q
}

// seedBronzeCustomers creates a bronze customers table carrying the given
// columns and inserts rows in arrival order.
func seedBronzeCustomers(t *testing.T, wh *sql.DB, columns string, rows [][]any) {
	t.Helper()
	_, err := wh.Exec(`CREATE TABLE bronze.customers (
		_source_file VARCHAR, _row_offset BIGINT, _ingested_at TIMESTAMP, ` + columns + `)`)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, row := range rows {
		args := append([]any{"batch.csv", int64(i), base.Add(time.Duration(i) * time.Second)}, row...)
		placeholders := "?, ?, ?"
		for range row {
			placeholders += ", ?"
		}
		_, err := wh.Exec("INSERT INTO bronze.customers VALUES ("+placeholders+")", args...)
		require.NoError(t, err)
	}
}

func TestConformDedupLastWins(t *testing.T) {
	svc, wh, _ := newTestService(t, TieBreakLastWins)
	seedBronzeCustomers(t, wh, "customer_id VARCHAR, name VARCHAR, email VARCHAR", [][]any{
		{"1", "Alice", "alice@example.com"},
		{"2", "Bob", "bob@example.com"},
		{"1", "Alicia", "alicia@example.com"},
	})

	report, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.RowsRead)
	assert.Equal(t, int64(2), report.RowsIngested)

	var name string
	require.NoError(t, wh.QueryRow(
		"SELECT name FROM silver.customers WHERE customer_id = 1").Scan(&name))
	assert.Equal(t, "Alicia", name)
}

func TestConformDedupFirstWins(t *testing.T) {
	svc, wh, _ := newTestService(t, TieBreakFirstWins)
	seedBronzeCustomers(t, wh, "customer_id VARCHAR, name VARCHAR, email VARCHAR", [][]any{
		{"1", "Alice", "alice@example.com"},
		{"1", "Alicia", "alicia@example.com"},
	})

	_, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)

	var name string
	require.NoError(t, wh.QueryRow(
		"SELECT name FROM silver.customers WHERE customer_id = 1").Scan(&name))
	assert.Equal(t, "Alice", name)
}

func TestConformQuarantinesUncastableRows(t *testing.T) {
	svc, wh, q := newTestService(t, TieBreakLastWins)
	seedBronzeCustomers(t, wh, "customer_id VARCHAR, name VARCHAR, email VARCHAR", [][]any{
		{"1", "Alice", "alice@example.com"},
		{"not-a-number", "Mallory", "m@example.com"},
	})

	report, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Quarantined)
	assert.Equal(t, int64(1), report.RowsIngested)

	rows, err := q.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "customers", rows[0].Entity)
	assert.Contains(t, rows[0].Rule, "not an integer")
	assert.Contains(t, rows[0].Payload, "Mallory")

	// The bad row never reached silver.
	var n int64
	require.NoError(t, wh.QueryRow("SELECT count(*) FROM silver.customers").Scan(&n))
	assert.Equal(t, int64(1), n)
}

func TestConformNullFillsMissingColumns(t *testing.T) {
	svc, wh, _ := newTestService(t, TieBreakLastWins)
	// Stream has never carried city or segment.
	seedBronzeCustomers(t, wh, "customer_id VARCHAR, name VARCHAR, email VARCHAR", [][]any{
		{"1", "Alice", "alice@example.com"},
	})

	_, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)

	var city, segment sql.NullString
	require.NoError(t, wh.QueryRow(
		"SELECT city, segment FROM silver.customers WHERE customer_id = 1").Scan(&city, &segment))
	assert.False(t, city.Valid)
	assert.False(t, segment.Valid)
}

func TestConformSkipsMissingBronzeStreams(t *testing.T) {
	svc, _, _ := newTestService(t, TieBreakLastWins)

	report, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Zero(t, report.RowsRead)
	assert.Zero(t, report.RowsIngested)
}

func TestConformRebuildIsIdempotent(t *testing.T) {
	svc, wh, _ := newTestService(t, TieBreakLastWins)
	seedBronzeCustomers(t, wh, "customer_id VARCHAR, name VARCHAR, email VARCHAR", [][]any{
		{"1", "Alice", "alice@example.com"},
		{"2", "Bob", "bob@example.com"},
	})

	_, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	report, err := svc.Run(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RowsIngested)

	var n int64
	require.NoError(t, wh.QueryRow("SELECT count(*) FROM silver.customers").Scan(&n))
	assert.Equal(t, int64(2), n)
}

func TestConformOrdersTimestampParsing(t *testing.T) {
	svc, wh, q := newTestService(t, TieBreakLastWins)
	_, err := wh.Exec(`CREATE TABLE bronze.orders (
		_source_file VARCHAR, _row_offset BIGINT, _ingested_at TIMESTAMP,
		order_id VARCHAR, customer_id VARCHAR, product_id VARCHAR,
		quantity VARCHAR, amount VARCHAR, event_ts VARCHAR)`)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	insert := func(offset int64, vals ...any) {
		args := append([]any{"batch.csv", offset, base}, vals...)
		_, err := wh.Exec("INSERT INTO bronze.orders VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", args...)
		require.NoError(t, err)
	}
	insert(0, "100", "1", "10", "2", "59.98", "2026-02-01T10:30:00Z")
	insert(1, "101", "1", "10", "1", "29.99", "2026-02-02 09:00:00")
	insert(2, "102", "2", "11", "1", "10.00", "yesterday")

	report, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RowsIngested)
	assert.Equal(t, int64(1), report.Quarantined)

	rows, err := q.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Rule, "unrecognized timestamp")

	var ts time.Time
	require.NoError(t, wh.QueryRow(
		"SELECT event_ts FROM silver.orders WHERE order_id = 100").Scan(&ts))
	assert.Equal(t, time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC), ts.UTC())
}
