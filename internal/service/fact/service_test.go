package fact

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

type stubQuarantine struct {
	mu   sync.Mutex
	rows []domain.QuarantinedRow
}

func (s *stubQuarantine) Insert(_ context.Context, row *domain.QuarantinedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *row)
	return nil
}

func (s *stubQuarantine) List(_ context.Context, _ int) ([]domain.QuarantinedRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.QuarantinedRow(nil), s.rows...), nil
}

var (
	jan = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	feb = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mar = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
)

// seedWarehouse creates silver.orders plus both dimensions. Product 10
// carries two versions: price 10 through January, price 12 from February.
func seedWarehouse(t *testing.T, wh *sql.DB) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE silver.orders (
			order_id BIGINT NOT NULL, customer_id BIGINT NOT NULL, product_id BIGINT NOT NULL,
			quantity BIGINT, amount DOUBLE, event_ts TIMESTAMP NOT NULL)`,
		`CREATE TABLE gold.dim_customers (
			customer_key BIGINT NOT NULL, customer_id BIGINT NOT NULL,
			name VARCHAR, email VARCHAR, city VARCHAR, segment VARCHAR,
			create_date TIMESTAMP NOT NULL, update_date TIMESTAMP NOT NULL)`,
		`CREATE TABLE gold.dim_products (
			product_key BIGINT NOT NULL, product_id BIGINT NOT NULL,
			name VARCHAR, category VARCHAR, price DOUBLE,
			effective_start_date TIMESTAMP NOT NULL,
			effective_end_date TIMESTAMP,
			is_current BOOLEAN NOT NULL)`,
		`INSERT INTO gold.dim_customers VALUES
			(1, 100, 'Alice', 'alice@example.com', NULL, NULL, TIMESTAMP '2026-01-01', TIMESTAMP '2026-01-01')`,
		`INSERT INTO gold.dim_products VALUES
			(1, 10, 'Widget', 'tools', 10.0, TIMESTAMP '2026-01-01', TIMESTAMP '2026-02-01', false),
			(2, 10, 'Widget', 'tools', 12.0, TIMESTAMP '2026-02-01', NULL, true)`,
	}
	for _, stmt := range stmts {
		_, err := wh.Exec(stmt)
		require.NoError(t, err)
	}
}

func newTestService(t *testing.T) (*Service, *sql.DB, *stubQuarantine) {
	t.Helper()
	wh, err := warehouse.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })

	q := &stubQuarantine{}
	svc := NewService(wh, q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, wh, q
}

func insertOrder(t *testing.T, wh *sql.DB, orderID, customerID, productID int64, eventTS time.Time) {
	t.Helper()
	_, err := wh.Exec("INSERT INTO silver.orders VALUES (?, ?, ?, 1, 10.0, ?)",
		orderID, customerID, productID, eventTS)
	require.NoError(t, err)
}

func factProductKey(t *testing.T, wh *sql.DB, orderID int64) int64 {
	t.Helper()
	var key int64
	require.NoError(t, wh.QueryRow(
		"SELECT product_key FROM gold.fact_orders WHERE order_id = ?", orderID).Scan(&key))
	return key
}

func TestRunResolvesProductVersionAsOfEventTime(t *testing.T) {
	svc, wh, _ := newTestService(t)
	seedWarehouse(t, wh)
	// A January order must resolve the historical version even though the
	// February version is current at build time.
	insertOrder(t, wh, 1000, 100, 10, jan)
	insertOrder(t, wh, 1001, 100, 10, mar)

	report, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RowsRead)
	assert.Equal(t, int64(2), report.RowsIngested)
	assert.Zero(t, report.Quarantined)

	assert.Equal(t, int64(1), factProductKey(t, wh, 1000))
	assert.Equal(t, int64(2), factProductKey(t, wh, 1001))
}

func TestRunVersionBoundaryIsHalfOpen(t *testing.T) {
	svc, wh, _ := newTestService(t)
	seedWarehouse(t, wh)
	// An event exactly at the changeover instant belongs to the new version.
	insertOrder(t, wh, 1000, 100, 10, feb)

	_, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), factProductKey(t, wh, 1000))
}

func TestRunQuarantinesUnmatchedOrders(t *testing.T) {
	svc, wh, q := newTestService(t)
	seedWarehouse(t, wh)
	insertOrder(t, wh, 1000, 100, 10, jan)
	// Unknown customer.
	insertOrder(t, wh, 1001, 999, 10, jan)
	// Event predates all recorded product history.
	insertOrder(t, wh, 1002, 100, 10, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	report, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.RowsIngested)
	assert.Equal(t, int64(2), report.Quarantined)

	rows, err := q.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "orders", row.Entity)
		assert.Equal(t, "missing_dimension", row.Rule)
		assert.Equal(t, "run-1", row.RunID)
	}

	var n int64
	require.NoError(t, wh.QueryRow("SELECT count(*) FROM gold.fact_orders").Scan(&n))
	assert.Equal(t, int64(1), n)
}

func TestRunRebuildReplacesPriorBuild(t *testing.T) {
	svc, wh, _ := newTestService(t)
	seedWarehouse(t, wh)
	insertOrder(t, wh, 1000, 100, 10, jan)

	_, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)

	insertOrder(t, wh, 1001, 100, 10, mar)
	report, err := svc.Run(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.RowsIngested)

	// Every surviving row carries the rebuilding run's ID.
	rows, err := wh.Query("SELECT DISTINCT build_run_id FROM gold.fact_orders")
	require.NoError(t, err)
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"run-2"}, ids)
}

func TestRunEmptySilver(t *testing.T) {
	svc, wh, _ := newTestService(t)
	seedWarehouse(t, wh)

	report, err := svc.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Zero(t, report.RowsRead)
	assert.Zero(t, report.RowsIngested)
}
