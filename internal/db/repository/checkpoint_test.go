package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "lakemart/internal/db"
)

func TestCheckpointCommitAndList(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	repo := NewCheckpointRepo(writeDB)
	ctx := context.Background()

	consumed, err := repo.ListConsumed(ctx, "customers")
	require.NoError(t, err)
	assert.Empty(t, consumed)

	require.NoError(t, repo.Commit(ctx, "customers", []string{"batch_001.csv", "batch_002.csv"}))

	consumed, err = repo.ListConsumed(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"batch_001.csv": true, "batch_002.csv": true}, consumed)

	// Streams are isolated.
	other, err := repo.ListConsumed(ctx, "products")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCheckpointCommitIsIdempotent(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	repo := NewCheckpointRepo(writeDB)
	ctx := context.Background()

	require.NoError(t, repo.Commit(ctx, "orders", []string{"batch_001.csv"}))
	require.NoError(t, repo.Commit(ctx, "orders", []string{"batch_001.csv", "batch_002.csv"}))

	consumed, err := repo.ListConsumed(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, consumed, 2)
}

func TestCheckpointCommitEmptyBatch(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	repo := NewCheckpointRepo(writeDB)

	require.NoError(t, repo.Commit(context.Background(), "customers", nil))
}

func TestCheckpointReset(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	repo := NewCheckpointRepo(writeDB)
	ctx := context.Background()

	require.NoError(t, repo.Commit(ctx, "customers", []string{"a.csv", "b.csv"}))
	require.NoError(t, repo.Commit(ctx, "products", []string{"p.csv"}))

	deleted, err := repo.Reset(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	consumed, err := repo.ListConsumed(ctx, "customers")
	require.NoError(t, err)
	assert.Empty(t, consumed)

	// Resetting one stream leaves others untouched.
	other, err := repo.ListConsumed(ctx, "products")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
