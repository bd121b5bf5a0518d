package domain

import (
	"context"
	"io"
)

// CheckpointRepository is the durable consumed-file ledger, keyed by
// ingestion stream. Commit must be atomic: either every file in the batch
// is marked consumed or none is.
type CheckpointRepository interface {
	ListConsumed(ctx context.Context, streamID string) (map[string]bool, error)
	Commit(ctx context.Context, streamID string, fileIDs []string) error
	// Reset clears the ledger for a stream. Explicit operator action only.
	Reset(ctx context.Context, streamID string) (int64, error)
}

// RunRepository persists stage run reports.
type RunRepository interface {
	Insert(ctx context.Context, r *RunReport) error
	Finish(ctx context.Context, r *RunReport) error
	List(ctx context.Context, limit int) ([]RunReport, error)
}

// QuarantineRepository is the write-only sink for rows failing
// data-quality expectations. Listing exists for operators and alerting.
type QuarantineRepository interface {
	Insert(ctx context.Context, row *QuarantinedRow) error
	List(ctx context.Context, limit int) ([]QuarantinedRow, error)
}

// Container is an append-only collection of source files. The core reads
// but never mutates it.
type Container interface {
	List(ctx context.Context) ([]SourceFile, error)
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}
