package domain

import "time"

// CheckpointEntry marks one source file as consumed for a stream. The
// ledger only ever grows; a file is never consumed twice unless the
// checkpoint is explicitly reset by an operator.
type CheckpointEntry struct {
	StreamID   string
	FileID     string
	ConsumedAt time.Time
}
