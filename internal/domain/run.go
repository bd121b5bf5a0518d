package domain

import "time"

// Stage identifiers. Stages run as independent batch jobs; each depends
// only on the previous stage's durable output.
const (
	StageIngest  = "ingest"
	StageConform = "conform"
	StageSCD1    = "scd1"
	StageSCD2    = "scd2"
	StageFact    = "fact"
)

// Run status constants.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// RunReport is the result of one stage run. Runs always report counts
// rather than succeeding or failing as a single boolean.
type RunReport struct {
	ID            string
	Stage         string
	Status        string
	RowsRead      int64
	RowsIngested  int64
	MergedNew     int64
	MergedUpdated int64
	Unchanged     int64
	Quarantined   int64
	FailedFiles   int64
	Error         *string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Merge adds the counts of another report into r. Used when a stage fans
// out over entity types and the per-entity reports are combined.
func (r *RunReport) Merge(other *RunReport) {
	r.RowsRead += other.RowsRead
	r.RowsIngested += other.RowsIngested
	r.MergedNew += other.MergedNew
	r.MergedUpdated += other.MergedUpdated
	r.Unchanged += other.Unchanged
	r.Quarantined += other.Quarantined
	r.FailedFiles += other.FailedFiles
}

// QuarantinedRow is a row that failed a data-quality expectation. It is
// written to the quarantine sink and never reaches a dimension table.
type QuarantinedRow struct {
	ID         int64
	RunID      string
	Entity     string
	NaturalKey string
	Rule       string
	Payload    string // row serialized as JSON
	CreatedAt  time.Time
}
