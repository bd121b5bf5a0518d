package domain

import "time"

// ColumnType is the logical type of a source column. Bronze tables store
// everything as VARCHAR; types matter once rows are conformed into silver.
type ColumnType string

const (
	ColumnTypeVarchar   ColumnType = "VARCHAR"
	ColumnTypeBigint    ColumnType = "BIGINT"
	ColumnTypeDouble    ColumnType = "DOUBLE"
	ColumnTypeTimestamp ColumnType = "TIMESTAMP"
)

// Column is one named, typed column of a source schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered list of columns. Order is significant: it matches
// the physical column order of the bronze table the schema describes.
type Schema struct {
	Columns []Column
}

// Index returns the position of the named column, or -1.
func (s *Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Widen appends any columns not already present and reports the names of
// the columns that were added. Existing columns are never removed or
// retyped; schema drift only ever grows the schema.
func (s *Schema) Widen(incoming []Column) []string {
	var added []string
	for _, c := range incoming {
		if s.Index(c.Name) < 0 {
			s.Columns = append(s.Columns, c)
			added = append(added, c.Name)
		}
	}
	return added
}

// SourceFile is an immutable unit of input data discovered in a source
// container. It is read at most logically-once per checkpoint state.
type SourceFile struct {
	ID           string // path/name within the container
	DiscoveredAt time.Time
	Size         int64
}

// RawRecord is one parsed row from a SourceFile plus provenance. Values
// are positionally aligned with the ingestion schema; a nil entry means
// the column was absent from the file (null-filled).
type RawRecord struct {
	SourceFile string
	RowOffset  int64
	IngestedAt time.Time
	Values     []*string
}
