package source

import (
	"encoding/csv"
	"io"
	"strings"

	"lakemart/internal/domain"
)

// Batch is the parsed content of one source file: its header columns (all
// VARCHAR at this layer) and the data rows in file order.
type Batch struct {
	Columns []domain.Column
	Rows    [][]string
}

// ReadCSVBatch parses a CSV batch file. The first row is the header. Rows
// with a column count different from the header are a parse error: the
// whole file is rejected so it can be retried after the producer fixes it.
func ReadCSVBatch(r io.Reader) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Batch{}, nil
	}
	if err != nil {
		return nil, err
	}

	cols := make([]domain.Column, len(header))
	for i, name := range header {
		cols[i] = domain.Column{
			Name: strings.ToLower(strings.TrimSpace(name)),
			Type: domain.ColumnTypeVarchar,
		}
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}

	return &Batch{Columns: cols, Rows: rows}, nil
}
