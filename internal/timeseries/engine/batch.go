package engine

import (
	"encoding/json"

	"github.com/smallbiznis/catalogsync/internal/table"
	"github.com/smallbiznis/catalogsync/internal/timeseries/domain"
)

// FromTable converts a loaded CSV into a Batch. A column whose cells are
// all numbers, or all booleans, is parsed into those scalars; any other
// column keeps the cell text as written.
func FromTable(t *table.Table) domain.Batch {
	batch := domain.Batch{
		Columns: append([]string(nil), t.Header...),
		Rows:    make([]domain.Row, 0, len(t.Rows)),
	}
	for range t.Rows {
		batch.Rows = append(batch.Rows, make(domain.Row, len(batch.Columns)))
	}
	for _, col := range batch.Columns {
		raw := make([]string, len(t.Rows))
		for i, r := range t.Rows {
			raw[i] = r[col]
		}
		for i, v := range parseColumn(raw) {
			batch.Rows[i][col] = v
		}
	}
	return batch
}

func parseColumn(raw []string) []any {
	values := make([]any, len(raw))
	var numbers, bools, total int
	for i, s := range raw {
		v := ParseCell(s)
		values[i] = v
		switch v.(type) {
		case nil:
			continue
		case json.Number:
			numbers++
		case bool:
			bools++
		}
		total++
	}
	if numbers == total || bools == total {
		return values
	}
	for i, v := range values {
		if v != nil {
			values[i] = raw[i]
		}
	}
	return values
}

// FromRecords converts catalog records into rows. Columns absent from a
// record are stored as nil so every row carries the full column set.
func FromRecords(columns []string, records []map[string]any) []domain.Row {
	rows := make([]domain.Row, 0, len(records))
	for _, rec := range records {
		row := make(domain.Row, len(columns))
		for _, col := range columns {
			row[col] = rec[col]
		}
		rows = append(rows, row)
	}
	return rows
}

// ToTable renders rows as CSV text in the given column order. Timestamps
// are written in CanonicalLayout.
func ToTable(columns []string, rows []domain.Row) *table.Table {
	t := table.New(columns...)
	for _, row := range rows {
		r := make(table.Row, len(columns))
		for _, col := range columns {
			r[col] = stringify(row[col])
		}
		t.Append(r)
	}
	return t
}
