// Package table reads and writes the delimited files exchanged between jobs.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoHeader = errors.New("table has no header row")

// Row maps a column name to its raw cell text.
type Row map[string]string

// Table is a header plus rows. Cells missing from a row read as "".
type Table struct {
	Header []string
	Rows   []Row
}

func New(header ...string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

// Read loads a CSV file with one header row.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Decode parses CSV from r. Ragged rows are accepted; surplus cells are
// dropped and short rows are padded with empty cells.
func Decode(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	t := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(record) {
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Write stores t at path, creating parent directories. The file is written
// to a sibling temp file first and renamed into place.
func Write(path string, t *Table) error {
	if t == nil || len(t.Header) == 0 {
		return ErrNoHeader
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func Encode(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return err
	}
	record := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, col := range t.Header {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (t *Table) Has(column string) bool {
	for _, h := range t.Header {
		if h == column {
			return true
		}
	}
	return false
}

// FirstColumn returns the first of candidates present in the header.
func (t *Table) FirstColumn(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if t.Has(c) {
			return c, true
		}
	}
	return "", false
}

// Column returns the cells of one column in row order.
func (t *Table) Column(name string) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[name]
	}
	return out
}

// Append adds a row, extending the header with any unseen columns in
// sorted order.
func (t *Table) Append(row Row) {
	var missing []string
	for col := range row {
		if !t.Has(col) {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	t.Header = append(t.Header, missing...)
	t.Rows = append(t.Rows, row)
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Prepend returns a table holding newer's rows followed by older's. The
// header is newer's columns then any columns only older has.
func Prepend(newer, older *Table) *Table {
	out := New(newer.Header...)
	for _, col := range older.Header {
		if !out.Has(col) {
			out.Header = append(out.Header, col)
		}
	}
	out.Rows = make([]Row, 0, len(newer.Rows)+len(older.Rows))
	for _, src := range [][]Row{newer.Rows, older.Rows} {
		for _, row := range src {
			copied := make(Row, len(out.Header))
			for _, col := range out.Header {
				copied[col] = row[col]
			}
			out.Rows = append(out.Rows, copied)
		}
	}
	return out
}
