package domain

import (
	"context"
	"errors"
)

// Row is one observation: column name to scalar value. Values are string,
// int64, float64, bool, time.Time, json.Number (as read back from the
// catalog) or nil.
type Row map[string]any

// Batch is one run's rows, all sharing Columns.
type Batch struct {
	Columns []string
	Rows    []Row
}

func (b Batch) Len() int {
	return len(b.Rows)
}

type Kind string

const (
	KindInt       Kind = "int"
	KindNumeric   Kind = "numeric"
	KindBool      Kind = "bool"
	KindTimestamp Kind = "timestamp"
	KindText      Kind = "text"
)

type Field struct {
	ID   string
	Kind Kind
}

// Schema is an ordered list of typed columns.
type Schema []Field

func (s Schema) Kind(column string) (Kind, bool) {
	for _, f := range s {
		if f.ID == column {
			return f.Kind, true
		}
	}
	return "", false
}

// Key names the composite identity of a row. Timestamps lists the identity
// columns compared in canonical timestamp form.
type Key struct {
	Columns    []string
	Timestamps []string
}

func (k Key) IsTimestamp(column string) bool {
	for _, c := range k.Timestamps {
		if c == column {
			return true
		}
	}
	return false
}

// Delta splits a batch into rows absent from the remote table and rows
// already present. Both keep input order.
type Delta struct {
	New        []Row
	Duplicates []Row
}

// State is the remote table's condition as seen by the upsert driver.
type State string

const (
	StateAbsent        State = "absent"
	StateActive        State = "active"
	StateActiveWithKey State = "active_with_key"
)

// Series identifies the remote table a batch is appended to.
type Series struct {
	Name             string
	DatasetID        string
	ResourceName     string
	Description      string
	KeyColumns       []string
	TimestampColumns []string
}

func (s Series) Key() Key {
	var ts []string
	for _, c := range s.KeyColumns {
		for _, t := range s.TimestampColumns {
			if c == t {
				ts = append(ts, c)
			}
		}
	}
	return Key{Columns: s.KeyColumns, Timestamps: ts}
}

type AppendRequest struct {
	Series Series
	Batch  Batch
	DryRun bool
}

type AppendResult struct {
	ResourceID string
	State      State
	FinalState State
	Inserted   int
	Duplicates int
	Recreated  bool
	DryRun     bool
}

type Service interface {
	Append(ctx context.Context, req AppendRequest) (AppendResult, error)
}

var (
	ErrNoKeyColumns     = errors.New("no_key_columns")
	ErrMissingKeyColumn = errors.New("missing_key_column")
	ErrEmptyBatch       = errors.New("empty_batch")
	ErrInvalidSeries    = errors.New("invalid_series")
)
