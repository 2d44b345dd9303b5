// Package engine computes the delta between a batch and a remote table
// and derives the column schema used to write it.
package engine

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/catalogsync/internal/timeseries/domain"
)

const keySeparator = "-"

// Partition splits batch into rows whose composite key is absent from
// existing and rows already present. Timestamp identity columns are compared
// in canonical form on both sides.
func Partition(batch domain.Batch, existing []domain.Row, key domain.Key) (domain.Delta, error) {
	if len(key.Columns) == 0 {
		return domain.Delta{}, domain.ErrNoKeyColumns
	}
	for _, col := range key.Columns {
		if !containsColumn(batch.Columns, col) {
			return domain.Delta{}, fmt.Errorf("%w: %q not in batch", domain.ErrMissingKeyColumn, col)
		}
	}

	seen := make(map[string]struct{}, len(existing))
	for i, row := range existing {
		k, err := KeyOf(row, key)
		if err != nil {
			return domain.Delta{}, fmt.Errorf("existing row %d: %w", i, err)
		}
		seen[k] = struct{}{}
	}

	delta := domain.Delta{}
	for i, row := range batch.Rows {
		k, err := KeyOf(row, key)
		if err != nil {
			return domain.Delta{}, fmt.Errorf("batch row %d: %w", i, err)
		}
		if _, dup := seen[k]; dup {
			delta.Duplicates = append(delta.Duplicates, row)
			continue
		}
		delta.New = append(delta.New, row)
	}
	return delta, nil
}

// KeyOf renders the composite identity of row.
func KeyOf(row domain.Row, key domain.Key) (string, error) {
	parts := make([]string, 0, len(key.Columns))
	for _, col := range key.Columns {
		v, ok := row[col]
		if !ok {
			return "", fmt.Errorf("%w: %q", domain.ErrMissingKeyColumn, col)
		}
		if key.IsTimestamp(col) {
			parts = append(parts, CanonicalTimestamp(v))
			continue
		}
		parts = append(parts, stringify(v))
	}
	return strings.Join(parts, keySeparator), nil
}

// Union returns existing followed by the rows of extra whose key is not
// already present. Later duplicates within extra are dropped as well.
func Union(existing, extra []domain.Row, key domain.Key) ([]domain.Row, error) {
	out := make([]domain.Row, 0, len(existing)+len(extra))
	seen := make(map[string]struct{}, len(existing)+len(extra))
	for _, rows := range [][]domain.Row{existing, extra} {
		for _, row := range rows {
			k, err := KeyOf(row, key)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, row)
		}
	}
	return out, nil
}

func containsColumn(columns []string, col string) bool {
	for _, c := range columns {
		if c == col {
			return true
		}
	}
	return false
}
