package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/smallbiznis/catalogsync/internal/timeseries/domain"
)

// InferSchema derives one Field per batch column. A column whose non-nil
// values are all integers is int, all numbers is numeric, all booleans is
// bool. Otherwise a column named in timestampColumns, or holding only
// time.Time values, is timestamp, and anything else is text.
func InferSchema(batch domain.Batch, timestampColumns []string) domain.Schema {
	schema := make(domain.Schema, 0, len(batch.Columns))
	for _, col := range batch.Columns {
		schema = append(schema, domain.Field{ID: col, Kind: inferKind(col, batch.Rows, timestampColumns)})
	}
	return schema
}

func inferKind(col string, rows []domain.Row, timestampColumns []string) domain.Kind {
	var ints, floats, bools, times, other, total int
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		total++
		switch val := v.(type) {
		case int, int64:
			ints++
		case float64:
			floats++
		case json.Number:
			if _, err := val.Int64(); err == nil {
				ints++
			} else {
				floats++
			}
		case bool:
			bools++
		case time.Time:
			times++
		default:
			other++
		}
	}

	switch {
	case total > 0 && ints == total:
		return domain.KindInt
	case total > 0 && ints+floats == total:
		return domain.KindNumeric
	case total > 0 && bools == total:
		return domain.KindBool
	case containsColumn(timestampColumns, col):
		return domain.KindTimestamp
	case total > 0 && times == total:
		return domain.KindTimestamp
	default:
		return domain.KindText
	}
}

// KindOf maps a catalog column type back to a Kind.
func KindOf(remoteType string) domain.Kind {
	switch remoteType {
	case "int", "int4", "int8", "integer", "bigint":
		return domain.KindInt
	case "numeric", "float", "float8", "double precision":
		return domain.KindNumeric
	case "bool", "boolean":
		return domain.KindBool
	case "timestamp", "date":
		return domain.KindTimestamp
	default:
		return domain.KindText
	}
}

// Records encodes rows for the catalog according to schema. Nil values and
// timestamps that do not parse are left out of the record. Columns missing
// from schema are dropped.
func Records(rows []domain.Row, schema domain.Schema) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(schema))
		for _, f := range schema {
			v, ok := encode(row[f.ID], f.Kind)
			if ok {
				rec[f.ID] = v
			}
		}
		out = append(out, rec)
	}
	return out
}

func encode(v any, kind domain.Kind) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch kind {
	case domain.KindTimestamp:
		t, ok := ParseTimestamp(v)
		if !ok {
			return nil, false
		}
		return t.Format(CanonicalLayout), true
	case domain.KindInt:
		switch val := v.(type) {
		case int64, int:
			return val, true
		case float64:
			if val == math.Trunc(val) {
				return int64(val), true
			}
			return val, true
		case json.Number:
			if i, err := val.Int64(); err == nil {
				return i, true
			}
			return val, true
		}
	case domain.KindNumeric:
		switch val := v.(type) {
		case int64:
			return float64(val), true
		case int:
			return float64(val), true
		case float64:
			if math.IsNaN(val) {
				return nil, false
			}
			return val, true
		case json.Number:
			if f, err := val.Float64(); err == nil {
				return f, true
			}
		}
	case domain.KindBool:
		switch val := v.(type) {
		case bool:
			return val, true
		case string:
			if b, err := strconv.ParseBool(val); err == nil {
				return b, true
			}
		}
	}
	if s := stringify(v); s != "" || kind == domain.KindText {
		return s, true
	}
	return nil, false
}
