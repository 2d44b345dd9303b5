package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CanonicalLayout is the single timestamp form used in composite keys and
// in records sent to the catalog.
const CanonicalLayout = "2006-01-02T15:04:05"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	CanonicalLayout,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp shapes seen in CSV files and catalog
// records. Zoned values are converted to UTC.
func ParseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// CanonicalTimestamp renders v in CanonicalLayout. Values that do not parse
// are returned in their plain string form.
func CanonicalTimestamp(v any) string {
	if t, ok := ParseTimestamp(v); ok {
		return t.Format(CanonicalLayout)
	}
	return stringify(v)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(CanonicalLayout)
	default:
		return fmt.Sprint(val)
	}
}

// ParseCell converts raw CSV text into a number, bool, or string. Numbers
// are kept as json.Number so the digits as written survive a later text
// encoding. Empty cells and NaN become nil.
func ParseCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return json.Number(s)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		switch {
		case math.IsNaN(f):
			return nil
		case !math.IsInf(f, 0):
			return json.Number(s)
		}
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
