package coerce

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/citylake/warehouse/pkg/canon"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// Result is the outcome of Normalize.
type Result struct {
	Table *table.Table
	// Missing lists declared columns absent from the source.
	Missing []string
	// Unparseable counts non-empty values per column that were coerced to null.
	Unparseable map[string]int
}

// Normalize canonicalizes column names, projects to the declared columns plus extra, and coerces
// declared columns by dtype. Missing columns and unparseable values are reported, never returned
// as errors. specs must already be validated.
func Normalize(log *slog.Logger, name string, raw *table.Table, specs []ColumnSpec, extra ...string) Result {
	t := table.Canonical(log, name, raw)

	names := Names(specs)
	declared := len(names)
	names = append(names, extra...)
	t, missing := t.Project(names...)

	var missingDeclared []string
	for _, m := range missing {
		if indexOf(names[:declared], m) >= 0 {
			missingDeclared = append(missingDeclared, m)
		}
	}
	if len(missingDeclared) > 0 {
		log.Warn("coerce: declared columns missing from source", "table", name, "columns", missingDeclared)
	}

	t, unparseable := Apply(t, specs)
	for col, n := range unparseable {
		log.Warn("coerce: unparseable values coerced to null", "table", name, "column", col, "count", n)
	}

	return Result{Table: t, Missing: missingDeclared, Unparseable: unparseable}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Apply coerces each declared column present in t. Date columns also gain a derived
// <col>_key NullableInteger column holding year*10000 + month*100 + day.
func Apply(t *table.Table, specs []ColumnSpec) (*table.Table, map[string]int) {
	unparseable := make(map[string]int)
	out := t
	for _, s := range specs {
		if !out.Has(s.Name) {
			continue
		}
		values := out.ColumnValues(s.Name)
		bad := 0
		for i, v := range values {
			var ok bool
			values[i], ok = coerceValue(s.DType, v)
			if !ok {
				bad++
			}
		}
		if bad > 0 {
			unparseable[s.Name] = bad
		}
		next, err := out.WithColumn(table.Column{Name: s.Name, Type: s.DType.LogicalType()}, values)
		if err != nil {
			panic(err)
		}
		out = next

		if s.DType == DTypeDate {
			keys := make([]any, len(values))
			for i, v := range values {
				if ts, ok := v.(time.Time); ok {
					keys[i] = DateKey(ts)
				}
			}
			next, err := out.WithColumn(table.Column{Name: DateKeyColumn(s.Name), Type: table.NullableInteger}, keys)
			if err != nil {
				panic(err)
			}
			out = next
		}
	}
	return out, unparseable
}

// coerceValue converts v to dtype d. ok is false when a non-empty value could not be parsed and
// was replaced with null.
func coerceValue(d DType, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch d {
	case DTypeString:
		return canon.Fold(canon.String(v)), true
	case DTypeNumeric:
		return ParseInteger(v)
	case DTypeFloat:
		return ParseFloat(v)
	case DTypeDate:
		return ParseDate(v)
	}
	return nil, false
}

// ParseInteger accepts integers and integral floats. Empty input is null without being counted
// as unparseable.
func ParseInteger(v any) (any, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return integralFloat(x)
	}
	s := strings.TrimSpace(canon.String(v))
	if s == "" {
		return nil, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return integralFloat(f)
}

func integralFloat(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, false
	}
	return int64(f), true
}

func ParseFloat(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	}
	s := strings.TrimSpace(canon.String(v))
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

// dateLayouts are tried in order. Floating timestamps without a zone are read as UTC.
var dateLayouts = []string{
	"2006-01-02T15:04:05.000",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
	"01/02/2006",
	"01/02/2006 03:04:05 PM",
}

func ParseDate(v any) (any, bool) {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC(), true
	}
	s := strings.TrimSpace(canon.String(v))
	if s == "" {
		return nil, true
	}
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return nil, false
}

// DateKey formats the calendar date of ts as an 8-digit integer.
func DateKey(ts time.Time) int64 {
	return int64(ts.Year())*10000 + int64(ts.Month())*100 + int64(ts.Day())
}
