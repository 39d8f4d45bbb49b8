// Package canon normalizes free-text values so that values meaning the same thing hash and join
// identically. Uppercase is the single case used for hashing and joins across the warehouse.
package canon

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// JoinDelimiter separates canonical values inside hash inputs and join keys.
const JoinDelimiter = "|"

// Fold trims and lowercases s. It is the string coercion applied to declared string columns,
// and Text starts with it so that Text(Fold(s)) == Text(s).
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Text returns the canonical form of a single cell: null becomes "", other values are rendered
// as text, folded, NFKC-normalized, trimmed and uppercased.
func Text(v any) string {
	s := Fold(String(v))
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(s)
	// cases.Caser is stateful, so one is built per call.
	return cases.Upper(language.Und).String(s)
}

// String renders a cell without case folding or trimming.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Join canonicalizes values and joins them with JoinDelimiter.
func Join(values ...any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Text(v)
	}
	return strings.Join(parts, JoinDelimiter)
}

// JoinKey builds the join key of row i over fields, in field order.
func JoinKey(t *table.Table, i int, fields []string) string {
	values := make([]any, len(fields))
	for k, f := range fields {
		values[k] = t.Value(i, f)
	}
	return Join(values...)
}

// Canonicalize returns a copy of t in which each named column that exists holds canonical text.
// Names that are not columns of t are ignored.
func Canonicalize(t *table.Table, cols ...string) *table.Table {
	out := t
	for _, name := range cols {
		if !out.Has(name) {
			continue
		}
		values := out.ColumnValues(name)
		for i, v := range values {
			values[i] = Text(v)
		}
		next, err := out.WithColumn(table.Column{Name: name, Type: table.String}, values)
		if err != nil {
			// Every value is a string of the right length; this cannot fail.
			panic(err)
		}
		out = next
	}
	return out
}
