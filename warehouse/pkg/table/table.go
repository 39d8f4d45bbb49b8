package table

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"time"
)

// Record is a single row addressed by column name.
type Record map[string]any

// Table is an in-memory table with a checked schema. Cells are nil (null), string, int64,
// float64 or time.Time according to the column's LogicalType. Tables are never mutated after
// construction; every transform returns a new table that may share cell storage with its input.
type Table struct {
	schema Schema
	rows   [][]any
}

// New validates every row against the schema.
func New(schema Schema, rows [][]any) (*Table, error) {
	cols := schema.cols
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(cols))
		}
		for j, v := range row {
			if err := checkCell(cols[j], v); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
		}
	}
	return &Table{schema: schema, rows: rows}, nil
}

// Empty returns a table with the given columns and no rows.
func Empty(schema Schema) *Table {
	return &Table{schema: schema}
}

func checkCell(c Column, v any) error {
	if v == nil {
		if c.Type == Integer {
			return fmt.Errorf("column %q is %s and cannot hold null", c.Name, c.Type)
		}
		return nil
	}
	ok := false
	switch c.Type {
	case String:
		_, ok = v.(string)
	case Integer, NullableInteger:
		_, ok = v.(int64)
	case Float:
		_, ok = v.(float64)
	case Date, DateTime:
		_, ok = v.(time.Time)
	}
	if !ok {
		return fmt.Errorf("column %q is %s but got %T", c.Name, c.Type, v)
	}
	return nil
}

func (t *Table) Schema() Schema { return t.schema }

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) IsEmpty() bool { return len(t.rows) == 0 }

func (t *Table) Has(name string) bool { return t.schema.Has(name) }

// Value returns the cell at row i in the named column, or nil when the column is absent.
func (t *Table) Value(i int, name string) any {
	j := t.schema.Index(name)
	if j < 0 {
		return nil
	}
	return t.rows[i][j]
}

// Row returns a copy of row i in schema order.
func (t *Table) Row(i int) []any {
	return slices.Clone(t.rows[i])
}

func (t *Table) Record(i int) Record {
	rec := make(Record, len(t.schema.cols))
	for j, c := range t.schema.cols {
		rec[c.Name] = t.rows[i][j]
	}
	return rec
}

// ColumnValues returns a copy of the named column, or nil when absent.
func (t *Table) ColumnValues(name string) []any {
	j := t.schema.Index(name)
	if j < 0 {
		return nil
	}
	out := make([]any, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[j]
	}
	return out
}

// Project keeps the named columns, in the given order, skipping names that are absent. The
// skipped names are returned.
func (t *Table) Project(names ...string) (*Table, []string) {
	var (
		cols    []Column
		idx     []int
		missing []string
		seen    = make(map[string]bool, len(names))
	)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		j := t.schema.Index(name)
		if j < 0 {
			missing = append(missing, name)
			continue
		}
		cols = append(cols, t.schema.cols[j])
		idx = append(idx, j)
	}
	rows := make([][]any, len(t.rows))
	for i, row := range t.rows {
		out := make([]any, len(idx))
		for k, j := range idx {
			out[k] = row[j]
		}
		rows[i] = out
	}
	return &Table{schema: MustSchema(cols...), rows: rows}, missing
}

// WithColumn appends a column, or replaces it in place when the name already exists.
func (t *Table) WithColumn(col Column, values []any) (*Table, error) {
	if len(values) != len(t.rows) {
		return nil, fmt.Errorf("column %q has %d values, table has %d rows", col.Name, len(values), len(t.rows))
	}
	for i, v := range values {
		if err := checkCell(col, v); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}

	cols := t.schema.Columns()
	pos := t.schema.Index(col.Name)
	if pos < 0 {
		pos = len(cols)
		cols = append(cols, col)
	} else {
		cols[pos] = col
	}

	rows := make([][]any, len(t.rows))
	for i, row := range t.rows {
		out := make([]any, len(cols))
		copy(out, row)
		out[pos] = values[i]
		rows[i] = out
	}
	return &Table{schema: MustSchema(cols...), rows: rows}, nil
}

// WithConstant appends or replaces a column holding the same value in every row.
func (t *Table) WithConstant(col Column, v any) (*Table, error) {
	values := make([]any, len(t.rows))
	for i := range values {
		values[i] = v
	}
	return t.WithColumn(col, values)
}

// MoveFirst reorders the named column to position zero. Absent names are ignored.
func (t *Table) MoveFirst(name string) *Table {
	j := t.schema.Index(name)
	if j <= 0 {
		return t
	}
	names := append([]string{name}, slices.Delete(t.schema.Names(), j, j+1)...)
	out, _ := t.Project(names...)
	return out
}

// Drop removes the named columns, ignoring names that are absent.
func (t *Table) Drop(names ...string) *Table {
	if len(names) == 0 {
		return t
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	keep := make([]string, 0, t.schema.Len())
	for _, c := range t.schema.cols {
		if !drop[c.Name] {
			keep = append(keep, c.Name)
		}
	}
	if len(keep) == t.schema.Len() {
		return t
	}
	out, _ := t.Project(keep...)
	return out
}

// DropTransient removes every column using the reserved transient prefix.
func (t *Table) DropTransient() *Table {
	var names []string
	for _, c := range t.schema.cols {
		if IsTransient(c.Name) {
			names = append(names, c.Name)
		}
	}
	return t.Drop(names...)
}

// Rename renames from to to. It is a no-op returning false when from is absent or to already
// exists.
func (t *Table) Rename(from, to string) (*Table, bool) {
	j := t.schema.Index(from)
	if j < 0 || t.schema.Has(to) {
		return t, false
	}
	cols := t.schema.Columns()
	cols[j].Name = to
	return &Table{schema: MustSchema(cols...), rows: t.rows}, true
}

// Select returns the rows at the given positions, in that order.
func (t *Table) Select(positions []int) *Table {
	rows := make([][]any, len(positions))
	for i, p := range positions {
		rows[i] = t.rows[p]
	}
	return &Table{schema: t.schema, rows: rows}
}

// WithCanonicalNames applies CanonicalColumnName to every column. When two columns collapse to
// the same name the first one wins and the later ones are dropped and returned. Columns whose
// name is blank are dropped and returned too.
func (t *Table) WithCanonicalNames() (*Table, []string) {
	var (
		cols    []Column
		idx     []int
		dropped []string
		seen    = make(map[string]bool, t.schema.Len())
	)
	for j, c := range t.schema.cols {
		name := CanonicalColumnName(c.Name)
		if name == "" || seen[name] {
			dropped = append(dropped, c.Name)
			continue
		}
		seen[name] = true
		cols = append(cols, Column{Name: name, Type: c.Type})
		idx = append(idx, j)
	}
	rows := make([][]any, len(t.rows))
	for i, row := range t.rows {
		out := make([]any, len(idx))
		for k, j := range idx {
			out[k] = row[j]
		}
		rows[i] = out
	}
	return &Table{schema: MustSchema(cols...), rows: rows}, dropped
}

// Canonical is WithCanonicalNames with collisions reported to log.
func Canonical(log *slog.Logger, name string, t *Table) *Table {
	out, dropped := t.WithCanonicalNames()
	if len(dropped) > 0 && log != nil {
		log.Warn("table: dropped blank or colliding columns after name canonicalization", "table", name, "columns", dropped)
	}
	return out
}

// Concat stacks tables over the union of their columns. Cells of columns a table lacks are null.
// A column keeps the type it has in the first table that declares it; a table declaring the
// same name with a different type is an error.
func Concat(tables ...*Table) (*Table, error) {
	var cols []Column
	index := make(map[string]int)
	total := 0
	for _, t := range tables {
		if t == nil {
			continue
		}
		total += len(t.rows)
		for _, c := range t.schema.cols {
			if k, ok := index[c.Name]; ok {
				if cols[k].Type != c.Type {
					return nil, fmt.Errorf("column %q is %s and %s", c.Name, cols[k].Type, c.Type)
				}
				continue
			}
			index[c.Name] = len(cols)
			cols = append(cols, c)
		}
	}

	rows := make([][]any, 0, total)
	for _, t := range tables {
		if t == nil {
			continue
		}
		pos := make([]int, len(t.schema.cols))
		for j, c := range t.schema.cols {
			pos[j] = index[c.Name]
		}
		for _, row := range t.rows {
			out := make([]any, len(cols))
			for j, v := range row {
				out[pos[j]] = v
			}
			rows = append(rows, out)
		}
	}
	return &Table{schema: MustSchema(cols...), rows: rows}, nil
}

// FromRecords builds a raw table of String columns. Columns appear in first-seen order, with the
// keys of each record visited in sorted order so the layout does not depend on map iteration.
// Keys that are blank after trimming carry no column name and are skipped.
func FromRecords(records []map[string]any) *Table {
	var cols []Column
	index := make(map[string]int)
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if CanonicalColumnName(k) == "" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(cols)
				cols = append(cols, Column{Name: k, Type: String})
			}
		}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(cols))
		for k, v := range rec {
			if j, ok := index[k]; ok {
				row[j] = rawString(v)
			}
		}
		rows[i] = row
	}
	return &Table{schema: MustSchema(cols...), rows: rows}
}

func rawString(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// CellEqual compares two cells by value.
func CellEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
