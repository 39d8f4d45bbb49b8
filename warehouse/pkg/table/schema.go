package table

import (
	"fmt"
	"strings"
	"unicode"
)

// LogicalType is the declared type of a column as handed to a sink.
type LogicalType int

const (
	String LogicalType = iota
	Integer
	NullableInteger
	Float
	Date
	DateTime
)

func (t LogicalType) String() string {
	switch t {
	case String:
		return "string"
	case Integer:
		return "integer"
	case NullableInteger:
		return "nullable_integer"
	case Float:
		return "float"
	case Date:
		return "date"
	case DateTime:
		return "datetime"
	default:
		return fmt.Sprintf("LogicalType(%d)", int(t))
	}
}

// IsInteger reports whether values of the type are int64 cells.
func (t LogicalType) IsInteger() bool {
	return t == Integer || t == NullableInteger
}

type Column struct {
	Name string
	Type LogicalType
}

// Schema is an ordered list of uniquely named columns.
type Schema struct {
	cols  []Column
	index map[string]int
}

// NewSchema builds a schema. Duplicate names are an error; use WithCanonicalNames on raw input
// where first-wins collision handling is wanted.
func NewSchema(cols ...Column) (Schema, error) {
	s := Schema{
		cols:  make([]Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for _, c := range cols {
		if c.Name == "" {
			return Schema{}, fmt.Errorf("column name is required")
		}
		if _, ok := s.index[c.Name]; ok {
			return Schema{}, fmt.Errorf("duplicate column %q", c.Name)
		}
		s.index[c.Name] = len(s.cols)
		s.cols = append(s.cols, c)
	}
	return s, nil
}

// MustSchema is NewSchema for statically declared schemas.
func MustSchema(cols ...Column) Schema {
	s, err := NewSchema(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schema) Len() int { return len(s.cols) }

func (s Schema) Columns() []Column {
	out := make([]Column, len(s.cols))
	copy(out, s.cols)
	return out
}

func (s Schema) Names() []string {
	out := make([]string, len(s.cols))
	for i, c := range s.cols {
		out[i] = c.Name
	}
	return out
}

func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

func (s Schema) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.cols[i], true
}

// TransientPrefix marks engine-internal columns that must never reach a sink.
const TransientPrefix = "__"

func IsTransient(name string) bool {
	return strings.HasPrefix(name, TransientPrefix)
}

// CanonicalColumnName trims, lowercases and replaces inner whitespace runs with "_".
func CanonicalColumnName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	inSpace := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
