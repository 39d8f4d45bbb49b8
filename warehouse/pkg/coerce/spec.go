package coerce

import (
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// ErrConfig marks configuration errors. They are fatal to a run.
var ErrConfig = errors.New("configuration error")

type ConfigError struct {
	Table  string
	Column string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("configuration error in %s.%s: %s", e.Table, e.Column, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// DType is the declared source type of a column.
type DType string

const (
	DTypeString  DType = "string"
	DTypeNumeric DType = "numeric"
	DTypeDate    DType = "date"
	DTypeFloat   DType = "float"
)

func ParseDType(s string) (DType, error) {
	d := DType(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown dtype %q", ErrConfig, s)
	}
	return d, nil
}

func (d DType) Valid() bool {
	switch d {
	case DTypeString, DTypeNumeric, DTypeDate, DTypeFloat:
		return true
	}
	return false
}

// LogicalType is the type a column of this dtype has after coercion.
func (d DType) LogicalType() table.LogicalType {
	switch d {
	case DTypeNumeric:
		return table.NullableInteger
	case DTypeFloat:
		return table.Float
	case DTypeDate:
		return table.DateTime
	default:
		return table.String
	}
}

// ColumnSpec declares the expected shape of one column.
type ColumnSpec struct {
	Name  string
	DType DType
}

func String(name string) ColumnSpec  { return ColumnSpec{Name: name, DType: DTypeString} }
func Numeric(name string) ColumnSpec { return ColumnSpec{Name: name, DType: DTypeNumeric} }
func Float(name string) ColumnSpec   { return ColumnSpec{Name: name, DType: DTypeFloat} }
func Date(name string) ColumnSpec    { return ColumnSpec{Name: name, DType: DTypeDate} }

// DateKeyColumn names the YYYYMMDD column derived from a date column.
func DateKeyColumn(name string) string {
	return name + "_key"
}

// Validate checks names and dtypes. Date columns are rejected unless allowDate is set.
func Validate(tableName string, specs []ColumnSpec, allowDate bool) error {
	if len(specs) == 0 {
		return &ConfigError{Table: tableName, Reason: "no columns declared"}
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return &ConfigError{Table: tableName, Reason: "column name is required"}
		}
		if s.Name != table.CanonicalColumnName(s.Name) {
			return &ConfigError{Table: tableName, Column: s.Name, Reason: "column name is not canonical"}
		}
		if seen[s.Name] {
			return &ConfigError{Table: tableName, Column: s.Name, Reason: "declared twice"}
		}
		seen[s.Name] = true
		if !s.DType.Valid() {
			return &ConfigError{Table: tableName, Column: s.Name, Reason: fmt.Sprintf("unknown dtype %q", s.DType)}
		}
		if s.DType == DTypeDate && !allowDate {
			return &ConfigError{Table: tableName, Column: s.Name, Reason: "date dtype is not allowed here"}
		}
	}
	return nil
}

// Names returns the declared column names in order.
func Names(specs []ColumnSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}
