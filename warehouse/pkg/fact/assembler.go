package fact

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/malbeclabs/citylake/warehouse/pkg/coerce"
	"github.com/malbeclabs/citylake/warehouse/pkg/dimension"
	"github.com/malbeclabs/citylake/warehouse/pkg/quality"
	"github.com/malbeclabs/citylake/warehouse/pkg/resolve"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// ForeignKey declares one dimension reference: the natural-key fields on the fact side, in the
// dimension's natural-key order, and the foreign-key column to produce.
type ForeignKey struct {
	Fields  []string
	KeyName string
}

// Dimension is the name of the referenced dimension.
func (fk ForeignKey) Dimension() string {
	return DimensionName(fk.KeyName)
}

// DimensionName strips the _key suffix: "Agency_Key" references dimension "agency".
func DimensionName(keyName string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(keyName)), "_key")
}

type Spec struct {
	// Name is the destination table, e.g. fact_311_complaints.
	Name        string
	Columns     []coerce.ColumnSpec
	ForeignKeys []ForeignKey
}

func (s *Spec) Validate() error {
	if s.Name == "" {
		return &coerce.ConfigError{Table: "fact", Reason: "name is required"}
	}
	if err := coerce.Validate(s.Name, s.Columns, true); err != nil {
		return err
	}
	declared := coerce.Names(s.Columns)
	seen := make(map[string]bool, len(s.ForeignKeys))
	for _, fk := range s.ForeignKeys {
		key := strings.ToLower(fk.KeyName)
		if fk.KeyName == "" || DimensionName(key) == key {
			return &coerce.ConfigError{Table: s.Name, Column: fk.KeyName, Reason: "foreign key name must end in _key"}
		}
		if len(fk.Fields) == 0 {
			return &coerce.ConfigError{Table: s.Name, Column: fk.KeyName, Reason: "natural key is required"}
		}
		if seen[key] {
			return &coerce.ConfigError{Table: s.Name, Column: fk.KeyName, Reason: "declared twice"}
		}
		seen[key] = true
		if slices.Contains(declared, key) {
			return &coerce.ConfigError{Table: s.Name, Column: fk.KeyName, Reason: "foreign key collides with a declared column"}
		}
	}
	return nil
}

// Result is an assembled fact table.
type Result struct {
	Table      *table.Table
	Outcomes   map[string]resolve.Outcome
	Conditions []quality.Condition
}

type Assembler struct {
	log *slog.Logger
}

func NewAssembler(log *slog.Logger) (*Assembler, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Assembler{log: log}, nil
}

// Assemble normalizes raw against spec and resolves every foreign key against dims, keyed by
// dimension name. A dimension missing from dims resolves like an empty one.
//
// Every resolution reads the natural-key columns as they were before any resolution ran. The
// natural-key columns of every foreign key that resolved are dropped from the result, declared
// or not, together with any transient columns; they stay on the dimension. A declared column
// whose only foreign keys were skipped is kept.
func (a *Assembler) Assemble(raw *table.Table, spec Spec, dims map[string]*dimension.Dimension) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	declared := coerce.Names(spec.Columns)

	var extra []string
	for _, fk := range spec.ForeignKeys {
		for _, f := range fk.Fields {
			if !slices.Contains(declared, f) && !slices.Contains(extra, f) {
				extra = append(extra, f)
			}
		}
	}

	res := coerce.Normalize(a.log, spec.Name, raw, spec.Columns, extra...)
	result := &Result{Outcomes: make(map[string]resolve.Outcome, len(spec.ForeignKeys))}
	if len(res.Missing) > 0 {
		result.Conditions = append(result.Conditions, quality.Condition{Kind: quality.KindMissingColumn, Table: spec.Name, Columns: res.Missing})
	}
	for col, n := range res.Unparseable {
		result.Conditions = append(result.Conditions, quality.Condition{Kind: quality.KindUnparseable, Table: spec.Name, Columns: []string{col}, Count: n})
	}

	base := alignKeyTypes(res.Table, spec, dims, declared)

	out := base
	drop := slices.Clone(extra)
	for _, fk := range spec.ForeignKeys {
		var dim resolve.Dimension
		fields := fk.Fields
		if d, ok := dims[fk.Dimension()]; ok && d != nil {
			dim = d
			fields = effectiveFields(fk.Fields, d)
		}
		keys, outcome := resolve.Keys(base, dim, fields, fk.KeyName)
		resolve.Log(a.log, fk.KeyName, fields, outcome)
		result.Outcomes[fk.KeyName] = outcome
		if outcome.Skipped != nil {
			result.Conditions = append(result.Conditions, *outcome.Skipped)
		} else {
			drop = append(drop, fk.Fields...)
		}

		next, err := out.WithColumn(table.Column{Name: fk.KeyName, Type: table.NullableInteger}, keys)
		if err != nil {
			return nil, fmt.Errorf("failed to attach %s to %s: %w", fk.KeyName, spec.Name, err)
		}
		out = next
	}

	result.Table = out.Drop(drop...).DropTransient()
	a.log.Debug("fact: assembled", "table", spec.Name, "rows", result.Table.Len(), "columns", result.Table.Schema().Len())
	return result, nil
}

// effectiveFields narrows fk fields to the dimension's effective key when the dimension was built
// without some of its natural-key columns.
func effectiveFields(fields []string, d *dimension.Dimension) []string {
	eff := d.EffectiveKey()
	if len(eff) == len(d.Spec().NaturalKey) {
		return fields
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if slices.Contains(eff, f) {
			out = append(out, f)
		}
	}
	return out
}

// alignKeyTypes coerces undeclared natural-key fields that are integers in the referenced
// dimension, so "084" on the fact side joins 84 in the dimension.
func alignKeyTypes(t *table.Table, spec Spec, dims map[string]*dimension.Dimension, declared []string) *table.Table {
	var specs []coerce.ColumnSpec
	for _, fk := range spec.ForeignKeys {
		d, ok := dims[fk.Dimension()]
		if !ok || d == nil {
			continue
		}
		for _, f := range fk.Fields {
			if slices.Contains(declared, f) {
				continue
			}
			col, ok := d.Rows().Schema().Column(f)
			if !ok || !col.Type.IsInteger() {
				continue
			}
			if !slices.ContainsFunc(specs, func(s coerce.ColumnSpec) bool { return s.Name == f }) {
				specs = append(specs, coerce.Numeric(f))
			}
		}
	}
	if len(specs) == 0 {
		return t
	}
	out, _ := coerce.Apply(t, specs)
	return out
}
