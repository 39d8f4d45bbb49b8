package dimension

import (
	"fmt"
	"slices"

	"github.com/malbeclabs/citylake/warehouse/pkg/coerce"
)

// KeyMode selects how surrogate keys are assigned.
type KeyMode int

const (
	// KeyModeHash keys each row by the surrogate hash of its natural key, so the same value gets
	// the same key regardless of row order or source.
	KeyModeHash KeyMode = iota
	// KeyModeOrdinal numbers rows 1..n in first-occurrence order.
	KeyModeOrdinal
)

func (m KeyMode) String() string {
	switch m {
	case KeyModeHash:
		return "hash"
	case KeyModeOrdinal:
		return "ordinal"
	default:
		return fmt.Sprintf("KeyMode(%d)", int(m))
	}
}

// Spec declares one dimension.
type Spec struct {
	// Name is the dimension name referenced by fact foreign keys ("agency" for agency_key).
	Name    string
	Columns []coerce.ColumnSpec
	// NaturalKey lists the natural-key fields in the fixed order used for hashing.
	NaturalKey []string
	// KeyName defaults to Name + "_key".
	KeyName string
	Mode    KeyMode
}

func (s *Spec) Validate() error {
	if s.Name == "" {
		return &coerce.ConfigError{Table: "dimension", Reason: "name is required"}
	}
	if err := coerce.Validate(s.TableName(), s.Columns, false); err != nil {
		return err
	}
	if len(s.NaturalKey) == 0 {
		return &coerce.ConfigError{Table: s.TableName(), Reason: "natural key is required"}
	}
	declared := coerce.Names(s.Columns)
	for _, f := range s.NaturalKey {
		if !slices.Contains(declared, f) {
			return &coerce.ConfigError{Table: s.TableName(), Column: f, Reason: "natural key field is not a declared column"}
		}
	}
	if s.KeyName == "" {
		s.KeyName = s.Name + "_key"
	}
	if slices.Contains(declared, s.KeyName) {
		return &coerce.ConfigError{Table: s.TableName(), Column: s.KeyName, Reason: "key column collides with a declared column"}
	}
	if s.Mode != KeyModeHash && s.Mode != KeyModeOrdinal {
		return &coerce.ConfigError{Table: s.TableName(), Reason: fmt.Sprintf("unknown key mode %d", s.Mode)}
	}
	return nil
}

// TableName is the destination table, dim_<name>.
func (s *Spec) TableName() string {
	return "dim_" + s.Name
}
