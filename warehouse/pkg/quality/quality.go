// Package quality describes data-quality conditions: problems in source data that are recovered
// locally with a degraded output and never returned as errors.
package quality

import "fmt"

type Kind string

const (
	// KindMissingColumn: a declared column is absent from the source.
	KindMissingColumn Kind = "missing_column"
	// KindEmptySource: the source, or its projection, has no rows to load.
	KindEmptySource Kind = "empty_source"
	// KindUnparseable: non-empty values were coerced to null.
	KindUnparseable Kind = "unparseable_value"
	// KindNarrowedKey: some natural-key fields are absent so the key uses the rest.
	KindNarrowedKey Kind = "narrowed_key"
	// KindNullKey: every natural-key field is absent so surrogate keys are null.
	KindNullKey Kind = "null_key"
	// KindBlankKey: rows whose natural-key fields are all null or blank were dropped.
	KindBlankKey Kind = "blank_key"
	// KindDuplicateNaturalKey: rows differing outside the natural key were collapsed.
	KindDuplicateNaturalKey Kind = "duplicate_natural_key"
	// KindEmptyDimension: foreign keys were nulled because the dimension has no rows.
	KindEmptyDimension Kind = "empty_dimension"
	// KindMissingKeyField: foreign keys were nulled because a natural-key field is absent.
	KindMissingKeyField Kind = "missing_key_field"
)

type Condition struct {
	Kind    Kind
	Table   string
	Columns []string
	Count   int
}

func (c Condition) String() string {
	return fmt.Sprintf("%s on %s %v (%d)", c.Kind, c.Table, c.Columns, c.Count)
}
