package resolve

import (
	"fmt"
	"log/slog"

	"github.com/malbeclabs/citylake/warehouse/pkg/canon"
	"github.com/malbeclabs/citylake/warehouse/pkg/quality"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// Dimension is the view of a built dimension the resolver needs.
type Dimension interface {
	Rows() *table.Table
	KeyColumn() string
}

// Outcome summarizes one resolution.
type Outcome struct {
	Matched   int
	Unmatched int
	// Skipped is set when resolution did not run and every key is null.
	Skipped *quality.Condition
}

// Keys computes the foreign-key column for fact against dim over fields: one value per fact row,
// in fact row order, null where no dimension row shares the canonical join key. When dim is nil
// or empty, or a field is missing from either side, every value is null and Outcome.Skipped says
// why.
func Keys(fact *table.Table, dim Dimension, fields []string, fkName string) ([]any, Outcome) {
	keys := make([]any, fact.Len())

	skip := func(kind quality.Kind, cols []string) ([]any, Outcome) {
		c := quality.Condition{Kind: kind, Table: fkName, Columns: cols, Count: fact.Len()}
		return keys, Outcome{Unmatched: fact.Len(), Skipped: &c}
	}

	if dim == nil || dim.Rows() == nil || dim.Rows().IsEmpty() {
		return skip(quality.KindEmptyDimension, nil)
	}
	if len(fields) == 0 {
		return skip(quality.KindMissingKeyField, nil)
	}
	rows := dim.Rows()
	var missing []string
	for _, f := range fields {
		if !rows.Has(f) || !fact.Has(f) {
			missing = append(missing, f)
		}
	}
	if !rows.Has(dim.KeyColumn()) {
		missing = append(missing, dim.KeyColumn())
	}
	if len(missing) > 0 {
		return skip(quality.KindMissingKeyField, missing)
	}

	// Dimension natural keys are unique, so the first row seen for a join key is the only one.
	index := make(map[string]any, rows.Len())
	for i := range rows.Len() {
		jk := canon.JoinKey(rows, i, fields)
		if _, ok := index[jk]; !ok {
			index[jk] = rows.Value(i, dim.KeyColumn())
		}
	}

	var out Outcome
	for i := range fact.Len() {
		if k, ok := index[canon.JoinKey(fact, i, fields)]; ok && k != nil {
			keys[i] = k
			out.Matched++
			continue
		}
		out.Unmatched++
	}
	return keys, out
}

// Resolve attaches the surrogate key of dim to every fact row as fkName and drops the natural-key
// fields from the result. Row count and order are preserved. Precondition failures are logged and
// produce an all-null fkName column; they are never errors.
func Resolve(log *slog.Logger, fact *table.Table, dim Dimension, fields []string, fkName string) (*table.Table, Outcome, error) {
	keys, out := Keys(fact, dim, fields, fkName)
	Log(log, fkName, fields, out)

	res, err := fact.WithColumn(table.Column{Name: fkName, Type: table.NullableInteger}, keys)
	if err != nil {
		return nil, out, fmt.Errorf("failed to attach %s: %w", fkName, err)
	}
	if out.Skipped == nil {
		res = res.Drop(fields...)
	}
	return res, out, nil
}

// Log reports an outcome the way Resolve does.
func Log(log *slog.Logger, fkName string, fields []string, out Outcome) {
	if out.Skipped != nil {
		log.Warn("resolve: skipped key assignment, foreign keys are null",
			"key", fkName, "reason", string(out.Skipped.Kind), "fields", fields, "missing", out.Skipped.Columns)
		return
	}
	log.Debug("resolve: assigned keys", "key", fkName, "matched", out.Matched, "unmatched", out.Unmatched)
}
