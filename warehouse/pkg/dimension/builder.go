package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/citylake/warehouse/pkg/canon"
	"github.com/malbeclabs/citylake/warehouse/pkg/coerce"
	"github.com/malbeclabs/citylake/warehouse/pkg/quality"
	"github.com/malbeclabs/citylake/warehouse/pkg/surrogate"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// Dimension is a built dimension: unique natural-key rows with the surrogate key column first.
type Dimension struct {
	spec         Spec
	rows         *table.Table
	effectiveKey []string

	Conditions []quality.Condition
}

func (d *Dimension) Name() string           { return d.spec.Name }
func (d *Dimension) Spec() Spec             { return d.spec }
func (d *Dimension) Rows() *table.Table     { return d.rows }
func (d *Dimension) KeyColumn() string      { return d.spec.KeyName }
func (d *Dimension) Empty() bool            { return d.rows.IsEmpty() }
func (d *Dimension) EffectiveKey() []string { return slices.Clone(d.effectiveKey) }

type Builder struct {
	log *slog.Logger
}

func NewBuilder(log *slog.Logger) (*Builder, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Builder{log: log}, nil
}

// Build turns a raw source table into a dimension. Configuration errors are returned; every data
// problem is logged, recorded in Conditions and produces a degraded but valid dimension.
func (b *Builder) Build(raw *table.Table, spec Spec) (*Dimension, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	name := spec.TableName()
	d := &Dimension{spec: spec}

	res := coerce.Normalize(b.log, name, raw, spec.Columns)
	if len(res.Missing) > 0 {
		d.Conditions = append(d.Conditions, quality.Condition{Kind: quality.KindMissingColumn, Table: name, Columns: res.Missing})
	}
	for col, n := range res.Unparseable {
		d.Conditions = append(d.Conditions, quality.Condition{Kind: quality.KindUnparseable, Table: name, Columns: []string{col}, Count: n})
	}

	t := res.Table
	if t.IsEmpty() || t.Schema().Len() == 0 {
		b.log.Info("dimension: no rows to load", "dimension", spec.Name, "source_rows", raw.Len())
		d.Conditions = append(d.Conditions, quality.Condition{Kind: quality.KindEmptySource, Table: name})
		d.rows = emptyRows(spec)
		d.effectiveKey = slices.Clone(spec.NaturalKey)
		return d, nil
	}

	before := t.Len()
	t = dedupeExact(t)
	b.log.Debug("dimension: removed exact duplicates", "dimension", spec.Name, "before", before, "after", t.Len())

	for _, f := range spec.NaturalKey {
		if t.Has(f) {
			d.effectiveKey = append(d.effectiveKey, f)
		}
	}
	switch {
	case len(d.effectiveKey) == 0:
		b.log.Warn("dimension: natural key fields absent, surrogate keys will be null", "dimension", spec.Name, "natural_key", spec.NaturalKey)
		d.Conditions = append(d.Conditions, quality.Condition{Kind: quality.KindNullKey, Table: name, Columns: spec.NaturalKey, Count: t.Len()})
	case len(d.effectiveKey) < len(spec.NaturalKey):
		b.log.Warn("dimension: natural key narrowed to present fields", "dimension", spec.Name, "natural_key", spec.NaturalKey, "effective_key", d.effectiveKey)
		d.Conditions = append(d.Conditions, quality.Condition{Kind: quality.KindNarrowedKey, Table: name, Columns: d.effectiveKey})
	}

	if len(d.effectiveKey) > 0 {
		before := t.Len()
		t = dropBlankKeys(t, d.effectiveKey)
		if dropped := before - t.Len(); dropped > 0 {
			b.log.Warn("dimension: dropped rows with a blank natural key", "dimension", spec.Name, "dropped", dropped)
			d.Conditions = append(d.Conditions, quality.Condition{Kind: quality.KindBlankKey, Table: name, Columns: d.effectiveKey, Count: dropped})
		}

		before = t.Len()
		t = dedupeNaturalKey(t, d.effectiveKey)
		if dropped := before - t.Len(); dropped > 0 {
			b.log.Warn("dimension: collapsed rows sharing a natural key", "dimension", spec.Name, "dropped", dropped)
			d.Conditions = append(d.Conditions, quality.Condition{Kind: quality.KindDuplicateNaturalKey, Table: name, Columns: d.effectiveKey, Count: dropped})
		}
	}

	keys := make([]any, t.Len())
	if len(d.effectiveKey) > 0 {
		for i := range keys {
			switch spec.Mode {
			case KeyModeOrdinal:
				keys[i] = int64(i + 1)
			default:
				keys[i] = int64(surrogate.ForRow(t, i, d.effectiveKey))
			}
		}
	}

	t, err := t.WithColumn(table.Column{Name: spec.KeyName, Type: table.NullableInteger}, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to attach surrogate keys to %s: %w", name, err)
	}
	d.rows = t.MoveFirst(spec.KeyName)

	b.log.Debug("dimension: built", "dimension", spec.Name, "rows", d.rows.Len(), "mode", spec.Mode.String())
	return d, nil
}

func emptyRows(spec Spec) *table.Table {
	cols := make([]table.Column, 0, len(spec.Columns)+1)
	cols = append(cols, table.Column{Name: spec.KeyName, Type: table.NullableInteger})
	for _, c := range spec.Columns {
		cols = append(cols, table.Column{Name: c.Name, Type: c.DType.LogicalType()})
	}
	return table.Empty(table.MustSchema(cols...))
}

// dedupeExact keeps the first occurrence of every row, comparing all columns.
func dedupeExact(t *table.Table) *table.Table {
	buckets := make(map[uint64][]int, t.Len())
	keep := make([]int, 0, t.Len())
	ncols := t.Schema().Len()
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		fp := fingerprint(row)
		dup := false
		for _, j := range buckets[fp] {
			if rowsEqual(row, t.Row(j), ncols) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		buckets[fp] = append(buckets[fp], i)
		keep = append(keep, i)
	}
	if len(keep) == t.Len() {
		return t
	}
	return t.Select(keep)
}

// dropBlankKeys removes rows in which every natural-key field is null or blank. They come from
// sources that lack the dimension's columns and would otherwise collapse into one keyed row.
func dropBlankKeys(t *table.Table, fields []string) *table.Table {
	keep := make([]int, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		for _, f := range fields {
			if canon.Text(t.Value(i, f)) != "" {
				keep = append(keep, i)
				break
			}
		}
	}
	if len(keep) == t.Len() {
		return t
	}
	return t.Select(keep)
}

// dedupeNaturalKey keeps the first row for every canonical natural key.
func dedupeNaturalKey(t *table.Table, fields []string) *table.Table {
	seen := make(map[string]struct{}, t.Len())
	keep := make([]int, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		k := canon.JoinKey(t, i, fields)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keep = append(keep, i)
	}
	if len(keep) == t.Len() {
		return t
	}
	return t.Select(keep)
}

func rowsEqual(a, b []any, n int) bool {
	for k := 0; k < n; k++ {
		if !table.CellEqual(a[k], b[k]) {
			return false
		}
	}
	return true
}

// fingerprint hashes a row with a type tag per cell so that null, "" and 0 differ.
func fingerprint(row []any) uint64 {
	h := xxh3.New()
	var buf []byte
	for _, v := range row {
		buf = buf[:0]
		switch x := v.(type) {
		case nil:
			buf = append(buf, 'n')
		case string:
			buf = append(buf, 's')
			buf = append(buf, x...)
		case int64:
			buf = append(buf, 'i')
			buf = strconv.AppendInt(buf, x, 10)
		case float64:
			buf = append(buf, 'f')
			buf = strconv.AppendFloat(buf, x, 'g', -1, 64)
		case time.Time:
			buf = append(buf, 't')
			buf = strconv.AppendInt(buf, x.UnixNano(), 10)
		}
		buf = append(buf, 0x1f)
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

// Job pairs a dimension spec with its raw source.
type Job struct {
	Spec   Spec
	Source *table.Table
}

// BuildAll builds independent dimensions concurrently. Tables are immutable so every build reads
// its source without coordination; the result is the same as building them one by one.
func (b *Builder) BuildAll(ctx context.Context, jobs []Job, concurrency int) (map[string]*Dimension, error) {
	results := make([]*Dimension, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := b.Build(job.Source, job.Spec)
			if err != nil {
				return fmt.Errorf("failed to build dimension %s: %w", job.Spec.Name, err)
			}
			results[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*Dimension, len(results))
	for _, d := range results {
		if _, ok := out[d.Name()]; ok {
			return nil, &coerce.ConfigError{Table: d.spec.TableName(), Reason: "dimension declared twice"}
		}
		out[d.Name()] = d
	}
	return out, nil
}
