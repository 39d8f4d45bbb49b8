package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/citylake/warehouse/pkg/archive"
	"github.com/malbeclabs/citylake/warehouse/pkg/calendar"
	"github.com/malbeclabs/citylake/warehouse/pkg/catalog"
	"github.com/malbeclabs/citylake/warehouse/pkg/dimension"
	"github.com/malbeclabs/citylake/warehouse/pkg/fact"
	"github.com/malbeclabs/citylake/warehouse/pkg/metrics"
	"github.com/malbeclabs/citylake/warehouse/pkg/quality"
	"github.com/malbeclabs/citylake/warehouse/pkg/resolve"
	"github.com/malbeclabs/citylake/warehouse/pkg/sink"
	"github.com/malbeclabs/citylake/warehouse/pkg/socrata"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

const (
	RunIDColumn    = "run_id"
	LoadedAtColumn = "loaded_at"
)

type Status string

const (
	StatusLoaded      Status = "loaded"
	StatusNothingToDo Status = "nothing_to_do"
	StatusFailed      Status = "failed"
)

// TableResult is one table handed to the sink.
type TableResult struct {
	Table string
	Rows  int
}

// Result summarizes one run.
type Result struct {
	RunID      string
	Window     catalog.Window
	Status     Status
	LoadedAt   time.Time
	SourceRows map[string]int
	Tables     []TableResult
	Conditions []quality.Condition
	Outcomes   map[string]resolve.Outcome
	Duration   time.Duration
}

// Rows is the number of rows loaded into table, or zero when it was not loaded.
func (r *Result) Rows(name string) int {
	for _, t := range r.Tables {
		if t.Table == name {
			return t.Rows
		}
	}
	return 0
}

type Pipeline struct {
	log *slog.Logger
	cfg Config

	builder   *dimension.Builder
	assembler *fact.Assembler
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	builder, err := dimension.NewBuilder(cfg.Logger)
	if err != nil {
		return nil, err
	}
	assembler, err := fact.NewAssembler(cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		log:       cfg.Logger,
		cfg:       cfg,
		builder:   builder,
		assembler: assembler,
	}, nil
}

// Run loads every event of w: dimensions first, then facts referencing them.
func (p *Pipeline) Run(ctx context.Context, w catalog.Window) (*Result, error) {
	span := sentry.StartSpan(ctx, "warehouse.run", sentry.WithDescription(fmt.Sprintf("load %s", w)))
	span.SetData("window.start", w.Start.Format(time.RFC3339))
	span.SetData("window.end", w.End.Format(time.RFC3339))
	ctx = span.Context()
	defer span.Finish()

	start := p.cfg.Clock.Now()
	res, err := p.run(ctx, w)
	if res != nil {
		res.Duration = p.cfg.Clock.Since(start)
		metrics.RunDuration.Observe(res.Duration.Seconds())
		span.SetTag("run_id", res.RunID)
	}
	status := StatusFailed
	if err == nil {
		status = res.Status
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusInternalError
	}
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	return res, err
}

func (p *Pipeline) run(ctx context.Context, w catalog.Window) (*Result, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid window: %w", err)
	}
	res := &Result{
		RunID:      uuid.NewString(),
		Window:     w,
		LoadedAt:   p.cfg.Clock.Now().UTC().Truncate(time.Millisecond),
		SourceRows: make(map[string]int, len(p.cfg.Catalog.Streams)),
		Outcomes:   make(map[string]resolve.Outcome),
	}
	log := p.log.With("run_id", res.RunID, "window", w.String())
	log.Info("pipeline: run started")

	raw, err := p.fetchAll(ctx, w)
	if err != nil {
		res.Status = StatusFailed
		return res, err
	}
	total := 0
	for _, s := range p.cfg.Catalog.Streams {
		n := len(raw[s.Name])
		res.SourceRows[s.Name] = n
		total += n
	}
	if total == 0 {
		log.Info("pipeline: no source rows, nothing to do")
		res.Status = StatusNothingToDo
		return res, nil
	}

	for _, s := range p.cfg.Catalog.Streams {
		if err := p.cfg.Archiver.Archive(ctx, archive.Batch{Stream: s.Name, Day: w.Start, RunID: res.RunID, Records: raw[s.Name]}); err != nil {
			res.Status = StatusFailed
			return res, fmt.Errorf("failed to archive stream %s: %w", s.Name, err)
		}
	}

	prepared := make(map[string]*table.Table, len(raw))
	for _, s := range p.cfg.Catalog.Streams {
		if len(raw[s.Name]) == 0 {
			continue
		}
		prepared[s.Name] = s.Prepare(log, table.FromRecords(raw[s.Name]))
	}

	dims, err := p.buildDimensions(ctx, log, prepared)
	if err != nil {
		res.Status = StatusFailed
		return res, err
	}
	for _, ds := range p.cfg.Catalog.Dimensions {
		d, ok := dims[ds.Spec.Name]
		if !ok {
			continue
		}
		res.Conditions = append(res.Conditions, d.Conditions...)
		if d.Empty() {
			continue
		}
		spec := d.Spec()
		if err := p.insert(ctx, res, spec.TableName(), d.Rows()); err != nil {
			res.Status = StatusFailed
			return res, err
		}
	}

	for _, fs := range p.cfg.Catalog.Facts {
		src, ok := prepared[fs.Stream]
		if !ok {
			log.Info("pipeline: no source rows for fact", "fact", fs.Spec.Name, "stream", fs.Stream)
			continue
		}
		assembled, err := p.assembler.Assemble(src, fs.Spec, dims)
		if err != nil {
			res.Status = StatusFailed
			return res, fmt.Errorf("failed to assemble %s: %w", fs.Spec.Name, err)
		}
		res.Conditions = append(res.Conditions, assembled.Conditions...)
		for key, o := range assembled.Outcomes {
			res.Outcomes[key] = o
			metrics.ForeignKeysResolved.WithLabelValues(key, "matched").Add(float64(o.Matched))
			metrics.ForeignKeysResolved.WithLabelValues(key, "unmatched").Add(float64(o.Unmatched))
		}
		if assembled.Table.IsEmpty() {
			continue
		}
		if err := p.insert(ctx, res, fs.Spec.Name, assembled.Table); err != nil {
			res.Status = StatusFailed
			return res, err
		}
	}

	for _, c := range res.Conditions {
		metrics.DataQualityConditions.WithLabelValues(c.Table, string(c.Kind)).Inc()
	}
	res.Status = StatusLoaded
	log.Info("pipeline: run finished", "tables", len(res.Tables), "conditions", len(res.Conditions))
	return res, nil
}

// fetchAll reads every stream of w concurrently. A stream spanning several datasets is
// concatenated in dataset order.
func (p *Pipeline) fetchAll(ctx context.Context, w catalog.Window) (map[string][]map[string]any, error) {
	var streams []string
	var queries []socrata.Query
	for _, s := range p.cfg.Catalog.Streams {
		where := socrata.WindowWhere(s.WindowColumn, w.Start, w.End)
		for _, ds := range s.DatasetsFor(w) {
			streams = append(streams, s.Name)
			queries = append(queries, socrata.Query{Dataset: ds.ID, Where: where})
		}
	}

	pages := make([][]map[string]any, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, q := range queries {
		g.Go(func() error {
			rows, err := p.cfg.Fetcher.Fetch(gctx, q)
			if err != nil {
				return fmt.Errorf("failed to fetch %s for stream %s: %w", q.Dataset, streams[i], err)
			}
			p.log.Debug("pipeline: fetched dataset", "stream", streams[i], "dataset", q.Dataset, "rows", len(rows))
			pages[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]map[string]any, len(p.cfg.Catalog.Streams))
	for i, name := range streams {
		out[name] = append(out[name], pages[i]...)
	}
	return out, nil
}

// buildDimensions builds every dimension that has at least one non-empty source stream.
func (p *Pipeline) buildDimensions(ctx context.Context, log *slog.Logger, prepared map[string]*table.Table) (map[string]*dimension.Dimension, error) {
	var jobs []dimension.Job
	for _, ds := range p.cfg.Catalog.Dimensions {
		var sources []*table.Table
		for _, s := range ds.Streams {
			if t, ok := prepared[s]; ok {
				sources = append(sources, t)
			}
		}
		if len(sources) == 0 {
			log.Info("pipeline: no source rows for dimension", "dimension", ds.Spec.Name, "streams", ds.Streams)
			continue
		}
		src, err := table.Concat(sources...)
		if err != nil {
			return nil, fmt.Errorf("failed to combine sources of dimension %s: %w", ds.Spec.Name, err)
		}
		jobs = append(jobs, dimension.Job{Spec: ds.Spec, Source: src})
	}
	return p.builder.BuildAll(ctx, jobs, p.cfg.Concurrency)
}

func (p *Pipeline) insert(ctx context.Context, res *Result, name string, t *table.Table) error {
	stamped, err := Stamp(t, res.RunID, res.LoadedAt)
	if err != nil {
		return fmt.Errorf("failed to stamp %s: %w", name, err)
	}
	target := sink.Target{Database: p.cfg.Database, Table: name}
	if err := p.cfg.Sink.Insert(ctx, target, sink.Finalize(stamped)); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", target, err)
	}
	metrics.RowsLoaded.WithLabelValues(name).Add(float64(stamped.Len()))
	res.Tables = append(res.Tables, TableResult{Table: name, Rows: stamped.Len()})
	p.log.Info("pipeline: loaded table", "table", target.String(), "rows", stamped.Len())
	return nil
}

// Stamp appends the run_id and loaded_at columns every loaded table carries.
func Stamp(t *table.Table, runID string, loadedAt time.Time) (*table.Table, error) {
	out, err := t.WithConstant(table.Column{Name: RunIDColumn, Type: table.String}, runID)
	if err != nil {
		return nil, err
	}
	return out.WithConstant(table.Column{Name: LoadedAtColumn, Type: table.DateTime}, loadedAt)
}

// Backfill runs every month from start to end in order, stopping at the first failure.
func (p *Pipeline) Backfill(ctx context.Context, start, end time.Time) ([]*Result, error) {
	windows := MonthlyWindows(start, end)
	p.log.Info("pipeline: backfill started", "windows", len(windows), "start", start, "end", end)
	results := make([]*Result, 0, len(windows))
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.Run(ctx, w)
		if err != nil {
			return results, fmt.Errorf("failed to load %s: %w", w, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// LoadCalendar loads dim_date for every day from start to end inclusive, and dim_time.
func (p *Pipeline) LoadCalendar(ctx context.Context, start, end time.Time) (*Result, error) {
	dates, err := calendar.Dates(start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to build calendar: %w", err)
	}
	res := &Result{
		RunID:    uuid.NewString(),
		Window:   catalog.Window{Start: start, End: end},
		LoadedAt: p.cfg.Clock.Now().UTC().Truncate(time.Millisecond),
	}
	if err := p.insert(ctx, res, calendar.DateTable, dates); err != nil {
		return res, err
	}
	if err := p.insert(ctx, res, calendar.TimeTable, calendar.Times()); err != nil {
		return res, err
	}
	res.Status = StatusLoaded
	return res, nil
}
