package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/citylake/warehouse/pkg/metrics"
	"github.com/malbeclabs/citylake/warehouse/pkg/sink"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// Sink appends finalized tables with COPY. Target.Database names the schema; empty uses the
// connection's search_path.
type Sink struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewSink(log *slog.Logger, pool *pgxpool.Pool) (*Sink, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Sink{log: log, pool: pool}, nil
}

func (s *Sink) Insert(ctx context.Context, target sink.Target, t *table.Table) (err error) {
	if t.IsEmpty() {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.SinkInsertDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SinkInsertsTotal.WithLabelValues("postgres", status).Inc()
	}()

	ident := pgx.Identifier{target.Table}
	if target.Database != "" {
		ident = pgx.Identifier{target.Database, target.Table}
	}

	n, err := s.pool.CopyFrom(ctx, ident, t.Schema().Names(), pgx.CopyFromSlice(t.Len(), func(i int) ([]any, error) {
		return t.Row(i), nil
	}))
	if err != nil {
		return fmt.Errorf("failed to copy into %s: %w", target, err)
	}
	if int(n) != t.Len() {
		return fmt.Errorf("copied %d of %d rows into %s", n, t.Len(), target)
	}

	s.log.Debug("postgres: inserted table", "table", target.String(), "rows", n, "duration", time.Since(start))
	return nil
}
