package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/malbeclabs/citylake/warehouse/pkg/metrics"
	"github.com/malbeclabs/citylake/warehouse/pkg/sink"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// Sink appends finalized tables to ClickHouse. Each Insert is one batch.
type Sink struct {
	log    *slog.Logger
	client Client
}

func NewSink(log *slog.Logger, client Client) (*Sink, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Sink{log: log, client: client}, nil
}

func (s *Sink) Insert(ctx context.Context, target sink.Target, t *table.Table) (err error) {
	if t.IsEmpty() {
		return nil
	}
	if target.Database == "" {
		target.Database = s.client.Database()
	}

	start := time.Now()
	defer func() {
		metrics.SinkInsertDuration.WithLabelValues("clickhouse").Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SinkInsertsTotal.WithLabelValues("clickhouse", status).Inc()
	}()

	conn, err := s.client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	names := t.Schema().Names()
	if err := WriteBatch(ContextWithSyncInsert(ctx), conn, InsertQuery(target, names), t.Len(), t.Row); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", target, err)
	}

	s.log.Debug("clickhouse: inserted table", "table", target.String(), "rows", t.Len(), "columns", len(names), "duration", time.Since(start))
	return nil
}

// InsertQuery is an INSERT with an explicit column list, so column order in the table does not
// need to match the DDL.
func InsertQuery(target sink.Target, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s)", quoteTarget(target), strings.Join(quoted, ", "))
}

// WriteBatch appends count rows produced by rowFn in one batch.
func WriteBatch(ctx context.Context, conn Connection, query string, count int, rowFn func(int) []any) error {
	if count == 0 {
		return nil
	}

	batch, err := conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close() // Always release the connection back to the pool

	for i := range count {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during batch insert: %w", ctx.Err())
		default:
		}

		if err := batch.Append(rowFn(i)...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func quoteTarget(target sink.Target) string {
	if target.Database == "" {
		return quoteIdent(target.Table)
	}
	return quoteIdent(target.Database) + "." + quoteIdent(target.Table)
}
