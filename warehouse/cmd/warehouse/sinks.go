package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/citylake/warehouse/pkg/clickhouse"
	"github.com/malbeclabs/citylake/warehouse/pkg/postgres"
	"github.com/malbeclabs/citylake/warehouse/pkg/sink"
)

const (
	sinkClickHouse = "clickhouse"
	sinkPostgres   = "postgres"
	sinkBoth       = "both"
	sinkMemory     = "memory"
)

type sinkConfig struct {
	Kind string

	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseSecure   bool

	PostgresURL string
}

// newSink opens the configured warehouse connections. The returned func closes them.
func newSink(ctx context.Context, log *slog.Logger, cfg sinkConfig) (sink.Sink, func(), error) {
	var sinks sink.Multi
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Kind {
	case sinkMemory:
		log.Info("dry run: tables are built but not loaded")
		return sink.NewMemory(), func() {}, nil
	case sinkClickHouse, sinkPostgres, sinkBoth:
	default:
		return nil, nil, fmt.Errorf("unknown sink %q", cfg.Kind)
	}

	if cfg.Kind == sinkClickHouse || cfg.Kind == sinkBoth {
		if cfg.ClickHouseAddr == "" {
			return nil, nil, fmt.Errorf("--clickhouse-addr is required for --sink=%s", cfg.Kind)
		}
		client, err := clickhouse.NewClient(ctx, clickhouse.Config{
			Logger:   log,
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Secure:   cfg.ClickHouseSecure,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close clickhouse client", "error", err)
			}
		})
		s, err := clickhouse.NewSink(log, client)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}

	if cfg.Kind == sinkPostgres || cfg.Kind == sinkBoth {
		if cfg.PostgresURL == "" {
			closeAll()
			return nil, nil, fmt.Errorf("--postgres-url is required for --sink=%s", cfg.Kind)
		}
		pool, err := postgres.NewPool(ctx, postgres.Config{Logger: log, URL: cfg.PostgresURL})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		s, err := postgres.NewSink(log, pool)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	return sinks, closeAll, nil
}
