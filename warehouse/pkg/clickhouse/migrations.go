package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/citylake/warehouse"
)

// Up applies the embedded baseline star schema. Schema evolution is out of scope: the migration
// set only ever provisions the tables the loader writes.
func Up(ctx context.Context, cfg Config) error {
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	cfg.Logger.Info("clickhouse: running migrations (up)", "database", cfg.Database)
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		cfg.Logger.Info("clickhouse: applied migration", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
	}
	cfg.Logger.Info("clickhouse: migrations completed", "applied", len(results))
	return nil
}

// MigrationStatus logs the state of every embedded migration and returns it.
func MigrationStatus(ctx context.Context, cfg Config) ([]*goose.MigrationStatus, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	for _, s := range statuses {
		cfg.Logger.Info("clickhouse: migration", "version", s.Source.Version, "path", s.Source.Path, "state", string(s.State), "applied_at", s.AppliedAt)
	}
	return statuses, nil
}

func newProvider(cfg Config) (*goose.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fsys, err := fs.Sub(warehouse.ClickHouseMigrationsFS, warehouse.ClickHouseMigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectClickHouse, newSQLDB(cfg), fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// newSQLDB creates a database/sql compatible connection for goose
func newSQLDB(cfg Config) *sql.DB {
	return clickhouse.OpenDB(cfg.options())
}
