package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/citylake/admin/internal/admin"
	"github.com/malbeclabs/citylake/utils/pkg/logger"
	"github.com/malbeclabs/citylake/warehouse/pkg/clickhouse"
	"github.com/malbeclabs/citylake/warehouse/pkg/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Postgres configuration
	postgresURLFlag := flag.String("postgres-url", "", "Postgres connection URL (or set POSTGRES_URL env var)")

	// Commands
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Create the star schema in ClickHouse using goose")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse migration status")
	postgresMigrateFlag := flag.Bool("postgres-migrate", false, "Create the star schema in Postgres using goose")
	postgresMigrateStatusFlag := flag.Bool("postgres-migrate-status", false, "Show Postgres migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Drop all ClickHouse star-schema tables (dim_*, fact_*) and views")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "error", err)
	}

	// Override flags with environment variables if set
	if envClickhouseAddr := os.Getenv("CLICKHOUSE_ADDR_TCP"); envClickhouseAddr != "" {
		*clickhouseAddrFlag = envClickhouseAddr
	}
	if envClickhouseDatabase := os.Getenv("CLICKHOUSE_DATABASE"); envClickhouseDatabase != "" {
		*clickhouseDatabaseFlag = envClickhouseDatabase
	}
	if envClickhouseUsername := os.Getenv("CLICKHOUSE_USERNAME"); envClickhouseUsername != "" {
		*clickhouseUsernameFlag = envClickhouseUsername
	}
	if envClickhousePassword := os.Getenv("CLICKHOUSE_PASSWORD"); envClickhousePassword != "" {
		*clickhousePasswordFlag = envClickhousePassword
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if envPostgresURL := os.Getenv("POSTGRES_URL"); envPostgresURL != "" {
		*postgresURLFlag = envPostgresURL
	}

	ctx := context.Background()
	chConfig := clickhouse.Config{
		Logger:   log,
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}
	pgConfig := postgres.Config{Logger: log, URL: *postgresURLFlag}

	// Execute commands
	if *clickhouseMigrateFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return clickhouse.Up(ctx, chConfig)
	}

	if *clickhouseMigrateStatusFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		_, err := clickhouse.MigrationStatus(ctx, chConfig)
		return err
	}

	if *postgresMigrateFlag {
		if *postgresURLFlag == "" {
			return fmt.Errorf("--postgres-url is required for --postgres-migrate")
		}
		return postgres.Up(ctx, pgConfig)
	}

	if *postgresMigrateStatusFlag {
		if *postgresURLFlag == "" {
			return fmt.Errorf("--postgres-url is required for --postgres-migrate-status")
		}
		_, err := postgres.MigrationStatus(ctx, pgConfig)
		return err
	}

	if *resetDBFlag {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --reset-db")
		}
		client, err := clickhouse.NewClient(ctx, chConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer client.Close()
		return admin.ResetDB(ctx, admin.ResetDBConfig{
			Logger:      log,
			Client:      client,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}

	flag.Usage()
	return nil
}
