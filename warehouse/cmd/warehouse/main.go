package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/citylake/utils/pkg/logger"
	"github.com/malbeclabs/citylake/utils/pkg/retry"
	"github.com/malbeclabs/citylake/warehouse/pkg/archive"
	"github.com/malbeclabs/citylake/warehouse/pkg/catalog"
	"github.com/malbeclabs/citylake/warehouse/pkg/loader"
	"github.com/malbeclabs/citylake/warehouse/pkg/metrics"
	"github.com/malbeclabs/citylake/warehouse/pkg/pipeline"
	"github.com/malbeclabs/citylake/warehouse/pkg/server"
	"github.com/malbeclabs/citylake/warehouse/pkg/socrata"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: text or json")

	// Sinks
	sinkFlag := flag.String("sink", sinkClickHouse, "where to load tables: clickhouse, postgres, both or memory")
	dryRunFlag := flag.Bool("dry-run", false, "Fetch and build every table without loading it (same as --sink=memory)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Postgres configuration
	postgresURLFlag := flag.String("postgres-url", "", "Postgres connection URL (or set POSTGRES_URL env var)")

	// Source configuration
	socrataBaseURLFlag := flag.String("socrata-base-url", socrata.DefaultBaseURL, "Open-data API base URL")
	socrataAppTokenFlag := flag.String("socrata-app-token", "", "Open-data API app token (or set NYC_API_TOKEN env var)")
	pageSizeFlag := flag.Int("page-size", socrata.DefaultPageSize, "Rows requested per page")
	maxRowsFlag := flag.Int("max-rows", 0, "Maximum rows fetched per dataset and window (0 = no limit)")
	requestsPerSecondFlag := flag.Float64("requests-per-second", 5, "Open-data API request rate limit")
	concurrencyFlag := flag.Int("concurrency", 4, "Maximum concurrent dataset fetches and dimension builds")

	// Raw archive
	s3BucketFlag := flag.String("s3-bucket", "", "Archive raw source rows to this S3 bucket (or set S3_BUCKET env var)")
	s3PrefixFlag := flag.String("s3-prefix", "raw", "Key prefix for archived rows")
	s3RegionFlag := flag.String("s3-region", "", "S3 region (or set AWS_REGION env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3-compatible endpoint URL, e.g. MinIO (or set S3_ENDPOINT env var)")

	// Commands
	startFlag := flag.String("start", "", "Window start date (YYYY-MM-DD, default yesterday)")
	endFlag := flag.String("end", "", "Window end date, exclusive (YYYY-MM-DD, default start + 1 day)")
	backfillStartFlag := flag.String("backfill-start", "", "Load every month from this date (YYYY-MM-DD) to --backfill-end")
	backfillEndFlag := flag.String("backfill-end", "", "Backfill end date, exclusive (YYYY-MM-DD, default today)")
	loadCalendarFlag := flag.Bool("load-calendar", false, "Load the dim_date and dim_time tables")
	calendarStartFlag := flag.String("calendar-start", defaultCalendarStart, "First day of dim_date (YYYY-MM-DD)")
	calendarEndFlag := flag.String("calendar-end", "", "Last day of dim_date (YYYY-MM-DD, default one year from today)")
	pushgatewayURLFlag := flag.String("pushgateway-url", "", "Push run metrics to this Prometheus Pushgateway (or set PUSHGATEWAY_URL env var)")

	// Serve mode
	serveFlag := flag.Bool("serve", false, "Run continuously, loading each completed day")
	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address for health and metrics in serve mode")
	refreshIntervalFlag := flag.Duration("refresh-interval", time.Hour, "How often serve mode checks for completed days")
	loadedThroughFlag := flag.String("loaded-through", "", "Serve mode resumes after this date (YYYY-MM-DD, exclusive end of the last loaded day)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for the HTTP server to shut down")

	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, Format: logger.Format(*logFormatFlag)})

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
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
	if envAppToken := os.Getenv("NYC_API_TOKEN"); envAppToken != "" {
		*socrataAppTokenFlag = envAppToken
	}
	if envBucket := os.Getenv("S3_BUCKET"); envBucket != "" {
		*s3BucketFlag = envBucket
	}
	if envRegion := os.Getenv("AWS_REGION"); envRegion != "" && *s3RegionFlag == "" {
		*s3RegionFlag = envRegion
	}
	if envEndpoint := os.Getenv("S3_ENDPOINT"); envEndpoint != "" {
		*s3EndpointFlag = envEndpoint
	}
	if envPushgateway := os.Getenv("PUSHGATEWAY_URL"); envPushgateway != "" {
		*pushgatewayURLFlag = envPushgateway
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		env := os.Getenv("SENTRY_ENVIRONMENT")
		if env == "" {
			env = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      env,
			Release:          version,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	if *dryRunFlag {
		*sinkFlag = sinkMemory
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sk, closeSink, err := newSink(ctx, log, sinkConfig{
		Kind:               *sinkFlag,
		ClickHouseAddr:     *clickhouseAddrFlag,
		ClickHouseDatabase: *clickhouseDatabaseFlag,
		ClickHouseUsername: *clickhouseUsernameFlag,
		ClickHousePassword: *clickhousePasswordFlag,
		ClickHouseSecure:   *clickhouseSecureFlag,
		PostgresURL:        *postgresURLFlag,
	})
	if err != nil {
		return err
	}
	defer closeSink()

	var archiver archive.Archiver = archive.Nop{}
	if *s3BucketFlag != "" {
		s3Client, err := archive.NewS3Client(ctx, *s3RegionFlag, *s3EndpointFlag)
		if err != nil {
			return err
		}
		archiver, err = archive.NewS3Archiver(archive.S3Config{
			Logger: log,
			Client: s3Client,
			Bucket: *s3BucketFlag,
			Prefix: *s3PrefixFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create archiver: %w", err)
		}
	}

	fetcher, err := socrata.NewClient(socrata.Config{
		Logger:            log,
		BaseURL:           *socrataBaseURLFlag,
		AppToken:          *socrataAppTokenFlag,
		PageSize:          *pageSizeFlag,
		MaxRows:           *maxRowsFlag,
		RequestsPerSecond: *requestsPerSecondFlag,
		Retry:             retry.DefaultConfig(),
	})
	if err != nil {
		return fmt.Errorf("failed to create open-data client: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		Logger:      log,
		Fetcher:     fetcher,
		Sink:        sk,
		Archiver:    archiver,
		Catalog:     catalog.NYC(),
		Concurrency: *concurrencyFlag,
	})
	if err != nil {
		return err
	}

	if *serveFlag {
		loadedThrough, err := parseDay(*loadedThroughFlag)
		if err != nil {
			return fmt.Errorf("invalid --loaded-through: %w", err)
		}
		return serve(ctx, log, p, serveConfig{
			ListenAddr:      *listenAddrFlag,
			RefreshInterval: *refreshIntervalFlag,
			ShutdownTimeout: *shutdownTimeoutFlag,
			LoadedThrough:   loadedThrough,
		})
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	runErr := func() error {
		if *loadCalendarFlag {
			start, err := parseDay(*calendarStartFlag)
			if err != nil {
				return fmt.Errorf("invalid --calendar-start: %w", err)
			}
			end, err := parseDayOr(*calendarEndFlag, today.AddDate(1, 0, 0))
			if err != nil {
				return fmt.Errorf("invalid --calendar-end: %w", err)
			}
			res, err := p.LoadCalendar(ctx, start, end)
			if err != nil {
				return err
			}
			logResult(log, res)
			return nil
		}

		if *backfillStartFlag != "" {
			start, err := parseDay(*backfillStartFlag)
			if err != nil {
				return fmt.Errorf("invalid --backfill-start: %w", err)
			}
			end, err := parseDayOr(*backfillEndFlag, today)
			if err != nil {
				return fmt.Errorf("invalid --backfill-end: %w", err)
			}
			results, err := p.Backfill(ctx, start, end)
			for _, res := range results {
				logResult(log, res)
			}
			return err
		}

		w, err := windowFromFlags(*startFlag, *endFlag, today)
		if err != nil {
			return err
		}
		res, err := p.Run(ctx, w)
		if err != nil {
			return err
		}
		logResult(log, res)
		return nil
	}()

	if *pushgatewayURLFlag != "" {
		if err := metrics.Push(context.Background(), *pushgatewayURLFlag, ""); err != nil {
			log.Error("failed to push metrics", "error", err)
		}
	}
	return runErr
}

type serveConfig struct {
	ListenAddr      string
	RefreshInterval time.Duration
	ShutdownTimeout time.Duration
	LoadedThrough   time.Time
}

func serve(ctx context.Context, log *slog.Logger, p *pipeline.Pipeline, cfg serveConfig) error {
	l, err := loader.New(loader.Config{
		Logger:          log,
		Runner:          p,
		RefreshInterval: cfg.RefreshInterval,
		LoadedThrough:   cfg.LoadedThrough,
	})
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      cfg.ListenAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Ready:           l,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	l.Start(gctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}

func logResult(log *slog.Logger, res *pipeline.Result) {
	if res == nil {
		return
	}
	log.Info("run complete",
		"run_id", res.RunID,
		"window", res.Window.String(),
		"status", string(res.Status),
		"source_rows", res.SourceRows,
		"tables", len(res.Tables),
		"conditions", len(res.Conditions),
		"duration", res.Duration.String(),
	)
	for _, t := range res.Tables {
		log.Info("table loaded", "run_id", res.RunID, "table", t.Table, "rows", t.Rows)
	}
	for _, c := range res.Conditions {
		log.Debug("data quality condition", "run_id", res.RunID, "condition", c.String())
	}
}
