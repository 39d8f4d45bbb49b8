package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "citylake_warehouse_build_info",
			Help: "Build information of the citylake warehouse loader",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylake_warehouse_runs_total",
			Help: "Total number of load runs",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citylake_warehouse_run_duration_seconds",
			Help:    "Duration of load runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		},
	)

	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylake_warehouse_rows_loaded_total",
			Help: "Total number of rows inserted per table",
		},
		[]string{"table"},
	)

	DataQualityConditions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylake_warehouse_data_quality_conditions_total",
			Help: "Total number of data-quality conditions observed while building tables",
		},
		[]string{"table", "kind"},
	)

	ForeignKeysResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylake_warehouse_foreign_keys_resolved_total",
			Help: "Total number of fact rows per foreign key, by whether a dimension row matched",
		},
		[]string{"key", "result"},
	)

	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylake_warehouse_fetch_requests_total",
			Help: "Total number of open-data API requests",
		},
		[]string{"dataset", "status"},
	)

	FetchRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citylake_warehouse_fetch_request_duration_seconds",
			Help:    "Duration of open-data API requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 0.05s to ~100s
		},
	)

	SinkInsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylake_warehouse_sink_inserts_total",
			Help: "Total number of table inserts per sink",
		},
		[]string{"sink", "status"},
	)

	SinkInsertDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citylake_warehouse_sink_insert_duration_seconds",
			Help:    "Duration of table inserts per sink",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 0.01s to ~164s
		},
		[]string{"sink"},
	)

	LoaderRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citylake_warehouse_loader_refresh_total",
			Help: "Total number of scheduled loader refreshes",
		},
		[]string{"status"},
	)

	LoaderRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citylake_warehouse_loader_refresh_duration_seconds",
			Help:    "Duration of scheduled loader refreshes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	LoaderLastLoadedDay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citylake_warehouse_loader_last_loaded_day_timestamp_seconds",
			Help: "Unix time of the end of the last day the loader completed",
		},
	)
)

// Push sends the default registry to a Pushgateway under job. One-shot runs call it before exit.
func Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = "citylake_warehouse"
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
