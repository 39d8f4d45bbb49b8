package clickhouse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	citylaketesting "github.com/malbeclabs/citylake/utils/pkg/testing"
	"github.com/malbeclabs/citylake/warehouse/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/citylake/warehouse/pkg/clickhouse/testing"
	"github.com/malbeclabs/citylake/warehouse/pkg/sink"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

func agencyRows(t *testing.T, runID string, loadedAt time.Time, rows ...[]any) *table.Table {
	t.Helper()
	schema := table.MustSchema(
		table.Column{Name: "agency_key", Type: table.NullableInteger},
		table.Column{Name: "agency", Type: table.String},
		table.Column{Name: "agency_name", Type: table.String},
	)
	tbl, err := table.New(schema, rows)
	require.NoError(t, err)
	tbl, err = tbl.WithConstant(table.Column{Name: "run_id", Type: table.String}, runID)
	require.NoError(t, err)
	tbl, err = tbl.WithConstant(table.Column{Name: "loaded_at", Type: table.DateTime}, loadedAt)
	require.NoError(t, err)
	return tbl
}

func TestCityLake_ClickHouse_InsertQuery(t *testing.T) {
	t.Parallel()

	q := clickhouse.InsertQuery(sink.Target{Database: "nyc", Table: "dim_agency"}, []string{"agency_key", "agency"})
	require.Equal(t, "INSERT INTO `nyc`.`dim_agency` (`agency_key`, `agency`)", q)
}

func TestCityLake_ClickHouse_Sink_AppendsRows(t *testing.T) {
	t.Parallel()

	info := clickhousetesting.NewMigratedClient(t, sharedDB)
	s, err := clickhouse.NewSink(citylaketesting.NewLogger(), info.Client)
	require.NoError(t, err)

	loadedAt := time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)
	tbl := agencyRows(t, "run-1", loadedAt,
		[]any{int64(111), "dot", "dept of transportation"},
		[]any{nil, nil, "unknown"},
	)
	target := sink.Target{Table: "dim_agency"}

	require.NoError(t, s.Insert(t.Context(), target, tbl))
	require.NoError(t, s.Insert(t.Context(), target, tbl.Drop("agency_name")))

	conn := testConn(t, info.Client)
	rows, err := conn.Query(t.Context(), "SELECT count() FROM dim_agency")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var count uint64
	require.NoError(t, rows.Scan(&count))
	require.Equal(t, uint64(4), count, "inserts are appends")
}

func TestCityLake_ClickHouse_Sink_CurrentViewCollapsesRuns(t *testing.T) {
	t.Parallel()

	info := clickhousetesting.NewMigratedClient(t, sharedDB)
	s, err := clickhouse.NewSink(citylaketesting.NewLogger(), info.Client)
	require.NoError(t, err)

	target := sink.Target{Database: info.Database, Table: "dim_agency"}
	first := time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(t.Context(), target, agencyRows(t, "run-1", first, []any{int64(111), "dot", "dept of transportation"})))
	require.NoError(t, s.Insert(t.Context(), target, agencyRows(t, "run-2", first.Add(24*time.Hour), []any{int64(111), "dot", "dept of transportation"})))

	conn := testConn(t, info.Client)
	rows, err := conn.Query(t.Context(), "SELECT run_id FROM dim_agency_current WHERE agency_key = 111")
	require.NoError(t, err)
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var run string
		require.NoError(t, rows.Scan(&run))
		runs = append(runs, run)
	}
	require.Equal(t, []string{"run-2"}, runs)
}

func TestCityLake_ClickHouse_Sink_EmptyTableIsNoop(t *testing.T) {
	t.Parallel()

	info := clickhousetesting.NewMigratedClient(t, sharedDB)
	s, err := clickhouse.NewSink(citylaketesting.NewLogger(), info.Client)
	require.NoError(t, err)

	empty := table.Empty(table.MustSchema(table.Column{Name: "agency_key", Type: table.NullableInteger}))
	require.NoError(t, s.Insert(t.Context(), sink.Target{Table: "does_not_exist"}, empty))
}

func TestCityLake_ClickHouse_Sink_FailureIsSurfaced(t *testing.T) {
	t.Parallel()

	info := clickhousetesting.NewMigratedClient(t, sharedDB)
	s, err := clickhouse.NewSink(citylaketesting.NewLogger(), info.Client)
	require.NoError(t, err)

	tbl := table.FromRecords([]map[string]any{{"nope": "1"}})
	require.Error(t, s.Insert(t.Context(), sink.Target{Table: "dim_agency"}, tbl))
}
