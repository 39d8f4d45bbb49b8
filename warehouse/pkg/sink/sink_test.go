package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

type failingSink struct{ err error }

func (s failingSink) Insert(context.Context, Target, *table.Table) error { return s.err }

func TestCityLake_Sink_TargetString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "nyc.dim_agency", Target{Database: "nyc", Table: "dim_agency"}.String())
	require.Equal(t, "dim_agency", Target{Table: "dim_agency"}.String())
}

func TestCityLake_Sink_FinalizeDropsTransient(t *testing.T) {
	t.Parallel()
	tbl := table.FromRecords([]map[string]any{{"agency_key": "1", "__join_key__": "DOT"}})
	require.Equal(t, []string{"agency_key"}, Finalize(tbl).Schema().Names())
}

func TestCityLake_Sink_Memory(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	target := Target{Database: "nyc", Table: "dim_agency"}
	tbl := table.FromRecords([]map[string]any{{"a": "1"}, {"a": "2"}})

	require.NoError(t, m.Insert(context.Background(), target, tbl))
	require.NoError(t, m.Insert(context.Background(), target, tbl))
	require.Equal(t, 4, m.Rows(target))
	require.Len(t, m.Tables(target), 2)
	require.Equal(t, []string{"nyc.dim_agency"}, m.Targets())

	require.Error(t, m.Insert(context.Background(), Target{}, tbl))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Insert(ctx, target, tbl), context.Canceled)
}

func TestCityLake_Sink_MultiStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	first, last := NewMemory(), NewMemory()
	target := Target{Table: "fact_311_complaints"}
	tbl := table.FromRecords([]map[string]any{{"a": "1"}})

	err := Multi{first, failingSink{err: boom}, last}.Insert(context.Background(), target, tbl)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, first.Rows(target))
	require.Equal(t, 0, last.Rows(target))
}
