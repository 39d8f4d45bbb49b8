package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	citylaketesting "github.com/malbeclabs/citylake/utils/pkg/testing"
	"github.com/malbeclabs/citylake/warehouse/pkg/quality"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

type fakeDim struct {
	rows *table.Table
	key  string
}

func (d fakeDim) Rows() *table.Table { return d.rows }
func (d fakeDim) KeyColumn() string  { return d.key }

func agencyDim(t *testing.T) fakeDim {
	rows, err := table.New(table.MustSchema(
		table.Column{Name: "agency_key", Type: table.NullableInteger},
		table.Column{Name: "agency", Type: table.String},
		table.Column{Name: "agency_name", Type: table.String},
	), [][]any{
		{int64(111), "dot", "dept of transportation"},
		{int64(222), "nypd", "new york city police department"},
	})
	require.NoError(t, err)
	return fakeDim{rows: rows, key: "agency_key"}
}

func factTable() *table.Table {
	return table.FromRecords([]map[string]any{
		{"unique_key": "1", "agency": "Dot", "agency_name": "Dept Of Transportation"},
		{"unique_key": "2", "agency": "DSNY", "agency_name": "Sanitation"},
		{"unique_key": "3", "agency": " nypd", "agency_name": "New York City Police Department "},
		{"unique_key": "4", "agency": "dot", "agency_name": "DEPT OF TRANSPORTATION"},
	})
}

var agencyFields = []string{"agency", "agency_name"}

func TestCityLake_Resolve_LeftJoinPreservesRows(t *testing.T) {
	t.Parallel()

	fact := factTable()
	out, outcome, err := Resolve(citylaketesting.NewLogger(), fact, agencyDim(t), agencyFields, "agency_key")
	require.NoError(t, err)

	require.Equal(t, fact.Len(), out.Len())
	require.Equal(t, []string{"unique_key", "agency_key"}, out.Schema().Names())
	for i := range fact.Len() {
		require.Equal(t, fact.Value(i, "unique_key"), out.Value(i, "unique_key"), "row order")
	}
	require.Equal(t, int64(111), out.Value(0, "agency_key"))
	require.Nil(t, out.Value(1, "agency_key"))
	require.Equal(t, int64(222), out.Value(2, "agency_key"))
	require.Equal(t, int64(111), out.Value(3, "agency_key"))
	require.Equal(t, Outcome{Matched: 3, Unmatched: 1}, outcome)

	// The input is untouched.
	require.True(t, fact.Has("agency"))
	require.False(t, fact.Has("agency_key"))
}

func TestCityLake_Resolve_EmptyDimension(t *testing.T) {
	t.Parallel()

	fact := factTable()
	empty := fakeDim{rows: table.Empty(agencyDim(t).rows.Schema()), key: "agency_key"}

	out, outcome, err := Resolve(citylaketesting.NewLogger(), fact, empty, agencyFields, "agency_key")
	require.NoError(t, err)
	require.NotNil(t, outcome.Skipped)
	require.Equal(t, quality.KindEmptyDimension, outcome.Skipped.Kind)

	require.Equal(t, append(fact.Schema().Names(), "agency_key"), out.Schema().Names())
	for i := range fact.Len() {
		require.Equal(t, fact.Row(i), out.Row(i)[:fact.Schema().Len()])
		require.Nil(t, out.Value(i, "agency_key"))
	}
}

func TestCityLake_Resolve_NilDimension(t *testing.T) {
	t.Parallel()

	out, outcome, err := Resolve(citylaketesting.NewLogger(), factTable(), nil, agencyFields, "agency_key")
	require.NoError(t, err)
	require.NotNil(t, outcome.Skipped)
	require.True(t, out.Has("agency_key"))
}

func TestCityLake_Resolve_MissingField(t *testing.T) {
	t.Parallel()

	t.Run("fact side", func(t *testing.T) {
		t.Parallel()
		fact := factTable().Drop("agency_name")
		out, outcome, err := Resolve(citylaketesting.NewLogger(), fact, agencyDim(t), agencyFields, "agency_key")
		require.NoError(t, err)
		require.NotNil(t, outcome.Skipped)
		require.Equal(t, quality.KindMissingKeyField, outcome.Skipped.Kind)
		require.Equal(t, []string{"agency_name"}, outcome.Skipped.Columns)
		for i := range out.Len() {
			require.Nil(t, out.Value(i, "agency_key"))
		}
	})

	t.Run("dimension side", func(t *testing.T) {
		t.Parallel()
		dim := agencyDim(t)
		dim.rows = dim.rows.Drop("agency_name")
		_, outcome, err := Resolve(citylaketesting.NewLogger(), factTable(), dim, agencyFields, "agency_key")
		require.NoError(t, err)
		require.NotNil(t, outcome.Skipped)
	})
}

func TestCityLake_Resolve_Keys(t *testing.T) {
	t.Parallel()

	keys, outcome := Keys(factTable(), agencyDim(t), agencyFields, "agency_key")
	require.Equal(t, []any{int64(111), nil, int64(222), int64(111)}, keys)
	require.Nil(t, outcome.Skipped)
}

func TestCityLake_Resolve_NullKeyIsUnmatched(t *testing.T) {
	t.Parallel()

	rows, err := table.New(table.MustSchema(
		table.Column{Name: "vehicle_key", Type: table.NullableInteger},
		table.Column{Name: "plate", Type: table.String},
	), [][]any{{nil, "abc123"}})
	require.NoError(t, err)

	fact := table.FromRecords([]map[string]any{{"plate": "ABC123"}})
	keys, outcome := Keys(fact, fakeDim{rows: rows, key: "vehicle_key"}, []string{"plate"}, "vehicle_key")
	require.Equal(t, []any{nil}, keys)
	require.Equal(t, 1, outcome.Unmatched)
}
