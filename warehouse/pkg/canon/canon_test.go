package canon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

func TestCityLake_Canon_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, ""},
		{"trim and upper", "  dept of transportation ", "DEPT OF TRANSPORTATION"},
		{"integer", int64(84), "84"},
		{"float", 65.5, "65.5"},
		{"date", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "2024-06-01"},
		{"fullwidth folds", "ＤＯＴ", "DOT"},
		{"unicode", "queens café", "QUEENS CAFÉ"},
		{"dotted capital i", "İDOT", "IDOT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestCityLake_Canon_TextIgnoresFold(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"İDOT", " Straße ", "ΣΊΣΥΦΟΣ", "ǅemal", "ＤＯＴ", "Kelvin \u212a", "queens café"} {
		require.Equal(t, Text(in), Text(Fold(in)), "input %q", in)
	}
}

func TestCityLake_Canon_Join(t *testing.T) {
	t.Parallel()

	require.Equal(t, "DOT|DEPT OF TRANSPORTATION", Join(" dot", "Dept of Transportation "))
	require.Equal(t, "21|", Join("21", nil))
}

func TestCityLake_Canon_Canonicalize(t *testing.T) {
	t.Parallel()

	in := table.FromRecords([]map[string]any{
		{"agency": " dot ", "agency_name": "Dept of Transportation"},
		{"agency": nil, "agency_name": "nypd"},
	})

	out := Canonicalize(in, "agency", "missing")

	require.Equal(t, "DOT", out.Value(0, "agency"))
	require.Equal(t, "", out.Value(1, "agency"))
	require.Equal(t, "Dept of Transportation", out.Value(0, "agency_name"), "untouched column")
	require.False(t, out.Has("missing"))

	// The input is not modified.
	require.Equal(t, " dot ", in.Value(0, "agency"))
	require.Nil(t, in.Value(1, "agency"))
}

func TestCityLake_Canon_JoinKey(t *testing.T) {
	t.Parallel()

	tbl := table.FromRecords([]map[string]any{
		{"agency": "Dot", "agency_name": "Dept Of Transportation"},
	})
	require.Equal(t, "DOT|DEPT OF TRANSPORTATION", JoinKey(tbl, 0, []string{"agency", "agency_name"}))
}
