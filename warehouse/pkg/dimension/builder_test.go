package dimension

import (
	"testing"

	"github.com/stretchr/testify/require"

	citylaketesting "github.com/malbeclabs/citylake/utils/pkg/testing"
	"github.com/malbeclabs/citylake/warehouse/pkg/coerce"
	"github.com/malbeclabs/citylake/warehouse/pkg/quality"
	"github.com/malbeclabs/citylake/warehouse/pkg/surrogate"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

func testBuilder(t *testing.T) *Builder {
	b, err := NewBuilder(citylaketesting.NewLogger())
	require.NoError(t, err)
	return b
}

func agencySpec() Spec {
	return Spec{
		Name:       "agency",
		Columns:    []coerce.ColumnSpec{coerce.String("agency"), coerce.String("agency_name")},
		NaturalKey: []string{"agency", "agency_name"},
	}
}

func violationSpec() Spec {
	return Spec{
		Name:       "violation",
		Columns:    []coerce.ColumnSpec{coerce.String("violation_code"), coerce.String("violation_description")},
		NaturalKey: []string{"violation_code", "violation_description"},
	}
}

func hasCondition(d *Dimension, kind quality.Kind) bool {
	for _, c := range d.Conditions {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

func TestCityLake_Dimension_Build_AgencyCanonicalDedupe(t *testing.T) {
	t.Parallel()

	raw := table.FromRecords([]map[string]any{
		{"Agency": " dot ", "Agency_Name": "Dept of Transportation"},
		{"Agency": "DOT", "Agency_Name": "dept of transportation"},
	})

	d, err := testBuilder(t).Build(raw, agencySpec())
	require.NoError(t, err)

	rows := d.Rows()
	require.Equal(t, 1, rows.Len())
	require.Equal(t, []string{"agency_key", "agency", "agency_name"}, rows.Schema().Names())
	require.Equal(t, "dot", rows.Value(0, "agency"))
	require.Equal(t, "dept of transportation", rows.Value(0, "agency_name"))
	require.Equal(t, int64(surrogate.NewNaturalKey("DOT", "DEPT OF TRANSPORTATION").ToSurrogate()), rows.Value(0, "agency_key"))
	require.Equal(t, "agency_key", d.KeyColumn())
}

func TestCityLake_Dimension_Build_DedupIdempotence(t *testing.T) {
	t.Parallel()

	records := []map[string]any{
		{"complaint_type": "Noise", "descriptor": "Loud Music", "location_type": "Residential"},
		{"complaint_type": "Heat", "descriptor": "No Heat", "location_type": nil},
		{"complaint_type": "noise ", "descriptor": "loud music", "location_type": "residential"},
	}
	spec := Spec{
		Name:       "complaint",
		Columns:    []coerce.ColumnSpec{coerce.String("complaint_type"), coerce.String("descriptor"), coerce.String("location_type")},
		NaturalKey: []string{"complaint_type", "descriptor", "location_type"},
	}

	once, err := testBuilder(t).Build(table.FromRecords(records), spec)
	require.NoError(t, err)

	doubled := append(append([]map[string]any{}, records...), records...)
	twice, err := testBuilder(t).Build(table.FromRecords(doubled), spec)
	require.NoError(t, err)

	require.Equal(t, 2, once.Rows().Len())
	require.Equal(t, once.Rows().Schema().Names(), twice.Rows().Schema().Names())
	require.Equal(t, once.Rows().Len(), twice.Rows().Len())
	for i := range once.Rows().Len() {
		require.Equal(t, once.Rows().Row(i), twice.Rows().Row(i))
	}
}

func TestCityLake_Dimension_Build_HashIsOrderIndependent(t *testing.T) {
	t.Parallel()

	a := table.FromRecords([]map[string]any{
		{"agency": "NYPD", "agency_name": "New York City Police Department"},
		{"agency": "DOT", "agency_name": "Department of Transportation"},
	})
	b := table.FromRecords([]map[string]any{
		{"agency": "DOT", "agency_name": "Department of Transportation"},
		{"agency": "NYPD", "agency_name": "New York City Police Department"},
	})

	da, err := testBuilder(t).Build(a, agencySpec())
	require.NoError(t, err)
	db, err := testBuilder(t).Build(b, agencySpec())
	require.NoError(t, err)

	keysByAgency := func(d *Dimension) map[any]any {
		out := map[any]any{}
		for i := range d.Rows().Len() {
			out[d.Rows().Value(i, "agency")] = d.Rows().Value(i, "agency_key")
		}
		return out
	}
	require.Equal(t, keysByAgency(da), keysByAgency(db))
}

func TestCityLake_Dimension_Build_ViolationWithoutDescription(t *testing.T) {
	t.Parallel()

	raw := table.FromRecords([]map[string]any{
		{"violation_code": "21", "summons_number": "1"},
		{"violation_code": "38", "summons_number": "2"},
		{"violation_code": "21", "summons_number": "3"},
	})

	d, err := testBuilder(t).Build(raw, violationSpec())
	require.NoError(t, err)

	require.Equal(t, []string{"violation_code"}, d.EffectiveKey())
	require.True(t, hasCondition(d, quality.KindMissingColumn))
	require.True(t, hasCondition(d, quality.KindNarrowedKey))

	rows := d.Rows()
	require.Equal(t, 2, rows.Len())
	require.Equal(t, []string{"violation_key", "violation_code"}, rows.Schema().Names())
	for i := range rows.Len() {
		require.NotNil(t, rows.Value(i, "violation_key"))
	}
	require.Equal(t, int64(surrogate.NewNaturalKey("21").ToSurrogate()), rows.Value(0, "violation_key"))
}

func TestCityLake_Dimension_Build_NaturalKeyAbsentGivesNullKeys(t *testing.T) {
	t.Parallel()

	spec := Spec{
		Name:       "vehicle",
		Columns:    []coerce.ColumnSpec{coerce.String("plate"), coerce.String("vehicle_color")},
		NaturalKey: []string{"plate"},
	}
	raw := table.FromRecords([]map[string]any{
		{"vehicle_color": "BLK"},
		{"vehicle_color": "WHT"},
	})

	d, err := testBuilder(t).Build(raw, spec)
	require.NoError(t, err)
	require.True(t, hasCondition(d, quality.KindNullKey))
	require.Equal(t, 2, d.Rows().Len())
	for i := range d.Rows().Len() {
		require.Nil(t, d.Rows().Value(i, "vehicle_key"))
	}
}

func TestCityLake_Dimension_Build_EmptyInputs(t *testing.T) {
	t.Parallel()

	t.Run("no rows", func(t *testing.T) {
		t.Parallel()
		d, err := testBuilder(t).Build(table.FromRecords(nil), agencySpec())
		require.NoError(t, err)
		require.True(t, d.Empty())
		require.Equal(t, []string{"agency_key", "agency", "agency_name"}, d.Rows().Schema().Names())
		require.True(t, hasCondition(d, quality.KindEmptySource))
	})

	t.Run("nothing projected", func(t *testing.T) {
		t.Parallel()
		raw := table.FromRecords([]map[string]any{{"unrelated": "x"}})
		d, err := testBuilder(t).Build(raw, agencySpec())
		require.NoError(t, err)
		require.True(t, d.Empty())
		require.Equal(t, 3, d.Rows().Schema().Len())
	})
}

func TestCityLake_Dimension_Build_Ordinal(t *testing.T) {
	t.Parallel()

	spec := agencySpec()
	spec.Mode = KeyModeOrdinal
	raw := table.FromRecords([]map[string]any{
		{"agency": "NYPD", "agency_name": "Police"},
		{"agency": "DOT", "agency_name": "Transportation"},
		{"agency": "nypd", "agency_name": "police"},
	})

	d, err := testBuilder(t).Build(raw, spec)
	require.NoError(t, err)
	require.Equal(t, 2, d.Rows().Len())
	require.Equal(t, int64(1), d.Rows().Value(0, "agency_key"))
	require.Equal(t, int64(2), d.Rows().Value(1, "agency_key"))
}

func TestCityLake_Dimension_Build_NumericColumns(t *testing.T) {
	t.Parallel()

	spec := Spec{
		Name:       "parking_location",
		Columns:    []coerce.ColumnSpec{coerce.String("borough"), coerce.Numeric("precinct")},
		NaturalKey: []string{"borough", "precinct"},
	}
	raw := table.FromRecords([]map[string]any{
		{"borough": "K", "precinct": "084"},
		{"borough": "k", "precinct": "84"},
		{"borough": "Q", "precinct": "n/a"},
	})

	d, err := testBuilder(t).Build(raw, spec)
	require.NoError(t, err)
	require.Equal(t, 2, d.Rows().Len())
	require.Equal(t, int64(84), d.Rows().Value(0, "precinct"))
	require.Nil(t, d.Rows().Value(1, "precinct"))
	require.True(t, hasCondition(d, quality.KindUnparseable))

	col, ok := d.Rows().Schema().Column("precinct")
	require.True(t, ok)
	require.Equal(t, table.NullableInteger, col.Type)
}

func TestCityLake_Dimension_Build_CollapsesNaturalKeyDuplicates(t *testing.T) {
	t.Parallel()

	spec := Spec{
		Name:       "agency",
		Columns:    []coerce.ColumnSpec{coerce.String("agency"), coerce.String("agency_name")},
		NaturalKey: []string{"agency"},
	}
	raw := table.FromRecords([]map[string]any{
		{"agency": "DOT", "agency_name": "Department of Transportation"},
		{"agency": "DOT", "agency_name": "Dept of Transportation"},
	})

	d, err := testBuilder(t).Build(raw, spec)
	require.NoError(t, err)
	require.Equal(t, 1, d.Rows().Len())
	require.Equal(t, "department of transportation", d.Rows().Value(0, "agency_name"))
	require.True(t, hasCondition(d, quality.KindDuplicateNaturalKey))
}

func TestCityLake_Dimension_Build_DropsBlankNaturalKeys(t *testing.T) {
	t.Parallel()

	complaints := table.FromRecords([]map[string]any{
		{"agency": "DOT", "agency_name": "Department of Transportation"},
	})
	tickets := table.FromRecords([]map[string]any{
		{"summons_number": "1"},
		{"summons_number": "2", "agency": " ", "agency_name": nil},
	})
	raw, err := table.Concat(complaints, tickets)
	require.NoError(t, err)

	d, err := testBuilder(t).Build(raw, agencySpec())
	require.NoError(t, err)
	require.Equal(t, 1, d.Rows().Len())
	require.Equal(t, "dot", d.Rows().Value(0, "agency"))
	require.True(t, hasCondition(d, quality.KindBlankKey))

	// A row with one non-blank key field is kept.
	partial, err := testBuilder(t).Build(table.FromRecords([]map[string]any{
		{"agency": "NYPD", "agency_name": nil},
	}), agencySpec())
	require.NoError(t, err)
	require.Equal(t, 1, partial.Rows().Len())
	require.False(t, hasCondition(partial, quality.KindBlankKey))
}

func TestCityLake_Dimension_Build_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec Spec
	}{
		{"empty natural key", Spec{Name: "agency", Columns: []coerce.ColumnSpec{coerce.String("agency")}}},
		{"date dtype", Spec{Name: "agency", Columns: []coerce.ColumnSpec{coerce.Date("agency")}, NaturalKey: []string{"agency"}}},
		{"unknown dtype", Spec{Name: "agency", Columns: []coerce.ColumnSpec{{Name: "agency", DType: "blob"}}, NaturalKey: []string{"agency"}}},
		{"undeclared key field", Spec{Name: "agency", Columns: []coerce.ColumnSpec{coerce.String("agency")}, NaturalKey: []string{"agency_name"}}},
		{"missing name", Spec{Columns: []coerce.ColumnSpec{coerce.String("agency")}, NaturalKey: []string{"agency"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := testBuilder(t).Build(table.FromRecords(nil), tt.spec)
			require.ErrorIs(t, err, coerce.ErrConfig)
		})
	}
}

func TestCityLake_Dimension_BuildAll_MatchesSequential(t *testing.T) {
	t.Parallel()

	agencies := table.FromRecords([]map[string]any{
		{"agency": "DOT", "agency_name": "Transportation"},
		{"agency": "NYPD", "agency_name": "Police"},
	})
	violations := table.FromRecords([]map[string]any{
		{"violation_code": "21", "violation_description": "No Parking"},
	})
	jobs := []Job{
		{Spec: agencySpec(), Source: agencies},
		{Spec: violationSpec(), Source: violations},
	}

	b := testBuilder(t)
	all, err := b.BuildAll(t.Context(), jobs, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)

	for _, job := range jobs {
		seq, err := b.Build(job.Source, job.Spec)
		require.NoError(t, err)
		par := all[job.Spec.Name]
		require.NotNil(t, par)
		require.Equal(t, seq.Rows().Len(), par.Rows().Len())
		for i := range seq.Rows().Len() {
			require.Equal(t, seq.Rows().Row(i), par.Rows().Row(i))
		}
	}

	_, err = b.BuildAll(t.Context(), []Job{{Spec: Spec{Name: "bad"}, Source: agencies}}, 1)
	require.ErrorIs(t, err, coerce.ErrConfig)
}
