package catalog

import (
	"github.com/malbeclabs/citylake/warehouse/pkg/coerce"
	"github.com/malbeclabs/citylake/warehouse/pkg/dimension"
	"github.com/malbeclabs/citylake/warehouse/pkg/fact"
)

// Dataset IDs on data.cityofnewyork.us.
const (
	Dataset311 = "erm2-nwe9"
)

var parkingDatasets = []Dataset{
	{ID: "jt7v-77mi", FiscalYear: 2014},
	{ID: "c284-tqph", FiscalYear: 2015},
	{ID: "kiv2-tbus", FiscalYear: 2016},
	{ID: "2bnn-yakx", FiscalYear: 2017},
	{ID: "a5td-mswe", FiscalYear: 2018},
	{ID: "faiq-9dfq", FiscalYear: 2019},
	{ID: "p7t3-5i9s", FiscalYear: 2020},
	{ID: "kvfd-bves", FiscalYear: 2021},
	{ID: "7mxj-7a6y", FiscalYear: 2022},
	{ID: "869v-vr48", FiscalYear: 2023},
	{ID: "pvqr-7yc4", FiscalYear: 2024},
}

var (
	agencyKey          = []string{"agency", "agency_name"}
	complaintKey       = []string{"complaint_type", "descriptor", "location_type"}
	locationKey        = []string{"borough", "city", "incident_zip", "street_name", "incident_address"}
	vehicleKey         = []string{"plate", "state", "license_type"}
	violationKey       = []string{"violation_code", "violation_description"}
	parkingLocationKey = []string{"borough", "precinct"}
)

// NYC is the star schema loaded from the 311 service request and parking violation datasets.
func NYC() Catalog {
	return Catalog{
		Streams: []Stream{
			{
				Name:         Stream311,
				Datasets:     []Dataset{{ID: Dataset311}},
				WindowColumn: "created_date",
			},
			{
				Name:         StreamParking,
				Datasets:     parkingDatasets,
				WindowColumn: "issue_date",
				Renames: []Rename{
					{From: "plate_id", To: "plate"},
					{From: "registration_state", To: "state"},
					{From: "plate_type", To: "license_type"},
					{From: "violation_county", To: "borough"},
					{From: "violation_precinct", To: "precinct"},
					{From: "violation", To: "violation_code"},
				},
			},
		},
		Dimensions: []DimensionSource{
			{
				Spec: dimension.Spec{
					Name:       "agency",
					Columns:    stringColumns(agencyKey...),
					NaturalKey: agencyKey,
				},
				Streams: []string{Stream311, StreamParking},
			},
			{
				Spec: dimension.Spec{
					Name:       "complaint",
					Columns:    stringColumns(complaintKey...),
					NaturalKey: complaintKey,
				},
				Streams: []string{Stream311},
			},
			{
				Spec: dimension.Spec{
					Name:       "location",
					Columns:    stringColumns(locationKey...),
					NaturalKey: locationKey,
				},
				Streams: []string{Stream311},
			},
			{
				Spec: dimension.Spec{
					Name:       "vehicle",
					Columns:    stringColumns(vehicleKey...),
					NaturalKey: vehicleKey,
				},
				Streams: []string{StreamParking},
			},
			{
				Spec: dimension.Spec{
					Name:       "violation",
					Columns:    stringColumns(violationKey...),
					NaturalKey: violationKey,
				},
				Streams: []string{StreamParking},
			},
			{
				Spec: dimension.Spec{
					Name:       "parking_location",
					Columns:    []coerce.ColumnSpec{coerce.String("borough"), coerce.Numeric("precinct")},
					NaturalKey: parkingLocationKey,
				},
				Streams: []string{StreamParking},
			},
		},
		Facts: []FactSource{
			{
				Stream: Stream311,
				Spec: fact.Spec{
					Name: "fact_311_complaints",
					Columns: []coerce.ColumnSpec{
						coerce.Numeric("unique_key"),
						coerce.Date("created_date"),
						coerce.Date("closed_date"),
						coerce.Date("due_date"),
						coerce.String("status"),
						coerce.String("resolution_description"),
					},
					ForeignKeys: []fact.ForeignKey{
						{Fields: agencyKey, KeyName: "agency_key"},
						{Fields: complaintKey, KeyName: "complaint_key"},
						{Fields: locationKey, KeyName: "location_key"},
					},
				},
			},
			{
				Stream: StreamParking,
				Spec: fact.Spec{
					Name: "fact_parking_tickets",
					Columns: []coerce.ColumnSpec{
						coerce.Numeric("summons_number"),
						coerce.Date("issue_date"),
						coerce.Float("fine_amount"),
						coerce.Float("penalty_amount"),
						coerce.Float("interest_amount"),
						coerce.Float("reduction_amount"),
						coerce.Float("payment_amount"),
						coerce.Float("amount_due"),
					},
					ForeignKeys: []fact.ForeignKey{
						{Fields: vehicleKey, KeyName: "vehicle_key"},
						{Fields: violationKey, KeyName: "violation_key"},
						{Fields: parkingLocationKey, KeyName: "parking_location_key"},
					},
				},
			},
		},
	}
}

func stringColumns(names ...string) []coerce.ColumnSpec {
	out := make([]coerce.ColumnSpec, len(names))
	for i, n := range names {
		out[i] = coerce.String(n)
	}
	return out
}
