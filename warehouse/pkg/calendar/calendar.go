package calendar

import (
	"fmt"
	"time"

	"github.com/malbeclabs/citylake/warehouse/pkg/coerce"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

const (
	DateTable = "dim_date"
	TimeTable = "dim_time"
)

var dateSchema = table.MustSchema(
	table.Column{Name: "date_key", Type: table.Integer},
	table.Column{Name: "full_date", Type: table.Date},
	table.Column{Name: "day", Type: table.Integer},
	table.Column{Name: "month", Type: table.Integer},
	table.Column{Name: "year", Type: table.Integer},
	table.Column{Name: "weekday", Type: table.String},
)

var timeSchema = table.MustSchema(
	table.Column{Name: "time_key", Type: table.Integer},
	table.Column{Name: "hour", Type: table.Integer},
	table.Column{Name: "minute", Type: table.Integer},
)

// Dates returns one row per calendar day from start to end inclusive, in UTC. date_key matches
// the <column>_key values derived from date columns of fact tables.
func Dates(start, end time.Time) (*table.Table, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	var rows [][]any
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, []any{
			coerce.DateKey(d),
			d,
			int64(d.Day()),
			int64(d.Month()),
			int64(d.Year()),
			d.Weekday().String(),
		})
	}
	return table.New(dateSchema, rows)
}

// Times returns one row per minute of the day. time_key is HHMM00.
func Times() *table.Table {
	rows := make([][]any, 0, 24*60)
	for h := range 24 {
		for m := range 60 {
			rows = append(rows, []any{TimeKey(h, m), int64(h), int64(m)})
		}
	}
	t, err := table.New(timeSchema, rows)
	if err != nil {
		panic(err)
	}
	return t
}

func TimeKey(hour, minute int) int64 {
	return int64(hour)*10000 + int64(minute)*100
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
