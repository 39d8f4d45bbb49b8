package pipeline

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/citylake/warehouse/pkg/catalog"
)

// YesterdayWindow is the previous UTC calendar day.
func YesterdayWindow(clock clockwork.Clock) catalog.Window {
	now := clock.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return catalog.Window{Start: end.AddDate(0, 0, -1), End: end}
}

// MonthlyWindows splits [start, end) at month boundaries. The first window runs from start to the
// first of the next month.
func MonthlyWindows(start, end time.Time) []catalog.Window {
	start, end = start.UTC(), end.UTC()
	var out []catalog.Window
	for cur := start; cur.Before(end); {
		next := time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		if next.After(end) {
			next = end
		}
		out = append(out, catalog.Window{Start: cur, End: next})
		cur = next
	}
	return out
}
