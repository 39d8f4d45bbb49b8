package main

import (
	"fmt"
	"time"

	"github.com/malbeclabs/citylake/warehouse/pkg/catalog"
)

// defaultCalendarStart is the earliest day the source datasets hold events for.
const defaultCalendarStart = "2010-01-01"

// parseDay parses a YYYY-MM-DD flag as UTC midnight. An empty value is the zero time.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func parseDayOr(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return parseDay(s)
}

// windowFromFlags defaults to the day before today and to a one-day window.
func windowFromFlags(start, end string, today time.Time) (catalog.Window, error) {
	s, err := parseDayOr(start, today.AddDate(0, 0, -1))
	if err != nil {
		return catalog.Window{}, fmt.Errorf("invalid --start: %w", err)
	}
	e, err := parseDayOr(end, s.AddDate(0, 0, 1))
	if err != nil {
		return catalog.Window{}, fmt.Errorf("invalid --end: %w", err)
	}
	w := catalog.Window{Start: s, End: e}
	if err := w.Validate(); err != nil {
		return catalog.Window{}, err
	}
	return w, nil
}
