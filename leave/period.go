package leave

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, invalid("date", "%q is not a YYYY-MM-DD date", s)
	}
	return t, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// PERIOD - Inclusive date window used to list requests
// =============================================================================

// Period is the inclusive window [Start, End] at day granularity.
type Period struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start, end] shares at least one day with p.
func (p Period) Overlaps(start, end time.Time) bool {
	return !dateOnly(start).After(p.End) && !dateOnly(end).Before(p.Start)
}

func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ", " + p.End.Format(DateLayout) + "]"
}

// View selects the window a request listing covers.
type View string

const (
	ViewWeek  View = "week"
	ViewMonth View = "month"
	ViewYear  View = "year"
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case "":
		return ViewMonth, nil
	case ViewWeek, ViewMonth, ViewYear:
		return View(s), nil
	}
	return "", invalid("view", "must be one of week, month, year")
}

// PeriodFor returns the window of the given view containing date.
// Weeks run Monday through Sunday.
func PeriodFor(v View, date time.Time) Period {
	d := dateOnly(date)
	switch v {
	case ViewWeek:
		offset := (int(d.Weekday()) + 6) % 7
		start := d.AddDate(0, 0, -offset)
		return Period{Start: start, End: start.AddDate(0, 0, 6)}
	case ViewYear:
		return Period{
			Start: time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(d.Year(), time.December, 31, 0, 0, 0, 0, time.UTC),
		}
	case ViewMonth:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: start.AddDate(0, 1, -1)}
	}
	panic(fmt.Sprintf("leave: unknown view %q", v))
}
