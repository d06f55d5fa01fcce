package values

import (
	"fmt"
	"strings"
	"time"
)

const monthYearLayout = "2006-01"

// MonthYear identifies a calendar billing month ("2025-05").
type MonthYear struct {
	year  int
	month time.Month
}

// ParseMonthYear parses the YYYY-MM format
func ParseMonthYear(s string) (MonthYear, error) {
	t, err := time.Parse(monthYearLayout, strings.TrimSpace(s))
	if err != nil {
		return MonthYear{}, fmt.Errorf("invalid month-year format %q: expected YYYY-MM", s)
	}
	return MonthYear{year: t.Year(), month: t.Month()}, nil
}

// MonthYearOf returns the month containing t
func MonthYearOf(t time.Time) MonthYear {
	return MonthYear{year: t.Year(), month: t.Month()}
}

func (m MonthYear) Year() int { return m.year }
func (m MonthYear) Month() time.Month { return m.month }
func (m MonthYear) IsZero() bool { return m.year == 0 }
func (m MonthYear) String() string { return m.Start().Format(monthYearLayout) }

// Compact returns YYYYMM, used inside invoice numbers
func (m MonthYear) Compact() string {
	return m.Start().Format("200601")
}

// Start returns the first day of the month at 00:00 UTC
func (m MonthYear) Start() time.Time {
	return time.Date(m.year, m.month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the month at 00:00 UTC (inclusive bound)
func (m MonthYear) End() time.Time {
	return m.Start().AddDate(0, 1, -1)
}

// Period returns the inclusive [start, end] date range of the month
func (m MonthYear) Period() Period {
	return Period{Start: m.Start(), End: m.End()}
}

// Period is an inclusive range of calendar days.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod normalizes both bounds to UTC days
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: TruncateDay(start), End: TruncateDay(end)}
	if p.End.Before(p.Start) {
		return Period{}, fmt.Errorf("period end %s is before start %s", p.End.Format(time.DateOnly), p.Start.Format(time.DateOnly))
	}
	return p, nil
}

// Days returns the inclusive number of days, 0 for an inverted period
func (p Period) Days() int {
	return DaysBetweenInclusive(p.Start, p.End)
}

// Contains reports whether the day of t falls within the period
func (p Period) Contains(t time.Time) bool {
	d := TruncateDay(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) String() string {
	return p.Start.Format(time.DateOnly) + ".." + p.End.Format(time.DateOnly)
}

// TruncateDay drops the time of day, keeping the calendar date in UTC
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetweenInclusive counts calendar days in [from, to]; 0 when to < from
func DaysBetweenInclusive(from, to time.Time) int {
	f, t := TruncateDay(from), TruncateDay(to)
	if t.Before(f) {
		return 0
	}
	// Hours/24 is exact on UTC midnights.
	return int(t.Sub(f).Hours()/24) + 1
}
