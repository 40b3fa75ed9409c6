// Package finmonth computes financial month boundaries anchored to an
// arbitrary start day of the month.
//
// A start day larger than the length of a calendar month is clamped to that
// month's last day, so a month starting on the 31st begins on Feb 28/29.
package finmonth

import (
	"time"

	"burnrate/internal/core"
)

const (
	MinStartDay = 1
	MaxStartDay = 31
)

// ValidateStartDay rejects start days outside [1, 31].
func ValidateStartDay(startDay int) error {
	if startDay < MinStartDay || startDay > MaxStartDay {
		return core.ErrInvalidStartDay
	}
	return nil
}

// Bounds returns the first instant and the last instant of the financial
// month containing anchor, in anchor's location. Out-of-range start days
// are clamped into [1, 31].
func Bounds(anchor time.Time, startDay int) (start, end time.Time) {
	startDay = clampStartDay(startDay)
	loc := anchor.Location()

	y, m, d := anchor.Date()
	if d < effectiveDay(y, m, startDay) {
		y, m = addMonths(y, m, -1)
	}
	start = time.Date(y, m, effectiveDay(y, m, startDay), 0, 0, 0, 0, loc)

	ny, nm := addMonths(y, m, 1)
	next := time.Date(ny, nm, effectiveDay(ny, nm, startDay), 0, 0, 0, 0, loc)
	end = next.Add(-time.Nanosecond)
	return start, end
}

// IsCurrent reports whether date falls in the same financial month as now.
func IsCurrent(date, now time.Time, startDay int) bool {
	s1, e1 := Bounds(date, startDay)
	s2, e2 := Bounds(now.In(date.Location()), startDay)
	return s1.Equal(s2) && e1.Equal(e2)
}

// Days returns every calendar day from start to end inclusive, at midnight.
func Days(start, end time.Time) []time.Time {
	first := StartOfDay(start)
	last := StartOfDay(end)
	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DaysInclusive counts calendar days from a to b inclusive; zero when b < a.
func DaysInclusive(a, b time.Time) int {
	a, b = StartOfDay(a), StartOfDay(b)
	if b.Before(a) {
		return 0
	}
	n := 0
	for d := a; !d.After(b); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b are on the same calendar day in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysIn returns the number of days in the calendar month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func effectiveDay(year int, month time.Month, startDay int) int {
	if n := DaysIn(year, month); startDay > n {
		return n
	}
	return startDay
}

func addMonths(year int, month time.Month, delta int) (int, time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return t.Year(), t.Month()
}

func clampStartDay(d int) int {
	if d < MinStartDay {
		return MinStartDay
	}
	if d > MaxStartDay {
		return MaxStartDay
	}
	return d
}
