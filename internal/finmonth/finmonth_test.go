package finmonth

import (
	"errors"
	"testing"
	"time"

	"burnrate/internal/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestBounds(t *testing.T) {
	cases := []struct {
		name      string
		anchor    time.Time
		startDay  int
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "calendar month",
			anchor:    date(2024, time.March, 15),
			startDay:  1,
			wantStart: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.March, 31, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "anchor after start day",
			anchor:    date(2024, time.January, 20),
			startDay:  5,
			wantStart: time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.February, 4, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "anchor before start day",
			anchor:    date(2024, time.February, 3),
			startDay:  5,
			wantStart: time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.February, 4, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "anchor on start day",
			anchor:    date(2024, time.February, 5),
			startDay:  5,
			wantStart: time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.March, 4, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "start day 31 clamps in leap february",
			anchor:    date(2024, time.February, 29),
			startDay:  31,
			wantStart: time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.March, 30, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "start day 31 before clamped february start",
			anchor:    date(2023, time.February, 10),
			startDay:  31,
			wantStart: time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2023, time.February, 27, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "start day 30 in non-leap february",
			anchor:    date(2023, time.February, 28),
			startDay:  30,
			wantStart: time.Date(2023, time.February, 28, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2023, time.March, 29, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "year rollover",
			anchor:    date(2024, time.January, 2),
			startDay:  25,
			wantStart: time.Date(2023, time.December, 25, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.January, 24, 23, 59, 59, 999999999, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := Bounds(tc.anchor, tc.startDay)
			if !start.Equal(tc.wantStart) {
				t.Errorf("start = %v, want %v", start, tc.wantStart)
			}
			if !end.Equal(tc.wantEnd) {
				t.Errorf("end = %v, want %v", end, tc.wantEnd)
			}
		})
	}
}

// Every financial month ends exactly one day before the next one starts and
// spans 28 to 31 days, for every start day over several years.
func TestBoundsCompleteness(t *testing.T) {
	for startDay := 1; startDay <= 31; startDay++ {
		anchor := date(2023, time.January, 1)
		for anchor.Year() < 2026 {
			start, end := Bounds(anchor, startDay)
			if anchor.Before(start) || anchor.After(end) {
				t.Fatalf("startDay=%d anchor %v outside [%v, %v]", startDay, anchor, start, end)
			}

			nextStart, _ := Bounds(end.Add(time.Nanosecond), startDay)
			if !nextStart.Equal(end.Add(time.Nanosecond)) {
				t.Fatalf("startDay=%d: end %v is not one instant before next start %v", startDay, end, nextStart)
			}
			if !StartOfDay(end).AddDate(0, 0, 1).Equal(nextStart) {
				t.Fatalf("startDay=%d: end day %v is not the day before %v", startDay, end, nextStart)
			}

			n := len(Days(start, end))
			if n < 28 || n > 31 {
				t.Fatalf("startDay=%d month from %v has %d days", startDay, start, n)
			}
			if n != DaysInclusive(start, end) {
				t.Fatalf("Days and DaysInclusive disagree: %d vs %d", n, DaysInclusive(start, end))
			}
			anchor = anchor.AddDate(0, 0, 1)
		}
	}
}

func TestBoundsClampsInvalidStartDay(t *testing.T) {
	s0, _ := Bounds(date(2024, time.May, 10), 0)
	s1, _ := Bounds(date(2024, time.May, 10), 1)
	if !s0.Equal(s1) {
		t.Fatalf("start day 0 should behave like 1: %v vs %v", s0, s1)
	}
	s40, _ := Bounds(date(2024, time.May, 31), 40)
	s31, _ := Bounds(date(2024, time.May, 31), 31)
	if !s40.Equal(s31) {
		t.Fatalf("start day 40 should behave like 31: %v vs %v", s40, s31)
	}
}

func TestValidateStartDay(t *testing.T) {
	for _, d := range []int{1, 15, 31} {
		if err := ValidateStartDay(d); err != nil {
			t.Errorf("ValidateStartDay(%d) = %v", d, err)
		}
	}
	for _, d := range []int{0, -1, 32} {
		if err := ValidateStartDay(d); !errors.Is(err, core.ErrInvalidStartDay) {
			t.Errorf("ValidateStartDay(%d) = %v, want ErrInvalidStartDay", d, err)
		}
	}
}

func TestIsCurrent(t *testing.T) {
	now := date(2024, time.February, 3)
	if !IsCurrent(date(2024, time.January, 10), now, 5) {
		t.Error("Jan 10 should be in the same 5th-based month as Feb 3")
	}
	if IsCurrent(date(2024, time.February, 5), now, 5) {
		t.Error("Feb 5 starts the next month")
	}
	if IsCurrent(date(2024, time.January, 4), now, 5) {
		t.Error("Jan 4 belongs to the previous month")
	}
}

func TestDaysInclusiveAndSameDay(t *testing.T) {
	a := time.Date(2024, time.March, 30, 22, 0, 0, 0, time.UTC)
	b := time.Date(2024, time.April, 2, 1, 0, 0, 0, time.UTC)
	if got := DaysInclusive(a, b); got != 4 {
		t.Fatalf("DaysInclusive = %d, want 4", got)
	}
	if got := DaysInclusive(b, a); got != 0 {
		t.Fatalf("DaysInclusive reversed = %d, want 0", got)
	}
	if !SameDay(a, a.Add(time.Hour)) {
		t.Fatal("same calendar day expected")
	}
	if SameDay(a, a.Add(3*time.Hour)) {
		t.Fatal("different calendar day expected")
	}
}

func TestDaysAcrossDST(t *testing.T) {
	kyiv, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	start, end := Bounds(time.Date(2024, time.March, 15, 10, 0, 0, 0, kyiv), 1)
	days := Days(start, end)
	if len(days) != 31 {
		t.Fatalf("March in Kyiv has %d days", len(days))
	}
	for i, d := range days {
		if d.Hour() != 0 || d.Day() != i+1 {
			t.Fatalf("day %d = %v", i, d)
		}
	}
}
