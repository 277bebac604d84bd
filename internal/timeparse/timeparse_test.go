package timeparse

import (
	"testing"
	"time"
)

// date builds a UTC midnight date for test inputs.
func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveDayBasicWords(t *testing.T) {
	today := date(2024, time.June, 12) // a Wednesday

	cases := []struct {
		input string
		want  time.Time
	}{
		{"today", today},
		{"Today", today},
		{"meetings", today},
		{"", today},
		{"tomorrow", today.AddDate(0, 0, 1)},
		{"what's on today", today},
		{"meetings tomorrow", today.AddDate(0, 0, 1)},
	}
	for _, c := range cases {
		got := ResolveDay(c.input, today)
		if !got.Matched() || got.Week {
			t.Fatalf("ResolveDay(%q) did not match a date", c.input)
		}
		if !got.Date.Equal(c.want) {
			t.Errorf("ResolveDay(%q) = %v, want %v", c.input, got.Date, c.want)
		}
	}
}

func TestResolveDayThisWeek(t *testing.T) {
	got := ResolveDay("this week", date(2024, time.June, 12))
	if !got.Week {
		t.Fatal("expected week sentinel for 'this week'")
	}
	if got.Label != "" {
		t.Errorf("expected empty label for week sentinel, got %q", got.Label)
	}
}

func TestResolveDayWeekdayTodayCounts(t *testing.T) {
	// For every weekday, naming today's own weekday resolves to today.
	for i := 0; i < 7; i++ {
		today := date(2024, time.June, 9).AddDate(0, 0, i)
		name := today.Format("Monday")
		got := ResolveDay(name, today)
		if !got.Date.Equal(today) {
			t.Errorf("ResolveDay(%q) on %v = %v, want today", name, today, got.Date)
		}
	}
}

func TestResolveDayWeekdayNearest(t *testing.T) {
	today := date(2024, time.June, 12) // Wednesday
	got := ResolveDay("friday", today)
	if want := date(2024, time.June, 14); !got.Date.Equal(want) {
		t.Errorf("friday from Wednesday = %v, want %v", got.Date, want)
	}
	// Monday already passed this week: wraps to next Monday.
	got = ResolveDay("monday", today)
	if want := date(2024, time.June, 17); !got.Date.Equal(want) {
		t.Errorf("monday from Wednesday = %v, want %v", got.Date, want)
	}
}

func TestResolveDayNextWeekdayNeverCurrentWeek(t *testing.T) {
	// "next X" must always land beyond the current Sunday-start week,
	// even when today is X itself.
	for i := 0; i < 7; i++ {
		today := date(2024, time.June, 9).AddDate(0, 0, i)
		for name, wd := range map[string]time.Weekday{
			"monday": time.Monday, "friday": time.Friday, "sunday": time.Sunday,
		} {
			got := ResolveDay("next "+name, today)
			if !got.Matched() {
				t.Fatalf("ResolveDay(next %s) did not match", name)
			}
			daysAhead := int(got.Date.Sub(today).Hours() / 24)
			daysLeftInWeek := 6 - int(today.Weekday())
			if daysAhead <= daysLeftInWeek {
				t.Errorf("next %s from %v landed %d days ahead, inside current week", name, today, daysAhead)
			}
			if got.Date.Weekday() != wd {
				t.Errorf("next %s resolved to weekday %v", name, got.Date.Weekday())
			}
		}
	}
}

func TestResolveDayUnrecognized(t *testing.T) {
	for _, input := range []string{"banana", "next banana", "yesterday", "12345"} {
		if got := ResolveDay(input, date(2024, time.June, 12)); got.Matched() {
			t.Errorf("ResolveDay(%q) unexpectedly matched: %+v", input, got)
		}
	}
}

func TestWeekBoundsSundayStart(t *testing.T) {
	cases := []struct {
		today     time.Time
		wantStart time.Time
	}{
		{date(2024, time.June, 12), date(2024, time.June, 9)}, // Wednesday
		{date(2024, time.June, 9), date(2024, time.June, 9)},  // Sunday itself
		{date(2024, time.June, 15), date(2024, time.June, 9)}, // Saturday
	}
	for _, c := range cases {
		start, end := WeekBounds(c.today)
		if !start.Equal(c.wantStart) {
			t.Errorf("WeekBounds(%v) start = %v, want %v", c.today, start, c.wantStart)
		}
		if end.Weekday() != time.Saturday {
			t.Errorf("WeekBounds(%v) end lands on %v, want Saturday", c.today, end.Weekday())
		}
		if !end.Equal(start.AddDate(0, 0, 6)) {
			t.Errorf("WeekBounds(%v) span is not 7 days", c.today)
		}
	}
}

func TestParseDate(t *testing.T) {
	today := date(2024, time.June, 12)

	if d := ParseDate("today", today); !d.Equal(today) {
		t.Errorf("today = %v", d)
	}
	if d := ParseDate("tomorrow", today); !d.Equal(today.AddDate(0, 0, 1)) {
		t.Errorf("tomorrow = %v", d)
	}
	if d := ParseDate("15/08", today); !d.Equal(date(2024, time.August, 15)) {
		t.Errorf("15/08 = %v", d)
	}
	// Past DD/MM rolls into next year.
	if d := ParseDate("01/01", today); !d.Equal(date(2025, time.January, 1)) {
		t.Errorf("01/01 = %v, want next year", d)
	}
	if d := ParseDate("15/08/2026", today); !d.Equal(date(2026, time.August, 15)) {
		t.Errorf("15/08/2026 = %v", d)
	}
	for _, bad := range []string{"31/02", "00/05", "5/13", "not a date", "15-08"} {
		if d := ParseDate(bad, today); !d.IsZero() {
			t.Errorf("ParseDate(%q) = %v, want zero", bad, d)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	if got := ParseHHMM("09:30"); got == nil || got.Hour != 9 || got.Minute != 30 {
		t.Errorf("09:30 = %+v", got)
	}
	if got := ParseHHMM("23:59"); got == nil || got.Hour != 23 {
		t.Errorf("23:59 = %+v", got)
	}
	for _, bad := range []string{"24:00", "12:60", "9am", "12", "12:5", "9:30pm"} {
		if got := ParseHHMM(bad); got != nil {
			t.Errorf("ParseHHMM(%q) = %+v, want nil", bad, got)
		}
	}
}

func TestParseTimeRange(t *testing.T) {
	cases := []struct {
		input                  string
		sh, sm, eh, em int
	}{
		{"2-4pm", 14, 0, 16, 0},
		{"10am-12pm", 10, 0, 12, 0},
		{"2:30pm-4pm", 14, 30, 16, 0},
		{"14:00-16:00", 14, 0, 16, 0},
		{"9-11am", 9, 0, 11, 0},
		{"12pm-1pm", 12, 0, 13, 0},
	}
	for _, c := range cases {
		got := ParseTimeRange(c.input)
		if got == nil {
			t.Fatalf("ParseTimeRange(%q) = nil", c.input)
		}
		if got.Start.Hour != c.sh || got.Start.Minute != c.sm ||
			got.End.Hour != c.eh || got.End.Minute != c.em {
			t.Errorf("ParseTimeRange(%q) = %+v, want %02d:%02d-%02d:%02d",
				c.input, got, c.sh, c.sm, c.eh, c.em)
		}
	}
}

func TestParseTimeRangeRejects(t *testing.T) {
	for _, bad := range []string{"4pm-2pm", "2pm-2pm", "25:00-26:00", "2pm", "abc", "2--4pm", "14:00-13:00"} {
		if got := ParseTimeRange(bad); got != nil {
			t.Errorf("ParseTimeRange(%q) = %+v, want nil", bad, got)
		}
	}
}

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		input string
		h, m  int
	}{
		{"7:30am", 7, 30},
		{"9am", 9, 0},
		{"14:00", 14, 0},
		{"9:00pm", 21, 0},
		{"12am", 0, 0},
		{"12pm", 12, 0},
	}
	for _, c := range cases {
		got := ParseClockTime(c.input)
		if got == nil || got.Hour != c.h || got.Minute != c.m {
			t.Errorf("ParseClockTime(%q) = %+v, want %02d:%02d", c.input, got, c.h, c.m)
		}
	}
	for _, bad := range []string{"25:00", "9:75", "lunch"} {
		if got := ParseClockTime(bad); got != nil {
			t.Errorf("ParseClockTime(%q) = %+v, want nil", bad, got)
		}
	}
}

func TestClockTimeString(t *testing.T) {
	if s := (ClockTime{Hour: 9, Minute: 5}).String(); s != "09:05" {
		t.Errorf("String() = %q", s)
	}
}
