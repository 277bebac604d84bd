package flow

// Calendar query helpers behind the meetings, free-time and birthdays
// submenus. Each returns formatted reply text; errors bubble up so the menu
// handler can degrade to a fixed failure message without touching state.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/timeparse"
)

// Free-slot search parameters: working hours and the smallest gap worth
// reporting.
const (
	workdayStartHour = 8
	workdayEndHour   = 20
	minFreeSlot      = 30 * time.Minute
)

// dayBounds returns midnight of the given day and midnight of the next, in
// the day's own location.
func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

// fetchTimedEvents aggregates events across accounts, dropping all-day
// entries and events without explicit instants, sorted by start time.
func (e *Engine) fetchTimedEvents(ctx context.Context, accounts []models.CalendarAccount, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	var out []calendar.Event
	for _, account := range accounts {
		events, err := e.calendar.ListEvents(ctx, account, timeMin, timeMax)
		if err != nil {
			return nil, fmt.Errorf("failed to list events for account %s: %w", account.ID, err)
		}
		for _, ev := range events {
			if ev.AllDay || ev.Start == nil || ev.End == nil {
				continue
			}
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(*out[j].Start) })
	return out, nil
}

func formatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

// formatEventLine renders one meeting as a bullet line.
func formatEventLine(ev calendar.Event, loc *time.Location) string {
	line := fmt.Sprintf("• %s–%s %s", formatClock(*ev.Start, loc), formatClock(*ev.End, loc), ev.Title)
	if ev.Location != "" {
		line += " (" + ev.Location + ")"
	}
	return line
}

// meetingsForDay lists the meetings on one calendar day.
func (e *Engine) meetingsForDay(ctx context.Context, accounts []models.CalendarAccount, day time.Time) (string, error) {
	loc := day.Location()
	start, end := dayBounds(day)
	events, err := e.fetchTimedEvents(ctx, accounts, start, end)
	if err != nil {
		return "", err
	}
	label := timeparse.DateLabel(day)
	if len(events) == 0 {
		return fmt.Sprintf(noMeetingsText, label), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Meetings on %s:", label)
	for _, ev := range events {
		b.WriteString("\n" + formatEventLine(ev, loc))
	}
	return b.String(), nil
}

// meetingsForWeek lists meetings for the Sunday-based week containing today,
// grouped by day.
func (e *Engine) meetingsForWeek(ctx context.Context, accounts []models.CalendarAccount, now time.Time) (string, error) {
	loc := now.Location()
	weekStart, weekEnd := timeparse.WeekBounds(now)
	rangeStart, _ := dayBounds(weekStart)
	_, rangeEnd := dayBounds(weekEnd)
	events, err := e.fetchTimedEvents(ctx, accounts, rangeStart, rangeEnd)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return noMeetingsWeekText, nil
	}

	var b strings.Builder
	b.WriteString("This week:")
	var lastDay string
	for _, ev := range events {
		day := ev.Start.In(loc).Format("Monday, Jan 2")
		if day != lastDay {
			b.WriteString("\n\n" + day)
			lastDay = day
		}
		b.WriteString("\n" + formatEventLine(ev, loc))
	}
	return b.String(), nil
}

// nextMeeting reports the first meeting starting after now, scanning up to
// 8 days ahead.
func (e *Engine) nextMeeting(ctx context.Context, accounts []models.CalendarAccount, now time.Time) (string, error) {
	loc := now.Location()
	events, err := e.fetchTimedEvents(ctx, accounts, now, now.AddDate(0, 0, 8))
	if err != nil {
		return "", err
	}
	for _, ev := range events {
		if !ev.Start.After(now) {
			continue
		}
		line := fmt.Sprintf("Your next meeting: %s on %s at %s",
			ev.Title, timeparse.DateLabel(ev.Start.In(loc)), formatClock(*ev.Start, loc))
		if until := ev.Start.Sub(now); until < 24*time.Hour {
			line += fmt.Sprintf(" (in %s)", formatDuration(until))
		}
		return line, nil
	}
	return noUpcomingMeetingText, nil
}

// formatDuration renders a duration as "2h 15m" or "40m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// freeSlot is a gap between meetings inside working hours.
type freeSlot struct {
	start time.Time
	end   time.Time
}

// freeSlotsInDay computes gaps of at least minFreeSlot between the given
// events, inside working hours on the given day. For the current day the
// window starts no earlier than now.
func freeSlotsInDay(events []calendar.Event, day, now time.Time) []freeSlot {
	loc := day.Location()
	windowStart := time.Date(day.Year(), day.Month(), day.Day(), workdayStartHour, 0, 0, 0, loc)
	windowEnd := time.Date(day.Year(), day.Month(), day.Day(), workdayEndHour, 0, 0, 0, loc)
	if sameDay(day, now) && now.After(windowStart) {
		// Today's window never reaches back before now; once the working
		// day has elapsed, nothing is free.
		if !now.Before(windowEnd) {
			return nil
		}
		windowStart = now
	}
	if !windowEnd.After(windowStart) {
		return nil
	}

	// Events arrive sorted by start; walk them, advancing the cursor past
	// each busy interval.
	cursor := windowStart
	var slots []freeSlot
	for _, ev := range events {
		s, en := ev.Start.In(loc), ev.End.In(loc)
		if !en.After(windowStart) || !s.Before(windowEnd) {
			continue
		}
		if s.Sub(cursor) >= minFreeSlot {
			slots = append(slots, freeSlot{start: cursor, end: s})
		}
		if en.After(cursor) {
			cursor = en
		}
	}
	if windowEnd.Sub(cursor) >= minFreeSlot {
		slots = append(slots, freeSlot{start: cursor, end: windowEnd})
	}
	return slots
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// freeSlotsForDay lists the free slots on one calendar day.
func (e *Engine) freeSlotsForDay(ctx context.Context, accounts []models.CalendarAccount, day time.Time) (string, error) {
	loc := day.Location()
	start, end := dayBounds(day)
	events, err := e.fetchTimedEvents(ctx, accounts, start, end)
	if err != nil {
		return "", err
	}
	label := timeparse.DateLabel(day)
	slots := freeSlotsInDay(events, day, e.now().In(loc))
	if len(slots) == 0 {
		return fmt.Sprintf(noFreeSlotsText, label), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Free time on %s:", label)
	for _, s := range slots {
		fmt.Fprintf(&b, "\n• %s–%s", formatClock(s.start, loc), formatClock(s.end, loc))
	}
	return b.String(), nil
}

// freeSlotsForWeek lists free slots for the remaining days of this week.
func (e *Engine) freeSlotsForWeek(ctx context.Context, accounts []models.CalendarAccount, now time.Time) (string, error) {
	loc := now.Location()
	_, weekEnd := timeparse.WeekBounds(now)

	var b strings.Builder
	b.WriteString("Free time this week:")
	found := false
	for day := now; ; day = day.AddDate(0, 0, 1) {
		if day.After(weekEnd) && !sameDay(day, weekEnd) {
			break
		}
		start, end := dayBounds(day)
		events, err := e.fetchTimedEvents(ctx, accounts, start, end)
		if err != nil {
			return "", err
		}
		slots := freeSlotsInDay(events, day, e.now().In(loc))
		if len(slots) == 0 {
			continue
		}
		found = true
		b.WriteString("\n\n" + day.Format("Monday, Jan 2"))
		for _, s := range slots {
			fmt.Fprintf(&b, "\n• %s–%s", formatClock(s.start, loc), formatClock(s.end, loc))
		}
	}
	if !found {
		return "No free slots left this week.", nil
	}
	return b.String(), nil
}

// fetchBirthdays aggregates all-day birthday events across accounts.
func (e *Engine) fetchBirthdays(ctx context.Context, accounts []models.CalendarAccount, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	var out []calendar.Event
	for _, account := range accounts {
		events, err := e.calendar.ListBirthdays(ctx, account, timeMin, timeMax)
		if err != nil {
			return nil, fmt.Errorf("failed to list birthdays for account %s: %w", account.ID, err)
		}
		for _, ev := range events {
			if ev.Start == nil {
				continue
			}
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(*out[j].Start) })
	return out, nil
}

func formatBirthdays(header string, events []calendar.Event, loc *time.Location) string {
	if len(events) == 0 {
		return noBirthdaysText
	}
	var b strings.Builder
	b.WriteString(header)
	for _, ev := range events {
		fmt.Fprintf(&b, "\n• %s — %s", ev.Start.In(loc).Format("Jan 2"), ev.Title)
	}
	return b.String()
}

// birthdaysForWeek lists birthdays in the Sunday-based week containing today.
func (e *Engine) birthdaysForWeek(ctx context.Context, accounts []models.CalendarAccount, now time.Time) (string, error) {
	weekStart, weekEnd := timeparse.WeekBounds(now)
	rangeStart, _ := dayBounds(weekStart)
	_, rangeEnd := dayBounds(weekEnd)
	events, err := e.fetchBirthdays(ctx, accounts, rangeStart, rangeEnd)
	if err != nil {
		return "", err
	}
	return formatBirthdays("🎂 Birthdays this week:", events, now.Location()), nil
}

// birthdaysForMonth lists birthdays in the current calendar month.
func (e *Engine) birthdaysForMonth(ctx context.Context, accounts []models.CalendarAccount, now time.Time) (string, error) {
	loc := now.Location()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	monthEnd := monthStart.AddDate(0, 1, 0)
	events, err := e.fetchBirthdays(ctx, accounts, monthStart, monthEnd)
	if err != nil {
		return "", err
	}
	return formatBirthdays("🎂 Birthdays this month:", events, loc), nil
}
