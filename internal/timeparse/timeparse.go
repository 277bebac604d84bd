// Package timeparse provides natural-language date and time resolution for
// the WhatsApp dialog flows.
//
// All functions are pure and total: malformed input yields a nil/zero result,
// never an error or panic.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dayNames maps weekday words (full and three-letter) to Go weekday indexes.
var dayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
	"sun":       time.Sunday,
}

// DayResult is the outcome of ResolveDay. Exactly one of Date or Week is
// meaningful: Week reports a "this week" request, otherwise Date/Label carry
// the resolved day. A zero result (no date, no week) means no match.
type DayResult struct {
	Date  time.Time
	Label string
	Week  bool
}

// Matched reports whether the input resolved to anything.
func (r DayResult) Matched() bool {
	return r.Week || !r.Date.IsZero()
}

// ResolveDay resolves a natural-language day string against today.
//
// Recognises: "today"/"meetings"/empty (today), "tomorrow", bare weekday
// names (nearest occurrence, today counts), "next <weekday>" (always the
// occurrence in the following Sunday-start week), and "this week". Leading
// phrases like "what's on " and "meetings " are stripped first.
func ResolveDay(text string, today time.Time) DayResult {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.ReplaceAll(text, "what's on ", "")
	text = strings.ReplaceAll(text, "whats on ", "")
	text = strings.ReplaceAll(text, "meetings ", "")
	text = strings.ReplaceAll(text, " meetings", "")
	text = strings.TrimSpace(text)

	if text == "this week" {
		return DayResult{Week: true}
	}

	if text == "today" || text == "meetings" || text == "" {
		return DayResult{Date: today, Label: DateLabel(today)}
	}

	if text == "tomorrow" {
		d := today.AddDate(0, 0, 1)
		return DayResult{Date: d, Label: DateLabel(d)}
	}

	if after, ok := strings.CutPrefix(text, "next "); ok {
		target, known := dayNames[strings.TrimSpace(after)]
		if known {
			// Always land in the following Sunday-start week, even when
			// the plain interpretation would be closer.
			daysAhead := int(target) - int(today.Weekday()) + 7
			d := today.AddDate(0, 0, daysAhead)
			return DayResult{Date: d, Label: DateLabel(d)}
		}
		return DayResult{}
	}

	if target, ok := dayNames[text]; ok {
		daysAhead := int(target) - int(today.Weekday())
		if daysAhead < 0 {
			daysAhead += 7
		}
		// daysAhead == 0 is valid: today counts as the nearest occurrence.
		d := today.AddDate(0, 0, daysAhead)
		return DayResult{Date: d, Label: DateLabel(d)}
	}

	return DayResult{}
}

// DateLabel formats a date the way query replies display it.
func DateLabel(d time.Time) string {
	return d.Format("Monday, Jan 2")
}

// WeekBounds returns the Sunday-start week containing today. Go weekdays are
// already Sunday-indexed, so the offset is days since the previous Sunday and
// the week always ends on Saturday.
func WeekBounds(today time.Time) (start, end time.Time) {
	offset := int(today.Weekday())
	start = today.AddDate(0, 0, -offset)
	end = start.AddDate(0, 0, 6)
	return start, end
}

var (
	dateDDMM     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	dateDDMMYYYY = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	timeHHMM     = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	rangeRE      = regexp.MustCompile(`^(\d{1,2}(?::\d{2})?(?:am|pm)?)-(\d{1,2}(?::\d{2})?(?:am|pm)?)$`)
	singleTimeRE = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm)?$`)
)

// ParseDate parses schedule-wizard date input: today/tomorrow words, DD/MM
// (rolled into next year when the date already passed), or DD/MM/YYYY.
// Returns the zero time when the input is unparseable.
func ParseDate(text string, today time.Time) time.Time {
	text = strings.ToLower(strings.TrimSpace(text))

	switch text {
	case "today":
		return today
	case "tomorrow":
		return today.AddDate(0, 0, 1)
	}

	if m := dateDDMM.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		d, ok := makeDate(today.Year(), month, day, today.Location())
		if !ok {
			return time.Time{}
		}
		if d.Before(today) {
			d, ok = makeDate(today.Year()+1, month, day, today.Location())
			if !ok {
				return time.Time{}
			}
		}
		return d
	}

	if m := dateDDMMYYYY.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		d, ok := makeDate(year, month, day, today.Location())
		if !ok {
			return time.Time{}
		}
		return d
	}

	return time.Time{}
}

// makeDate builds a date and rejects overflow like 31/02.
func makeDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if d.Day() != day || d.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return d, true
}

// ClockTime is a wall-clock (hour, minute) pair in 24-hour form.
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the minute-of-day value, used for ordering comparisons.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// String formats the time as zero-padded HH:MM.
func (c ClockTime) String() string {
	return pad2(c.Hour) + ":" + pad2(c.Minute)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// ParseHHMM parses strict 24-hour HH:MM input used by the digest-time and
// schedule-wizard prompts. am/pm suffixes and out-of-range values are
// rejected. Returns nil when the input does not parse.
func ParseHHMM(text string) *ClockTime {
	m := timeHHMM.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil
	}
	h, _ := strconv.Atoi(m[1])
	mn, _ := strconv.Atoi(m[2])
	if h < 0 || h > 23 || mn < 0 || mn > 59 {
		return nil
	}
	return &ClockTime{Hour: h, Minute: mn}
}

// TimeRange is a parsed start/end pair in 24-hour form.
type TimeRange struct {
	Start ClockTime
	End   ClockTime
}

// ParseTimeRange parses compact range forms like "2-4pm", "10am-12pm",
// "2:30pm-4pm" and "14:00-16:00". When only the end carries an am/pm marker
// it is inherited backward onto the unmarked start, so "2-4pm" means
// 14:00-16:00 rather than 02:00-16:00. Returns nil on malformed input,
// out-of-range values, or end <= start.
func ParseTimeRange(text string) *TimeRange {
	text = strings.ToLower(strings.TrimSpace(text))

	m := rangeRE.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	startH, startM, startAMPM, ok := parseSingleTime(m[1])
	if !ok {
		return nil
	}
	endH, endM, endAMPM, ok := parseSingleTime(m[2])
	if !ok {
		return nil
	}

	if startAMPM == "" && endAMPM != "" {
		// Inherit the end marker backward onto the unmarked start.
		if endAMPM == "pm" && startH < 12 {
			startH += 12
		} else if endAMPM == "am" && startH == 12 {
			startH = 0
		}
	} else if startAMPM == "pm" && startH != 12 {
		startH += 12
	} else if startAMPM == "am" && startH == 12 {
		startH = 0
	}

	if endAMPM == "pm" && endH != 12 {
		endH += 12
	} else if endAMPM == "am" && endH == 12 {
		endH = 0
	}

	if startH < 0 || startH > 23 || startM < 0 || startM > 59 {
		return nil
	}
	if endH < 0 || endH > 23 || endM < 0 || endM > 59 {
		return nil
	}

	r := &TimeRange{
		Start: ClockTime{Hour: startH, Minute: startM},
		End:   ClockTime{Hour: endH, Minute: endM},
	}
	if r.End.Minutes() <= r.Start.Minutes() {
		return nil
	}
	return r
}

// parseSingleTime parses one side of a range: "2", "2:30", "2pm", "2:30pm".
func parseSingleTime(text string) (hour, minute int, ampm string, ok bool) {
	m := singleTimeRE.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, "", false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	return hour, minute, m[3], true
}

// ParseClockTime parses lenient time strings like "7:30am", "9am", "14:00"
// and "9:00pm" into 24-hour form. Returns nil when unparseable.
func ParseClockTime(text string) *ClockTime {
	text = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(text)), " ", "")

	h, mn, ampm, ok := parseSingleTime(text)
	if !ok {
		return nil
	}
	if ampm == "pm" && h != 12 {
		h += 12
	} else if ampm == "am" && h == 12 {
		h = 0
	}
	if h < 0 || h > 23 || mn < 0 || mn > 59 {
		return nil
	}
	return &ClockTime{Hour: h, Minute: mn}
}
