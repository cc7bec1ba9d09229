package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultHour is the meeting hour used when only a date was given.
const DefaultHour = 12

var months = map[string]time.Month{
	"января": time.January, "февраля": time.February, "марта": time.March,
	"апреля": time.April, "мая": time.May, "июня": time.June,
	"июля": time.July, "августа": time.August, "сентября": time.September,
	"октября": time.October, "ноября": time.November, "декабря": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var (
	numericDate = regexp.MustCompile(`^(\d{1,2})[./](\d{1,2})(?:[./](\d{2,4}))?$`)
	dayMonth    = regexp.MustCompile(`^(\d{1,2})\s+(\S+)$`)
	inDays      = regexp.MustCompile(`^(?:через|in)\s+(\d{1,2})\s+`)
	clockTime   = regexp.MustCompile(`^(?:(?:в|at)\s+)?(\d{1,2})[:.](\d{2})$`)
	leadingNum  = regexp.MustCompile(`(\d{1,2})`)
)

// NextFullHour returns the start of the hour after now, in loc.
func NextFullHour(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), n.Hour()+1, 0, 0, 0, loc)
}

// Resolve turns the fragments of in into an instant in loc, strictly after
// now. It reports false when a fragment cannot be interpreted or the result
// lies in the past.
//
// A date without a time means DefaultHour on that date. A time without a
// date means today, or tomorrow when that time has already passed. A day and
// month without a year mean the next such date.
func Resolve(in *MeetingIntent, now time.Time, loc *time.Location) (time.Time, bool) {
	if in == nil || (in.Date == "" && in.Time == "") {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	hour, minute := DefaultHour, 0
	if in.Time != "" {
		h, m, ok := parseTime(in.Time)
		if !ok {
			return time.Time{}, false
		}
		hour, minute = h, m
	}

	var y int
	var mo time.Month
	var d int
	if in.Date != "" {
		var ok bool
		y, mo, d, ok = parseDate(in.Date, now)
		if !ok {
			return time.Time{}, false
		}
	} else {
		y, mo, d = now.Date()
		if !time.Date(y, mo, d, hour, minute, 0, 0, loc).After(now) {
			y, mo, d = now.AddDate(0, 0, 1).Date()
		}
	}

	t := time.Date(y, mo, d, hour, minute, 0, 0, loc)
	if t.Day() != d || t.Month() != mo { // 31.02 and friends
		return time.Time{}, false
	}
	if !t.After(now) {
		return time.Time{}, false
	}
	return t, true
}

func parseDate(frag string, now time.Time) (int, time.Month, int, bool) {
	frag = strings.TrimSpace(strings.ToLower(frag))
	y, mo, d := now.Date()

	switch frag {
	case "сегодня", "today":
		return y, mo, d, true
	case "завтра", "tomorrow":
		y, mo, d = now.AddDate(0, 0, 1).Date()
		return y, mo, d, true
	case "послезавтра", "day after tomorrow":
		y, mo, d = now.AddDate(0, 0, 2).Date()
		return y, mo, d, true
	}

	if m := numericDate.FindStringSubmatch(frag); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 {
			return 0, 0, 0, false
		}
		if m[3] != "" {
			year, _ := strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
			return year, time.Month(month), day, true
		}
		return rollYear(now, time.Month(month), day), time.Month(month), day, true
	}

	if m := inDays.FindStringSubmatch(frag); m != nil {
		n, _ := strconv.Atoi(m[1])
		y, mo, d = now.AddDate(0, 0, n).Date()
		return y, mo, d, true
	}

	if m := dayMonth.FindStringSubmatch(frag); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, ok := lookupMonth(m[2])
		if !ok || day < 1 {
			return 0, 0, 0, false
		}
		return rollYear(now, month, day), month, day, true
	}

	return 0, 0, 0, false
}

func lookupMonth(name string) (time.Month, bool) {
	if m, ok := months[name]; ok {
		return m, true
	}
	if len(name) >= 3 {
		if m, ok := months[name[:3]]; ok {
			return m, true
		}
	}
	return 0, false
}

// rollYear picks this year for month/day unless that date is already past.
func rollYear(now time.Time, month time.Month, day int) int {
	y := now.Year()
	today := time.Date(y, now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if time.Date(y, month, day, 0, 0, 0, 0, now.Location()).Before(today) {
		return y + 1
	}
	return y
}

func parseTime(frag string) (int, int, bool) {
	frag = strings.TrimSpace(strings.ToLower(frag))

	if m := clockTime.FindStringSubmatch(frag); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		if h > 23 || mins > 59 {
			return 0, 0, false
		}
		return h, mins, true
	}

	m := leadingNum.FindString(frag)
	if m == "" {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(m)
	if h > 23 {
		return 0, 0, false
	}

	switch {
	case containsAny(frag, "вечера", "дня", "pm", "p.m.", "afternoon", "evening"):
		if h < 12 {
			h += 12
		}
	case containsAny(frag, "утра", "ночи", "am", "a.m.", "morning"):
		if h == 12 {
			h = 0
		}
		if h > 12 {
			return 0, 0, false
		}
	}
	return h, 0, true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
