// Package intent spots meeting requests in free text.
//
// Extraction is light pattern matching over Russian and English phrasing: a
// scheduling keyword plus a date-like or time-like fragment. It does not
// understand language; Resolve turns the fragments it finds into an instant
// on a best-effort basis.
package intent

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MeetingIntent is a detected meeting request. Date and Time hold the
// matched fragments (lower-cased), either of which may be empty, never both.
type MeetingIntent struct {
	Date       string
	Time       string
	RawMessage string
}

// Extractor detects meeting intent in a message. A nil result means "not a
// meeting request".
type Extractor interface {
	Extract(message string) *MeetingIntent
}

// DefaultKeywords mark a message as a scheduling request.
var DefaultKeywords = []string{
	// ru
	"встреча", "встречу", "встретиться", "созвон", "созвониться", "консультация", "консультацию",
	// en
	"meeting", "meet", "call", "consultation", "appointment",
}

const monthsRU = `января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря`

const monthsEN = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

// Patterns are tried in order; the first match wins.
var (
	datePatterns = []*regexp.Regexp{
		// Day and month must be in range, so "15.00" is left to the time patterns.
		regexp.MustCompile(`\b(0?[1-9]|[12]\d|3[01])[./](0?[1-9]|1[0-2])(?:[./](\d{4}|\d{2}))?\b`),
		regexp.MustCompile(`послезавтра|завтра|сегодня|day after tomorrow|tomorrow|today`),
		regexp.MustCompile(`(?:через|in)\s+\d{1,2}\s+(?:дня|дней|день|days?)`),
		regexp.MustCompile(`(\d{1,2})\s+(` + monthsRU + `|` + monthsEN + `)`),
	}
	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,2}):(\d{2})`),
		regexp.MustCompile(`(?:в|at)\s+(\d{1,2})\.(\d{2})\b`),
		regexp.MustCompile(`(?:в\s+(\d{1,2})\s*(?:часов|часа|час)(?:\s+(?:утра|вечера|дня|ночи))?)|(?:at\s+(\d{1,2})\s*o'?clock(?:\s+in the (?:morning|afternoon|evening))?)`),
		regexp.MustCompile(`(\d{1,2})\s*(?:(?:часов|часа|час)\s*)?(утра|вечера|дня|ночи|am|pm|a\.m\.|p\.m\.|in the morning|in the afternoon|in the evening)`),
	}
)

// Heuristic is the pattern-matching Extractor. Latin keywords match whole
// words, optionally inflected (call, calls, called, calling). Cyrillic
// keywords match as substrings so stems catch the Russian case endings.
type Heuristic struct {
	stems []string
	words *regexp.Regexp
}

var _ Extractor = (*Heuristic)(nil)

// NewHeuristic returns an extractor using DefaultKeywords plus extra.
func NewHeuristic(extra ...string) *Heuristic {
	h := &Heuristic{}
	var latin []string
	seen := make(map[string]bool)
	for _, k := range append(append([]string{}, DefaultKeywords...), extra...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		if isLatin(k) {
			latin = append(latin, regexp.QuoteMeta(k))
		} else {
			h.stems = append(h.stems, k)
		}
	}
	if len(latin) > 0 {
		h.words = regexp.MustCompile(`\b(?:` + strings.Join(latin, "|") + `)(?:s|es|ed|ing|ings)?\b`)
	}
	return h
}

func isLatin(s string) bool {
	for _, r := range s {
		if r >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Extract implements Extractor.
func (h *Heuristic) Extract(message string) *MeetingIntent {
	if strings.TrimSpace(message) == "" {
		return nil
	}
	lower := strings.ToLower(message)

	if !h.hasKeyword(lower) {
		return nil
	}

	date := firstMatch(datePatterns, lower)
	rest := lower
	if date != "" {
		// "через 2 дня" must not also be read as the time "2 дня".
		rest = strings.Replace(lower, date, " ", 1)
	}
	tm := firstMatch(timePatterns, rest)
	if date == "" && tm == "" {
		return nil
	}
	return &MeetingIntent{Date: date, Time: tm, RawMessage: message}
}

func (h *Heuristic) hasKeyword(lower string) bool {
	if h.words != nil && h.words.MatchString(lower) {
		return true
	}
	for _, k := range h.stems {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func firstMatch(patterns []*regexp.Regexp, s string) string {
	for _, p := range patterns {
		if m := p.FindString(s); m != "" {
			return m
		}
	}
	return ""
}
