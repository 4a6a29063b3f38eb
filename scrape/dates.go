package scrape

import (
	"regexp"
	"strings"
	"time"

	istrings "github.com/campushq/coursetrack/internal/strings"
)

var (
	sqlDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	weekdayPrefix = regexp.MustCompile(`(?i)^(monday|tuesday|wednesday|thursday|friday|saturday|sunday),?\s*`)
	commaTime     = regexp.MustCompile(`,\s*(\d{1,2}:\d{2})`)
	opensText     = regexp.MustCompile(`(?i)opens?\s+(?:on\s+)?(.+)`)
)

// siteDateLayouts are the human-readable shapes the site renders, after
// weekday stripping, whitespace collapsing, and am/pm lowercasing.
var siteDateLayouts = []struct {
	layout  string
	hasYear bool
	hasTime bool
}{
	{"Jan 2 at 3:04pm", false, true},
	{"Jan 2 at 3:04 pm", false, true},
	{"January 2 at 3:04pm", false, true},
	{"January 2 at 3:04 pm", false, true},
	{"Jan 2, 2006 at 3:04pm", true, true},
	{"Jan 2, 2006 at 3:04 pm", true, true},
	{"January 2, 2006 at 3:04pm", true, true},
	{"January 2, 2006 at 3:04 pm", true, true},
	{"Jan 2 3:04pm", false, true},
	{"Jan 2 3:04 pm", false, true},
	{"January 2 3:04pm", false, true},
	{"January 2 3:04 pm", false, true},
	{"Jan 2, 2006", true, false},
	{"January 2, 2006", true, false},
	{"Jan 2", false, false},
	{"January 2", false, false},
}

// ParseSiteDate parses the date shapes the site renders: SQL-style
// timestamps and human-readable forms like "Thursday, Jan 29 at 12:30pm".
// Dates without a year get the current year; human date-only forms get
// 23:59. Unparseable input returns nil; the caller records the item with
// no due date rather than dropping it.
func ParseSiteDate(raw string, now time.Time, loc *time.Location) *time.Time {
	cleaned := istrings.NormalizeWhitespace(raw)
	if cleaned == "" {
		return nil
	}

	if sqlDatePrefix.MatchString(cleaned) {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", cleaned, loc); err == nil {
			return &t
		}
		dateOnly := strings.Fields(cleaned)[0]
		if t, err := time.ParseInLocation("2006-01-02", dateOnly, loc); err == nil {
			return &t
		}
	}

	cleaned = weekdayPrefix.ReplaceAllString(cleaned, "")
	cleaned = istrings.NormalizeWhitespace(cleaned)
	// "Jan 29, 12:30pm" renders without "at" sometimes.
	cleaned = commaTime.ReplaceAllString(cleaned, " at $1")
	// "Jan." style abbreviations.
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.NewReplacer("AM", "am", "PM", "pm", "Am", "am", "Pm", "pm").Replace(cleaned)

	for _, shape := range siteDateLayouts {
		t, err := time.ParseInLocation(shape.layout, cleaned, loc)
		if err != nil {
			continue
		}
		year := t.Year()
		if !shape.hasYear {
			year = now.Year()
		}
		hour, minute := t.Hour(), t.Minute()
		if !shape.hasTime {
			hour, minute = 23, 59
		}
		parsed := time.Date(year, t.Month(), t.Day(), hour, minute, 0, 0, loc)
		return &parsed
	}

	return nil
}

// ExtractOpensDate pulls a date out of "Opens Jan 15" style button text
// on unavailable items, so they still sort onto the calendar.
func ExtractOpensDate(text string, now time.Time, loc *time.Location) *time.Time {
	match := opensText.FindStringSubmatch(istrings.NormalizeWhitespace(text))
	if match == nil {
		return nil
	}
	return ParseSiteDate(match[1], now, loc)
}
