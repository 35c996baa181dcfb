package notice

import (
	"regexp"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Layouts tried in order. Month-first wins over day-first for slash dates,
// matching how North American portals publish them.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02/01/2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
}

var isoPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// NormalizeDate converts a source date string to YYYY-MM-DD. Values that no
// known layout accepts degrade to "" rather than failing the record.
func NormalizeDate(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if m := isoPrefix.FindString(v); m != "" {
		if t, err := time.Parse(DateLayout, m); err == nil {
			return t.Format(DateLayout)
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(DateLayout)
		}
	}
	return ""
}

var dateInText = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{4}/\d{2}/\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},\s+\d{4}\b`),
}

// ExtractDate finds the first recognizable date in free text.
func ExtractDate(text string) string {
	for _, re := range dateInText {
		if m := re.FindString(text); m != "" {
			if d := NormalizeDate(m); d != "" {
				return d
			}
		}
	}
	return ""
}

// DaysSince returns whole days between an ISO date and today. ok is false
// when the date is missing or unparsable.
func DaysSince(isoDate string, today time.Time) (days float64, ok bool) {
	if isoDate == "" {
		return 0, false
	}
	d, err := time.Parse(DateLayout, strings.SplitN(isoDate, "T", 2)[0])
	if err != nil {
		return 0, false
	}
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	diff := t.Sub(d).Hours() / 24
	if diff < 0 {
		diff = 0
	}
	return float64(int(diff)), true
}
