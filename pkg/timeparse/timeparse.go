// Package timeparse resolves free-text schedule input into absolute instants.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Hint is the user-facing help shown when input cannot be resolved.
const Hint = "❌ Не удалось распознать дату/время.\n\n" +
	"Используйте формат:\n" +
	"• <code>15:30</code> — сегодня\n" +
	"• <code>завтра 15:30</code>\n" +
	"• <code>25.01 15:30</code>\n" +
	"• <code>сейчас</code> — опубликовать немедленно"

// ParseError reports schedule input that could not be resolved.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse datetime %q", e.Input)
}

// Result is a resolved schedule instant. Immediate is set when the input was
// an immediate-publish keyword.
type Result struct {
	At        time.Time
	Immediate bool
}

var immediateWords = map[string]struct{}{
	"now":        {},
	"сейчас":     {},
	"немедленно": {},
}

// Day-prefix keywords and their offset from today.
var dayWords = []struct {
	word   string
	offset int
}{
	{"сегодня", 0},
	{"завтра", 1},
	{"послезавтра", 2},
}

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// Resolve parses schedule input relative to now in the given location.
//
// Recognized inputs, in priority order: immediate keywords; a day prefix
// ("сегодня"/"завтра"/"послезавтра") with an HH:MM time; a bare HH:MM (today,
// rolled forward a day if already past); "DD.MM HH:MM" or "DD.MM.YYYY HH:MM";
// and finally a general day-first date parser. Resolve is stateless and safe
// for concurrent use.
func Resolve(text string, now time.Time, loc *time.Location) (Result, error) {
	input := strings.ToLower(strings.TrimSpace(text))
	now = now.In(loc)

	if _, ok := immediateWords[input]; ok {
		return Result{At: now, Immediate: true}, nil
	}

	dayOffset := 0
	timePart := input
	for _, d := range dayWords {
		if strings.HasPrefix(input, d.word) {
			dayOffset = d.offset
			timePart = strings.TrimSpace(input[len(d.word):])
			break
		}
	}

	// Bare HH:MM, optionally after a day word.
	if m := clockRe.FindStringSubmatch(timePart); m != nil {
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[2])
		if hours > 23 || minutes > 59 {
			return Result{}, &ParseError{Input: text}
		}

		day := now.AddDate(0, 0, dayOffset)
		at := time.Date(day.Year(), day.Month(), day.Day(), hours, minutes, 0, 0, loc)

		// A time that already passed today rolls forward one day. Dates
		// pinned to a future day never roll.
		if dayOffset == 0 && !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return Result{At: at}, nil
	}

	// "DD.MM HH:MM" or "DD.MM.YYYY HH:MM".
	if parts := strings.Fields(timePart); len(parts) == 2 && strings.ContainsAny(parts[0], "./") {
		at, err := parseDateTime(parts[0], parts[1], now, loc)
		if err != nil {
			return Result{}, &ParseError{Input: text}
		}
		return Result{At: at}, nil
	}

	// Fallback: free-form parse with day-before-month bias.
	parsed, err := dateparse.ParseIn(input, loc, dateparse.PreferMonthFirst(false))
	if err != nil {
		return Result{}, &ParseError{Input: text}
	}
	return Result{At: parsed}, nil
}

func parseDateTime(dateStr, timeStr string, now time.Time, loc *time.Location) (time.Time, error) {
	dateParts := strings.Split(strings.ReplaceAll(dateStr, "/", "."), ".")
	if len(dateParts) < 2 {
		return time.Time{}, fmt.Errorf("malformed date %q", dateStr)
	}

	day, err := strconv.Atoi(dateParts[0])
	if err != nil {
		return time.Time{}, err
	}
	month, err := strconv.Atoi(dateParts[1])
	if err != nil {
		return time.Time{}, err
	}
	year := now.Year()
	if len(dateParts) > 2 {
		if year, err = strconv.Atoi(dateParts[2]); err != nil {
			return time.Time{}, err
		}
	}

	m := clockRe.FindStringSubmatch(timeStr)
	if m == nil {
		return time.Time{}, fmt.Errorf("malformed time %q", timeStr)
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])

	if month < 1 || month > 12 || day < 1 || day > 31 || hours > 23 || minutes > 59 {
		return time.Time{}, fmt.Errorf("out-of-range date/time %q %q", dateStr, timeStr)
	}

	at := time.Date(year, time.Month(month), day, hours, minutes, 0, 0, loc)
	// Reject dates normalized by time.Date, e.g. 31.02.
	if at.Day() != day || at.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", dateStr)
	}
	return at, nil
}

// Format renders an instant for display: "сегодня в 15:04", "завтра в 15:04",
// or "02.01.2006 в 15:04" relative to now.
func Format(at, now time.Time, loc *time.Location) string {
	at = at.In(loc)
	now = now.In(loc)

	y1, m1, d1 := at.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return "сегодня в " + at.Format("15:04")
	}

	y2, m2, d2 = now.AddDate(0, 0, 1).Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return "завтра в " + at.Format("15:04")
	}

	return at.Format("02.01.2006 в 15:04")
}
