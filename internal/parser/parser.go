// Package parser turns free-form Russian reminder text into a structured
// reminder request.
//
// It is deliberately not a general date-time grammar: a small ordered set of
// regex-anchored templates is recognized, and anything outside that set is a
// typed failure. The failure taxonomy depends on the set staying closed, so
// new phrasings should be added as explicit templates.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"napomnibot/internal/civiltime"
)

// Reason is a typed parse-failure cause. Each maps to one canned user reply.
type Reason string

const (
	ReasonMissingDate   Reason = "missing_date"
	ReasonInvalidTime   Reason = "invalid_time"
	ReasonEmptyText     Reason = "empty_text"
	ReasonTimeInPast    Reason = "time_in_past"
	ReasonInvalidFormat Reason = "invalid_format"
)

type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return "parse: " + string(e.Reason)
}

// Result is a successfully parsed reminder request.
type Result struct {
	Text         string
	DueAt        time.Time
	EveryMinutes int // 0 means one-shot
	Important    bool
}

// Default reminder times. Tomorrow and later days get a fixed morning slot; a
// same-day reminder with no time rolls to the next whole hour so it stays in
// the near future.
const (
	defaultHour = 10
	lastHour    = 23
	lastMinute  = 59
)

var (
	commandRe    = regexp.MustCompile(`(?i)^напомни(?:ть)?(?:\s+мне)?(?:\s|$)`)
	importantRe  = regexp.MustCompile(`(?i)(?:^|\s)(важно|важное|срочно|срочное)(?:\s|$)`)
	recurrenceRe = regexp.MustCompile(`(?i)(?:^|\s)кажд(?:ый|ые|ую|ое)(?:\s+(\d+))?\s+(минуту|минуты|минут|мин|час|часа|часов|день|дня|дней)(?:\s|$)`)
	todayRe      = regexp.MustCompile(`(?i)(?:^|\s)сегодня(?:\s|$)`)
	tomorrowRe   = regexp.MustCompile(`(?i)(?:^|\s)завтра(?:\s|$)`)
	afterTomRe   = regexp.MustCompile(`(?i)(?:^|\s)послезавтра(?:\s|$)`)
	weekdayRe    = regexp.MustCompile(`(?i)(?:^|\s)(?:во?\s+)?(понедельник|вторник|среду|среда|четверг|пятницу|пятница|субботу|суббота|воскресенье)(?:\s|$)`)
	dateRe       = regexp.MustCompile(`(?:^|\s)(\d{1,2})\.(\d{1,2})(?:\.(\d{4}))?(?:\s|$)`)
	timeRe       = regexp.MustCompile(`(?i)(?:^|\s)(?:в\s+)?(\d{1,2}):(\d{2})(?:\s|$)`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

var weekdays = map[string]time.Weekday{
	"понедельник": time.Monday,
	"вторник":     time.Tuesday,
	"среда":       time.Wednesday,
	"среду":       time.Wednesday,
	"четверг":     time.Thursday,
	"пятница":     time.Friday,
	"пятницу":     time.Friday,
	"суббота":     time.Saturday,
	"субботу":     time.Saturday,
	"воскресенье": time.Sunday,
}

type Parser struct {
	clock clock.Clock
}

func New(clk clock.Clock) *Parser {
	return &Parser{clock: clk}
}

// Parse extracts a due instant, recurrence interval and importance flag from
// raw user text. The remaining words become the task text.
func (p *Parser) Parse(input string) (*Result, error) {
	s := spaceRe.ReplaceAllString(strings.TrimSpace(input), " ")
	if s == "" {
		return nil, &Error{Reason: ReasonEmptyText}
	}

	s = commandRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	res := &Result{}

	s, res.Important = extractImportance(s)

	var err error
	s, res.EveryMinutes, err = extractRecurrence(s)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	civilNow := civiltime.FromTime(now)

	s, day, dayFound, err := extractDay(s, civilNow)
	if err != nil {
		return nil, err
	}
	if !dayFound {
		// A recurrence phrase alone is not enough: the user is asked to add a
		// date rather than the bot guessing a start point.
		return nil, &Error{Reason: ReasonMissingDate}
	}

	s, hour, minute, timeFound, err := extractTime(s)
	if err != nil {
		return nil, err
	}
	if !timeFound {
		hour, minute = defaultTime(day, civilNow)
	}

	due := day.At(hour, minute).ToAbsolute()
	if !due.After(now) {
		return nil, &Error{Reason: ReasonTimeInPast}
	}
	res.DueAt = due

	res.Text = cleanText(s)
	if res.Text == "" {
		return nil, &Error{Reason: ReasonEmptyText}
	}

	return res, nil
}

func extractImportance(s string) (string, bool) {
	important := false
	for strings.HasPrefix(s, "!") {
		important = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "!"))
	}
	if loc := importantRe.FindStringIndex(s); loc != nil {
		important = true
		s = cut(s, loc[0], loc[1])
	}
	return s, important
}

func extractRecurrence(s string) (string, int, error) {
	m := recurrenceRe.FindStringSubmatchIndex(s)
	if m == nil {
		return s, 0, nil
	}

	n := 1
	if m[2] >= 0 {
		parsed, err := strconv.Atoi(s[m[2]:m[3]])
		if err != nil || parsed <= 0 {
			return s, 0, &Error{Reason: ReasonInvalidFormat}
		}
		n = parsed
	}

	unit := strings.ToLower(s[m[4]:m[5]])
	minutes := n
	switch {
	case strings.HasPrefix(unit, "час"):
		minutes = n * 60
	case strings.HasPrefix(unit, "д"):
		minutes = n * 24 * 60
	}

	return cut(s, m[0], m[1]), minutes, nil
}

// extractDay locates the date anchor and resolves it to a civil date.
// The more specific "послезавтра" is checked before "завтра" so the shorter
// word never matches inside the longer one.
func extractDay(s string, now civiltime.Date) (string, civiltime.Date, bool, error) {
	if loc := afterTomRe.FindStringIndex(s); loc != nil {
		return cut(s, loc[0], loc[1]), now.AddDays(2), true, nil
	}
	if loc := tomorrowRe.FindStringIndex(s); loc != nil {
		return cut(s, loc[0], loc[1]), now.AddDays(1), true, nil
	}
	if loc := todayRe.FindStringIndex(s); loc != nil {
		return cut(s, loc[0], loc[1]), now, true, nil
	}
	if m := weekdayRe.FindStringSubmatchIndex(s); m != nil {
		name := strings.ToLower(s[m[2]:m[3]])
		target := weekdays[name]
		ahead := (int(target) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7 // same weekday means next week, never today
		}
		return cut(s, m[0], m[1]), now.AddDays(ahead), true, nil
	}
	if m := dateRe.FindStringSubmatchIndex(s); m != nil {
		day, _ := strconv.Atoi(s[m[2]:m[3]])
		month, _ := strconv.Atoi(s[m[4]:m[5]])
		if day < 1 || day > 31 || month < 1 || month > 12 {
			return s, civiltime.Date{}, false, &Error{Reason: ReasonInvalidFormat}
		}
		year := now.Year
		if m[6] >= 0 {
			year, _ = strconv.Atoi(s[m[6]:m[7]])
		}
		d := civiltime.Date{Year: year, Month: time.Month(month), Day: day}
		return cut(s, m[0], m[1]), d, true, nil
	}
	return s, civiltime.Date{}, false, nil
}

func extractTime(s string) (string, int, int, bool, error) {
	m := timeRe.FindStringSubmatchIndex(s)
	if m == nil {
		return s, 0, 0, false, nil
	}
	hour, _ := strconv.Atoi(s[m[2]:m[3]])
	minute, _ := strconv.Atoi(s[m[4]:m[5]])
	if hour > 23 || minute > 59 {
		return s, 0, 0, false, &Error{Reason: ReasonInvalidTime}
	}
	return cut(s, m[0], m[1]), hour, minute, true, nil
}

// defaultTime picks the time of day when the user gave none: a fixed morning
// slot for future days, the next whole hour (clamped) for today.
func defaultTime(day, now civiltime.Date) (int, int) {
	sameDay := day.Year == now.Year && day.Month == now.Month && day.Day == now.Day
	if !sameDay {
		return defaultHour, 0
	}
	if now.Hour < defaultHour {
		return defaultHour, 0
	}
	if now.Hour >= lastHour {
		return lastHour, lastMinute
	}
	return now.Hour + 1, 0
}

func cleanText(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " ,.!")
}

// cut removes s[start:end] and restores a single separating space.
func cut(s string, start, end int) string {
	joined := strings.TrimSpace(s[:start]) + " " + strings.TrimSpace(s[end:])
	return strings.TrimSpace(joined)
}
