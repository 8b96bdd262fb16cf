// Package civiltime interprets wall-clock dates and times in the bot's fixed
// civil timezone (Europe/Moscow, constant UTC+3).
//
// The zone is modeled as a fixed offset, not a tz-database zone: Moscow has not
// observed DST since 2014, so conversion is plain offset arithmetic. If the
// target zone ever reinstates DST this package must switch to a real
// time.LoadLocation lookup.
package civiltime

import "time"

// Zone is the fixed civil timezone all user-facing dates are interpreted in.
var Zone = time.FixedZone("MSK", 3*60*60)

// Date is a wall-clock point in the civil zone.
type Date struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// FromTime decomposes an absolute instant into civil-zone wall-clock terms.
func FromTime(t time.Time) Date {
	local := t.In(Zone)
	return Date{
		Year:   local.Year(),
		Month:  local.Month(),
		Day:    local.Day(),
		Hour:   local.Hour(),
		Minute: local.Minute(),
	}
}

// ToAbsolute converts a civil wall-clock point to an absolute instant.
func (d Date) ToAbsolute() time.Time {
	return time.Date(d.Year, d.Month, d.Day, d.Hour, d.Minute, 0, 0, Zone)
}

// AddDays returns the civil date n days later, rolling over month and year
// boundaries.
func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day, d.Hour, d.Minute, 0, 0, Zone).AddDate(0, 0, n)
	return FromTime(t)
}

// At returns a copy of d with the time of day replaced.
func (d Date) At(hour, minute int) Date {
	d.Hour = hour
	d.Minute = minute
	return d
}

// Weekday reports the day of the week of the civil date.
func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, Zone).Weekday()
}

// DayRange returns the [start, end) absolute bounds of the civil day d falls on.
func (d Date) DayRange() (time.Time, time.Time) {
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, Zone)
	return start, start.AddDate(0, 0, 1)
}

// TodayRange returns the [start, end) absolute bounds of the civil day
// containing now.
func TodayRange(now time.Time) (time.Time, time.Time) {
	return FromTime(now).DayRange()
}
