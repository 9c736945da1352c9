// Package timeutil provides UTC day arithmetic for the insight engine.
// Retention decay and experiment gating both count elapsed days, and all
// telemetry timestamps are normalized to UTC.
// No external dependencies - uses only standard library.
package timeutil

import "time"

// HoursPerDay converts durations to fractional days.
const HoursPerDay = 24.0

// Days converts a duration to fractional days.
func Days(d time.Duration) float64 {
	return d.Hours() / HoursPerDay
}

// DaysBetween returns the fractional days from a to b. Negative when b is
// before a.
func DaysBetween(a, b time.Time) float64 {
	return Days(b.Sub(a))
}

// DaysSince returns the fractional days elapsed since t.
func DaysSince(t time.Time) float64 {
	return Days(time.Since(t))
}

// WholeDaysBetween returns the number of whole UTC calendar days between two
// times, ignoring time of day. Always non-negative.
func WholeDaysBetween(a, b time.Time) int {
	d1 := StartOfDayUTC(a)
	d2 := StartOfDayUTC(b)
	days := int(Days(d2.Sub(d1)))
	if days < 0 {
		days = -days
	}
	return days
}

// StartOfDayUTC returns midnight UTC of the given time's day.
func StartOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDayUTC returns the last nanosecond of the given time's UTC day.
func EndOfDayUTC(t time.Time) time.Time {
	return StartOfDayUTC(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// SameDayUTC reports whether two times fall on the same UTC calendar day.
func SameDayUTC(t1, t2 time.Time) bool {
	u1, u2 := t1.UTC(), t2.UTC()
	return u1.Year() == u2.Year() && u1.YearDay() == u2.YearDay()
}

// Span returns the duration covered by a set of timestamps: newest minus
// oldest. Fewer than two timestamps span nothing.
func Span(times []time.Time) time.Duration {
	if len(times) < 2 {
		return 0
	}

	oldest, newest := times[0], times[0]
	for _, t := range times[1:] {
		if t.Before(oldest) {
			oldest = t
		}
		if t.After(newest) {
			newest = t
		}
	}

	return newest.Sub(oldest)
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
)

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in UTC.
func FormatDateStr(t time.Time) string {
	return t.UTC().Format(FormatDate)
}

// ParseDateUTC parses a date string (YYYY-MM-DD) as midnight UTC.
func ParseDateUTC(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, time.UTC)
}
