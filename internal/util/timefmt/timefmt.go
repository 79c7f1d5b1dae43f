// Package timefmt provides timestamp formatting and UTC calendar
// bucketing helpers used by the analytics and API layers.
package timefmt

import "time"

// ISO8601 is the ISO-8601 format used for timestamp serialization.
const ISO8601 = "2006-01-02T15:04:05.000Z"

// DayKey is the format for daily aggregate bucket keys.
const DayKey = "2006-01-02"

// MonthKey is the format for monthly series bucket keys.
const MonthKey = "2006-01"

// Format formats a time.Time to the standard string representation.
func Format(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// Day returns the YYYY-MM-DD UTC bucket key for a unix-seconds timestamp.
func Day(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(DayKey)
}

// Month returns the YYYY-MM UTC bucket key for a unix-seconds timestamp.
func Month(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(MonthKey)
}

// DayStart returns the unix timestamp of midnight UTC on the day
// containing ts.
func DayStart(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// NextDay returns the unix timestamp of midnight UTC on the day after
// the day containing ts.
func NextDay(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC).Unix()
}

// ParseDay parses a YYYY-MM-DD date key into midnight UTC of that day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayKey, s, time.UTC)
}

// MonthStart returns midnight UTC on the first day of the month
// containing t.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthEnd returns midnight UTC on the last day of the month
// containing t.
func MonthEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
