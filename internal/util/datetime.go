package util

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format accepted on the command line and by the export API.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysInclusive returns the number of calendar days in [from, to].
// Both values must be midnight UTC dates as returned by ParseDate.
func DaysInclusive(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24) + 1
}

// EpochToTime converts an epoch value that may be seconds (possibly fractional)
// or milliseconds into a UTC time. Values above 1e11 are treated as milliseconds.
func EpochToTime(v float64) time.Time {
	if v > 1e11 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// ParseISOTime parses the ISO-8601 variants the profiles API emits
// ("2024-01-02T03:04:05", with or without zone or fraction).
func ParseISOTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05", DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
