package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2024-02-29", FormatDate(d))

	for _, bad := range []string{"", "2024/01/01", "2023-02-29", "yesterday"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDaysInclusive(t *testing.T) {
	from, _ := ParseDate("2024-01-01")
	to, _ := ParseDate("2024-01-30")
	assert.Equal(t, 30, DaysInclusive(from, to))
	assert.Equal(t, 1, DaysInclusive(from, from))

	// Crosses a leap day and a month boundary.
	a, _ := ParseDate("2024-02-28")
	b, _ := ParseDate("2024-03-01")
	assert.Equal(t, 3, DaysInclusive(a, b))
}

func TestEpochToTime(t *testing.T) {
	assert.Equal(t, time.Unix(1704067200, 0).UTC(), EpochToTime(1704067200))
	assert.Equal(t, time.UnixMilli(1704067200123).UTC(), EpochToTime(1704067200123))
	assert.Equal(t, time.Unix(1704067200, 500000000).UTC(), EpochToTime(1704067200.5))
}

func TestParseISOTime(t *testing.T) {
	got, ok := ParseISOTime("2024-01-02T03:04:05")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, ok = ParseISOTime("2024-01-02T03:04:05+02:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), got)

	_, ok = ParseISOTime("not a time")
	assert.False(t, ok)
	_, ok = ParseISOTime("")
	assert.False(t, ok)
}
