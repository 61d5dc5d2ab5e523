package market_hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEasterKnownDates(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		day   int
	}{
		{2024, time.March, 31},
		{2025, time.April, 20},
		{2026, time.April, 5},
		{2027, time.March, 28},
	}

	for _, tt := range tests {
		got := Easter(tt.year)
		assert.Equal(t, tt.month, got.Month(), "year %d", tt.year)
		assert.Equal(t, tt.day, got.Day(), "year %d", tt.year)
	}
}

func TestNthWeekday(t *testing.T) {
	// Thanksgiving 2026: fourth Thursday of November
	got := nthWeekday(2026, 11, time.Thursday, 4)
	assert.Equal(t, 26, got.Day())

	// MLK Day 2026: third Monday of January
	got = nthWeekday(2026, 1, time.Monday, 3)
	assert.Equal(t, 19, got.Day())
}

func TestLastWeekday(t *testing.T) {
	// Memorial Day 2026: last Monday of May
	got := lastWeekday(2026, 5, time.Monday)
	assert.Equal(t, 25, got.Day())

	// Summer Bank Holiday 2026: last Monday of August
	got = lastWeekday(2026, 8, time.Monday)
	assert.Equal(t, 31, got.Day())
}

func TestObserveOnWeekday(t *testing.T) {
	saturday := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Friday, observeOnWeekday(saturday).Weekday())
	assert.Equal(t, 3, observeOnWeekday(saturday).Day())

	sunday := time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Monday, observeOnWeekday(sunday).Weekday())

	wednesday := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, wednesday, observeOnWeekday(wednesday))
}

func TestHolidaysForYearUS(t *testing.T) {
	m := Get("US")
	require.NotNil(t, m)

	days := holidaysForYear(m, 2026)

	dates := make(map[string]bool, len(days))
	for _, d := range days {
		dates[d.Format("2006-01-02")] = true
	}

	assert.True(t, dates["2026-01-01"], "New Year's Day")
	assert.True(t, dates["2026-04-03"], "Good Friday")
	assert.True(t, dates["2026-05-25"], "Memorial Day")
	assert.True(t, dates["2026-07-03"], "Independence Day observed")
	assert.True(t, dates["2026-11-26"], "Thanksgiving")
	assert.True(t, dates["2026-12-25"], "Christmas")
}
