package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestCalendar_WeeklyExpiration(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"friday rolls to next friday", evalAt, date(2025, 3, 14)},
		{"monday", time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), date(2025, 3, 14)},
		{"good friday moves to thursday", time.Date(2025, 4, 11, 20, 0, 0, 0, time.UTC), date(2025, 4, 17)},
		{"late friday utc is still friday in new york", time.Date(2025, 3, 8, 1, 0, 0, 0, time.UTC), date(2025, 3, 14)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.WeeklyExpiration(tt.from))
		})
	}
}

func TestCalendar_AnchorExpiration(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	assert.Equal(t, date(2025, 5, 16), cal.AnchorExpiration(evalAt, 60))
	assert.Equal(t, date(2026, 1, 16), cal.AnchorExpiration(date(2025, 11, 20), 50))
}

func TestCalendar_Sessions(t *testing.T) {
	cal, err := NewCalendar(nil)
	require.NoError(t, err)

	assert.True(t, cal.IsRegularSession(evalAt))
	assert.False(t, cal.IsRegularSession(time.Date(2025, 3, 7, 21, 30, 0, 0, time.UTC)), "after close")
	assert.False(t, cal.IsRegularSession(time.Date(2025, 3, 8, 16, 0, 0, 0, time.UTC)), "saturday")
	assert.False(t, cal.IsRegularSession(time.Date(2025, 4, 18, 16, 0, 0, 0, time.UTC)), "holiday")
	assert.False(t, cal.IsRegularSession(time.Date(2025, 11, 28, 19, 0, 0, 0, time.UTC)), "early close")

	custom, err := NewCalendar([]string{"2025-03-14"})
	require.NoError(t, err)
	assert.Equal(t, date(2025, 3, 13), custom.WeeklyExpiration(evalAt))
	assert.False(t, custom.IsHoliday(date(2025, 4, 18)), "custom list replaces the built-in one")

	_, err = NewCalendar([]string{"14/03/2025"})
	assert.Error(t, err)
}
