package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOccurrence_Interval(t *testing.T) {
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	t.Run("interval:60 fires 60 minutes later", func(t *testing.T) {
		next, err := NextOccurrence(base, "interval:60", "", "")
		require.NoError(t, err)
		assert.Equal(t, base.Add(time.Hour), next)
	})

	t.Run("interval:1 is the minimum valid", func(t *testing.T) {
		next, err := NextOccurrence(base, "interval:1", "", "")
		require.NoError(t, err)
		assert.Equal(t, base.Add(time.Minute), next)
	})

	t.Run("interval:0 rejected", func(t *testing.T) {
		_, err := NextOccurrence(base, "interval:0", "", "")
		assert.Error(t, err)
	})

	t.Run("interval:1441 rejected, outside [1,1440]", func(t *testing.T) {
		_, err := NextOccurrence(base, "interval:1441", "", "")
		assert.Error(t, err)
	})

	t.Run("interval:notanumber rejected", func(t *testing.T) {
		_, err := NextOccurrence(base, "interval:abc", "", "")
		assert.Error(t, err)
	})
}

func TestNextOccurrence_Calendar(t *testing.T) {
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC) // a Friday

	t.Run("daily adds 24h", func(t *testing.T) {
		next, err := NextOccurrence(base, RecurrenceDaily, "", "")
		require.NoError(t, err)
		assert.Equal(t, base.AddDate(0, 0, 1), next)
	})

	t.Run("weekly adds 7 days", func(t *testing.T) {
		next, err := NextOccurrence(base, RecurrenceWeekly, "", "")
		require.NoError(t, err)
		assert.Equal(t, base.AddDate(0, 0, 7), next)
	})

	t.Run("monthly adds a month", func(t *testing.T) {
		next, err := NextOccurrence(base, RecurrenceMonthly, "", "")
		require.NoError(t, err)
		assert.Equal(t, base.AddDate(0, 1, 0), next)
	})

	t.Run("weekdays from Friday skips the weekend", func(t *testing.T) {
		next, err := NextOccurrence(base, RecurrenceWeekdays, "", "")
		require.NoError(t, err)
		assert.Equal(t, time.Monday, next.Weekday())
	})

	t.Run("unrecognized recurrence errors", func(t *testing.T) {
		_, err := NextOccurrence(base, "fortnightly", "", "")
		assert.Error(t, err)
	})
}

func TestNextOccurrence_HourlyWindow(t *testing.T) {
	t.Run("inside window passes through unchanged", func(t *testing.T) {
		base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
		next, err := NextOccurrence(base, RecurrenceHourly, "09:00", "18:00")
		require.NoError(t, err)
		assert.Equal(t, base.Add(time.Hour), next)
	})

	t.Run("past window_end clamps to next day's window_start", func(t *testing.T) {
		base := time.Date(2026, 7, 31, 17, 30, 0, 0, time.UTC)
		next, err := NextOccurrence(base, RecurrenceHourly, "09:00", "18:00")
		require.NoError(t, err)
		want := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
		assert.Equal(t, want, next)
	})

	t.Run("before window_start clamps up to window_start same day", func(t *testing.T) {
		base := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)
		next, err := NextOccurrence(base, RecurrenceHourly, "09:00", "18:00")
		require.NoError(t, err)
		want := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
		assert.Equal(t, want, next)
	})

	t.Run("no window leaves hourly unconstrained", func(t *testing.T) {
		base := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
		next, err := NextOccurrence(base, RecurrenceHourly, "", "")
		require.NoError(t, err)
		assert.Equal(t, base.Add(time.Hour), next)
	})
}
