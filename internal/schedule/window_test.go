package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SafeCircle/internal/model"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func dailySchedule(tz string, endHour, endMinute, grace int) *model.Schedule {
	return &model.Schedule{
		CheckerID:       1,
		WindowStartHour: 7,
		WindowEndHour:   endHour,
		WindowEndMinute: endMinute,
		Timezone:        tz,
		ActiveDays:      model.EveryDay,
		GraceMinutes:    grace,
		IsActive:        true,
	}
}

func TestIsWindowMissed_StrictlyAfterDeadline(t *testing.T) {
	s := dailySchedule("UTC", 10, 0, 30)
	deadline := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)

	assert.False(t, IsWindowMissed(s, deadline.Add(-time.Second)))
	assert.False(t, IsWindowMissed(s, deadline), "exactly at the deadline is not missed")
	assert.True(t, IsWindowMissed(s, deadline.Add(time.Second)))
}

func TestDeadline_AcrossTimezonesAndDST(t *testing.T) {
	tests := []struct {
		name string
		tz   string
		day  time.Time
		want time.Time
	}{
		{
			name: "new york before spring forward",
			tz:   "America/New_York",
			day:  time.Date(2026, 3, 7, 12, 0, 0, 0, mustLoad(t, "America/New_York")),
			want: time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "new york on spring forward day",
			tz:   "America/New_York",
			day:  time.Date(2026, 3, 8, 12, 0, 0, 0, mustLoad(t, "America/New_York")),
			want: time.Date(2026, 3, 8, 13, 0, 0, 0, time.UTC),
		},
		{
			name: "london before fall back",
			tz:   "Europe/London",
			day:  time.Date(2026, 10, 24, 12, 0, 0, 0, mustLoad(t, "Europe/London")),
			want: time.Date(2026, 10, 24, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "london on fall back day",
			tz:   "Europe/London",
			day:  time.Date(2026, 10, 25, 12, 0, 0, 0, mustLoad(t, "Europe/London")),
			want: time.Date(2026, 10, 25, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "kolkata half hour offset",
			tz:   "Asia/Kolkata",
			day:  time.Date(2026, 6, 1, 12, 0, 0, 0, mustLoad(t, "Asia/Kolkata")),
			want: time.Date(2026, 6, 1, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "sydney daylight time",
			tz:   "Australia/Sydney",
			day:  time.Date(2026, 4, 4, 12, 0, 0, 0, mustLoad(t, "Australia/Sydney")),
			want: time.Date(2026, 4, 3, 22, 0, 0, 0, time.UTC),
		},
		{
			name: "sydney after daylight time ends",
			tz:   "Australia/Sydney",
			day:  time.Date(2026, 4, 5, 12, 0, 0, 0, mustLoad(t, "Australia/Sydney")),
			want: time.Date(2026, 4, 4, 23, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := dailySchedule(tt.tz, 9, 0, 0)
			assert.True(t, tt.want.Equal(Deadline(s, tt.day)), "got %s", Deadline(s, tt.day).UTC())
		})
	}
}

func TestDeadline_NonexistentLocalTime(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	// 02:30 does not exist on 2026-03-08
	s := dailySchedule("America/New_York", 2, 30, 0)
	s.WindowStartHour = 1

	d := Deadline(s, time.Date(2026, 3, 8, 12, 0, 0, 0, ny))
	local := d.In(ny)
	assert.Equal(t, 8, local.Day())
	assert.True(t, d.After(time.Date(2026, 3, 8, 1, 0, 0, 0, ny)))
	assert.True(t, d.Before(time.Date(2026, 3, 8, 4, 0, 0, 0, ny)))
}

func TestIsWindowMissed_LocalDayNotUTCDay(t *testing.T) {
	// 20:00 + 30m in Kolkata is 15:00 UTC
	s := dailySchedule("Asia/Kolkata", 20, 0, 30)
	assert.False(t, IsWindowMissed(s, time.Date(2026, 6, 1, 14, 59, 0, 0, time.UTC)))
	assert.True(t, IsWindowMissed(s, time.Date(2026, 6, 1, 15, 1, 0, 0, time.UTC)))
	// 19:00 UTC is already 00:30 the next local day, whose deadline has not passed
	assert.False(t, IsWindowMissed(s, time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-06-02", LocalDay(s, time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC)))
}

func TestIsActiveDay(t *testing.T) {
	s := dailySchedule("Australia/Sydney", 9, 0, 0)
	s.ActiveDays = model.NewWeekdaySet(time.Monday)

	// Sunday 20:00 UTC is Monday morning in Sydney
	sundayUTC := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sundayUTC.Weekday())
	assert.True(t, IsActiveDay(s, sundayUTC))
	assert.False(t, IsActiveDay(s, sundayUTC.Add(24*time.Hour)))
}

func TestMissedWindow(t *testing.T) {
	t.Run("today after deadline", func(t *testing.T) {
		s := dailySchedule("UTC", 10, 0, 30)
		w, ok := MissedWindow(s, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
		require.True(t, ok)
		assert.Equal(t, "2026-03-10", w.Day)
		assert.True(t, w.Deadline.Equal(time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)))
		assert.True(t, w.DayStart.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("before deadline", func(t *testing.T) {
		s := dailySchedule("UTC", 10, 0, 30)
		_, ok := MissedWindow(s, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
		assert.False(t, ok)
	})

	t.Run("inactive day", func(t *testing.T) {
		s := dailySchedule("UTC", 10, 0, 30)
		s.ActiveDays = model.NewWeekdaySet(time.Monday)
		now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		require.Equal(t, time.Tuesday, now.Weekday())
		_, ok := MissedWindow(s, now)
		assert.False(t, ok)
	})

	t.Run("grace crosses midnight", func(t *testing.T) {
		s := dailySchedule("UTC", 23, 30, 60)

		_, ok := MissedWindow(s, time.Date(2026, 3, 11, 0, 15, 0, 0, time.UTC))
		assert.False(t, ok, "yesterday's deadline is 00:30")

		w, ok := MissedWindow(s, time.Date(2026, 3, 11, 0, 45, 0, 0, time.UTC))
		require.True(t, ok)
		assert.Equal(t, "2026-03-10", w.Day)
	})

	t.Run("yesterday without midnight crossing is not revisited", func(t *testing.T) {
		s := dailySchedule("UTC", 10, 0, 30)
		_, ok := MissedWindow(s, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC))
		assert.False(t, ok)
	})

	t.Run("overnight window", func(t *testing.T) {
		s := dailySchedule("UTC", 2, 0, 0)
		s.WindowStartHour = 22
		w := WindowFor(s, time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
		assert.True(t, w.End.Equal(time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)))
	})
}

func TestLocation_UnknownFallsBackToUTC(t *testing.T) {
	s := dailySchedule("Mars/Olympus_Mons", 10, 0, 0)
	assert.Equal(t, time.UTC, Location(s))
	assert.True(t, Deadline(s, time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)).Equal(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)))
}

func TestNudgeAt(t *testing.T) {
	s := dailySchedule("UTC", 10, 0, 30)
	w := WindowFor(s, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	_, ok := NudgeAt(s, w)
	assert.False(t, ok)

	s.ReminderLeadMinutes = 45
	at, ok := NudgeAt(s, w)
	require.True(t, ok)
	assert.True(t, at.Equal(time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)))
}

func TestThresholds(t *testing.T) {
	th := DefaultThresholds()
	require.NoError(t, th.Validate())

	assert.Equal(t, model.AlertLevelReminder, th.LevelFor(0))
	assert.Equal(t, model.AlertLevelReminder, th.LevelFor(24*time.Hour-time.Second))
	assert.Equal(t, model.AlertLevelSoft, th.LevelFor(24*time.Hour))
	assert.Equal(t, model.AlertLevelSoft, th.LevelFor(36*time.Hour-time.Second))
	assert.Equal(t, model.AlertLevelHard, th.LevelFor(36*time.Hour))
	assert.Equal(t, model.AlertLevelEscalation, th.LevelFor(48*time.Hour))
	assert.Equal(t, model.AlertLevelEscalation, th.LevelFor(400*time.Hour))

	assert.Error(t, Thresholds{Soft: time.Hour, Hard: time.Hour, Escalation: 2 * time.Hour}.Validate())
	assert.Error(t, Thresholds{Soft: 0, Hard: time.Hour, Escalation: 2 * time.Hour}.Validate())
}
