package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekWindow_StartsOnMonday(t *testing.T) {
	// Sweep a few weeks of anchors; every window must start on a Monday at
	// midnight and span exactly seven days.
	anchor := time.Date(2026, 3, 1, 12, 30, 0, 0, Warsaw)
	for i := 0; i < 28; i++ {
		day := anchor.AddDate(0, 0, i)
		window := WeekWindow(day)

		assert.Equal(t, time.Monday, window.Start.Weekday())
		assert.True(t, window.Start.Before(window.End))
		assert.Equal(t, window.Start.AddDate(0, 0, 7), window.End)
		assert.False(t, day.Before(window.Start))
		assert.True(t, day.Before(window.End))
	}
}

func TestWeekWindow_MondayAnchorIsItsOwnStart(t *testing.T) {
	// 2026-03-16 is a Monday.
	window := WeekWindow(time.Date(2026, 3, 16, 0, 0, 0, 0, Warsaw))

	assert.Equal(t, "2026-03-16T00:00:00", window.StartLocal())
	assert.Equal(t, "2026-03-23T00:00:00", window.EndLocal())
}

func TestMondayFor(t *testing.T) {
	now := time.Date(2026, 3, 19, 9, 0, 0, 0, Warsaw) // Thursday

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "empty uses now", value: "", want: "2026-03-16"},
		{name: "date mid week", value: "2026-03-18", want: "2026-03-16"},
		{name: "sunday snaps back", value: "2026-03-22", want: "2026-03-16"},
		{name: "monday stays", value: "2026-03-16", want: "2026-03-16"},
		{name: "iso datetime", value: "2026-03-20T15:00:00", want: "2026-03-16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monday, err := MondayFor(tt.value, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, monday.Format("2006-01-02"))
			assert.Equal(t, time.Monday, monday.Weekday())
		})
	}
}

func TestMondayFor_RejectsGarbage(t *testing.T) {
	_, err := MondayFor("not-a-date", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDate))
}

func TestDefaultRange_ThreeMonthsBack(t *testing.T) {
	now := time.Date(2026, 5, 15, 10, 0, 0, 0, Warsaw)
	r := DefaultRange(now)

	assert.Equal(t, "2026-02-15T00:00:00", r.StartLocal())
	assert.Equal(t, "2026-05-15T23:59:59", r.EndLocal())
}

func TestDefaultRange_ClampsDayOfMonth(t *testing.T) {
	// May 31 minus three months lands in February, which has no 31st.
	now := time.Date(2026, 5, 31, 10, 0, 0, 0, Warsaw)
	r := DefaultRange(now)

	assert.Equal(t, "2026-02-28T00:00:00", r.StartLocal())
}

func TestDefaultRange_CrossesYearBoundary(t *testing.T) {
	now := time.Date(2026, 1, 10, 10, 0, 0, 0, Warsaw)
	r := DefaultRange(now)

	assert.Equal(t, "2025-10-10T00:00:00", r.StartLocal())
}

func TestRangeBounds_BareEndDateIsInclusive(t *testing.T) {
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, Warsaw)

	r, err := RangeBounds("2026-03-01", "2026-03-10", monday)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T00:00:00", r.StartLocal())
	assert.Equal(t, "2026-03-11T00:00:00", r.EndLocal())
}

func TestRangeBounds_ISOEndTakenVerbatim(t *testing.T) {
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, Warsaw)

	r, err := RangeBounds("2026-03-01", "2026-03-10T18:00:00", monday)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10T18:00:00", r.EndLocal())
}

func TestRangeBounds_MissingBoundsFallBackToWeek(t *testing.T) {
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, Warsaw)

	r, err := RangeBounds("", "", monday)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-16T00:00:00", r.StartLocal())
	assert.Equal(t, "2026-03-23T00:00:00", r.EndLocal())
}

func TestRangeBounds_RejectsInvertedRange(t *testing.T) {
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, Warsaw)

	_, err := RangeBounds("2026-03-10", "2026-03-01", monday)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDate))
}

func TestRange_Weeks(t *testing.T) {
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, Warsaw)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{name: "single week", end: monday.AddDate(0, 0, 7), want: 1},
		{name: "eight days needs two", end: monday.AddDate(0, 0, 8), want: 2},
		{name: "degenerate still one", end: monday, want: 1},
		{name: "three months", end: monday.AddDate(0, 3, 0), want: 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Range{Start: monday, End: tt.end}
			assert.Equal(t, tt.want, r.Weeks())
		})
	}
}

func TestParseDateOrISO(t *testing.T) {
	got, err := ParseDateOrISO("2026-02-09T00:00:00+01:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09T00:00:00", got.Format(LocalISO))

	got, err = ParseDateOrISO("2026-02-09T08:15:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09T08:15:00", got.Format(LocalISO))

	_, err = ParseDateOrISO("")
	require.Error(t, err)
}

func TestSyncBounds(t *testing.T) {
	now := time.Date(2026, time.March, 18, 12, 0, 0, 0, Warsaw)

	got, err := SyncBounds("", "", now)
	require.NoError(t, err)
	assert.Equal(t, "2025-12-18T00:00:00", got.StartLocal(), "defaults to three months back")
	assert.Equal(t, "2026-03-18T23:59:59", got.EndLocal())

	got, err = SyncBounds("2026-03-01", "2026-03-10", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T00:00:00", got.StartLocal())
	assert.Equal(t, "2026-03-10T23:59:59", got.EndLocal(), "bare end date covers the whole day")

	got, err = SyncBounds("2026-03-01T08:00:00", "", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T08:00:00", got.StartLocal())
	assert.Equal(t, "2026-03-18T23:59:59", got.EndLocal(), "missing end keeps the default")

	_, err = SyncBounds("2026-03-10", "2026-03-01", now)
	require.ErrorIs(t, err, ErrInvalidDate)

	_, err = SyncBounds("garbage", "", now)
	require.ErrorIs(t, err, ErrInvalidDate)
}
