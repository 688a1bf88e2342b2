package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDate marks a date/datetime the caller supplied that cannot be
// parsed or produces an empty range.
var ErrInvalidDate = errors.New("invalid date")

// LocalISO is the wire format for instants: local time, no offset.
const LocalISO = "2006-01-02T15:04:05"

const dateOnly = "2006-01-02"

// Warsaw is the reference zone for all local timestamps. The portal serves
// times in Europe/Warsaw regardless of the client.
var Warsaw = loadWarsaw()

func loadWarsaw() *time.Location {
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		return time.Local
	}
	return loc
}

// Range is a half-open [Start, End) fetch window in the Warsaw zone.
type Range struct {
	Start time.Time
	End   time.Time
}

// StartLocal returns the start as local ISO without offset.
func (r Range) StartLocal() string {
	return r.Start.In(Warsaw).Format(LocalISO)
}

// EndLocal returns the exclusive end as local ISO without offset.
func (r Range) EndLocal() string {
	return r.End.In(Warsaw).Format(LocalISO)
}

// StartAPI returns the start as ISO with the Warsaw offset, the form the
// portal query parameters expect.
func (r Range) StartAPI() string {
	return r.Start.In(Warsaw).Format(time.RFC3339)
}

// EndAPI returns the exclusive end as ISO with the Warsaw offset.
func (r Range) EndAPI() string {
	return r.End.In(Warsaw).Format(time.RFC3339)
}

// Days returns the number of calendar days the range spans, rounded up.
func (r Range) Days() int {
	d := r.End.Sub(r.Start)
	days := int(d.Hours() / 24)
	if d > time.Duration(days)*24*time.Hour {
		days++
	}
	return days
}

// Weeks returns how many 7-day windows are needed to cover the range.
func (r Range) Weeks() int {
	days := r.Days()
	if days <= 0 {
		return 1
	}
	return (days + 6) / 7
}

// ParseDateOrISO accepts YYYY-MM-DD, ISO datetime with offset, or ISO
// datetime without offset (assumed Europe/Warsaw). Returns the instant in
// the Warsaw zone.
func ParseDateOrISO(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	if !strings.Contains(value, "T") {
		t, err := time.ParseInLocation(dateOnly, value, Warsaw)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
		}
		return t, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(Warsaw), nil
	}
	t, err := time.ParseInLocation(LocalISO, value, Warsaw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return t, nil
}

// MondayFor returns the Monday of the ISO week containing value. An empty
// value means "this week" relative to now.
func MondayFor(value string, now time.Time) (time.Time, error) {
	var day time.Time
	if strings.TrimSpace(value) == "" {
		day = now.In(Warsaw)
	} else {
		parsed, err := ParseDateOrISO(value)
		if err != nil {
			return time.Time{}, err
		}
		day = parsed
	}

	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	monday := day.AddDate(0, 0, -offset)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, Warsaw), nil
}

// WeekWindow returns the Monday-to-next-Monday window containing anchor,
// end exclusive.
func WeekWindow(anchor time.Time) Range {
	day := anchor.In(Warsaw)
	offset := (int(day.Weekday()) + 6) % 7
	monday := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, Warsaw).AddDate(0, 0, -offset)
	return Range{Start: monday, End: monday.AddDate(0, 0, 7)}
}

// DefaultRange returns "three calendar months back through today", the
// window used when discovery is triggered without explicit bounds. The day
// of month is clamped when the earlier month is shorter (Jan 31 -> Oct 31,
// May 31 -> Feb 28).
func DefaultRange(now time.Time) Range {
	today := now.In(Warsaw)
	y, m := today.Year(), int(today.Month())-3
	for m <= 0 {
		m += 12
		y--
	}
	day := today.Day()
	if last := daysInMonth(y, time.Month(m)); day > last {
		day = last
	}
	start := time.Date(y, time.Month(m), day, 0, 0, 0, 0, Warsaw)
	end := time.Date(today.Year(), today.Month(), today.Day(), 23, 59, 59, 0, Warsaw)
	return Range{Start: start, End: end}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, Warsaw).Day()
}

// SyncBounds resolves a discovery window. Missing bounds default to the
// three-months-back window; a bare end date extends to 23:59:59 of that day.
func SyncBounds(rangeStart, rangeEnd string, now time.Time) (Range, error) {
	rangeStart = strings.TrimSpace(rangeStart)
	rangeEnd = strings.TrimSpace(rangeEnd)
	ret := DefaultRange(now)

	var err error
	if rangeStart != "" {
		if ret.Start, err = ParseDateOrISO(rangeStart); err != nil {
			return Range{}, err
		}
	}
	if rangeEnd != "" {
		if strings.Contains(rangeEnd, "T") {
			if ret.End, err = ParseDateOrISO(rangeEnd); err != nil {
				return Range{}, err
			}
		} else {
			d, err := ParseDateOrISO(rangeEnd)
			if err != nil {
				return Range{}, err
			}
			ret.End = time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, Warsaw)
		}
	}
	if !ret.End.After(ret.Start) {
		return Range{}, fmt.Errorf("%w: end must be after start", ErrInvalidDate)
	}
	return ret, nil
}

// RangeBounds resolves an explicit [rangeStart, rangeEnd] request into a
// half-open window. A bare end date is treated as inclusive: the window
// extends to the following midnight. When either bound is missing the week
// window of fallbackMonday applies.
func RangeBounds(rangeStart, rangeEnd string, fallbackMonday time.Time) (Range, error) {
	rangeStart = strings.TrimSpace(rangeStart)
	rangeEnd = strings.TrimSpace(rangeEnd)
	if rangeStart == "" || rangeEnd == "" {
		return WeekWindow(fallbackMonday), nil
	}

	start, err := ParseDateOrISO(rangeStart)
	if err != nil {
		return Range{}, err
	}

	var end time.Time
	if !strings.Contains(rangeEnd, "T") {
		d, err := ParseDateOrISO(rangeEnd)
		if err != nil {
			return Range{}, err
		}
		end = d.AddDate(0, 0, 1)
	} else {
		end, err = ParseDateOrISO(rangeEnd)
		if err != nil {
			return Range{}, err
		}
	}

	if !end.After(start) {
		return Range{}, fmt.Errorf("%w: range_end must be after range_start", ErrInvalidDate)
	}
	return Range{Start: start, End: end}, nil
}
