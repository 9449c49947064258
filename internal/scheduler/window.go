package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEndDateBeforeStartDate is returned when a window ends on an earlier calendar day than it starts.
	ErrEndDateBeforeStartDate = errors.New("scheduler: end date before start date")
	// ErrEmptyWindow is returned when a window does not end strictly after it starts.
	ErrEmptyWindow = errors.New("scheduler: window end must be after start")
	// ErrInvalidTimeOfDay is returned for time-of-day values outside [00:00, 24:00).
	ErrInvalidTimeOfDay = errors.New("scheduler: invalid time of day")
)

const dateLayout = "2006-01-02"

// Date is a calendar day with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns a normalized date, so NewDate(2025, 6, 31) is 2025-07-01.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD value.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("scheduler: parse date %q: %w", value, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return NewDate(d.Year, d.Month, d.Day+n)
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after other.
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }
func (d Date) Equal(other Date) bool  { return d.Compare(other) == 0 }

// Midnight returns the first instant of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, locationOrUTC(loc))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// TimeOfDay is the offset from midnight, with second precision.
type TimeOfDay time.Duration

// NewTimeOfDay builds a time of day from hour and minute components.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// TimeOfDayOf extracts the wall-clock time of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
}

// Valid reports whether the value lies within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && time.Duration(t) < 24*time.Hour
}

func (t TimeOfDay) components() (int, int, int) {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return h, m, s
}

func (t TimeOfDay) String() string {
	h, m, s := t.components()
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Format renders HH:MM:SS. Stored values use it so that they compare correctly as text.
func (t TimeOfDay) Format() string {
	h, m, s := t.components()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Combine attaches a time of day to a date in loc, producing an aware instant.
func Combine(d Date, t TimeOfDay, loc *time.Location) time.Time {
	h, m, s := t.components()
	return time.Date(d.Year, d.Month, d.Day, h, m, s, 0, locationOrUTC(loc))
}

// NormalizeInstant converts t into loc so every comparison and stored value shares one zone.
func NormalizeInstant(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(locationOrUTC(loc))
}

// ParseInstant parses an RFC3339 timestamp, or a naive wall time interpreted in loc.
func ParseInstant(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return NormalizeInstant(ts, loc), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if ts, err := time.ParseInLocation(layout, value, locationOrUTC(loc)); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("scheduler: parse instant %q", value)
}

func locationOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Window is the half-open interval [start, end) a reservation occupies a vehicle.
// EndDate after StartDate expresses a window crossing midnight.
type Window struct {
	StartDate Date
	StartTime TimeOfDay
	EndDate   Date
	EndTime   TimeOfDay
}

// WindowFromInstants builds a window from two instants, expressed in loc.
func WindowFromInstants(start, end time.Time, loc *time.Location) Window {
	start = NormalizeInstant(start, loc)
	end = NormalizeInstant(end, loc)
	return Window{
		StartDate: DateOf(start),
		StartTime: TimeOfDayOf(start),
		EndDate:   DateOf(end),
		EndTime:   TimeOfDayOf(end),
	}
}

func (w Window) Start(loc *time.Location) time.Time { return Combine(w.StartDate, w.StartTime, loc) }
func (w Window) End(loc *time.Location) time.Time   { return Combine(w.EndDate, w.EndTime, loc) }

// Duration is the length of the window.
func (w Window) Duration(loc *time.Location) time.Duration {
	return w.End(loc).Sub(w.Start(loc))
}

// CrossesMidnight reports whether the window ends on a later calendar day.
func (w Window) CrossesMidnight() bool {
	return w.EndDate.After(w.StartDate)
}

// Covers reports whether d falls inside [StartDate, EndDate].
func (w Window) Covers(d Date) bool {
	return !d.Before(w.StartDate) && !d.After(w.EndDate)
}

// Shift moves both bounds by delta.
func (w Window) Shift(delta time.Duration, loc *time.Location) Window {
	return WindowFromInstants(w.Start(loc).Add(delta), w.End(loc).Add(delta), loc)
}

// WithEnd returns a copy whose end is moved to end.
func (w Window) WithEnd(end time.Time, loc *time.Location) Window {
	return WindowFromInstants(w.Start(loc), end, loc)
}

// Overlaps reports whether the two half-open windows share any instant.
func (w Window) Overlaps(other Window, loc *time.Location) bool {
	return Overlap(w.Start(loc), w.End(loc), other.Start(loc), other.End(loc))
}

// Validate checks structural invariants of the window.
func (w Window) Validate(loc *time.Location) error {
	if !w.StartTime.Valid() || !w.EndTime.Valid() {
		return ErrInvalidTimeOfDay
	}
	if w.EndDate.Before(w.StartDate) {
		return ErrEndDateBeforeStartDate
	}
	if !w.End(loc).After(w.Start(loc)) {
		return ErrEmptyWindow
	}
	return nil
}

func (w Window) String() string {
	return fmt.Sprintf("%s %s - %s %s", w.StartDate, w.StartTime, w.EndDate, w.EndTime)
}

// Overlap reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
