// Package datespec holds the calendar date and time-of-day values used to
// build trigger boundaries. Months and days are zero-based.
package datespec

import "time"

// DateSpec is a calendar date with a zero-based month and day.
// A zero year means "no date".
type DateSpec struct {
	year  uint16
	month uint8
	day   uint8
}

// NewDate builds a DateSpec. A month above 11 or a day above 30 is reset to 0;
// the other fields are kept as given.
func NewDate(year uint16, month, day uint8) DateSpec {
	if month > 11 {
		month = 0
	}
	if day > 30 {
		day = 0
	}
	return DateSpec{year: year, month: month, day: day}
}

// Year returns the four digit year.
func (d DateSpec) Year() uint16 { return d.year }

// Month returns the month, 0 for January.
func (d DateSpec) Month() uint8 { return d.month }

// Day returns the day of the month, 0 for the first.
func (d DateSpec) Day() uint8 { return d.day }

// IsZero reports whether the date carries the "no date" sentinel year.
func (d DateSpec) IsZero() bool { return d.year == 0 }

// Time returns the instant of d at t in loc.
func (d DateSpec) Time(t TimeSpec, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(int(d.year), time.Month(d.month)+1, int(d.day)+1,
		int(t.hour), int(t.minute), int(t.second), 0, loc)
}

// TimeSpec is a time of day with second precision.
type TimeSpec struct {
	hour   uint8
	minute uint8
	second uint8
}

// NewTime builds a TimeSpec. Each field outside 0-23, 0-59, 0-59 is reset to 0
// on its own.
func NewTime(hour, minute, second uint8) TimeSpec {
	if hour > 23 {
		hour = 0
	}
	if minute > 59 {
		minute = 0
	}
	if second > 59 {
		second = 0
	}
	return TimeSpec{hour: hour, minute: minute, second: second}
}

// Hour returns the hour, 0-23.
func (t TimeSpec) Hour() uint8 { return t.hour }

// Minute returns the minute, 0-59.
func (t TimeSpec) Minute() uint8 { return t.minute }

// Second returns the second, 0-59.
func (t TimeSpec) Second() uint8 { return t.second }

// Sub returns t-u in seconds. There is no wrap at midnight: an earlier t gives
// a negative result.
func (t TimeSpec) Sub(u TimeSpec) int32 {
	return t.seconds() - u.seconds()
}

func (t TimeSpec) seconds() int32 {
	return int32(t.hour)*3600 + int32(t.minute)*60 + int32(t.second)
}

// FromTime splits t into its date and time of day, in t's location.
func FromTime(t time.Time) (DateSpec, TimeSpec) {
	date := NewDate(uint16(t.Year()), uint8(t.Month()-1), uint8(t.Day()-1))
	clock := NewTime(uint8(t.Hour()), uint8(t.Minute()), uint8(t.Second()))
	return date, clock
}
