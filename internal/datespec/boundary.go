package datespec

import (
	"errors"
	"regexp"
	"strconv"
)

// BoundaryBufferSize is the smallest buffer PutBoundary accepts: 19 visible
// characters plus a terminator slot.
const BoundaryBufferSize = 20

const boundaryLen = BoundaryBufferSize - 1

var (
	ErrBufferTooSmall   = errors.New("destination buffer too small for boundary")
	ErrBoundaryOverflow = errors.New("date does not fit the boundary format")
	ErrInvalidBoundary  = errors.New("invalid boundary string")
	ErrInvalidDate      = errors.New("date must be in YYYY/MM/DD format")
	ErrYearOutOfRange   = errors.New("year must be 1970 or later")
	ErrInvalidTime      = errors.New("time must be in HH:MM:SS format")
)

var (
	datePattern     = regexp.MustCompile(`^(\d+)/(\d+)/(\d+)$`)
	timePattern     = regexp.MustCompile(`^(\d{1,2}):(\d{1,2}):(\d{1,2})$`)
	boundaryPattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})T(\d{2}):(\d{2}):(\d{2})$`)
)

// PutBoundary writes date and t into dst as YYYY-MM-DDTHH:MM:SS with one-based
// month and day, followed by a zero byte. It returns the number of visible
// characters written, or false when dst is shorter than BoundaryBufferSize or
// the year needs more than four digits.
func PutBoundary(dst []byte, date DateSpec, t TimeSpec) (int, bool) {
	if len(dst) < BoundaryBufferSize {
		return 0, false
	}
	if date.year > 9999 {
		return 0, false
	}
	buf := dst[:0]
	buf = appendPadded(buf, int(date.year), 4)
	buf = append(buf, '-')
	buf = appendPadded(buf, int(date.month)+1, 2)
	buf = append(buf, '-')
	buf = appendPadded(buf, int(date.day)+1, 2)
	buf = append(buf, 'T')
	buf = appendPadded(buf, int(t.hour), 2)
	buf = append(buf, ':')
	buf = appendPadded(buf, int(t.minute), 2)
	buf = append(buf, ':')
	buf = appendPadded(buf, int(t.second), 2)
	buf = append(buf, 0)
	return boundaryLen, true
}

// FormatBoundary returns the boundary string for date at t. Pass TimeSpec{}
// for midnight.
func FormatBoundary(date DateSpec, t TimeSpec) (string, error) {
	if date.year > 9999 {
		return "", ErrBoundaryOverflow
	}
	var buf [BoundaryBufferSize]byte
	n, ok := PutBoundary(buf[:], date, t)
	if !ok {
		return "", ErrBufferTooSmall
	}
	return string(buf[:n]), nil
}

// ParseBoundary reads a string produced by FormatBoundary back into its date
// and time of day.
func ParseBoundary(s string) (DateSpec, TimeSpec, error) {
	m := boundaryPattern.FindStringSubmatch(s)
	if m == nil {
		return DateSpec{}, TimeSpec{}, ErrInvalidBoundary
	}
	var f [6]uint64
	for i := range f {
		v, err := strconv.ParseUint(m[i+1], 10, 16)
		if err != nil {
			return DateSpec{}, TimeSpec{}, ErrInvalidBoundary
		}
		f[i] = v
	}
	if f[1] < 1 || f[1] > 12 || f[2] < 1 || f[2] > 31 || f[3] > 23 || f[4] > 59 || f[5] > 59 {
		return DateSpec{}, TimeSpec{}, ErrInvalidBoundary
	}
	date := NewDate(uint16(f[0]), uint8(f[1]-1), uint8(f[2]-1))
	clock := NewTime(uint8(f[3]), uint8(f[4]), uint8(f[5]))
	return date, clock, nil
}

// ParseDate reads a human-entered YYYY/MM/DD date with one-based month and day.
//
// The one-based fields are shifted down in 8-bit arithmetic before NewDate
// normalizes them, so a month or day of 00 wraps to 255 and then resets to 0:
// "2017/00/15" parses as January 15th rather than failing.
func ParseDate(s string) (DateSpec, error) {
	if s == "" {
		return DateSpec{}, ErrInvalidDate
	}
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return DateSpec{}, ErrInvalidDate
	}
	year, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return DateSpec{}, ErrInvalidDate
	}
	month, err := strconv.ParseUint(m[2], 10, 8)
	if err != nil {
		return DateSpec{}, ErrInvalidDate
	}
	day, err := strconv.ParseUint(m[3], 10, 8)
	if err != nil {
		return DateSpec{}, ErrInvalidDate
	}
	if year < 1970 {
		return DateSpec{}, ErrYearOutOfRange
	}
	return NewDate(uint16(year), uint8(month)-1, uint8(day)-1), nil
}

// ParseTime reads an HH:MM:SS time of day. Out-of-range fields are reset by
// NewTime, not rejected.
func ParseTime(s string) (TimeSpec, error) {
	if s == "" {
		return TimeSpec{}, ErrInvalidTime
	}
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return TimeSpec{}, ErrInvalidTime
	}
	var f [3]uint8
	for i := range f {
		v, err := strconv.ParseUint(m[i+1], 10, 8)
		if err != nil {
			return TimeSpec{}, ErrInvalidTime
		}
		f[i] = uint8(v)
	}
	return NewTime(f[0], f[1], f[2]), nil
}

func appendPadded(buf []byte, v, width int) []byte {
	s := strconv.Itoa(v)
	for i := len(s); i < width; i++ {
		buf = append(buf, '0')
	}
	return append(buf, s...)
}
