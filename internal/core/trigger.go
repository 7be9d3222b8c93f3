package core

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"taskschedule/internal/datespec"
)

var _ cron.Schedule = (*DailySchedule)(nil)

// DailySchedule fires at the start boundary and then every interval days at
// the same wall clock time. With an end boundary it keeps firing through the
// end date itself and stops at the following midnight.
type DailySchedule struct {
	start    time.Time
	until    time.Time
	interval int
}

// NewDailySchedule builds a schedule from stored trigger boundaries,
// interpreted in loc.
func NewDailySchedule(startBoundary, endBoundary string, interval int, loc *time.Location) (*DailySchedule, error) {
	if loc == nil {
		loc = time.Local
	}
	if interval < 1 {
		interval = 1
	}
	date, clock, err := datespec.ParseBoundary(startBoundary)
	if err != nil {
		return nil, fmt.Errorf("start boundary %q: %w", startBoundary, err)
	}
	s := &DailySchedule{start: date.Time(clock, loc), interval: interval}
	if endBoundary != "" {
		endDate, _, err := datespec.ParseBoundary(endBoundary)
		if err != nil {
			return nil, fmt.Errorf("end boundary %q: %w", endBoundary, err)
		}
		s.until = endDate.Time(datespec.TimeSpec{}, loc).AddDate(0, 0, 1)
	}
	return s, nil
}

// Start returns the first occurrence.
func (s *DailySchedule) Start() time.Time { return s.start }

// Next returns the first occurrence strictly after t, or the zero time once
// the schedule has expired.
func (s *DailySchedule) Next(t time.Time) time.Time {
	k := 0
	if !t.Before(s.start) {
		k = s.lastIndexAtOrBefore(t) + 1
	}
	next := s.occurrence(k)
	if s.expired(next) {
		return time.Time{}
	}
	return next
}

// Prev returns the latest occurrence at or before t, or the zero time when
// there is none.
func (s *DailySchedule) Prev(t time.Time) time.Time {
	if !s.until.IsZero() && !t.Before(s.until) {
		t = s.until.Add(-time.Nanosecond)
	}
	if t.Before(s.start) {
		return time.Time{}
	}
	return s.occurrence(s.lastIndexAtOrBefore(t))
}

// NextOccurrences returns up to n occurrences after base.
func (s *DailySchedule) NextOccurrences(base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = s.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}

func (s *DailySchedule) occurrence(k int) time.Time {
	// AddDate keeps the wall clock across DST changes.
	return s.start.AddDate(0, 0, k*s.interval)
}

// lastIndexAtOrBefore expects t >= start.
func (s *DailySchedule) lastIndexAtOrBefore(t time.Time) int {
	k := int(t.Sub(s.start)/(24*time.Hour)) / s.interval
	for k > 0 && s.occurrence(k).After(t) {
		k--
	}
	for !s.occurrence(k + 1).After(t) {
		k++
	}
	return k
}

func (s *DailySchedule) expired(t time.Time) bool {
	return !s.until.IsZero() && !t.Before(s.until)
}
