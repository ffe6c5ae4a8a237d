package evergy

import (
	"fmt"
	"time"
)

// Interval is the sampling granularity of usage data, encoded the way the
// portal's report URLs expect it.
type Interval string

const (
	IntervalDay           Interval = "d"
	IntervalHour          Interval = "h"
	IntervalFifteenMinute Interval = "mi"
)

// Valid reports whether the interval is one the portal understands.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDay, IntervalHour, IntervalFifteenMinute:
		return true
	}
	return false
}

// Duration returns the length of one interval unit. Unknown intervals
// return 0.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalFifteenMinute:
		return 15 * time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	}
	return 0
}

// PastDate returns midnight UTC of the day daysBack days before today.
// PastDate(0) is midnight today.
func PastDate(daysBack int) time.Time {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -daysBack)
}

// IntervalEnd returns the last moment covered by count intervals starting
// at from, inclusive on both ends, so IntervalEnd(from, 1, i) == from.
// count below 1 is a contract violation.
func IntervalEnd(from time.Time, count int, interval Interval) (time.Time, error) {
	if count < 1 {
		return time.Time{}, fmt.Errorf("%w: got %d", ErrInvalidCount, count)
	}
	n := count - 1
	switch interval {
	case IntervalFifteenMinute:
		return from.Add(time.Duration(n) * 15 * time.Minute), nil
	case IntervalHour:
		return from.Add(time.Duration(n) * time.Hour), nil
	case IntervalDay:
		return from.AddDate(0, 0, n), nil
	}
	return time.Time{}, fmt.Errorf("unknown interval %q", interval)
}
