package scheduler

import (
	"fmt"
	"time"
)

// TickResolution is how often the scheduler polls for due jobs. Intervals
// below it cannot be honored and are clamped up to it.
const TickResolution = time.Second

// IntervalSchedule runs a job at a fixed distance from its previous run.
// The sync and sweep jobs use it; calendar-anchored jobs use a cron
// expression instead.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a fixed-interval schedule. Intervals shorter
// than the scheduler's tick resolution are raised to it.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval < TickResolution {
		interval = TickResolution
	}
	return &IntervalSchedule{Interval: interval}
}

// Next returns the run time one interval after t.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String renders the schedule in "@every" notation.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}
