package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CRON EXPRESSION
// ══════════════════════════════════════════════════════════════════════════════

// CronExpression represents a parsed cron expression and implements Schedule.
// Format: "minute hour day-of-month month day-of-week"
// Supports: *, specific values, ranges (1-5), lists (1,3,5), steps (*/15)
type CronExpression struct {
	raw        string
	minutes    map[int]bool
	hours      map[int]bool
	days       map[int]bool
	months     map[int]bool
	daysOfWeek map[int]bool
}

// ParseCronExpression parses a standard 5-field cron expression.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}

	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}

	days, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day field: %w", err)
	}

	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}

	daysOfWeek, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	return &CronExpression{
		raw:        expr,
		minutes:    minutes,
		hours:      hours,
		days:       days,
		months:     months,
		daysOfWeek: daysOfWeek,
	}, nil
}

// MustParseCronExpression parses a cron expression, panicking on error.
// Use only for compile-time-known expressions.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

// parseField parses a single cron field into a set of allowed values.
func parseField(field string, minVal, maxVal int) (map[int]bool, error) {
	result := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		// Handle step values (*/n or range/n)
		step := 1
		if idx := strings.Index(part, "/"); idx != -1 {
			stepStr := part[idx+1:]
			s, err := strconv.Atoi(stepStr)
			if err != nil || s <= 0 {
				return nil, fmt.Errorf("invalid step value: %s", stepStr)
			}
			step = s
			part = part[:idx]
		}

		var lo, hi int
		switch {
		case part == "*":
			lo, hi = minVal, maxVal
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			l, err := strconv.Atoi(bounds[0])
			if err != nil {
				return nil, fmt.Errorf("invalid range start: %s", bounds[0])
			}
			h, err := strconv.Atoi(bounds[1])
			if err != nil {
				return nil, fmt.Errorf("invalid range end: %s", bounds[1])
			}
			lo, hi = l, h
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value: %s", part)
			}
			lo, hi = v, v
		}

		if lo < minVal || hi > maxVal || lo > hi {
			return nil, fmt.Errorf("value out of range [%d-%d]: %s", minVal, maxVal, part)
		}

		for v := lo; v <= hi; v += step {
			result[v] = true
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("empty field")
	}

	return result, nil
}

// Next returns the next time matching the expression after t.
// Searches at most one year ahead.
func (c *CronExpression) Next(t time.Time) time.Time {
	// Start from the next minute boundary
	next := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 0)

	for next.Before(limit) {
		if c.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}

	return time.Time{}
}

// matches reports whether the given time satisfies the expression.
func (c *CronExpression) matches(t time.Time) bool {
	return c.minutes[t.Minute()] &&
		c.hours[t.Hour()] &&
		c.days[t.Day()] &&
		c.months[int(t.Month())] &&
		c.daysOfWeek[int(t.Weekday())]
}

// String returns the raw cron expression.
func (c *CronExpression) String() string {
	return c.raw
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// Common schedules for the insight engine's batch jobs.
var (
	// EveryMinute runs at the start of every minute.
	EveryMinute = MustParseCronExpression("* * * * *")

	// Hourly runs at the start of every hour.
	Hourly = MustParseCronExpression("0 * * * *")

	// NightlyAt3 runs at 03:00, after the LMS has settled its daily rollups.
	NightlyAt3 = MustParseCronExpression("0 3 * * *")

	// NightlyAt4 runs at 04:00, giving the telemetry sync an hour head start.
	NightlyAt4 = MustParseCronExpression("0 4 * * *")

	// WeeklySundayAt2 runs every Sunday at 02:00.
	WeeklySundayAt2 = MustParseCronExpression("0 2 * * 0")
)
