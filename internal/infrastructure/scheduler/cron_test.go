package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every minute", expr: "* * * * *"},
		{name: "nightly", expr: "0 3 * * *"},
		{name: "range", expr: "0 9-17 * * 1-5"},
		{name: "list", expr: "0 0,12 * * *"},
		{name: "step", expr: "*/15 * * * *"},
		{name: "too few fields", expr: "0 3 * *", wantErr: true},
		{name: "minute out of range", expr: "60 * * * *", wantErr: true},
		{name: "hour out of range", expr: "0 24 * * *", wantErr: true},
		{name: "garbage", expr: "a b c d e", wantErr: true},
		{name: "inverted range", expr: "0 5-3 * * *", wantErr: true},
		{name: "zero step", expr: "*/0 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestCronExpressionNext(t *testing.T) {
	// Monday 2026-01-05 10:30 UTC.
	base := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			name: "every minute",
			expr: "* * * * *",
			want: time.Date(2026, 1, 5, 10, 31, 0, 0, time.UTC),
		},
		{
			name: "top of next hour",
			expr: "0 * * * *",
			want: time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "nightly rolls to next day",
			expr: "0 3 * * *",
			want: time.Date(2026, 1, 6, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly sunday",
			expr: "0 2 * * 0",
			want: time.Date(2026, 1, 11, 2, 0, 0, 0, time.UTC),
		},
		{
			name: "quarter hour step",
			expr: "*/15 * * * *",
			want: time.Date(2026, 1, 5, 10, 45, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := MustParseCronExpression(tt.expr)
			assert.Equal(t, tt.want, ce.Next(base))
		})
	}
}

func TestCronExpressionNextSkipsSubMinute(t *testing.T) {
	// Mid-minute input must not match the current minute.
	ce := MustParseCronExpression("* * * * *")
	base := time.Date(2026, 1, 5, 10, 30, 45, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 31, 0, 0, time.UTC), ce.Next(base))
}

func TestCronPresets(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, 3, NightlyAt3.Next(base).Hour())
	assert.Equal(t, 4, NightlyAt4.Next(base).Hour())
	assert.Equal(t, time.Sunday, WeeklySundayAt2.Next(base).Weekday())
	assert.Equal(t, 2, WeeklySundayAt2.Next(base).Hour())
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(30 * time.Minute)
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, base.Add(30*time.Minute), s.Next(base))
	assert.Equal(t, "@every 30m0s", s.String())
}

func TestIntervalScheduleClampsToTickResolution(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Minute},
		{"sub-resolution", time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewIntervalSchedule(tt.interval)
			assert.Equal(t, TickResolution, s.Interval)
		})
	}
}
