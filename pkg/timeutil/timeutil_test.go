package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.InDelta(t, 1.0, DaysBetween(base, base.Add(24*time.Hour)), 1e-9)
	assert.InDelta(t, 0.5, DaysBetween(base, base.Add(12*time.Hour)), 1e-9)
	assert.InDelta(t, -2.0, DaysBetween(base, base.Add(-48*time.Hour)), 1e-9)
}

func TestWholeDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		a    time.Time
		b    time.Time
		want int
	}{
		{
			name: "same day different hours",
			a:    time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC),
			b:    time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC),
			want: 0,
		},
		{
			name: "adjacent days across midnight",
			a:    time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC),
			b:    time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC),
			want: 1,
		},
		{
			name: "reversed order is absolute",
			a:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			b:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WholeDaysBetween(tt.a, tt.b))
		})
	}
}

func TestStartOfDayUTC(t *testing.T) {
	// 23:30 in UTC+5 is 18:30 UTC the same calendar day
	loc := time.FixedZone("UTC+5", 5*60*60)
	local := time.Date(2026, 3, 10, 23, 30, 0, 0, loc)

	start := StartOfDayUTC(local)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), start)
}

func TestSameDayUTC(t *testing.T) {
	a := time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)
	b := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	c := time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC)

	assert.True(t, SameDayUTC(a, b))
	assert.False(t, SameDayUTC(b, c))
}

func TestSpan(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.Zero(t, Span(nil))
	assert.Zero(t, Span([]time.Time{base}))

	// Order must not matter
	times := []time.Time{
		base.Add(48 * time.Hour),
		base,
		base.Add(10 * time.Hour),
	}
	assert.Equal(t, 48*time.Hour, Span(times))
}

func TestParseDateUTC(t *testing.T) {
	parsed, err := ParseDateUTC("2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), parsed)

	_, err = ParseDateUTC("not-a-date")
	assert.Error(t, err)
}
