package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"PT5M", epoch.Add(5 * time.Minute)},
		{"PT6M", epoch.Add(6 * time.Minute)},
		{"PT4H", epoch.Add(4 * time.Hour)},
		{"PT30S", epoch.Add(30 * time.Second)},
		{"PT1.5S", epoch.Add(1500 * time.Millisecond)},
		{"P1D", epoch.AddDate(0, 0, 1)},
		{"P1DT4H", epoch.AddDate(0, 0, 1).Add(4 * time.Hour)},
		{"P2W", epoch.AddDate(0, 0, 14)},
		{"P1M", epoch.AddDate(0, 1, 0)},
		{"P1Y", epoch.AddDate(1, 0, 0)},
		{"PT0S", epoch},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePeriod(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.AddTo(epoch))
			assert.Equal(t, tt.in, p.String())
		})
	}
}

func TestParsePeriod_CalendarMonth(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	p := MustParsePeriod("P1M")
	// time.AddDate normalizes Feb 31 to Mar 3 in a non-leap year.
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), p.AddTo(jan31))
}

func TestParsePeriod_Rejects(t *testing.T) {
	for _, in := range []string{
		"", "5m", "P", "PT", "PT5", "-PT5M", "P1.5D", "PT1.5H", "P0.5Y",
		"PT3000000H", "PT200000000M", "PT10000000000S", "P2000000Y", "P9999999D",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePeriod(in)
			assert.Error(t, err)
		})
	}
}

func TestParsePeriod_LargestClockComponent(t *testing.T) {
	// About 285 years of hours still fits a time.Duration.
	p, err := ParsePeriod("PT2500000H")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(2500000*time.Hour), p.AddTo(epoch))
	assert.True(t, p.AddTo(epoch).After(epoch))

	_, err = ParsePeriod("PT3000000H")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestPeriod_IsZero(t *testing.T) {
	assert.True(t, MustParsePeriod("PT0S").IsZero())
	assert.False(t, MustParsePeriod("PT1S").IsZero())
	assert.False(t, MustParsePeriod("P1D").IsZero())
}

func TestMustParsePeriod_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParsePeriod("soon") })
}
