package driver

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtualClock_StartsAtOrigin(t *testing.T) {
	c := NewVirtualClock(epoch)
	assert.Equal(t, epoch, c.Now())
}

func TestVirtualClock_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	c := NewVirtualClock(time.Date(2026, 1, 1, 2, 0, 0, 0, loc))
	assert.Equal(t, epoch, c.Now())
	assert.Equal(t, time.UTC, c.Now().Location())
}

func TestVirtualClock_AdvanceTo(t *testing.T) {
	c := NewVirtualClock(epoch)

	require.NoError(t, c.AdvanceTo(epoch.Add(5*time.Minute)))
	assert.Equal(t, epoch.Add(5*time.Minute), c.Now())

	// Same instant is allowed
	require.NoError(t, c.AdvanceTo(epoch.Add(5*time.Minute)))
	assert.Equal(t, epoch.Add(5*time.Minute), c.Now())
}

func TestVirtualClock_RegressionFails(t *testing.T) {
	c := NewVirtualClock(epoch)
	require.NoError(t, c.AdvanceTo(epoch.Add(time.Hour)))

	err := c.AdvanceTo(epoch.Add(59 * time.Minute))
	require.Error(t, err)
	assert.True(t, IsClockRegression(err))
	assert.Equal(t, "CLOCK_REGRESSION", ErrorCode(err))

	var ce *ClockRegressionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, epoch.Add(time.Hour), ce.Now)
	assert.Equal(t, epoch.Add(59*time.Minute), ce.Target)

	assert.Equal(t, epoch.Add(time.Hour), c.Now(), "failed advance must leave the clock unchanged")
}

func TestVirtualClock_NeverDecreases(t *testing.T) {
	c := NewVirtualClock(epoch)
	targets := []time.Duration{time.Minute, 30 * time.Second, 2 * time.Minute, time.Minute, 2 * time.Minute, time.Hour}

	prev := c.Now()
	for _, d := range targets {
		_ = c.AdvanceTo(epoch.Add(d))
		now := c.Now()
		assert.False(t, now.Before(prev), "clock moved from %s back to %s", prev, now)
		prev = now
	}
	assert.Equal(t, epoch.Add(time.Hour), c.Now())
}

func TestVirtualClock_ConcurrentReads(t *testing.T) {
	c := NewVirtualClock(epoch)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.False(t, c.Now().Before(epoch))
			}
		}()
	}
	for i := 1; i <= 100; i++ {
		require.NoError(t, c.AdvanceTo(epoch.Add(time.Duration(i)*time.Second)))
	}
	wg.Wait()
}
