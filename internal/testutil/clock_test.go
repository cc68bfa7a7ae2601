package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClock_StartsAtEpoch(t *testing.T) {
	c := NewClock()
	assert.Equal(t, Epoch, c.Now())
}

func TestNewClock_Independent(t *testing.T) {
	a := NewClock()
	b := NewClock()

	require.NoError(t, a.AdvanceTo(Epoch.Add(time.Hour)))

	assert.Equal(t, Epoch.Add(time.Hour), a.Now())
	assert.Equal(t, Epoch, b.Now(), "advancing one clock must not move another")
}

func TestAt(t *testing.T) {
	assert.Equal(t, Epoch.Add(5*time.Minute), At("PT5M"))
	assert.Equal(t, Epoch.AddDate(0, 0, 1).Add(4*time.Hour), At("P1DT4H"))
}
