package frameclock

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observe(c *Clock, timestamps ...int64) error {
	for _, ts := range timestamps {
		c.Observe(ts)
	}
	return c.EndCycle()
}

func TestBounds(t *testing.T) {
	c := New()
	assert.Equal(t, int64(math.MinInt64), c.RetentionCutoff())

	require.NoError(t, observe(c, 20, 10))
	assert.Equal(t, Bounds{Min: 10, Max: 20}, c.Current())
	assert.Equal(t, int64(math.MinInt64), c.RetentionCutoff())

	require.NoError(t, observe(c, 25, 30))
	assert.Equal(t, Bounds{Min: 25, Max: 30}, c.Current())
	assert.Equal(t, Bounds{Min: 10, Max: 20}, c.Previous())
	assert.Equal(t, int64(10), c.RetentionCutoff())
	assert.Equal(t, uint64(2), c.Cycle())
	assert.False(t, c.Pending())
}

func TestEmptyCyclesBeforeStart(t *testing.T) {
	c := New()
	require.NoError(t, c.EndCycle())
	require.NoError(t, c.EndCycle())
	assert.False(t, c.Synthetic())
	assert.Equal(t, int64(math.MinInt64), c.RetentionCutoff())

	require.NoError(t, observe(c, 5))
	assert.Equal(t, Bounds{Min: 5, Max: 5}, c.Current())
}

func TestSyntheticAdvanceRollback(t *testing.T) {
	c := New()
	require.NoError(t, observe(c, 10, 20))
	require.NoError(t, observe(c, 25, 30))

	require.NoError(t, c.EndCycle())
	assert.True(t, c.Synthetic())
	assert.Equal(t, Bounds{Min: 26, Max: 31}, c.Current())
	assert.Equal(t, Bounds{Min: 25, Max: 30}, c.Previous())

	require.NoError(t, c.EndCycle())
	assert.Equal(t, Bounds{Min: 27, Max: 32}, c.Current())

	// all synthetic units are rolled back, so 30 does not regress
	require.NoError(t, observe(c, 30, 40))
	assert.False(t, c.Synthetic())
	assert.Equal(t, Bounds{Min: 25, Max: 30}, c.Previous())
	assert.Equal(t, Bounds{Min: 30, Max: 40}, c.Current())
	assert.Equal(t, int64(25), c.RetentionCutoff())
}

func TestRegression(t *testing.T) {
	c := New()
	require.NoError(t, observe(c, 100, 200))
	err := observe(c, 150, 300)
	require.ErrorIs(t, err, ErrClockRegression)
	// observed values are applied anyway
	assert.Equal(t, Bounds{Min: 150, Max: 300}, c.Current())

	require.NoError(t, observe(c, 300))
}
