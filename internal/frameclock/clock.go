// Package frameclock tracks the timestamp span of each processing cycle and
// derives the retention cutoff from it.
package frameclock

import (
	"errors"
	"fmt"
	"math"
)

var ErrClockRegression = errors.New("cycle starts before the previous cycle ended")

// Bounds is the [Min, Max] timestamp span of a cycle.
type Bounds struct {
	Min int64
	Max int64
}

// Clock is the logical cycle cursor. Cycles without events advance the bounds
// by one unit each; the next cycle with events rolls all synthetic units back
// before checking continuity.
type Clock struct {
	observedMin int64
	observedMax int64
	seen        bool

	current  Bounds
	previous Bounds
	started  bool

	synthetic int64
	cycle     uint64
}

func New() *Clock {
	c := &Clock{}
	c.resetObserved()
	c.previous = Bounds{Min: math.MinInt64, Max: math.MinInt64}
	c.current = c.previous
	return c
}

func (c *Clock) resetObserved() {
	c.observedMin = math.MaxInt64
	c.observedMax = math.MinInt64
	c.seen = false
}

// Observe records an event timestamp of the running cycle.
func (c *Clock) Observe(timestamp int64) {
	c.observedMin = min(c.observedMin, timestamp)
	c.observedMax = max(c.observedMax, timestamp)
	c.seen = true
}

// EndCycle closes the running cycle. The returned error reports a clock
// regression; the observed bounds are applied regardless.
func (c *Clock) EndCycle() error {
	defer c.resetObserved()
	c.cycle++
	last := c.current
	if !c.seen {
		c.previous = last
		if c.started {
			c.current = Bounds{Min: last.Min + 1, Max: last.Max + 1}
			c.synthetic++
		}
		return nil
	}
	if c.synthetic > 0 {
		last = Bounds{Min: last.Min - c.synthetic, Max: last.Max - c.synthetic}
		c.synthetic = 0
	}
	c.previous = last
	c.current = Bounds{Min: c.observedMin, Max: c.observedMax}
	wasStarted := c.started
	c.started = true
	if wasStarted && c.current.Min < last.Max {
		return fmt.Errorf("%w: min %d < previous max %d", ErrClockRegression, c.current.Min, last.Max)
	}
	return nil
}

// Current is the span of the last closed cycle.
func (c *Clock) Current() Bounds {
	return c.current
}

// Previous is the span of the cycle before Current.
func (c *Clock) Previous() Bounds {
	return c.previous
}

// RetentionCutoff is the previous cycle's minimum: samples older than that are
// no longer needed.
func (c *Clock) RetentionCutoff() int64 {
	return c.previous.Min
}

// Synthetic reports whether the current bounds were advanced without events.
func (c *Clock) Synthetic() bool {
	return c.synthetic > 0
}

// Cycle is the number of closed cycles.
func (c *Clock) Cycle() uint64 {
	return c.cycle
}

// Pending reports whether the running cycle has seen events.
func (c *Clock) Pending() bool {
	return c.seen
}
