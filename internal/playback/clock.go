// Package playback drives timeline time. Clock is the play/pause/seek/export
// state machine advanced once per tick; Loop is the single goroutine that
// owns a session and runs those ticks; the file server streams media and
// export artifacts with byte-range support.
package playback

import (
	"math"
	"time"
)

// State is the clock's running state.
type State string

const (
	StateStopped   State = "stopped"
	StatePlaying   State = "playing"
	StateExporting State = "exporting"
)

// Running reports whether time advances on ticks.
func (s State) Running() bool {
	return s == StatePlaying || s == StateExporting
}

// Tick is the outcome of one clock tick.
type Tick struct {
	Time     float64
	Elapsed  float64
	Advanced bool
	// Finished is set on the tick that reached the end boundary. The clock
	// is Stopped afterwards.
	Finished bool
	// Exported is set when the finished run was an export.
	Exported bool
}

// Clock holds the current time and advances it from wall time.
// It is not safe for concurrent use; the loop goroutine owns it.
type Clock struct {
	state   State
	current float64
	speed   float64
	end     float64
	last    time.Time
	hasLast bool
}

func NewClock() *Clock {
	return &Clock{state: StateStopped, speed: 1}
}

func (c *Clock) State() State   { return c.state }
func (c *Clock) Time() float64  { return c.current }
func (c *Clock) Speed() float64 { return c.speed }

// ExportEnd is the end boundary of the running export, or 0.
func (c *Clock) ExportEnd() float64 {
	if c.state != StateExporting {
		return 0
	}
	return c.end
}

// Play starts playback from the current time. It reports whether the state
// changed; playing or exporting clocks are left alone.
func (c *Clock) Play() bool {
	if c.state != StateStopped {
		return false
	}
	c.state = StatePlaying
	c.speed = 1
	c.hasLast = false
	return true
}

// Pause stops the clock, holding the current time. Calling it on a stopped
// clock is a no-op. It reports whether the state changed.
func (c *Clock) Pause() bool {
	if c.state == StateStopped {
		return false
	}
	c.state = StateStopped
	c.speed = 1
	c.end = 0
	c.hasLast = false
	return true
}

// Seek moves the current time, clamped to [0, duration]. Legal in any state.
func (c *Clock) Seek(t, duration float64) float64 {
	if math.IsNaN(t) {
		t = 0
	}
	c.current = math.Max(0, math.Min(duration, t))
	return c.current
}

// StartExport rewinds to 0 and runs until end at speed.
func (c *Clock) StartExport(end, speed float64) {
	if speed <= 0 {
		speed = 1
	}
	c.state = StateExporting
	c.current = 0
	c.end = end
	c.speed = speed
	c.hasLast = false
}

// Tick advances time by the wall time elapsed since the previous tick times
// the speed. The first tick after a start only records now. Reaching the end
// boundary stops the clock. While exporting the boundary is the export end
// alone: the export renders a frozen copy, so live edits that shorten the
// timeline must not cut the capture short.
func (c *Clock) Tick(now time.Time, duration float64) Tick {
	if !c.state.Running() {
		return Tick{Time: c.current}
	}
	limit := duration
	if c.state == StateExporting {
		limit = c.end
	}

	var tick Tick
	if c.hasLast {
		dt := now.Sub(c.last).Seconds()
		if dt < 0 {
			dt = 0
		}
		tick.Elapsed = dt * c.speed
		c.current = math.Min(limit, c.current+tick.Elapsed)
		tick.Advanced = tick.Elapsed > 0
	}
	c.last, c.hasLast = now, true
	tick.Time = c.current

	if c.current >= limit {
		tick.Finished = true
		tick.Exported = c.state == StateExporting
		c.Pause()
	}
	return tick
}
