package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestClock_PlayAdvancesFromSecondTick(t *testing.T) {
	c := NewClock()
	require.True(t, c.Play())
	assert.False(t, c.Play(), "already playing")

	first := c.Tick(at(0), 10)
	assert.False(t, first.Advanced)
	assert.Equal(t, 0.0, first.Time)

	second := c.Tick(at(500), 10)
	assert.True(t, second.Advanced)
	assert.InDelta(t, 0.5, second.Time, 1e-9)
	assert.Equal(t, StatePlaying, c.State())
}

func TestClock_StopsAtDuration(t *testing.T) {
	c := NewClock()
	c.Seek(9.8, 10)
	c.Play()
	c.Tick(at(0), 10)

	tick := c.Tick(at(1000), 10)
	assert.True(t, tick.Finished)
	assert.False(t, tick.Exported)
	assert.Equal(t, 10.0, tick.Time)
	assert.Equal(t, StateStopped, c.State())

	// stopped clocks ignore ticks
	assert.Equal(t, 10.0, c.Tick(at(2000), 10).Time)
}

func TestClock_PauseHoldsTime(t *testing.T) {
	c := NewClock()
	assert.False(t, c.Pause(), "pause on stopped clock is a no-op")

	c.Play()
	c.Tick(at(0), 10)
	c.Tick(at(250), 10)
	require.True(t, c.Pause())
	assert.InDelta(t, 0.25, c.Time(), 1e-9)

	// resuming does not count the paused wall time
	c.Play()
	c.Tick(at(5000), 10)
	tick := c.Tick(at(5100), 10)
	assert.InDelta(t, 0.35, tick.Time, 1e-9)
}

func TestClock_SeekClamps(t *testing.T) {
	c := NewClock()
	assert.Equal(t, 0.0, c.Seek(-3, 10))
	assert.Equal(t, 10.0, c.Seek(42, 10))
	assert.Equal(t, 4.5, c.Seek(4.5, 10))

	c.Play()
	assert.Equal(t, 2.0, c.Seek(2, 10), "seek is legal while playing")
	assert.Equal(t, StatePlaying, c.State())
}

func TestClock_Export(t *testing.T) {
	c := NewClock()
	c.Seek(7, 20)
	c.StartExport(6, 4)

	assert.Equal(t, StateExporting, c.State())
	assert.Equal(t, 0.0, c.Time(), "export rewinds")
	assert.Equal(t, 6.0, c.ExportEnd())
	assert.False(t, c.Play(), "play is ignored while exporting")

	c.Tick(at(0), 20)
	tick := c.Tick(at(1000), 20)
	assert.InDelta(t, 4.0, tick.Time, 1e-9, "speed 4 covers 4s per wall second")
	assert.False(t, tick.Finished)

	tick = c.Tick(at(2000), 20)
	assert.True(t, tick.Finished)
	assert.True(t, tick.Exported)
	assert.Equal(t, 6.0, tick.Time, "clamped to the export end, not the duration")
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 1.0, c.Speed())
	assert.Equal(t, 0.0, c.ExportEnd())
}

func TestClock_ExportIgnoresShrunkDuration(t *testing.T) {
	c := NewClock()
	c.StartExport(6, 4)

	c.Tick(at(0), 2)
	tick := c.Tick(at(1000), 2)
	assert.False(t, tick.Finished, "a shorter live timeline does not end the export")
	assert.InDelta(t, 4.0, tick.Time, 1e-9)
	assert.Equal(t, StateExporting, c.State())

	tick = c.Tick(at(2000), 2)
	assert.True(t, tick.Exported)
	assert.Equal(t, 6.0, tick.Time)
}

func TestClock_BackwardsWallTime(t *testing.T) {
	c := NewClock()
	c.Play()
	c.Tick(at(1000), 10)
	tick := c.Tick(at(500), 10)
	assert.False(t, tick.Advanced)
	assert.Equal(t, 0.0, tick.Time)
}
