package sessionclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/loop"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func started(t *testing.T) (*clock.FakeClock, *Clock) {
	t.Helper()
	clk := clock.Fake(epoch)
	c := New(clk, nil)
	c.Start(loop.Inline{})
	return clk, c
}

func advanceSeconds(clk *clock.FakeClock, n int) {
	for range n {
		clk.Advance(time.Second)
	}
}

func TestDisplayBeforeStart(t *testing.T) {
	c := New(clock.Fake(epoch), nil)
	assert.Equal(t, Zero, c.Display())
	assert.Equal(t, time.Duration(0), c.Elapsed())
	assert.False(t, c.Pause(), "cannot pause before start")
	c.Tick()
	assert.Equal(t, Zero, c.Display())
}

func TestTicksOncePerSecond(t *testing.T) {
	clk, c := started(t)
	var ticks []string
	c.OnTick(func(s Snapshot) { ticks = append(ticks, s.Display) })

	advanceSeconds(clk, 3)
	assert.Equal(t, []string{"00:00:01", "00:00:02", "00:00:03"}, ticks)
	assert.Equal(t, "00:00:03", c.Display())
}

func TestPauseFreezesElapsed(t *testing.T) {
	clk, c := started(t)
	advanceSeconds(clk, 10)
	require.True(t, c.Pause())
	atPause := c.Elapsed()
	displayAtPause := c.Display()

	advanceSeconds(clk, 7)
	clk.Advance(250 * time.Millisecond)
	assert.Equal(t, atPause, c.Elapsed(), "elapsed moved during pause")
	assert.Equal(t, displayAtPause, c.Display(), "display moved during pause")
	assert.Equal(t, time.Duration(0), c.PausedAccumulated(), "accumulator advanced before resume")

	require.True(t, c.Resume())
	assert.Equal(t, atPause, c.Elapsed(), "elapsed at resume must equal elapsed at pause start")
	assert.Equal(t, 7250*time.Millisecond, c.PausedAccumulated())

	advanceSeconds(clk, 5)
	assert.Equal(t, atPause+5*time.Second, c.Elapsed())
}

func TestPauseResumeIdempotent(t *testing.T) {
	clk, c := started(t)
	advanceSeconds(clk, 2)

	assert.True(t, c.Pause())
	clk.Advance(time.Second)
	assert.False(t, c.Pause(), "second pause must be a no-op")
	clk.Advance(time.Second)

	assert.True(t, c.Resume())
	assert.False(t, c.Resume(), "second resume must be a no-op")

	// The pause began at the first call and lasted exactly 2s.
	assert.Equal(t, 2*time.Second, c.PausedAccumulated())
	assert.Equal(t, 2*time.Second, c.Elapsed())
}

func TestRepeatedPauses(t *testing.T) {
	clk, c := started(t)
	for range 5 {
		clk.Advance(3 * time.Second)
		c.Pause()
		clk.Advance(2 * time.Second)
		c.Resume()
	}
	assert.Equal(t, 10*time.Second, c.PausedAccumulated())
	assert.Equal(t, 15*time.Second, c.Elapsed())
}

func TestStopHaltsTicks(t *testing.T) {
	clk, c := started(t)
	advanceSeconds(clk, 2)
	c.Stop()
	advanceSeconds(clk, 5)
	assert.Equal(t, "00:00:02", c.Display())
	assert.Equal(t, 0, clk.PendingCount())
}

func TestFormat(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{999 * time.Millisecond, "00:00:00"},
		{61 * time.Second, "00:01:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{25*time.Hour + 59*time.Second, "25:00:59"},
		{-time.Second, "00:00:00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Format(tc.d), "%v", tc.d)
	}
}
