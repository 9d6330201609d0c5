// Package sessionclock accounts for active session time: wall-clock time
// since the session started, minus every completed pause.
package sessionclock

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/loop"
)

// Zero is the display value before the session starts.
const Zero = "00:00:00"

// Snapshot is the clock state as seen by observers.
type Snapshot struct {
	StartedAt         time.Time     `json:"started_at"`
	PausedAccumulated time.Duration `json:"paused_accumulated_ns"`
	PauseStartedAt    time.Time     `json:"pause_started_at"`
	Paused            bool          `json:"paused"`
	Elapsed           time.Duration `json:"elapsed_ns"`
	Display           string        `json:"display"`
}

// Clock is the pause-aware session clock. Like every session component it
// is driven from a single executor and is not safe for concurrent use.
type Clock struct {
	clk  clock.Clock
	log  *zap.SugaredLogger
	task *loop.Task

	startedAt         time.Time
	pausedAccumulated time.Duration
	pauseStartedAt    time.Time
	paused            bool
	display           string

	onTick func(Snapshot)
}

// New returns a clock that has not started.
func New(clk clock.Clock, logger *zap.SugaredLogger) *Clock {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Clock{clk: clk, log: logger, display: Zero}
}

// OnTick registers fn to be called with a snapshot after every display
// tick.
func (c *Clock) OnTick(fn func(Snapshot)) {
	c.onTick = fn
}

// Start records the start instant and begins ticking the display once a
// second on exec. Starting twice does nothing.
func (c *Clock) Start(exec loop.Executor) {
	if c.Started() {
		return
	}
	c.startedAt = c.clk.Now()
	c.display = Zero
	c.task = loop.Every(c.clk, time.Second, exec, c.Tick)
}

// Started reports whether Start has been called.
func (c *Clock) Started() bool {
	return !c.startedAt.IsZero()
}

// Stop halts the display tick. The accumulated values are kept.
func (c *Clock) Stop() {
	c.task.Stop()
}

// Pause freezes elapsed time. It reports false if the clock was already
// paused or has not started.
func (c *Clock) Pause() bool {
	if c.paused || !c.Started() {
		return false
	}
	c.paused = true
	c.pauseStartedAt = c.clk.Now()
	return true
}

// Resume adds the pause just ended to the accumulated paused time. It
// reports false if the clock was not paused.
func (c *Clock) Resume() bool {
	if !c.paused {
		return false
	}
	c.pausedAccumulated += c.clk.Now().Sub(c.pauseStartedAt)
	c.pauseStartedAt = time.Time{}
	c.paused = false
	return true
}

// Paused reports whether the clock is paused.
func (c *Clock) Paused() bool {
	return c.paused
}

// PausedAccumulated returns the total length of completed pauses.
func (c *Clock) PausedAccumulated() time.Duration {
	return c.pausedAccumulated
}

// Elapsed returns active time. While paused it stays at its value from
// the moment the pause began.
func (c *Clock) Elapsed() time.Duration {
	if !c.Started() {
		return 0
	}
	now := c.clk.Now()
	if c.paused {
		now = c.pauseStartedAt
	}
	d := now.Sub(c.startedAt) - c.pausedAccumulated
	if d < 0 {
		return 0
	}
	return d
}

// Tick recomputes the display value. It does nothing while paused.
func (c *Clock) Tick() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("Session clock tick panicked", "panic", r)
		}
	}()

	if c.paused || !c.Started() {
		return
	}
	c.display = Format(c.Elapsed())
	if c.onTick != nil {
		c.onTick(c.Snapshot())
	}
}

// Display returns the last formatted elapsed time.
func (c *Clock) Display() string {
	return c.display
}

// Snapshot returns the current state.
func (c *Clock) Snapshot() Snapshot {
	return Snapshot{
		StartedAt:         c.startedAt,
		PausedAccumulated: c.pausedAccumulated,
		PauseStartedAt:    c.pauseStartedAt,
		Paused:            c.paused,
		Elapsed:           c.Elapsed(),
		Display:           c.display,
	}
}

// Format renders d as HH:MM:SS. Hours keep counting past 24.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
