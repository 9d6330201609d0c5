// Package capture runs the per-frame capture/process loop: on every tick
// it asks the landmark source for a frame, projects the key landmarks and
// hands the resulting envelope to the connection. It keeps running through
// disconnects; the connection decides whether an envelope is sent or
// dropped.
package capture

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/landmark"
	"github.com/large-farva/attention-stream/internal/loop"
	"github.com/large-farva/attention-stream/internal/metrics"
	"github.com/large-farva/attention-stream/internal/protocol"
	"github.com/large-farva/attention-stream/internal/sessionclock"
)

// Sender accepts envelopes for delivery. *conn.Machine implements it.
type Sender interface {
	Send(e protocol.Envelope) bool
}

// FrameSource produces one raw frame per call. *landmark.Source
// implements it.
type FrameSource interface {
	Capture() (landmark.RawFrame, error)
}

// Options configures a Loop.
type Options struct {
	Clock    clock.Clock
	Executor loop.Executor
	// Interval is the frame pacing of the capture tick.
	Interval time.Duration
	Builder  protocol.Builder
	Sender   Sender
	// SessionClock receives pause and resume. Optional.
	SessionClock *sessionclock.Clock
	Logger       *zap.SugaredLogger
	Metrics      *metrics.Metrics
}

// Stats counts tick outcomes since the loop was created.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Data    uint64 `json:"data"`
	NoFace  uint64 `json:"no_face"`
	Paused  uint64 `json:"paused"`
	NoFrame uint64 `json:"no_frame"`
	Errors  uint64 `json:"errors"`
}

// Loop is the capture/process loop. It is driven from one executor and is
// not safe for concurrent use.
type Loop struct {
	opts    Options
	log     *zap.SugaredLogger
	indices []uint32

	source  FrameSource
	task    *loop.Task
	paused  bool
	stopped bool
	last    []protocol.MeasurementPoint
	failing bool
	stats   Stats
}

// New returns a loop that samples landmark.KeyIndices.
func New(opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = time.Second / 30
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Builder.Clock == nil {
		opts.Builder.Clock = opts.Clock
	}
	return &Loop{
		opts:    opts,
		log:     opts.Logger,
		indices: landmark.Keys(),
	}
}

// Start begins ticking against src. It does nothing if the loop is already
// running or has been stopped.
func (l *Loop) Start(src FrameSource) {
	if l.stopped || l.task != nil {
		return
	}
	l.source = src
	l.task = loop.Every(l.opts.Clock, l.opts.Interval, l.opts.Executor, l.Tick)
	l.log.Infow("Capture loop started", "interval", l.opts.Interval)
}

// Running reports whether ticks are scheduled.
func (l *Loop) Running() bool {
	return l.task != nil && !l.stopped
}

// Stop cancels future ticks. It is idempotent and does not release the
// source.
func (l *Loop) Stop() {
	if l.stopped {
		return
	}
	l.stopped = true
	l.task.Stop()
	l.last = nil
}

// Pause stops detection and tells the server. It reports false if the loop
// was already paused or has stopped.
func (l *Loop) Pause() bool {
	if l.paused || l.stopped {
		return false
	}
	l.paused = true
	l.last = nil
	if l.opts.SessionClock != nil {
		l.opts.SessionClock.Pause()
	}
	l.opts.Sender.Send(l.opts.Builder.Status(protocol.StatusPaused))
	l.log.Info("Capture paused")
	return true
}

// Resume restarts detection. It reports false if the loop was not paused.
func (l *Loop) Resume() bool {
	if !l.paused || l.stopped {
		return false
	}
	l.paused = false
	if l.opts.SessionClock != nil {
		l.opts.SessionClock.Resume()
	}
	l.opts.Sender.Send(l.opts.Builder.Status(protocol.StatusResumed))
	l.log.Info("Capture resumed")
	return true
}

// Paused reports whether the loop is paused.
func (l *Loop) Paused() bool {
	return l.paused
}

// Last returns the key landmarks of the most recent frame with a face. It
// is empty while paused and after a frame without a face.
func (l *Loop) Last() []protocol.MeasurementPoint {
	return append([]protocol.MeasurementPoint(nil), l.last...)
}

// Stats returns the tick counters.
func (l *Loop) Stats() Stats {
	return l.stats
}

// Tick runs one capture cycle. A failure skips the cycle and never stops
// the loop.
func (l *Loop) Tick() {
	defer func() {
		if r := recover(); r != nil {
			l.stats.Errors++
			l.opts.Metrics.CaptureTick(metrics.TickError)
			l.log.Errorw("Capture tick panicked", "panic", r)
		}
	}()

	if l.stopped {
		return
	}
	l.stats.Ticks++

	if l.paused {
		l.last = nil
		l.stats.Paused++
		l.opts.Metrics.CaptureTick(metrics.TickPaused)
		return
	}

	frame, err := l.source.Capture()
	if err != nil {
		if errors.Is(err, landmark.ErrNoFrame) {
			l.stats.NoFrame++
			l.opts.Metrics.CaptureTick(metrics.TickNoFrame)
			return
		}
		l.stats.Errors++
		l.opts.Metrics.CaptureTick(metrics.TickError)
		if !l.failing {
			l.log.Warnw("Detection failed, skipping frames until it recovers", "error", err)
		}
		l.failing = true
		return
	}
	if l.failing {
		l.log.Info("Detection recovered")
		l.failing = false
	}

	points, err := landmark.Project(frame, l.indices)
	var missing *landmark.MissingIndexError
	switch {
	case errors.As(err, &missing):
		l.last = nil
		l.stats.NoFace++
		l.opts.Metrics.CaptureTick(metrics.TickNoFace)
		l.opts.Sender.Send(l.opts.Builder.Status(protocol.StatusNoFace))
	case err != nil:
		l.stats.Errors++
		l.opts.Metrics.CaptureTick(metrics.TickError)
		l.log.Warnw("Projection failed", "error", err)
	default:
		l.last = points
		l.stats.Data++
		l.opts.Metrics.CaptureTick(metrics.TickData)
		l.opts.Sender.Send(l.opts.Builder.Data(points))
	}
}
