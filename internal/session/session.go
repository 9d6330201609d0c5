// Package session composes one streaming session: the connection to the
// analysis server, the capture/process loop, the session clock and the
// warning log, all driven from a single loop.Loop.
//
// Every exported method is safe for concurrent use. Observer callbacks run
// on the session loop and must not block or call back into the session.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/large-farva/attention-stream/internal/alerts"
	"github.com/large-farva/attention-stream/internal/capture"
	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/conn"
	"github.com/large-farva/attention-stream/internal/landmark"
	"github.com/large-farva/attention-stream/internal/loop"
	"github.com/large-farva/attention-stream/internal/metrics"
	"github.com/large-farva/attention-stream/internal/protocol"
	"github.com/large-farva/attention-stream/internal/sessionclock"
	"github.com/large-farva/attention-stream/internal/transport"
)

var (
	// ErrClosed is returned by operations on a session that has ended.
	ErrClosed = errors.New("session: closed")
	// ErrNotStarted is returned by operations that need a running session.
	ErrNotStarted = errors.New("session: not started")
)

// ReasonClosed is the end reason reported when a session is closed without
// an explicit End.
const ReasonClosed = "closed"

// Options configures a Session.
type Options struct {
	// SessionID defaults to a fresh protocol.NewSessionID.
	SessionID string
	UserID    string
	UserAgent string

	Dialer   transport.Dialer
	Device   landmark.Device
	Detector landmark.Detector
	Clock    clock.Clock

	// FrameInterval paces the capture tick.
	FrameInterval time.Duration
	// WarningCap bounds the warning log. Zero keeps every alert.
	WarningCap int

	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// Observer receives session events. Nil fields are skipped.
type Observer struct {
	Status func(conn.Status)
	Alert  func(alerts.Entry)
	Clock  func(sessionclock.Snapshot)
	Fault  func(error)
	Ended  func(reason, display string)
}

// Snapshot is a read-only view of the session, refreshed on every event
// and every clock tick.
type Snapshot struct {
	SessionID string                      `json:"session_id"`
	UserID    string                      `json:"user_id"`
	Status    conn.Status                 `json:"status"`
	Clock     sessionclock.Snapshot       `json:"clock"`
	Paused    bool                        `json:"paused"`
	Capturing bool                        `json:"capturing"`
	Capture   capture.Stats               `json:"capture"`
	Last      []protocol.MeasurementPoint `json:"last,omitempty"`
	Warnings  int                         `json:"warnings"`
	Fault     string                      `json:"fault,omitempty"`
	Closed    bool                        `json:"closed"`
	EndReason string                      `json:"end_reason,omitempty"`
}

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseClosed
)

// Session is one streaming session.
type Session struct {
	opts    Options
	log     *zap.SugaredLogger
	loop    *loop.Loop
	builder protocol.Builder

	machine  *conn.Machine
	capture  *capture.Loop
	clock    *sessionclock.Clock
	warnings *alerts.Log

	mu        sync.Mutex
	phase     phase
	stopLoop  context.CancelFunc
	stopWatch func() bool
	done      chan struct{}
	acquiring sync.WaitGroup

	obsMu     sync.Mutex
	observers []*Observer

	snap     atomic.Pointer[Snapshot]
	warnSnap atomic.Pointer[[]alerts.Entry]

	// Loop-confined.
	ctx       context.Context
	cancel    context.CancelFunc
	source    *landmark.Source
	fault     error
	closed    bool
	endReason string
}

// New wires a session. Nothing runs until Start.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.SessionID == "" {
		opts.SessionID = protocol.NewSessionID()
	}

	s := &Session{
		opts:     opts,
		log:      opts.Logger.Named("session").With("session_id", opts.SessionID),
		loop:     loop.New(opts.Logger.Named("loop")),
		warnings: alerts.NewLog(opts.WarningCap),
		done:     make(chan struct{}),
	}
	s.builder = protocol.Builder{SessionID: opts.SessionID, UserID: opts.UserID, Clock: opts.Clock}

	s.machine = conn.New(conn.Options{
		Dialer:    opts.Dialer,
		Executor:  s.loop,
		Clock:     opts.Clock,
		Builder:   s.builder,
		UserAgent: opts.UserAgent,
		Logger:    opts.Logger.Named("conn"),
		Metrics:   opts.Metrics,
	})
	s.clock = sessionclock.New(opts.Clock, opts.Logger.Named("clock"))
	s.capture = capture.New(capture.Options{
		Clock:        opts.Clock,
		Executor:     s.loop,
		Interval:     opts.FrameInterval,
		Builder:      s.builder,
		Sender:       s.machine,
		SessionClock: s.clock,
		Logger:       opts.Logger.Named("capture"),
		Metrics:      opts.Metrics,
	})

	s.machine.Subscribe(s.onStatus)
	s.machine.OnAlert(s.onAlert)
	s.clock.OnTick(s.onClock)

	s.warnSnap.Store(&[]alerts.Entry{})
	s.refresh()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.opts.SessionID }

// Subscribe registers o. The returned function removes it.
func (s *Session) Subscribe(o Observer) func() {
	p := &o
	s.obsMu.Lock()
	s.observers = append(s.observers, p)
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, x := range s.observers {
			if x == p {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Start runs the session loop, dials the analysis server and begins
// acquiring the camera and detector in the background. Cancelling ctx
// closes the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case phaseRunning:
		s.mu.Unlock()
		return nil
	case phaseClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	s.phase = phaseRunning
	loopCtx, stop := context.WithCancel(context.Background())
	s.stopLoop = stop
	s.stopWatch = context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Unlock()

	go s.loop.Run(loopCtx)
	s.log.Infow("Session starting", "user_id", s.opts.UserID)
	return s.loop.Do(ctx, s.begin)
}

func (s *Session) begin() {
	if s.closed {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.machine.Start(s.ctx)

	ctx := s.ctx
	s.acquiring.Add(1)
	go func() {
		defer s.acquiring.Done()
		src, err := landmark.Acquire(ctx, s.opts.Device, s.opts.Detector, s.opts.Clock)
		if doErr := s.loop.Do(context.Background(), func() { s.attach(src, err) }); doErr != nil {
			// The loop stopped before attach could run.
			_ = src.Close()
		}
	}()
}

// attach takes ownership of a freshly acquired source. The session clock
// starts here whether or not acquisition worked, frozen if the session was
// paused in the meantime.
func (s *Session) attach(src *landmark.Source, err error) {
	if s.closed {
		if cerr := src.Close(); cerr != nil {
			s.log.Debugw("Release after close failed", "error", cerr)
		}
		return
	}

	if err != nil {
		s.fault = err
		s.log.Errorw("Capture unavailable for this session", "error", err)
		s.emit(func(o *Observer) {
			if o.Fault != nil {
				o.Fault(err)
			}
		})
	} else {
		s.source = src
		s.capture.Start(src)
	}

	s.clock.Start(s.loop)
	if s.capture.Paused() {
		// Paused while the devices were still being acquired.
		s.clock.Pause()
	}
	s.refresh()
	s.emitClock(s.clock.Snapshot())
}

// Close tears the session down: capture and clock ticks stop, the camera
// and detector are released and the connection is closed. It returns once
// all of that is done. Close is idempotent and safe before Start.
func (s *Session) Close() error {
	err := s.shutdown(ReasonClosed, false)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// End sends the end envelope if the connection is up and then closes the
// session. An empty reason means the user ended it. End after the session
// has closed does nothing.
func (s *Session) End(reason string) error {
	if reason == "" {
		reason = protocol.EndReasonUser
	}
	err := s.shutdown(reason, true)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) shutdown(reason string, sendEnd bool) error {
	s.mu.Lock()
	prev := s.phase
	s.phase = phaseClosed
	stopLoop, stopWatch := s.stopLoop, s.stopWatch
	s.mu.Unlock()

	switch prev {
	case phaseClosed:
		<-s.done
		return ErrClosed
	case phaseIdle:
		s.teardown(reason, false)
		close(s.done)
		return nil
	}

	stopWatch()
	err := s.loop.Do(context.Background(), func() { s.teardown(reason, sendEnd) })
	stopLoop()
	<-s.loop.Done()
	s.acquiring.Wait()
	close(s.done)
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}

func (s *Session) teardown(reason string, sendEnd bool) {
	if s.closed {
		return
	}
	if sendEnd {
		if !s.machine.Send(s.builder.End(reason)) {
			s.log.Warn("End envelope not delivered, connection is down")
		}
	}

	s.capture.Stop()
	s.clock.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.source.Close(); err != nil {
		s.log.Warnw("Releasing capture devices failed", "error", err)
	}
	s.source = nil
	s.machine.Teardown()

	s.closed = true
	s.endReason = reason
	s.refresh()

	display := s.clock.Display()
	s.log.Infow("Session ended", "reason", reason, "elapsed", display)
	s.emit(func(o *Observer) {
		if o.Ended != nil {
			o.Ended(reason, display)
		}
	})
}

// Pause stops detection, freezes the clock and tells the server. It
// reports whether anything changed.
func (s *Session) Pause(ctx context.Context) (bool, error) {
	var changed bool
	err := s.do(ctx, func() {
		changed = s.capture.Pause()
		if changed {
			s.refresh()
			s.emitClock(s.clock.Snapshot())
		}
	})
	return changed, err
}

// Resume restarts detection and the clock. It reports whether anything
// changed.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	var changed bool
	err := s.do(ctx, func() {
		changed = s.capture.Resume()
		if changed {
			s.refresh()
			s.emitClock(s.clock.Snapshot())
		}
	})
	return changed, err
}

// Retry reconnects after the connection has failed.
func (s *Session) Retry(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, func() { err = s.machine.Retry() }); doErr != nil {
		return doErr
	}
	return err
}

// Sync waits until everything posted to the session loop so far has run.
func (s *Session) Sync(ctx context.Context) error {
	return s.do(ctx, func() {})
}

// do runs f on the session loop while the session is running.
func (s *Session) do(ctx context.Context, f func()) error {
	s.mu.Lock()
	p := s.phase
	s.mu.Unlock()
	switch p {
	case phaseIdle:
		return ErrNotStarted
	case phaseClosed:
		return ErrClosed
	}

	var closed bool
	err := s.loop.Do(ctx, func() {
		if s.closed {
			closed = true
			return
		}
		f()
	})
	if errors.Is(err, loop.ErrStopped) || closed {
		return ErrClosed
	}
	return err
}

// Snapshot returns the latest view of the session.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// Warnings returns the warning log, most recent first.
func (s *Session) Warnings() []alerts.Entry {
	w := *s.warnSnap.Load()
	out := make([]alerts.Entry, len(w))
	copy(out, w)
	return out
}

func (s *Session) onStatus(st conn.Status) {
	s.refresh()
	s.emit(func(o *Observer) {
		if o.Status != nil {
			o.Status(st)
		}
	})
}

func (s *Session) onAlert(a protocol.Alert) {
	entry := s.warnings.Add(s.opts.Clock.Now(), a)
	entries := s.warnings.Entries()
	s.warnSnap.Store(&entries)
	s.refresh()
	s.emit(func(o *Observer) {
		if o.Alert != nil {
			o.Alert(entry)
		}
	})
}

func (s *Session) onClock(snap sessionclock.Snapshot) {
	s.opts.Metrics.SessionTime(snap.Elapsed.Seconds(), snap.PausedAccumulated.Seconds())
	s.refresh()
	s.emitClock(snap)
}

func (s *Session) emitClock(snap sessionclock.Snapshot) {
	s.emit(func(o *Observer) {
		if o.Clock != nil {
			o.Clock(snap)
		}
	})
}

func (s *Session) emit(f func(*Observer)) {
	s.obsMu.Lock()
	obs := append([]*Observer(nil), s.observers...)
	s.obsMu.Unlock()
	for _, o := range obs {
		f(o)
	}
}

func (s *Session) refresh() {
	snap := Snapshot{
		SessionID: s.opts.SessionID,
		UserID:    s.opts.UserID,
		Status:    s.machine.Status(),
		Clock:     s.clock.Snapshot(),
		Paused:    s.capture.Paused(),
		Capturing: s.capture.Running(),
		Capture:   s.capture.Stats(),
		Last:      s.capture.Last(),
		Warnings:  s.warnings.Len(),
		Closed:    s.closed,
		EndReason: s.endReason,
	}
	if s.fault != nil {
		snap.Fault = s.fault.Error()
	}
	s.snap.Store(&snap)
}
