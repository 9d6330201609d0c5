// Package conn owns the connection to the analysis server: it connects,
// reconnects with exponential backoff after a loss, gives up after
// MaxAttempts, and gates outbound envelopes on the connection being up.
//
// A Machine is not safe for concurrent use. Every method must be called
// from the executor it was built with; transport callbacks are posted to
// that executor before they touch any state.
package conn

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/loop"
	"github.com/large-farva/attention-stream/internal/metrics"
	"github.com/large-farva/attention-stream/internal/protocol"
	"github.com/large-farva/attention-stream/internal/transport"
)

// Options configures a Machine.
type Options struct {
	Dialer   transport.Dialer
	Executor loop.Executor
	Clock    clock.Clock
	// Builder stamps the start envelope sent on every successful open.
	Builder   protocol.Builder
	UserAgent string
	Logger    *zap.SugaredLogger
	Metrics   *metrics.Metrics
}

// Machine is the connection state machine.
type Machine struct {
	opts Options
	log  *zap.SugaredLogger
	fsm  *fsm.FSM
	bo   backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc

	conn      transport.Conn
	started   bool
	attempts  int
	retryAt   time.Time
	countdown int
	retry     *loop.Task
	ticker    *loop.Task
	failErr   error
	lastErr   error
	status    Status

	observers []*observer
	alertSubs []*alertSub
}

type observer struct{ fn func(Status) }
type alertSub struct{ fn func(protocol.Alert) }

// New returns a machine in the connecting state. Nothing is dialed until
// Start.
func New(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Builder.Clock == nil {
		opts.Builder.Clock = opts.Clock
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = BaseDelay
	exp.MaxInterval = MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Clock = opts.Clock
	exp.Reset()

	m := &Machine{
		opts: opts,
		log:  opts.Logger,
		fsm:  newFSM(),
		bo:   backoff.WithMaxRetries(exp, MaxAttempts),
	}
	m.status = m.snapshot(false, false)
	return m
}

// Start dials the server. Later calls do nothing.
func (m *Machine) Start(ctx context.Context) {
	if m.started || m.State() == StateClosed {
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.publish(false, false)
	m.dial()
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.fsm.Current())
}

// Status returns the latest published status.
func (m *Machine) Status() Status {
	return m.status
}

// Err returns an *ExhaustedRetriesError while the machine is failed, nil
// otherwise.
func (m *Machine) Err() error {
	return m.failErr
}

// Attempts returns the number of reconnect attempts made since the last
// successful open.
func (m *Machine) Attempts() int {
	return m.attempts
}

// Subscribe registers fn to receive every status change. The returned
// function removes it.
func (m *Machine) Subscribe(fn func(Status)) func() {
	o := &observer{fn: fn}
	m.observers = append(m.observers, o)
	return func() {
		for i, x := range m.observers {
			if x == o {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// OnAlert registers fn to receive every decoded alert. The returned
// function removes it.
func (m *Machine) OnAlert(fn func(protocol.Alert)) func() {
	s := &alertSub{fn: fn}
	m.alertSubs = append(m.alertSubs, s)
	return func() {
		for i, x := range m.alertSubs {
			if x == s {
				m.alertSubs = append(m.alertSubs[:i:i], m.alertSubs[i+1:]...)
				return
			}
		}
	}
}

// Send writes e if the machine is connected and drops it otherwise. It
// reports whether the envelope was handed to the transport. Nothing is
// buffered across disconnects.
func (m *Machine) Send(e protocol.Envelope) bool {
	kind := string(e.EventType())
	if m.State() != StateConnected || m.conn == nil {
		m.opts.Metrics.EnvelopeDropped(kind, metrics.DropDisconnected)
		return false
	}

	data, err := protocol.Encode(e)
	if err != nil {
		m.log.Errorw("Failed to encode envelope", "event_type", kind, "error", err)
		m.opts.Metrics.EnvelopeDropped(kind, metrics.DropEncode)
		return false
	}

	if err := m.conn.Send(data); err != nil {
		reason := metrics.DropDisconnected
		if errors.Is(err, transport.ErrBufferFull) {
			reason = metrics.DropBufferFull
		}
		m.log.Debugw("Envelope dropped", "event_type", kind, "reason", reason)
		m.opts.Metrics.EnvelopeDropped(kind, reason)
		return false
	}
	m.opts.Metrics.EnvelopeSent(kind)
	return true
}

// Retry leaves the failed state and connects again with the attempt
// counter reset.
func (m *Machine) Retry() error {
	switch m.State() {
	case StateClosed:
		return ErrTornDown
	case StateFailed:
	default:
		return ErrNotFailed
	}

	if !m.fire(eventRetry) {
		return ErrNotFailed
	}
	m.log.Info("Manual retry requested")
	m.attempts = 0
	m.bo.Reset()
	m.failErr = nil
	m.publish(false, false)
	m.dial()
	return nil
}

// Teardown closes the connection and cancels every pending timer. No
// transition happens afterwards. It is idempotent.
func (m *Machine) Teardown() {
	if m.State() == StateClosed {
		return
	}
	m.fire(eventTeardown)
	m.stopTimers()
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil && !transport.IsExpectedClose(err) {
			m.log.Debugw("Close failed", "error", err)
		}
		m.conn = nil
	}
	m.countdown = 0
	m.retryAt = time.Time{}
	m.publish(false, false)
	m.log.Info("Connection torn down")
}

func (m *Machine) dial() {
	m.log.Infow("Connecting to analysis server", "attempt", m.attempts)
	m.conn = m.opts.Dialer.Dial(m.ctx, handler{m})
}

func (m *Machine) handleOpen(c transport.Conn) {
	if m.State() == StateClosed || c != m.conn {
		m.log.Debugw("Ignoring open of superseded connection", "conn", c.ID())
		_ = c.Close()
		return
	}

	from := m.State()
	if !m.fire(eventOpen) {
		return
	}
	m.attempts = 0
	m.bo.Reset()
	m.stopTimers()
	m.countdown = 0
	m.retryAt = time.Time{}
	m.lastErr = nil

	recovered := from == StateReconnecting
	if recovered {
		m.log.Info("Reconnected to analysis server")
	} else {
		m.log.Info("Connected to analysis server")
	}

	m.Send(m.opts.Builder.Start(m.opts.UserAgent))
	m.publish(from == StateConnecting, recovered)
}

func (m *Machine) handleMessage(c transport.Conn, data []byte) {
	if m.State() != StateConnected || c != m.conn {
		return
	}
	alert, err := protocol.Decode(data)
	if err != nil {
		m.log.Warnw("Dropping undecodable message", "error", err, "bytes", len(data))
		m.opts.Metrics.DecodeError()
		return
	}
	m.log.Infow("Alert received", "message", string(alert))
	m.opts.Metrics.AlertReceived()
	for _, s := range append([]*alertSub(nil), m.alertSubs...) {
		s.fn(alert)
	}
}

func (m *Machine) handleClose(c transport.Conn, err error) {
	if m.State() == StateClosed || c != m.conn {
		return
	}
	m.conn = nil

	if transport.IsExpectedClose(err) {
		m.log.Debugw("Connection closed", "error", err)
	} else {
		m.log.Warnw("Connection lost", "error", err)
	}
	if err != nil {
		m.lastErr = err
	}

	delay := m.bo.NextBackOff()
	if delay == backoff.Stop || m.attempts >= MaxAttempts {
		m.fail()
		return
	}

	if !m.fire(eventDrop) {
		return
	}
	m.attempts++
	m.retryAt = m.opts.Clock.Now().Add(delay)
	m.countdown = secondsUntil(m.retryAt, m.opts.Clock.Now())
	m.stopTimers()
	m.retry = loop.After(m.opts.Clock, delay, m.opts.Executor, m.reconnect)
	m.ticker = loop.Every(m.opts.Clock, time.Second, m.opts.Executor, m.tick)
	m.opts.Metrics.ReconnectScheduled()

	m.log.Infow("Reconnect scheduled", "delay", delay, "attempt", m.attempts, "max_attempts", MaxAttempts)
	m.publish(false, false)
}

func (m *Machine) fail() {
	if !m.fire(eventExhaust) {
		return
	}
	m.stopTimers()
	m.countdown = 0
	m.retryAt = time.Time{}
	m.failErr = &ExhaustedRetriesError{Attempts: m.attempts}
	m.log.Errorw("Giving up on analysis server", "attempts", m.attempts)
	m.publish(false, false)
}

func (m *Machine) reconnect() {
	if m.State() != StateReconnecting || m.conn != nil {
		return
	}
	m.ticker.Stop()
	m.countdown = 0
	m.publish(false, false)
	m.dial()
}

func (m *Machine) tick() {
	if m.State() != StateReconnecting {
		return
	}
	m.countdown = secondsUntil(m.retryAt, m.opts.Clock.Now())
	if m.countdown == 0 {
		m.ticker.Stop()
	}
	m.publish(false, false)
}

func (m *Machine) stopTimers() {
	m.retry.Stop()
	m.ticker.Stop()
	m.retry, m.ticker = nil, nil
}

// fire runs one fsm event. A self-transition is not an error.
func (m *Machine) fire(event string) bool {
	err := m.fsm.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return true
	}
	m.log.Errorw("Rejected state transition", "event", event, "state", m.fsm.Current(), "error", err)
	return false
}

func (m *Machine) snapshot(firstConnect, recovered bool) Status {
	s := Status{
		State:        m.State(),
		Attempt:      m.attempts,
		MaxAttempts:  MaxAttempts,
		Countdown:    m.countdown,
		RetryAt:      m.retryAt,
		FirstConnect: firstConnect,
		Recovered:    recovered,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	s.Detail = s.describe()
	return s
}

func (m *Machine) publish(firstConnect, recovered bool) {
	m.status = m.snapshot(firstConnect, recovered)
	m.opts.Metrics.ConnectionState(string(m.status.State))
	for _, o := range append([]*observer(nil), m.observers...) {
		o.fn(m.status)
	}
}

func secondsUntil(t, now time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// handler posts transport callbacks onto the machine's executor.
type handler struct{ m *Machine }

func (h handler) OnOpen(c transport.Conn) {
	h.m.opts.Executor.Post(func() { h.m.handleOpen(c) })
}

func (h handler) OnMessage(c transport.Conn, data []byte) {
	h.m.opts.Executor.Post(func() { h.m.handleMessage(c, data) })
}

func (h handler) OnClose(c transport.Conn, err error) {
	h.m.opts.Executor.Post(func() { h.m.handleClose(c, err) })
}
