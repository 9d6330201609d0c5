package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/large-farva/attention-stream/internal/alerts"
	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/conn"
	"github.com/large-farva/attention-stream/internal/landmark"
	"github.com/large-farva/attention-stream/internal/protocol"
	"github.com/large-farva/attention-stream/internal/synthetic"
	"github.com/large-farva/attention-stream/internal/transport"
)

const frame = time.Second / 30

type harness struct {
	s      *Session
	clk    *clock.FakeClock
	dialer *transport.FakeDialer
	camera *synthetic.Camera
}

func newHarness(t *testing.T, dev landmark.Device) *harness {
	t.Helper()
	opts := synthetic.Options{Seed: 3}
	cam := synthetic.NewCamera(opts)
	if dev == nil {
		dev = cam
	}
	h := &harness{
		clk:    clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		dialer: &transport.FakeDialer{},
		camera: cam,
	}
	h.s = New(Options{
		UserID:        "1",
		UserAgent:     "session-test",
		Dialer:        h.dialer,
		Device:        dev,
		Detector:      synthetic.NewDetector(opts),
		Clock:         h.clk,
		FrameInterval: frame,
		Logger:        zaptest.NewLogger(t).Sugar(),
	})
	t.Cleanup(func() { _ = h.s.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return !h.s.Snapshot().Clock.StartedAt.IsZero()
	}, 5*time.Second, 5*time.Millisecond)
}

func (h *harness) open(t *testing.T) *transport.FakeConn {
	t.Helper()
	c := h.dialer.Last()
	require.NotNil(t, c)
	c.Open()
	h.sync(t)
	return c
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.clk.Advance(d)
	h.sync(t)
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Sync(context.Background()))
}

func decodeAll(t *testing.T, frames [][]byte) []protocol.Envelope {
	t.Helper()
	out := make([]protocol.Envelope, 0, len(frames))
	for _, f := range frames {
		e, err := protocol.DecodeEnvelope(f)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func countType(envs []protocol.Envelope, et protocol.EventType) int {
	n := 0
	for _, e := range envs {
		if e.EventType() == et {
			n++
		}
	}
	return n
}

func TestEyesClosedTooLong(t *testing.T) {
	h := newHarness(t, nil)
	var got []alerts.Entry
	alertCh := make(chan alerts.Entry, 1)
	h.s.Subscribe(Observer{Alert: func(e alerts.Entry) { alertCh <- e }})

	h.start(t)
	require.True(t, h.s.Snapshot().Capturing)
	c := h.open(t)

	for range 30 {
		h.advance(t, frame)
	}

	envs := decodeAll(t, c.Sent())
	require.NotEmpty(t, envs)
	assert.Equal(t, protocol.EventStart, envs[0].EventType())
	assert.Equal(t, 30, countType(envs, protocol.EventData))
	for _, e := range envs {
		assert.Equal(t, h.s.ID(), e.SessionID)
		assert.Equal(t, "1", e.UserID)
	}

	c.Receive("Eyes closed too long")
	h.sync(t)

	select {
	case e := <-alertCh:
		got = append(got, e)
	case <-time.After(5 * time.Second):
		t.Fatal("alert not delivered")
	}
	require.Len(t, got, 1)
	assert.Equal(t, "Eyes closed too long", got[0].Message)

	warnings := h.s.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Eyes closed too long", warnings[0].Message)
	assert.Equal(t, h.clk.Now(), warnings[0].ReceivedAt)
	assert.Equal(t, 1, h.s.Snapshot().Warnings)
}

func TestClockAdvancesDisplay(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.advance(t, time.Second)
	h.advance(t, time.Second)
	assert.Equal(t, "00:00:02", h.s.Snapshot().Clock.Display)
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	c := h.open(t)
	ctx := context.Background()

	changed, err := h.s.Pause(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = h.s.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, h.s.Snapshot().Paused)

	before := len(c.Sent())
	for range 10 {
		h.advance(t, frame)
	}
	assert.Len(t, c.Sent(), before, "nothing is sent while paused")

	changed, err = h.s.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	envs := decodeAll(t, c.Sent())
	var statuses []protocol.Status
	for _, e := range envs {
		if p, ok := e.Payload.(protocol.StatusPayload); ok {
			statuses = append(statuses, p.Status)
		}
	}
	assert.Equal(t, []protocol.Status{protocol.StatusPaused, protocol.StatusResumed}, statuses)
	assert.False(t, h.s.Snapshot().Paused)
}

// gatedCamera holds AcquireStream until the gate is closed, like a camera
// waiting on a permission prompt.
type gatedCamera struct {
	*synthetic.Camera
	gate chan struct{}
}

func (g gatedCamera) AcquireStream(ctx context.Context) (landmark.MediaHandle, error) {
	select {
	case <-g.gate:
		return g.Camera.AcquireStream(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPauseBeforeDevicesAcquired(t *testing.T) {
	cam := gatedCamera{Camera: synthetic.NewCamera(synthetic.Options{Seed: 3}), gate: make(chan struct{})}
	h := newHarness(t, cam)
	ctx := context.Background()

	require.NoError(t, h.s.Start(ctx))
	changed, err := h.s.Pause(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	close(cam.gate)
	require.Eventually(t, func() bool {
		return !h.s.Snapshot().Clock.StartedAt.IsZero()
	}, 5*time.Second, 5*time.Millisecond)

	snap := h.s.Snapshot()
	assert.True(t, snap.Paused)
	assert.True(t, snap.Clock.Paused, "the clock starts frozen")

	h.advance(t, 10*time.Second)
	snap = h.s.Snapshot()
	assert.Equal(t, "00:00:00", snap.Clock.Display)
	assert.Equal(t, time.Duration(0), snap.Clock.Elapsed)

	changed, err = h.s.Resume(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	snap = h.s.Snapshot()
	assert.False(t, snap.Clock.Paused)
	assert.Equal(t, 10*time.Second, snap.Clock.PausedAccumulated)
	assert.Equal(t, time.Duration(0), snap.Clock.Elapsed)

	h.advance(t, time.Second)
	h.advance(t, time.Second)
	assert.Equal(t, "00:00:02", h.s.Snapshot().Clock.Display)
}

func TestTeardownWhileReconnectPending(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	c := h.open(t)

	c.Drop(errors.New("connection reset by peer"))
	h.sync(t)
	require.Equal(t, conn.StateReconnecting, h.s.Snapshot().Status.State)

	require.NoError(t, h.s.Close())
	assert.True(t, h.s.Snapshot().Closed)
	assert.Equal(t, conn.StateClosed, h.s.Snapshot().Status.State)
	assert.Equal(t, 0, h.clk.PendingCount())
	assert.Equal(t, 0, h.camera.Active())

	h.clk.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.Dials(), "no reconnect after teardown")
}

func TestEndIsLastEnvelope(t *testing.T) {
	h := newHarness(t, nil)
	ended := make(chan string, 1)
	h.s.Subscribe(Observer{Ended: func(reason, _ string) { ended <- reason }})

	h.start(t)
	c := h.open(t)
	for range 5 {
		h.advance(t, frame)
	}

	require.NoError(t, h.s.End(""))
	assert.True(t, c.Closed())

	envs := decodeAll(t, c.Sent())
	last := envs[len(envs)-1]
	require.Equal(t, protocol.EventEnd, last.EventType())
	assert.Equal(t, protocol.EndReasonUser, last.Payload.(protocol.EndPayload).Reason)
	assert.Equal(t, protocol.EndReasonUser, <-ended)

	h.clk.Advance(time.Second)
	assert.Len(t, c.Sent(), len(envs), "nothing sent after end")

	require.NoError(t, h.s.End(""))
	assert.Equal(t, protocol.EndReasonUser, h.s.Snapshot().EndReason)
}

type brokenCamera struct{}

func (brokenCamera) AcquireStream(context.Context) (landmark.MediaHandle, error) {
	return nil, errors.New("permission denied")
}

func (brokenCamera) ReleaseStream(landmark.MediaHandle) error { return nil }

func TestDeviceFailureIsAFault(t *testing.T) {
	h := newHarness(t, brokenCamera{})
	var faults atomic.Int32
	var faultErr atomic.Value
	h.s.Subscribe(Observer{Fault: func(err error) {
		faults.Add(1)
		faultErr.Store(err)
	}})

	h.start(t)
	c := h.open(t)

	h.advance(t, time.Second)
	h.advance(t, time.Second)

	snap := h.s.Snapshot()
	assert.False(t, snap.Capturing)
	assert.Contains(t, snap.Fault, "camera")
	assert.Equal(t, int32(1), faults.Load())

	var acqErr *landmark.DeviceAcquisitionError
	require.ErrorAs(t, faultErr.Load().(error), &acqErr)
	assert.Equal(t, "camera", acqErr.Resource)

	envs := decodeAll(t, c.Sent())
	assert.Equal(t, 0, countType(envs, protocol.EventData))
	assert.Equal(t, "00:00:02", snap.Clock.Display, "the clock runs without capture")
	assert.Equal(t, conn.StateConnected, snap.Status.State)
}

func TestCloseBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.Close())
	require.NoError(t, h.s.Close())
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrClosed)
	assert.Equal(t, 0, h.dialer.Dials())

	_, err := h.s.Pause(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOperationsBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.s.Pause(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, h.s.Retry(context.Background()), ErrNotStarted)
}

func TestRetryOutsideFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.open(t)
	assert.ErrorIs(t, h.s.Retry(context.Background()), conn.ErrNotFailed)
}

func TestCancelledContextCloses(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.s.Start(ctx))
	cancel()

	select {
	case <-h.s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close")
	}
	assert.True(t, h.s.Snapshot().Closed)
	assert.Equal(t, ReasonClosed, h.s.Snapshot().EndReason)
}
