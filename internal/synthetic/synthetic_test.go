package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/landmark"
)

func TestFramesCarryEveryKeyIndex(t *testing.T) {
	opts := Options{Seed: 7}
	src, err := landmark.Acquire(context.Background(), NewCamera(opts), NewDetector(opts), clock.Real())
	require.NoError(t, err)
	defer src.Close()

	for range 100 {
		frame, err := src.Capture()
		require.NoError(t, err)
		points, err := landmark.Project(frame, landmark.Keys())
		require.NoError(t, err)
		for _, p := range points {
			assert.True(t, p.X >= 0 && p.X <= 1, "x out of range: %v", p)
			assert.True(t, p.Y >= 0 && p.Y <= 1, "y out of range: %v", p)
		}
	}
}

func TestDropout(t *testing.T) {
	opts := Options{Seed: 1, DropoutEvery: 20}
	src, err := landmark.Acquire(context.Background(), NewCamera(opts), NewDetector(opts), clock.Real())
	require.NoError(t, err)
	defer src.Close()

	missing := 0
	for range 100 {
		frame, err := src.Capture()
		require.NoError(t, err)
		if frame == nil {
			missing++
		}
	}
	// Two frames out of every twenty.
	assert.Equal(t, 10, missing)
}

func TestSameSeedSameFrames(t *testing.T) {
	det := NewDetector(Options{Seed: 42})
	a, err := det.Initialize(context.Background())
	require.NoError(t, err)
	b, err := det.Initialize(context.Background())
	require.NoError(t, err)

	fa, err := a.DetectFrame(landmark.VideoFrame{}, 1000)
	require.NoError(t, err)
	fb, err := b.DetectFrame(landmark.VideoFrame{}, 1000)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestReleaseTracksActiveStreams(t *testing.T) {
	cam := NewCamera(Options{})
	h, err := cam.AcquireStream(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cam.Active())

	require.NoError(t, cam.ReleaseStream(h))
	assert.Equal(t, 0, cam.Active())
	assert.ErrorIs(t, cam.ReleaseStream(h), ErrReleased)

	_, ok := h.Frame()
	assert.False(t, ok)
}

func TestAcquireHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCamera(Options{WarmUp: time.Hour}).AcquireStream(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewDetector(Options{LoadTime: time.Hour}).Initialize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
