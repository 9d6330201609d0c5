// Package synthetic simulates a camera and a face-landmark detector so the
// daemon, CLI and analysis server can be exercised end-to-end without a
// webcam or a model. The generated mesh sways slowly, jitters from frame to
// frame, blinks, and can drop the face periodically.
package synthetic

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/large-farva/attention-stream/internal/landmark"
)

// Options configures the simulation.
type Options struct {
	// Seed makes the jitter reproducible. Zero seeds from the wall clock.
	Seed uint64
	// DropoutEvery, if positive, hides the face for a short stretch out of
	// every DropoutEvery frames.
	DropoutEvery int
	Width        int
	Height       int
	// WarmUp and LoadTime delay stream acquisition and model loading.
	WarmUp   time.Duration
	LoadTime time.Duration
}

// ErrReleased is returned when a released handle is used.
var ErrReleased = errors.New("synthetic: handle released")

// Camera is a simulated landmark.Device.
type Camera struct {
	opts Options

	mu     sync.Mutex
	active int
}

// NewCamera returns a simulated camera.
func NewCamera(opts Options) *Camera {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	return &Camera{opts: opts}
}

// AcquireStream implements landmark.Device.
func (c *Camera) AcquireStream(ctx context.Context) (landmark.MediaHandle, error) {
	if !sleepOrCancel(ctx, c.opts.WarmUp) {
		return nil, ctx.Err()
	}
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
	return &stream{width: c.opts.Width, height: c.opts.Height}, nil
}

// ReleaseStream implements landmark.Device.
func (c *Camera) ReleaseStream(h landmark.MediaHandle) error {
	s, ok := h.(*stream)
	if !ok || s.released {
		return ErrReleased
	}
	s.released = true
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return nil
}

// Active returns the number of streams acquired and not yet released.
func (c *Camera) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

type stream struct {
	width, height int
	seq           uint64
	released      bool
}

func (s *stream) Frame() (landmark.VideoFrame, bool) {
	if s.released {
		return landmark.VideoFrame{}, false
	}
	s.seq++
	return landmark.VideoFrame{Seq: s.seq, Width: s.width, Height: s.height}, true
}

// Detector is a simulated landmark.Detector.
type Detector struct {
	opts Options
}

// NewDetector returns a simulated detector.
func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts}
}

// Initialize implements landmark.Detector.
func (d *Detector) Initialize(ctx context.Context) (landmark.DetectorHandle, error) {
	if !sleepOrCancel(ctx, d.opts.LoadTime) {
		return nil, ctx.Err()
	}
	seed := d.opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &model{
		opts: d.opts,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		base: baseMesh(),
	}, nil
}

type model struct {
	opts     Options
	rng      *rand.Rand
	base     landmark.Mesh
	frames   int
	released bool
}

// Upper eyelid landmarks that close toward the lower lid during a blink.
var upperLids = []uint32{158, 160, 385, 387}

func (m *model) DetectFrame(_ landmark.VideoFrame, timestampMs int64) (landmark.RawFrame, error) {
	if m.released {
		return nil, ErrReleased
	}
	m.frames++

	if n := m.opts.DropoutEvery; n > 0 {
		stretch := max(n/10, 1)
		if m.frames%n < stretch {
			return nil, nil
		}
	}

	t := float64(timestampMs) / 1000
	// Slow head sway plus a nod.
	dx := 0.03 * math.Sin(t*0.4)
	dy := 0.02 * math.Sin(t*0.25+1)

	// A 150 ms blink every four seconds.
	blink := math.Mod(t, 4) < 0.15

	mesh := make(landmark.Mesh, len(m.base))
	for i, p := range m.base {
		mesh[i] = landmark.Point{
			X: clamp01(p.X + dx + m.rng.NormFloat64()*0.002),
			Y: clamp01(p.Y + dy + m.rng.NormFloat64()*0.002),
			Z: p.Z + m.rng.NormFloat64()*0.001,
		}
	}
	if blink {
		for _, idx := range upperLids {
			mesh[idx].Y = clamp01(mesh[idx].Y + 0.012)
		}
	}
	return mesh, nil
}

func (m *model) Release() error {
	if m.released {
		return ErrReleased
	}
	m.released = true
	return nil
}

// baseMesh lays the mesh out on an ellipse centred in the frame, with the
// key landmarks placed roughly where a face-mesh model puts them.
func baseMesh() landmark.Mesh {
	mesh := make(landmark.Mesh, landmark.MeshSize)
	for i := range mesh {
		a := 2 * math.Pi * float64(i) / landmark.MeshSize
		r := 0.05 + 0.12*float64(i%7)/7
		mesh[i] = landmark.Point{
			X: 0.5 + r*math.Cos(a)*0.8,
			Y: 0.5 + r*math.Sin(a),
			Z: -0.03 * math.Cos(a),
		}
	}
	for idx, p := range keyLayout {
		mesh[idx] = p
	}
	return mesh
}

var keyLayout = map[uint32]landmark.Point{
	1:   {X: 0.500, Y: 0.560, Z: -0.060}, // nose tip
	6:   {X: 0.500, Y: 0.450, Z: -0.040},
	10:  {X: 0.500, Y: 0.280, Z: -0.020}, // forehead
	13:  {X: 0.500, Y: 0.640, Z: -0.030}, // upper lip
	14:  {X: 0.500, Y: 0.655, Z: -0.030}, // lower lip
	33:  {X: 0.400, Y: 0.420, Z: -0.010},
	61:  {X: 0.450, Y: 0.650, Z: -0.020},
	81:  {X: 0.480, Y: 0.638, Z: -0.030},
	133: {X: 0.460, Y: 0.420, Z: -0.015},
	144: {X: 0.415, Y: 0.430, Z: -0.012},
	152: {X: 0.500, Y: 0.760, Z: -0.010}, // chin
	153: {X: 0.440, Y: 0.430, Z: -0.012},
	158: {X: 0.440, Y: 0.408, Z: -0.018},
	160: {X: 0.418, Y: 0.408, Z: -0.016},
	178: {X: 0.480, Y: 0.658, Z: -0.028},
	234: {X: 0.320, Y: 0.470, Z: 0.050},
	263: {X: 0.600, Y: 0.420, Z: -0.010},
	291: {X: 0.550, Y: 0.650, Z: -0.020},
	311: {X: 0.520, Y: 0.638, Z: -0.030},
	362: {X: 0.540, Y: 0.420, Z: -0.015},
	373: {X: 0.585, Y: 0.430, Z: -0.012},
	380: {X: 0.560, Y: 0.430, Z: -0.012},
	385: {X: 0.560, Y: 0.408, Z: -0.018},
	387: {X: 0.582, Y: 0.408, Z: -0.016},
	402: {X: 0.520, Y: 0.658, Z: -0.028},
	454: {X: 0.680, Y: 0.470, Z: 0.050},
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
