package landmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/large-farva/attention-stream/internal/clock"
)

// ErrNoFrame means the video stream has no frame ready yet. The caller
// should skip the tick without sending anything.
var ErrNoFrame = errors.New("landmark: no video frame ready")

// ErrClosed is returned by Capture after Close.
var ErrClosed = errors.New("landmark: source closed")

// VideoFrame is one frame read from a media stream.
type VideoFrame struct {
	Seq    uint64
	Width  int
	Height int
	Pixels []byte
}

// Device provides camera streams.
type Device interface {
	AcquireStream(ctx context.Context) (MediaHandle, error)
	ReleaseStream(h MediaHandle) error
}

// MediaHandle is an open camera stream.
type MediaHandle interface {
	// Frame returns the current frame, or false while the stream is not
	// yet producing frames.
	Frame() (VideoFrame, bool)
}

// Detector loads a face-landmark model.
type Detector interface {
	Initialize(ctx context.Context) (DetectorHandle, error)
}

// DetectorHandle is a loaded model. DetectFrame returns a nil RawFrame
// when no face is present.
type DetectorHandle interface {
	DetectFrame(frame VideoFrame, timestampMs int64) (RawFrame, error)
	Release() error
}

// DeviceAcquisitionError reports that the camera or the model could not be
// acquired. It is terminal for the session.
type DeviceAcquisitionError struct {
	Resource string // "camera" or "detector"
	Err      error
}

func (e *DeviceAcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Resource, e.Err)
}

func (e *DeviceAcquisitionError) Unwrap() error { return e.Err }

// Source owns a camera stream and a detector handle and produces one raw
// frame per Capture call.
type Source struct {
	clk    clock.Clock
	device Device
	media  MediaHandle
	handle DetectorHandle
	closed bool
}

// Acquire opens the camera and then the detector. It blocks for as long as
// either takes. If the detector fails the camera is released again.
func Acquire(ctx context.Context, dev Device, det Detector, clk clock.Clock) (*Source, error) {
	media, err := dev.AcquireStream(ctx)
	if err != nil {
		return nil, &DeviceAcquisitionError{Resource: "camera", Err: err}
	}

	handle, err := det.Initialize(ctx)
	if err != nil {
		_ = dev.ReleaseStream(media)
		return nil, &DeviceAcquisitionError{Resource: "detector", Err: err}
	}

	return &Source{clk: clk, device: dev, media: media, handle: handle}, nil
}

// Capture runs the detector over the current video frame. A nil frame
// with a nil error means no face was found.
func (s *Source) Capture() (RawFrame, error) {
	if s == nil || s.closed {
		return nil, ErrClosed
	}
	vf, ok := s.media.Frame()
	if !ok {
		return nil, ErrNoFrame
	}
	return s.handle.DetectFrame(vf, s.clk.Now().UnixMilli())
}

// Close releases the detector and the camera. It is idempotent and safe on
// a nil Source.
func (s *Source) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.handle.Release(), s.device.ReleaseStream(s.media))
}
