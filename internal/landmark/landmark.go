// Package landmark turns detector output into the fixed set of measurement
// points the analysis server expects.
package landmark

import (
	"fmt"

	"github.com/large-farva/attention-stream/internal/protocol"
)

// KeyIndices is the ordered set of face-mesh positions sampled on every
// frame. The server addresses points by position in this list, so it is a
// build-time contract.
var KeyIndices = [...]uint32{
	1, 6, 10, 13, 14, 33, 61, 81, 133, 144, 152, 153, 158,
	160, 178, 234, 263, 291, 311, 362, 373, 380, 385, 387, 402, 454,
}

// Keys returns a copy of KeyIndices as a slice.
func Keys() []uint32 {
	out := make([]uint32, len(KeyIndices))
	copy(out, KeyIndices[:])
	return out
}

// MeshSize is the number of points in a full face mesh.
const MeshSize = 478

// Point is one detected landmark in normalized image coordinates.
type Point struct {
	X, Y, Z float64
}

// RawFrame is what a detector produced for one video frame.
type RawFrame interface {
	// Landmark returns the point at index, or false if the detector did
	// not produce it.
	Landmark(index uint32) (Point, bool)
}

// Mesh is a dense RawFrame indexed by mesh position.
type Mesh []Point

// Landmark implements RawFrame.
func (m Mesh) Landmark(index uint32) (Point, bool) {
	if int64(index) >= int64(len(m)) {
		return Point{}, false
	}
	return m[index], true
}

// MissingIndexError reports a frame that lacks one of the requested
// indices.
type MissingIndexError struct {
	Index uint32
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("landmark: index %d missing from frame", e.Index)
}

// Project samples frame at indices, in order, rounding coordinates to the
// wire precision. It never returns a partial set: if frame is nil or any
// index is absent it fails with *MissingIndexError.
func Project(frame RawFrame, indices []uint32) ([]protocol.MeasurementPoint, error) {
	if frame == nil {
		if len(indices) == 0 {
			return nil, nil
		}
		return nil, &MissingIndexError{Index: indices[0]}
	}

	out := make([]protocol.MeasurementPoint, 0, len(indices))
	for _, idx := range indices {
		p, ok := frame.Landmark(idx)
		if !ok {
			return nil, &MissingIndexError{Index: idx}
		}
		out = append(out, protocol.MeasurementPoint{Index: idx, X: p.X, Y: p.Y, Z: p.Z}.Round())
	}
	return out, nil
}
