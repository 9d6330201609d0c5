// Package protocol frames the messages exchanged with the analysis server.
//
// Every client message is an Envelope serialized as a flat JSON object:
//
//	{"sessionId":"session-…","userId":"1","timestamp":"2026-03-01T12:00:00.000Z",
//	 "eventType":"data","payload":{"landmarks":[{"index":1,"x":0.5,"y":0.5,"z":-0.02}]}}
//
// Server messages carry no structure: any non-empty text is an alert.
package protocol

import (
	"math"
	"time"
)

// EventType names the kind of a client envelope.
type EventType string

const (
	EventStart  EventType = "start"
	EventData   EventType = "data"
	EventStatus EventType = "status_update"
	EventEnd    EventType = "end"
)

// Status values carried by status_update envelopes.
type Status string

const (
	StatusNoFace  Status = "no_face_detected"
	StatusPaused  Status = "paused"
	StatusResumed Status = "resumed"
)

// EndReasonUser is the reason sent when the user ends the session.
const EndReasonUser = "user_clicked_end_button"

// Precision is the number of decimal places coordinates are rounded to
// before they go on the wire.
const Precision = 4

// TimestampLayout is the ISO-8601 form used for envelope timestamps:
// UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// MeasurementPoint is one sampled landmark coordinate.
type MeasurementPoint struct {
	Index uint32  `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// Round returns p with its coordinates rounded to Precision decimals.
func (p MeasurementPoint) Round() MeasurementPoint {
	p.X = Round(p.X)
	p.Y = Round(p.Y)
	p.Z = Round(p.Z)
	return p
}

var scale = math.Pow10(Precision)

// Round rounds v to Precision decimal places.
func Round(v float64) float64 {
	return math.Round(v*scale) / scale
}

// Payload is the per-event body of an Envelope. The concrete type
// determines the envelope's event type.
type Payload interface {
	EventType() EventType
}

// StartPayload identifies the client when a connection opens.
type StartPayload struct {
	UserAgent string `json:"userAgent"`
}

// DataPayload carries the full key-landmark set for one frame, in key
// order.
type DataPayload struct {
	Landmarks []MeasurementPoint `json:"landmarks"`
}

// StatusPayload reports a change in what the client is sending.
type StatusPayload struct {
	Status Status `json:"status"`
}

// EndPayload closes the session on the server side.
type EndPayload struct {
	Reason string `json:"reason"`
}

func (StartPayload) EventType() EventType { return EventStart }
func (DataPayload) EventType() EventType { return EventData }
func (StatusPayload) EventType() EventType { return EventStatus }
func (EndPayload) EventType() EventType { return EventEnd }

// Envelope is the outer structure of every client message.
type Envelope struct {
	SessionID string
	UserID    string
	Timestamp time.Time
	Payload   Payload
}

// EventType returns the event type implied by the payload, or "" if the
// envelope has none.
func (e Envelope) EventType() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// Alert is a message pushed by the server. Its content is opaque to the
// client.
type Alert string
