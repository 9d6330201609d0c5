package protocol

import (
	"github.com/google/uuid"

	"github.com/large-farva/attention-stream/internal/clock"
)

// NewSessionID returns a fresh session identifier. It is generated once
// per session and never changes afterwards.
func NewSessionID() string {
	return "session-" + uuid.NewString()
}

// Builder stamps envelopes with a fixed session identity and the current
// time.
type Builder struct {
	SessionID string
	UserID    string
	Clock     clock.Clock
}

func (b Builder) envelope(p Payload) Envelope {
	return Envelope{
		SessionID: b.SessionID,
		UserID:    b.UserID,
		Timestamp: b.Clock.Now().UTC().Truncate(1e6),
		Payload:   p,
	}
}

// Start builds the envelope sent on every successful connect.
func (b Builder) Start(userAgent string) Envelope {
	return b.envelope(StartPayload{UserAgent: userAgent})
}

// Data builds a data envelope. points must hold the full key set.
func (b Builder) Data(points []MeasurementPoint) Envelope {
	return b.envelope(DataPayload{Landmarks: points})
}

// Status builds a status_update envelope.
func (b Builder) Status(s Status) Envelope {
	return b.envelope(StatusPayload{Status: s})
}

// End builds the envelope announcing the end of the session.
func (b Builder) End(reason string) Envelope {
	if reason == "" {
		reason = EndReasonUser
	}
	return b.envelope(EndPayload{Reason: reason})
}
