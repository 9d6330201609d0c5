package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DecodeError reports an inbound message that could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireEnvelope struct {
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Timestamp string          `json:"timestamp"`
	EventType EventType       `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

type outEnvelope struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Timestamp string    `json:"timestamp"`
	EventType EventType `json:"eventType"`
	Payload   Payload   `json:"payload"`
}

// Encode serializes e. Data coordinates are rounded to Precision decimals
// on the way out.
func Encode(e Envelope) ([]byte, error) {
	if e.Payload == nil {
		return nil, errors.New("encode: envelope has no payload")
	}
	if e.SessionID == "" {
		return nil, errors.New("encode: envelope has no session id")
	}

	payload := e.Payload
	if d, ok := payload.(DataPayload); ok {
		rounded := make([]MeasurementPoint, len(d.Landmarks))
		for i, p := range d.Landmarks {
			rounded[i] = p.Round()
		}
		payload = DataPayload{Landmarks: rounded}
	}

	return json.Marshal(outEnvelope{
		SessionID: e.SessionID,
		UserID:    e.UserID,
		Timestamp: FormatTimestamp(e.Timestamp),
		EventType: payload.EventType(),
		Payload:   payload,
	})
}

// DecodeEnvelope parses a client envelope. The server side of the
// protocol and tests use it; the client itself only decodes alerts.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if w.SessionID == "" {
		return Envelope{}, &DecodeError{Reason: "missing sessionId"}
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "bad timestamp", Err: err}
	}

	var payload Payload
	switch w.EventType {
	case EventStart:
		var p StartPayload
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	case EventData:
		var p DataPayload
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	case EventStatus:
		var p StatusPayload
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	case EventEnd:
		var p EndPayload
		err = json.Unmarshal(w.Payload, &p)
		payload = p
	default:
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("unknown eventType %q", w.EventType)}
	}
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed " + string(w.EventType) + " payload", Err: err}
	}

	return Envelope{
		SessionID: w.SessionID,
		UserID:    w.UserID,
		Timestamp: ts.UTC(),
		Payload:   payload,
	}, nil
}

// Decode interprets a server message as an alert. Any non-empty text is
// valid and is kept verbatim.
func Decode(data []byte) (Alert, error) {
	if len(data) == 0 {
		return "", &DecodeError{Reason: "empty alert"}
	}
	return Alert(data), nil
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
