// Package telemetry defines the typed events that attentiond pushes to its
// local observers over WebSocket. A UI collaborator renders the connection
// status line, the alert banner and warning log, and the session timer from
// these events alone.
package telemetry

import (
	"time"

	"github.com/large-farva/attention-stream/internal/alerts"
	"github.com/large-farva/attention-stream/internal/conn"
	"github.com/large-farva/attention-stream/internal/sessionclock"
)

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHello     EventType = "hello"
	EventHeartbeat EventType = "heartbeat"
	EventStatus    EventType = "status"
	EventAlert     EventType = "alert"
	EventClock     EventType = "clock"
	EventFault     EventType = "fault"
	EventLog       EventType = "log"
	EventEnded     EventType = "ended"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// Stamp returns an Event of type t stamped with now.
func Stamp(t EventType, now time.Time) Event {
	return Event{Type: t, TS: FormatTS(now)}
}

// FormatTS renders t as the RFC 3339 nano UTC string used by every event.
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Hello is sent to each observer right after it connects.
type Hello struct {
	Event
	SessionID string         `json:"session_id"`
	Status    conn.Status    `json:"status"`
	Display   string         `json:"display"`
	Paused    bool           `json:"paused"`
	Warnings  []alerts.Entry `json:"warnings"`
}

// Heartbeat is sent periodically so observers can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Status is emitted on every connection state change and countdown tick.
type Status struct {
	Event
	conn.Status
}

// Alert carries one message from the analysis server.
type Alert struct {
	Event
	alerts.Entry
}

// Clock is emitted on every session clock tick and on pause and resume.
type Clock struct {
	Event
	Display string `json:"display"`
	Paused  bool   `json:"paused"`
	Elapsed int64  `json:"elapsed_ms"`
}

// NewClock builds a Clock event from a session clock snapshot.
func NewClock(now time.Time, s sessionclock.Snapshot) Clock {
	return Clock{
		Event:   Stamp(EventClock, now),
		Display: s.Display,
		Paused:  s.Paused,
		Elapsed: s.Elapsed.Milliseconds(),
	}
}

// Fault reports a condition that ends capture for this session, such as a
// camera or model that could not be acquired.
type Fault struct {
	Event
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

// Ended is the last event of a session.
type Ended struct {
	Event
	Reason  string `json:"reason"`
	Display string `json:"display"`
}
