// Package alerts keeps the warning log: every alert received from the
// analysis server, most recent first.
package alerts

import (
	"time"

	"github.com/large-farva/attention-stream/internal/protocol"
)

// Entry is one received alert.
type Entry struct {
	ReceivedAt time.Time `json:"received_at"`
	Message    string    `json:"message"`
}

// Log is the warning log. It is unbounded unless a cap is set. It is not
// safe for concurrent use.
type Log struct {
	cap     int
	entries []Entry
}

// NewLog returns a log holding at most limit entries. A limit of zero or
// less keeps everything.
func NewLog(limit int) *Log {
	return &Log{cap: limit}
}

// Add records an alert as the newest entry.
func (l *Log) Add(at time.Time, a protocol.Alert) Entry {
	e := Entry{ReceivedAt: at, Message: string(a)}
	l.entries = append(l.entries, e)
	if l.cap > 0 && len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	return e
}

// Entries returns a copy of the log, most recent first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[len(out)-1-i] = e
	}
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int { return len(l.entries) }
