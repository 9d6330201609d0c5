package app

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/large-farva/attention-stream/internal/telemetry"
	"github.com/large-farva/attention-stream/internal/ws"
)

// logRingSize bounds the log lines kept for /api/logs.
const logRingSize = 500

type logEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

type logRing struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *logRing) add(e logEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > logRingSize {
		r.entries = r.entries[len(r.entries)-logRingSize:]
	}
}

// snapshot returns the kept lines, oldest first.
func (r *logRing) snapshot() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logEntry(nil), r.entries...)
}

// leafName returns the last segment of a dotted logger name.
func leafName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// tapCore copies every log line at info and above into the ring and out
// to WebSocket observers. Fields are not carried over.
type tapCore struct {
	zapcore.LevelEnabler
	ring *logRing
	hub  *ws.Hub
}

func (c *tapCore) With([]zapcore.Field) zapcore.Core { return c }

func (c *tapCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *tapCore) Write(e zapcore.Entry, _ []zapcore.Field) error {
	line := telemetry.LogLine{
		Event:     telemetry.Stamp(telemetry.EventLog, e.Time),
		Level:     e.Level.String(),
		Component: e.LoggerName,
		Message:   e.Message,
	}
	c.ring.add(logEntry{TS: line.TS, Level: line.Level, Component: line.Component, Message: line.Message})
	c.hub.BroadcastJSON(line)
	return nil
}

func (c *tapCore) Sync() error { return nil }

// tap returns logger with its output also fed to ring and hub.
func tap(logger *zap.Logger, ring *logRing, hub *ws.Hub) *zap.Logger {
	t := &tapCore{LevelEnabler: zapcore.InfoLevel, ring: ring, hub: hub}
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, t)
	}))
}
