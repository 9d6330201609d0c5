package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/large-farva/attention-stream/internal/conn"
	"github.com/large-farva/attention-stream/internal/session"
)

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := a.session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           "attention-stream",
		"version":        Version,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"server":         a.cfg.Server.Endpoint(),
		"session":        snap,
	})
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
		"user_agent": DefaultUserAgent(),
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

// ---------------------------------------------------------------------------
// Warnings, logs and stats
// ---------------------------------------------------------------------------

func (a *App) handleWarnings(w http.ResponseWriter, r *http.Request) {
	entries := a.session.Warnings()
	if n, ok := limit(r); ok && n < len(entries) {
		entries = entries[:n]
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": entries})
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := a.logs.snapshot()

	levelFilter := r.URL.Query().Get("level")
	var components []string
	if c := r.URL.Query().Get("component"); c != "" {
		components = strings.Split(c, ",")
	}
	if levelFilter != "" || len(components) > 0 {
		filtered := []logEntry{}
		for _, e := range entries {
			if levelFilter != "" && e.Level != levelFilter {
				continue
			}
			if len(components) > 0 && !slices.Contains(components, leafName(e.Component)) {
				continue
			}
			filtered = append(filtered, e)
		}
		entries = filtered
	}

	if n, ok := limit(r); ok && n < len(entries) {
		entries = entries[len(entries)-n:]
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := a.session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"capture":           snap.Capture,
		"warnings":          snap.Warnings,
		"reconnect_attempt": snap.Status.Attempt,
		"elapsed":           snap.Clock.Display,
		"paused_seconds":    int64(snap.Clock.PausedAccumulated.Seconds()),
		"uptime_seconds":    int64(time.Since(a.startedAt).Seconds()),
	})
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{}
	allOK := true

	// The session loop answers within a second.
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if err := a.session.Sync(ctx); err != nil {
		checks["session_loop"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else {
		checks["session_loop"] = map[string]any{"ok": true}
	}

	snap := a.session.Snapshot()
	connOK := snap.Status.State != conn.StateFailed && snap.Status.State != conn.StateClosed
	if !connOK {
		allOK = false
	}
	checks["connection"] = map[string]any{"ok": connOK, "state": snap.Status.State, "detail": snap.Status.Detail}

	if snap.Fault != "" {
		checks["capture"] = map[string]any{"ok": false, "error": snap.Fault}
		allOK = false
	} else {
		checks["capture"] = map[string]any{"ok": true, "capturing": snap.Capturing}
	}

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

// ---------------------------------------------------------------------------
// Session controls
// ---------------------------------------------------------------------------

func (a *App) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	changed, err := a.session.Pause(r.Context())
	writeCommandResult(w, toggleResult(changed, err, "session paused", "already paused"))
}

func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	changed, err := a.session.Resume(r.Context())
	writeCommandResult(w, toggleResult(changed, err, "session resumed", "not paused"))
}

func (a *App) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := a.session.Retry(r.Context()); err != nil {
		writeCommandResult(w, errorResult(err))
		return
	}
	writeCommandResult(w, commandResult{OK: true, Message: "reconnecting"})
}

func (a *App) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Accept an optional reason in the body: {"reason": "timeout"}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := a.session.End(body.Reason); err != nil {
		writeCommandResult(w, errorResult(err))
		return
	}
	snap := a.session.Snapshot()
	writeCommandResult(w, commandResult{OK: true, Message: "session ended at " + snap.Clock.Display})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type commandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	code    int
}

func toggleResult(changed bool, err error, done, noop string) commandResult {
	if err != nil {
		return errorResult(err)
	}
	if !changed {
		return commandResult{OK: true, Message: noop}
	}
	return commandResult{OK: true, Message: done}
}

func errorResult(err error) commandResult {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrNotStarted),
		errors.Is(err, conn.ErrNotFailed), errors.Is(err, conn.ErrTornDown):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	return commandResult{OK: false, Error: err.Error(), code: code}
}

// writeCommandResult writes a commandResult as JSON.
func writeCommandResult(w http.ResponseWriter, result commandResult) {
	code := http.StatusOK
	if !result.OK {
		code = result.code
		if code == 0 {
			code = http.StatusInternalServerError
		}
	}
	writeJSON(w, code, result)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func limit(r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
