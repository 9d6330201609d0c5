package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Server        string      `json:"server"`
	Session       SessionView `json:"session"`
}

// SessionView is the part of the session snapshot attnctl renders.
type SessionView struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Status    struct {
		State       string `json:"state"`
		Attempt     int    `json:"attempt"`
		MaxAttempts int    `json:"max_attempts"`
		Countdown   int    `json:"countdown"`
		Detail      string `json:"detail"`
		LastError   string `json:"last_error"`
	} `json:"status"`
	Clock struct {
		Display string `json:"display"`
	} `json:"clock"`
	Paused    bool   `json:"paused"`
	Capturing bool   `json:"capturing"`
	Warnings  int    `json:"warnings"`
	Fault     string `json:"fault"`
	Closed    bool   `json:"closed"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	st := s.Session.Status
	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)

	capture := "running"
	switch {
	case s.Session.Fault != "":
		capture = colorize(red, s.Session.Fault)
	case s.Session.Paused:
		capture = colorize(yellow, "paused")
	case !s.Session.Capturing:
		capture = colorize(dim, "starting")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  ATTENTION STREAM STATUS"))
	fmt.Fprintln(out, rule(38))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Session:"), s.Session.SessionID)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "User:"), s.Session.UserID)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Server:"), s.Server)
	fmt.Fprintf(out, "  %-12s %s  %s\n", colorize(dim, "State:"), colorize(stateColor(st.State), st.State), colorize(dim, st.Detail))
	if st.State == "reconnecting" && st.MaxAttempts > 0 {
		fmt.Fprintf(out, "  %-12s [%s] %d/%d\n", colorize(dim, "Attempts:"), progressBar(st.Attempt*100/st.MaxAttempts, 20), st.Attempt, st.MaxAttempts)
	}
	if st.LastError != "" {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Last error:"), st.LastError)
	}
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Elapsed:"), s.Session.Clock.Display)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Capture:"), capture)
	fmt.Fprintf(out, "  %-12s %d\n", colorize(dim, "Warnings:"), s.Session.Warnings)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Fprintln(out)

	return nil
}
