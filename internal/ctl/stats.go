package ctl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatsResponse mirrors GET /api/stats.
type StatsResponse struct {
	Capture struct {
		Ticks   uint64 `json:"ticks"`
		Data    uint64 `json:"data"`
		NoFace  uint64 `json:"no_face"`
		Paused  uint64 `json:"paused"`
		NoFrame uint64 `json:"no_frame"`
		Errors  uint64 `json:"errors"`
	} `json:"capture"`
	Warnings         int    `json:"warnings"`
	ReconnectAttempt int    `json:"reconnect_attempt"`
	Elapsed          string `json:"elapsed"`
	PausedSeconds    int64  `json:"paused_seconds"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

// Stats shows capture tick counters and session totals.
func Stats(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp StatsResponse
	if err := getJSON(baseURL, "/api/stats", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  SESSION STATISTICS"))
	fmt.Fprintln(out, rule(42))
	fmt.Fprintf(out, "  Uptime:          %s\n", formatDuration(time.Duration(resp.UptimeSeconds)*time.Second))
	fmt.Fprintf(out, "  Elapsed:         %s\n", resp.Elapsed)
	fmt.Fprintf(out, "  Paused for:      %s\n", formatDuration(time.Duration(resp.PausedSeconds)*time.Second))
	fmt.Fprintf(out, "  Warnings:        %d\n", resp.Warnings)

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  CAPTURE TICKS"))
	t := newTable("  ", "Outcome", "Count")
	t.alignRight(1)
	c := resp.Capture
	for _, r := range []struct {
		name string
		n    uint64
	}{
		{"data", c.Data},
		{"no face", c.NoFace},
		{"paused", c.Paused},
		{"no frame", c.NoFrame},
		{"error", c.Errors},
		{"total", c.Ticks},
	} {
		t.row(r.name, strconv.FormatUint(r.n, 10))
	}
	t.flush()

	fmt.Fprintln(out)
	return nil
}
