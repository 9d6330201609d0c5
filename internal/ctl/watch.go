package ctl

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter     []string // event types to show (empty = all)
	Components []string // loggers whose log events to show (empty = all)
	JSON       bool     // output raw JSON per event
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal in a human-readable format until interrupted or the daemon
// goes away.
func Watch(baseURL string, opts WatchOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watch(ctx, baseURL, opts)
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func watch(ctx context.Context, baseURL string, opts WatchOptions) error {
	target, err := wsURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s %s\n", colorize(green, "connected"), colorize(dim, target))
		if len(opts.Filter) > 0 {
			fmt.Fprintf(out, "  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Fprintln(out, rule(50))
		fmt.Fprintln(out)
	}

	// Build a filter set for O(1) lookup.
	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}
	componentSet := make(map[string]bool, len(opts.Components))
	for _, c := range opts.Components {
		componentSet[c] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var ev map[string]any
			if err := json.Unmarshal(msg, &ev); err == nil && len(filterSet) > 0 {
				evType, _ := ev["type"].(string)
				if !filterSet[evType] {
					continue
				}
			}
			if t, _ := ev["type"].(string); t == "log" && len(componentSet) > 0 {
				c, _ := ev["component"].(string)
				if !componentSet[rootComponent(c)] {
					continue
				}
			}

			if opts.JSON {
				fmt.Fprintln(out, string(msg))
			} else {
				renderEvent(msg)
			}

			if t, _ := ev["type"].(string); t == "ended" {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		if !opts.JSON {
			fmt.Fprintln(out)
			fmt.Fprintln(out, colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		_ = conn.Close()
		<-done
		return nil
	case <-done:
		return nil
	}
}

// renderEvent parses a JSON event and prints it in a human-friendly format.
// Falls back to raw JSON for unrecognized event types.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Fprintf(out, "  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := formatEventTime(ev)

	switch evType {
	case "hello":
		id, _ := ev["session_id"].(string)
		display, _ := ev["display"].(string)
		state := nestedString(ev, "status", "state")
		fmt.Fprintf(out, "  %s %s  %s  %s  %s\n",
			colorize(dim, ts),
			colorize(bold, "SESSION"),
			id,
			colorize(stateColor(state), state),
			colorize(dim, display),
		)

	case "heartbeat":
		// Heartbeats are noisy, so keep them dim and on one line.
		state, _ := ev["state"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		uptimeStr := formatDuration(time.Duration(uptime) * time.Second)
		fmt.Fprintf(out, "  %s %s  %s  up %s\n",
			colorize(dim, ts),
			colorize(dim, "heartbeat"),
			colorize(stateColor(state), state),
			colorize(dim, uptimeStr),
		)

	case "status":
		state, _ := ev["state"].(string)
		detail, _ := ev["detail"].(string)
		fmt.Fprintf(out, "  %s %s  %s  %s\n",
			colorize(dim, ts),
			colorize(bold, "STATUS"),
			colorize(stateColor(state), padRight(state, 12)),
			detail,
		)

	case "alert":
		message, _ := ev["message"].(string)
		fmt.Fprintf(out, "  %s %s  %s\n",
			colorize(dim, ts),
			colorize(red, "ALERT "),
			colorize(bold, message),
		)

	case "clock":
		display, _ := ev["display"].(string)
		paused, _ := ev["paused"].(bool)
		label := display
		if paused {
			label += " (paused)"
		}
		fmt.Fprintf(out, "  %s %s  %s\n", colorize(dim, ts), colorize(dim, "clock "), colorize(dim, label))

	case "fault":
		resource, _ := ev["resource"].(string)
		message, _ := ev["message"].(string)
		fmt.Fprintf(out, "  %s %s  %s %s\n",
			colorize(dim, ts),
			colorize(red, "FAULT "),
			colorize(dim, "["+resource+"]"),
			message,
		)

	case "log":
		level, _ := ev["level"].(string)
		message, _ := ev["message"].(string)
		component, _ := ev["component"].(string)
		levelStr := formatLogLevel(level)
		src := ""
		if component != "" {
			src = colorize(dim, "["+rootComponent(component)+"] ")
		}
		fmt.Fprintf(out, "  %s %s  %s%s\n", colorize(dim, ts), levelStr, src, message)

	case "ended":
		reason, _ := ev["reason"].(string)
		display, _ := ev["display"].(string)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s %s  %s after %s\n", colorize(dim, ts), header("SESSION ENDED"), reason, display)
		fmt.Fprintln(out)

	default:
		// Unknown event type: dump as indented JSON so nothing is lost.
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Fprintf(out, "  %s\n", string(raw))
			return
		}
		fmt.Fprintf(out, "  %s\n", string(pretty))
	}
}

func nestedString(ev map[string]any, keys ...string) string {
	var cur any = ev
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[k]
	}
	s, _ := cur.(string)
	return s
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "        "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		if len(tsRaw) > 10 {
			return tsRaw[:10]
		}
		return tsRaw
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}
