package ctl

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Components are the named loggers attentiond reports under.
var Components = []string{"app", "transport", "session", "loop", "conn", "capture", "clock"}

// LogsOptions configures the logs command.
type LogsOptions struct {
	Level      string
	Components []string // only these loggers (empty = all)
	Limit      int
	Tail       bool
	JSON       bool
}

// LogEntry mirrors one line of GET /api/logs.
type LogEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Logs shows recent daemon log lines, optionally narrowed to the session
// components that wrote them, or streams them live with --tail.
func Logs(baseURL string, opts LogsOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	for _, c := range opts.Components {
		if !slices.Contains(Components, c) {
			return fmt.Errorf("unknown component %q (want one of %s)", c, strings.Join(Components, ", "))
		}
	}

	if opts.Tail {
		return Watch(baseURL, WatchOptions{
			Filter:     []string{"log"},
			Components: opts.Components,
			JSON:       opts.JSON,
		})
	}

	q := url.Values{}
	if opts.Level != "" {
		q.Set("level", opts.Level)
	}
	if len(opts.Components) > 0 {
		q.Set("component", strings.Join(opts.Components, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  DAEMON LOGS"))
	fmt.Fprintln(out, rule(70))

	if len(resp.Logs) == 0 {
		fmt.Fprintln(out, "  No log entries found.")
		fmt.Fprintln(out)
		return nil
	}

	t := newTable("  ", "Time", "Level", "Component", "Message")
	perComponent := map[string]int{}
	for _, e := range resp.Logs {
		ts := e.TS
		if parsed, err := time.Parse(time.RFC3339Nano, e.TS); err == nil {
			ts = parsed.Local().Format("15:04:05")
		}
		component := rootComponent(e.Component)
		perComponent[component]++
		t.row(ts, e.Level, component, e.Message)
	}
	t.flush()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s %s\n", colorize(dim, fmt.Sprintf("%d lines:", len(resp.Logs))), componentSummary(perComponent))
	fmt.Fprintln(out)
	return nil
}

// rootComponent strips nested logger names ("session.conn" is "conn").
func rootComponent(name string) string {
	if name == "" {
		return "-"
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func componentSummary(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s %d", n, counts[n])
	}
	return strings.Join(parts, ", ")
}
