package ctl

import (
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = runtime.Version()
)

// VersionInfo fetches daemon version via GET /api/version and displays both
// the CLI and daemon version information.
func VersionInfo(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var daemon struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
		UserAgent string `json:"user_agent"`
	}
	daemonErr := getJSON(baseURL, "/api/version", &daemon)

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]any{
				"version":    Version,
				"go_version": GoVersion,
			},
		}
		if daemonErr == nil {
			resp["daemon"] = daemon
		} else {
			resp["daemon_error"] = daemonErr.Error()
		}
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  ATTENTION STREAM VERSION"))
	fmt.Fprintln(out, rule(38))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "CLI:"), Version+" ("+GoVersion+")")
	if daemonErr != nil {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Daemon:"), colorize(red, "unreachable: "+daemonErr.Error()))
	} else {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Daemon:"), daemon.Version+" ("+daemon.GoVersion+")")
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Built:"), daemon.BuiltAt)
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Agent:"), daemon.UserAgent)
	}
	fmt.Fprintln(out)

	return nil
}
