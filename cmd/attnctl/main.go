// Attnctl is the command-line client for monitoring and controlling a running
// attentiond instance. It connects over HTTP and WebSocket to query status,
// drive the session, and stream live events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/attention-stream/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8090", "attentiond URL (e.g. http://127.0.0.1:8090)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter status,alert)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --limit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "warnings":
		warnFlags := pflag.NewFlagSet("warnings", pflag.ContinueOnError)
		limit := warnFlags.Int("limit", 0, "Show only the newest N warnings")
		_ = warnFlags.Parse(subArgs)
		err = ctl.Warnings(*host, *limit, *jsonOut)

	case "stats":
		err = ctl.Stats(*host, *jsonOut)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Level, "level", "", "Filter by log level (info, error, warn)")
		logFlags.StringSliceVar(&opts.Components, "component", nil, "Only show these loggers (e.g. conn,capture)")
		logFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of log entries shown")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream live log events (like watch --filter log)")
		_ = logFlags.Parse(subArgs)
		err = ctl.Logs(*host, opts)

	// ── Control commands ──────────────────────────────────────────
	case "pause":
		err = ctl.Pause(*host, *jsonOut)

	case "resume":
		err = ctl.Resume(*host, *jsonOut)

	case "retry":
		err = ctl.Retry(*host, *jsonOut)

	case "end":
		endFlags := pflag.NewFlagSet("end", pflag.ContinueOnError)
		reason := endFlags.String("reason", "", "End reason sent to the analysis server")
		_ = endFlags.Parse(subArgs)
		err = ctl.End(*host, *reason, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  attnctl - attention stream control CLI

  USAGE
    attnctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show connection state, session clock, and capture state
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    warnings        List alerts received from the analysis server
    stats           Show capture and transport statistics
    logs            Show recent daemon log messages

  COMMANDS (control)
    pause           Pause detection and freeze the session clock
    resume          Resume detection
    retry           Reconnect after the connection has failed
    end             End the session (the daemon exits afterwards)

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8090)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    warnings:
        --limit N           Show only the newest N warnings

    logs:
        --level LEVEL       Filter by log level (info, error, warn)
        --component NAME    Only show these loggers (app, transport, session,
                            loop, conn, capture, clock; comma-separated)
        --limit N           Limit number of log entries shown
        --tail              Stream live log events

    end:
        --reason TEXT       End reason (default: user_clicked_end_button)

  EXAMPLES
    attnctl status
    attnctl --json status
    attnctl warnings --limit 10
    attnctl logs --level error --limit 20
    attnctl logs --tail
    attnctl logs --component conn,capture
    attnctl pause
    attnctl resume
    attnctl retry
    attnctl end
    attnctl watch --filter status,alert,ended

`)
}
