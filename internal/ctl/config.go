package ctl

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/large-farva/attention-stream/internal/config"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	// The daemon serves config.Config with its json tags, so decode
	// straight into it.
	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  DAEMON CONFIGURATION"))
	fmt.Fprintln(out, rule(50))

	section := func(name string) {
		fmt.Fprintf(out, "\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Fprintf(out, "    %-22s %v\n", colorize(dim, key+":"), val)
	}

	section("server")
	field("host", cfg.Server.Host)
	field("port", cfg.Server.Port)
	field("path", cfg.Server.Path)
	field("tls", cfg.Server.TLS)
	field("endpoint", cfg.Server.Endpoint())

	section("session")
	field("user_id", cfg.Session.UserID)
	field("user_agent", cfg.Session.UserAgent)

	section("capture")
	field("fps", cfg.Capture.FPS)
	field("detector", cfg.Capture.Detector)

	section("synthetic")
	field("seed", cfg.Synthetic.Seed)
	field("dropout_every", cfg.Synthetic.DropoutEvery)
	field("width", cfg.Synthetic.Width)
	field("height", cfg.Synthetic.Height)

	section("transport")
	field("handshake_timeout_ms", cfg.Transport.HandshakeTimeoutMS)
	field("write_timeout_ms", cfg.Transport.WriteTimeoutMS)
	field("ping_interval_ms", cfg.Transport.PingIntervalMS)
	field("send_buffer", cfg.Transport.SendBuffer)

	section("observe")
	field("bind", cfg.Observe.Bind)

	section("alerts")
	field("log_cap", cfg.Alerts.LogCap)

	section("logging")
	field("level", cfg.Logging.Level)
	field("format", cfg.Logging.Format)

	fmt.Fprintln(out)

	return nil
}
