// Package config handles loading, defaulting, and validation of the attentiond
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server    ServerConfig    `toml:"server"    json:"server"`
	Session   SessionConfig   `toml:"session"   json:"session"`
	Capture   CaptureConfig   `toml:"capture"   json:"capture"`
	Synthetic SyntheticConfig `toml:"synthetic" json:"synthetic"`
	Transport TransportConfig `toml:"transport" json:"transport"`
	Observe   ObserveConfig   `toml:"observe"   json:"observe"`
	Alerts    AlertsConfig    `toml:"alerts"    json:"alerts"`
	Logging   LoggingConfig   `toml:"logging"   json:"logging"`
}

// ServerConfig locates the analysis server.
type ServerConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
	Path string `toml:"path" json:"path"`
	TLS  bool   `toml:"tls"  json:"tls"`
}

// Endpoint returns the WebSocket URL of the analysis server.
func (s ServerConfig) Endpoint() string {
	scheme := "ws"
	if s.TLS {
		scheme = "wss"
	}
	path := s.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   path,
	}
	return u.String()
}

type SessionConfig struct {
	UserID    string `toml:"user_id"    json:"user_id"`
	UserAgent string `toml:"user_agent" json:"user_agent"`
}

type CaptureConfig struct {
	FPS      int    `toml:"fps"      json:"fps"`
	Detector string `toml:"detector" json:"detector"`
}

// Interval is the time between capture ticks.
func (c CaptureConfig) Interval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

type SyntheticConfig struct {
	Seed         int64 `toml:"seed"          json:"seed"`
	DropoutEvery int   `toml:"dropout_every" json:"dropout_every"`
	Width        int   `toml:"width"         json:"width"`
	Height       int   `toml:"height"        json:"height"`
}

type TransportConfig struct {
	HandshakeTimeoutMS int `toml:"handshake_timeout_ms" json:"handshake_timeout_ms"`
	WriteTimeoutMS     int `toml:"write_timeout_ms"     json:"write_timeout_ms"`
	PingIntervalMS     int `toml:"ping_interval_ms"     json:"ping_interval_ms"`
	SendBuffer         int `toml:"send_buffer"          json:"send_buffer"`
}

type ObserveConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type AlertsConfig struct {
	// LogCap bounds the warning log. Zero keeps every alert.
	LogCap int `toml:"log_cap" json:"log_cap"`
}

type LoggingConfig struct {
	Level  string `toml:"level"  json:"level"`
	Format string `toml:"format" json:"format"`
}

// Detectors lists the landmark detector implementations attentiond can use.
var Detectors = []string{"synthetic"}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 9001,
			Path: "/",
		},
		Session: SessionConfig{
			UserID: "1",
		},
		Capture: CaptureConfig{
			FPS:      30,
			Detector: "synthetic",
		},
		Synthetic: SyntheticConfig{
			Width:  1280,
			Height: 720,
		},
		Transport: TransportConfig{
			HandshakeTimeoutMS: 5000,
			WriteTimeoutMS:     3000,
			PingIntervalMS:     20000,
			SendBuffer:         64,
		},
		Observe: ObserveConfig{
			Bind: "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks every constraint. Flags applied after Load go through it
// again.
func (cfg Config) Validate() error {
	if cfg.Server.Host == "" {
		return errors.New("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.Session.UserID == "" {
		return errors.New("session.user_id must not be empty")
	}
	if cfg.Capture.FPS < 1 || cfg.Capture.FPS > 120 {
		return errors.New("capture.fps must be between 1 and 120")
	}
	if !knownDetector(cfg.Capture.Detector) {
		return fmt.Errorf("capture.detector %q is not one of %s", cfg.Capture.Detector, strings.Join(Detectors, ", "))
	}
	if cfg.Synthetic.DropoutEvery < 0 {
		return errors.New("synthetic.dropout_every must be >= 0")
	}
	if cfg.Synthetic.Width <= 0 || cfg.Synthetic.Height <= 0 {
		return errors.New("synthetic.width and synthetic.height must be > 0")
	}
	if cfg.Transport.HandshakeTimeoutMS <= 0 {
		return errors.New("transport.handshake_timeout_ms must be > 0")
	}
	if cfg.Transport.WriteTimeoutMS <= 0 {
		return errors.New("transport.write_timeout_ms must be > 0")
	}
	if cfg.Transport.PingIntervalMS < 0 {
		return errors.New("transport.ping_interval_ms must be >= 0")
	}
	if cfg.Transport.SendBuffer < 1 {
		return errors.New("transport.send_buffer must be >= 1")
	}
	if cfg.Observe.Bind == "" {
		return errors.New("observe.bind must not be empty")
	}
	if cfg.Alerts.LogCap < 0 {
		return errors.New("alerts.log_cap must be >= 0")
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	return nil
}

func knownDetector(name string) bool {
	for _, d := range Detectors {
		if d == name {
			return true
		}
	}
	return false
}

// Duration converts a millisecond setting.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
