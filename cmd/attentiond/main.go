// Attentiond streams facial landmarks from the local camera to a remote
// attention analysis server for the duration of one session.
//
// It loads configuration, connects to the analysis server, starts the local
// HTTP/WebSocket API for UI collaborators, and exits when the session ends
// or on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/large-farva/attention-stream/internal/app"
	"github.com/large-farva/attention-stream/internal/config"
	"github.com/large-farva/attention-stream/internal/logging"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/attention/attentiond.toml", "Path to config TOML")
		noConfig   = pflag.Bool("no-config", false, "Ignore the config file and run with defaults")
		server     = pflag.String("server", "", "Analysis server host:port (overrides server.host and server.port)")
		bind       = pflag.String("bind", "", "Local HTTP bind address (overrides observe.bind)")
		user       = pflag.String("user", "", "User ID sent with every envelope (overrides session.user_id)")
	)
	pflag.Parse()

	cfg, path, err := loadConfig(*configPath, *noConfig)
	if err != nil {
		fatal("config load failed: %v", err)
	}
	if err := applyFlags(&cfg, *server, *user); err != nil {
		fatal("invalid flags: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fatal("logger setup failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	a := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: path,
		Bind:       *bind,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("attentiond failed", zap.Error(err))
	}
}

func loadConfig(path string, skip bool) (config.Config, string, error) {
	if skip {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func applyFlags(cfg *config.Config, server, user string) error {
	if server != "" {
		host, port, err := net.SplitHostPort(server)
		if err != nil {
			return fmt.Errorf("--server: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("--server: bad port %q", port)
		}
		cfg.Server.Host = host
		cfg.Server.Port = p
	}
	if user != "" {
		cfg.Session.UserID = user
	}
	return cfg.Validate()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "attentiond: "+format+"\n", args...)
	os.Exit(1)
}
