// Package app wires together the HTTP server, the WebSocket hub and the
// streaming session. It owns the daemon's lifecycle: the daemon runs for as
// long as its one session does.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/large-farva/attention-stream/internal/alerts"
	"github.com/large-farva/attention-stream/internal/clock"
	"github.com/large-farva/attention-stream/internal/config"
	"github.com/large-farva/attention-stream/internal/conn"
	"github.com/large-farva/attention-stream/internal/landmark"
	"github.com/large-farva/attention-stream/internal/metrics"
	"github.com/large-farva/attention-stream/internal/session"
	"github.com/large-farva/attention-stream/internal/sessionclock"
	"github.com/large-farva/attention-stream/internal/synthetic"
	"github.com/large-farva/attention-stream/internal/telemetry"
	"github.com/large-farva/attention-stream/internal/transport"
	"github.com/large-farva/attention-stream/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *zap.Logger
	Cfg        config.Config
	ConfigPath string
	// Bind overrides observe.bind.
	Bind string

	// Dialer, Device, Detector and Clock replace the defaults built from
	// the config. Tests use them.
	Dialer   transport.Dialer
	Device   landmark.Device
	Detector landmark.Detector
	Clock    clock.Clock
}

// App is the top-level daemon process.
type App struct {
	log        *zap.SugaredLogger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	session   *session.Session
	metrics   *metrics.Metrics
	wsHub     *ws.Hub
	logs      *logRing

	addr  atomic.Value // net.Addr once listening
	ready chan struct{}
}

// New builds the session and everything around it. Call Run to start.
func New(opts Options) *App {
	cfg := opts.Cfg
	base := opts.Logger
	if base == nil {
		base = zap.NewNop()
	}

	a := &App{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		metrics:    metrics.New(),
		wsHub:      ws.NewHub(),
		logs:       &logRing{},
		ready:      make(chan struct{}),
	}
	if a.bind == "" {
		a.bind = cfg.Observe.Bind
	}

	logger := tap(base, a.logs, a.wsHub)
	a.log = logger.Sugar().Named("app")

	if opts.Dialer == nil {
		opts.Dialer = transport.NewWebSocketDialer(transport.WebSocketOptions{
			URL:              cfg.Server.Endpoint(),
			HandshakeTimeout: config.Duration(cfg.Transport.HandshakeTimeoutMS),
			WriteTimeout:     config.Duration(cfg.Transport.WriteTimeoutMS),
			PingInterval:     config.Duration(cfg.Transport.PingIntervalMS),
			SendBuffer:       cfg.Transport.SendBuffer,
			Logger:           logger.Sugar().Named("transport"),
		})
	}
	simOpts := synthetic.Options{
		Seed:         uint64(cfg.Synthetic.Seed),
		DropoutEvery: cfg.Synthetic.DropoutEvery,
		Width:        cfg.Synthetic.Width,
		Height:       cfg.Synthetic.Height,
	}
	if opts.Device == nil {
		opts.Device = synthetic.NewCamera(simOpts)
	}
	if opts.Detector == nil {
		opts.Detector = synthetic.NewDetector(simOpts)
	}

	userAgent := cfg.Session.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent()
	}

	a.session = session.New(session.Options{
		UserID:        cfg.Session.UserID,
		UserAgent:     userAgent,
		Dialer:        opts.Dialer,
		Device:        opts.Device,
		Detector:      opts.Detector,
		Clock:         opts.Clock,
		FrameInterval: cfg.Capture.Interval(),
		WarningCap:    cfg.Alerts.LogCap,
		Logger:        logger.Sugar(),
		Metrics:       a.metrics,
	})
	a.session.Subscribe(a.observer())
	a.wsHub.Greeting = a.hello
	return a
}

// Session returns the session the daemon runs.
func (a *App) Session() *session.Session { return a.session }

// Ready is closed once the HTTP listener is bound.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound listener address, or "" before Ready.
func (a *App) Addr() string {
	if v, ok := a.addr.Load().(net.Addr); ok {
		return v.String()
	}
	return ""
}

// Run serves the observer API and runs the session until ctx is cancelled
// or the session ends.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/warnings", a.handleWarnings)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/stats", a.handleStats)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/pause", a.handlePause)
	mux.HandleFunc("/api/resume", a.handleResume)
	mux.HandleFunc("/api/retry", a.handleRetry)
	mux.HandleFunc("/api/end", a.handleEnd)
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/ws", a.wsHub.Handler())

	a.server = &http.Server{
		Addr:              a.bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", a.bind)
	if err != nil {
		_ = a.session.Close()
		return err
	}
	a.addr.Store(ln.Addr())
	close(a.ready)
	a.log.Infow("Listening", "url", "http://"+ln.Addr().String(), "server", a.cfg.Server.Endpoint())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.heartbeatLoop(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.session.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		select {
		case <-a.session.Done():
			a.log.Info("Session over, shutting down")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutdown requested")
		_ = a.session.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return a.server.Shutdown(sctx)
	})

	return g.Wait()
}

// observer turns session events into telemetry broadcasts.
func (a *App) observer() session.Observer {
	return session.Observer{
		Status: func(st conn.Status) {
			a.wsHub.BroadcastJSON(telemetry.Status{Event: a.stamp(telemetry.EventStatus), Status: st})
		},
		Alert: func(e alerts.Entry) {
			a.wsHub.BroadcastJSON(telemetry.Alert{Event: a.stamp(telemetry.EventAlert), Entry: e})
		},
		Clock: func(s sessionclock.Snapshot) {
			a.wsHub.BroadcastJSON(telemetry.NewClock(time.Now(), s))
		},
		Fault: func(err error) {
			f := telemetry.Fault{Event: a.stamp(telemetry.EventFault), Message: err.Error()}
			var acq *landmark.DeviceAcquisitionError
			if errors.As(err, &acq) {
				f.Resource = acq.Resource
			}
			a.wsHub.BroadcastJSON(f)
		},
		Ended: func(reason, display string) {
			a.wsHub.BroadcastJSON(telemetry.Ended{Event: a.stamp(telemetry.EventEnded), Reason: reason, Display: display})
		},
	}
}

func (a *App) hello() any {
	snap := a.session.Snapshot()
	return telemetry.Hello{
		Event:     a.stamp(telemetry.EventHello),
		SessionID: snap.SessionID,
		Status:    snap.Status,
		Display:   snap.Clock.Display,
		Paused:    snap.Paused,
		Warnings:  a.session.Warnings(),
	}
}

func (a *App) stamp(t telemetry.EventType) telemetry.Event {
	return telemetry.Stamp(t, time.Now())
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Event:         a.stamp(telemetry.EventHeartbeat),
				State:         string(a.session.Snapshot().Status.State),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}
