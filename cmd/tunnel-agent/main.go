// tunnel-agent daemon -- NAT-traversal tunneling agent control plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/tunnel-agent/internal/config"
	agentmetrics "github.com/dantte-lp/tunnel-agent/internal/metrics"
	"github.com/dantte-lp/tunnel-agent/internal/server"
	"github.com/dantte-lp/tunnel-agent/internal/signclient"
	"github.com/dantte-lp/tunnel-agent/internal/tunnel"
	appversion "github.com/dantte-lp/tunnel-agent/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// reconnectBackoff is the wait between failed setup attempts.
const reconnectBackoff = 5 * time.Second

// expiryMargin is how long before the server-assigned session expiry the
// agent re-registers. The margin absorbs clock skew between agent and
// server.
const expiryMargin = 30 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
// Captures the last 500ms of execution traces for debugging setup failures.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config. Unlike most daemons there is no useful zero-config
	// mode: the agent secret and candidate list are mandatory.
	if *configPath == "" {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("missing required -config flag")
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("tunnel-agent starting",
		slog.String("version", appversion.Version),
		slog.String("api_url", cfg.API.URL),
		slog.String("status_addr", cfg.Status.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Start flight recorder for post-mortem debugging of setup failures.
	fr := startFlightRecorder(logger)

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := agentmetrics.NewCollector(reg)

	// 6. Run supervisor and servers.
	if err := runServers(cfg, reg, collector, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("tunnel-agent exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("tunnel-agent stopped")
	return 0
}

// runServers sets up and runs the setup supervisor plus the status and
// metrics HTTP servers using an errgroup with signal-aware context for
// graceful shutdown.
func runServers(
	cfg *config.Config,
	reg *prometheus.Registry,
	collector *agentmetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	state := server.NewState()

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	statusSrv := newStatusServer(cfg.Status, state, logger)

	// errgroup with signal-aware context.
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, cfg, statusSrv, metricsSrv, logger)

	// reconnect is signalled by SIGHUP to force a fresh setup run with the
	// reloaded candidate list.
	reconnect := make(chan *config.Config, 1)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, reconnect, logger)

	sup := &supervisor{
		cfg:       cfg,
		state:     state,
		collector: collector,
		logger:    logger.With(slog.String("component", "supervisor")),
		reconnect: reconnect,
	}
	g.Go(func() error {
		return sup.run(gCtx)
	})

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, statusSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the status and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	statusSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("status server listening", slog.String("addr", cfg.Status.Addr))
		return listenAndServe(ctx, &lc, statusSrv, cfg.Status.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	reconnect chan<- *config.Config,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, reconnect, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Setup Supervisor — probe/sign/register loop + re-registration
// -------------------------------------------------------------------------

// supervisor owns the control session lifecycle: it runs the setup state
// machine, publishes the result to the status State, and re-registers when
// the session approaches expiry or a SIGHUP delivers a new config.
type supervisor struct {
	cfg       *config.Config
	state     *server.State
	collector *agentmetrics.Collector
	logger    *slog.Logger
	reconnect <-chan *config.Config
}

// run loops until the context is cancelled or a fatal credential error
// surfaces. Transient failures (no candidate answered, sign API down)
// back off and retry; InvalidSignature and Unauthorized stop the daemon
// because retrying cannot fix a credential or clock-skew problem.
func (sup *supervisor) run(ctx context.Context) error {
	for {
		sess, err := sup.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, tunnel.ErrRegisterInvalidSignature) ||
				errors.Is(err, tunnel.ErrRegisterUnauthorized) {
				sup.state.SetDisconnected(err)
				return fmt.Errorf("registration rejected: %w", err)
			}

			sup.state.SetDisconnected(err)
			sup.logger.Warn("setup failed, will retry",
				slog.String("error", err.Error()),
				slog.Duration("backoff", reconnectBackoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case newCfg := <-sup.reconnect:
				sup.cfg = newCfg
			case <-time.After(reconnectBackoff):
			}
			continue
		}

		sup.state.SetConnected(sess)
		sup.collector.SetSessionExpiry(float64(sess.ExpiresAt()) / 1000)
		sup.logger.Info("control session established",
			slog.String("control_addr", sess.ControlAddr().String()),
			slog.Uint64("session_id", sess.AgentSession().ID),
			slog.Uint64("expires_at_ms", sess.ExpiresAt()),
		)

		if done := sup.await(ctx, sess); done {
			return nil
		}
	}
}

// connect runs one full setup pass against the current config.
func (sup *supervisor) connect(ctx context.Context) (*tunnel.Session, error) {
	candidates, err := sup.cfg.Tunnel.CandidateAddrs()
	if err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}

	signClient, err := signclient.New(sup.cfg.API.URL, sup.cfg.API.Secret)
	if err != nil {
		return nil, fmt.Errorf("build sign client: %w", err)
	}

	setup := &tunnel.Setup{
		Candidates: candidates,
		Secret:     sup.cfg.API.Secret,
		SignClient: signClient,
		Logger:     sup.logger,
		Metrics:    sup.collector,
	}

	start := time.Now()
	sess, err := setup.Run(ctx)
	sup.collector.ObserveSetupDuration(time.Since(start).Seconds())
	return sess, err
}

// await holds the session until it approaches expiry, a SIGHUP arrives, or
// the daemon stops. Returns true when the supervisor should exit.
func (sup *supervisor) await(ctx context.Context, sess *tunnel.Session) bool {
	wait := time.Until(time.UnixMilli(int64(sess.ExpiresAt()))) - expiryMargin
	if wait < time.Second {
		wait = time.Second
	}

	defer sup.collector.SetSessionExpiry(0)

	select {
	case <-ctx.Done():
		sess.Close()
		return true
	case newCfg := <-sup.reconnect:
		sup.logger.Info("configuration reloaded, re-registering")
		sup.cfg = newCfg
		sup.state.SetDisconnected(nil)
		sess.Close()
		return false
	case <-time.After(wait):
		sup.logger.Info("control session approaching expiry, re-registering")
		sup.state.SetDisconnected(nil)
		sess.Close()
		return false
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd.
// The interval is WatchdogSec/2 as recommended by the systemd documentation.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	// Send keepalive at half the watchdog interval.
	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + re-registration
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration.
// On reload, the log level is updated dynamically via the shared LevelVar,
// and the new config is handed to the supervisor, which drops the current
// session and re-registers against the fresh candidate list.
// Blocks until the context is cancelled (graceful shutdown).
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	reconnect chan<- *config.Config,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(ctx, configPath, logLevel, reconnect, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path, updates
// the dynamic log level, and signals the supervisor to re-register.
// Errors during reload are logged but do not stop the daemon -- the
// previous configuration remains in effect.
func reloadConfig(
	ctx context.Context,
	configPath string,
	logLevel *slog.LevelVar,
	reconnect chan<- *config.Config,
	logger *slog.Logger,
) {
	newCfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	// Update log level.
	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	select {
	case reconnect <- newCfg:
	case <-ctx.Done():
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, stops
// the flight recorder, then shuts down HTTP servers.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	// Stop flight recorder.
	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	// Derive a fresh shutdown context from the parent (which is cancelled).
	// context.WithoutCancel detaches from the parent's cancellation so we
	// can enforce our own drain timeout.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the Go 1.26 FlightRecorder
// for post-mortem debugging of setup failures. The recorder maintains
// a rolling window of execution trace data that can be dumped on demand.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newStatusServer creates an HTTP server for the local JSON status API.
func newStatusServer(cfg config.StatusConfig, state *server.State, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(state, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
