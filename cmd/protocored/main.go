// protocored -- LRCP and Job Centre network services.
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
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nullmetric/protocore/internal/admin"
	"github.com/nullmetric/protocore/internal/config"
	"github.com/nullmetric/protocore/internal/jobcentre"
	"github.com/nullmetric/protocore/internal/lrcp"
	"github.com/nullmetric/protocore/internal/metrics"
	appversion "github.com/nullmetric/protocore/internal/version"
)

// shutdownTimeout is the maximum time to wait for the HTTP servers to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// queueDepthPollInterval is how often the queue-depth gauges are refreshed
// from the Job Centre store.
const queueDepthPollInterval = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("protocored starting",
		slog.String("version", appversion.Version),
		slog.String("lrcp_addr", cfg.LRCP.Addr),
		slog.String("jobcentre_addr", cfg.JobCentre.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	lrcp.RetransmitTimeout = cfg.LRCP.RetransmitTimeout
	lrcp.SessionExpiry = cfg.LRCP.SessionExpiry
	lrcp.SendWindow = cfg.LRCP.SendWindow

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	if err := runServers(cfg, collector, reg, logger); err != nil {
		logger.Error("protocored exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("protocored stopped")
	return 0
}

// runServers binds the LRCP and Job Centre listeners, wires metrics, and
// runs every server under an errgroup bound to a signal-aware context, in
// the shape of the teacher's runServers.
func runServers(cfg *config.Config, collector *metrics.Collector, reg *prometheus.Registry, logger *slog.Logger) error {
	udpConn, err := net.ListenPacket("udp", cfg.LRCP.Addr)
	if err != nil {
		return fmt.Errorf("listen lrcp udp %s: %w", cfg.LRCP.Addr, err)
	}
	defer udpConn.Close()

	tcpListener, err := net.Listen("tcp", cfg.JobCentre.Addr)
	if err != nil {
		return fmt.Errorf("listen jobcentre tcp %s: %w", cfg.JobCentre.Addr, err)
	}
	defer tcpListener.Close()

	store := jobcentre.NewStore()
	jcServer := jobcentre.NewServer(tcpListener, store, logger, collector.RecordRequest)

	lrcpMgr := lrcp.NewManager(udpConn, func() lrcp.Application { return &lrcp.LineApp{} }, logger)
	lrcpMgr.SetDroppedHook(func(string) { collector.IncPacketsDropped() })
	lrcpMgr.SetMetricsHooks(collector.IncPacketsReceived, collector.IncPacketsSent, collector.IncRetransmits)

	metricsSrv := newMetricsServer(cfg.Metrics, reg, lrcpMgr, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("lrcp server listening", slog.String("addr", cfg.LRCP.Addr))
		return lrcpMgr.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("jobcentre server listening", slog.String("addr", cfg.JobCentre.Addr))
		return jcServer.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return pollQueueDepths(gCtx, store, collector)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// pollQueueDepths periodically refreshes the Job Centre queue-depth gauges
// from the store, since the store itself has no change-notification hook
// for this low-frequency admin signal.
func pollQueueDepths(ctx context.Context, store *jobcentre.Store, collector *metrics.Collector) error {
	ticker := time.NewTicker(queueDepthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for queue, depth := range store.QueueDepths() {
				collector.SetQueueDepth(queue, depth)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Systemd Integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd, at half the
// configured watchdog interval. Exits immediately if no watchdog is
// configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

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
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

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
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates the HTTP server hosting both the Prometheus
// metrics endpoint and the admin /status endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry, lrcpMgr *lrcp.Manager, store *jobcentre.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/status", admin.StatusHandler(lrcpMgr, store))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes.
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
