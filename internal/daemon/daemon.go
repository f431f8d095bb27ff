// Package daemon runs the long-lived changeguard process: one store, the
// tool suite, the IPC socket and an optional Prometheus endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/config"
	"github.com/highbeam/changeguard/internal/ipc"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/tools"
)

const (
	ipcTimeout      = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Daemon manages the lifecycle of the changeguard background process.
type Daemon struct {
	cfg    *config.Config
	logger *zap.Logger
	opts   []tools.Option

	store     *store.Store
	ipc       *ipc.Server
	metrics   *http.Server
	startTime time.Time

	mu          sync.Mutex
	cancel      context.CancelFunc
	running     bool
	metricsAddr string
}

// New creates a new Daemon with the given config. opts are passed to the
// tool suite.
func New(cfg *config.Config, logger *zap.Logger, opts ...tools.Option) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: logger,
		opts:   opts,
	}
}

// Start opens the store, serves IPC and metrics, and blocks until ctx is
// cancelled, SIGINT or SIGTERM arrives, or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	if err := d.cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if ipc.IsAlive(d.cfg.SocketPath) {
		return fmt.Errorf("daemon already listening on %s", d.cfg.SocketPath)
	}

	s, err := store.New(d.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	d.store = s

	suite := tools.NewSuite(d.cfg, s, d.logger, d.opts...)
	d.ipc = ipc.NewServer(s, suite, ipcTimeout, d.logger)
	d.ipc.SetDaemon(d)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancel = cancel
	d.startTime = time.Now()
	d.mu.Unlock()

	errCh := make(chan error, 2)
	if d.cfg.MetricsAddr != "" {
		if err := d.startMetrics(errCh); err != nil {
			_ = s.Close()
			return err
		}
	}

	go func() {
		errCh <- d.ipc.Listen(ctx, d.cfg.SocketPath)
	}()

	d.logger.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.String("db", d.cfg.DBPath),
		zap.String("socket", d.cfg.SocketPath),
		zap.String("metrics", d.MetricsAddr()))

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			d.logger.Error("server failed", zap.Error(err))
			runErr = err
		}
	}
	cancel()

	d.shutdown()
	return runErr
}

func (d *Daemon) startMetrics(errCh chan<- error) error {
	ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", d.cfg.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	d.metrics = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.mu.Lock()
	d.metricsAddr = ln.Addr().String()
	d.mu.Unlock()

	go func() {
		if err := d.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return nil
}

// Stop triggers a graceful shutdown from outside (e.g. via IPC stop command).
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// shutdown tears down metrics, then IPC, then the store, then the socket file.
func (d *Daemon) shutdown() {
	d.logger.Info("shutting down")

	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.metrics.Shutdown(ctx); err != nil {
			d.logger.Warn("metrics shutdown", zap.Error(err))
		}
		cancel()
	}

	if err := d.ipc.Stop(); err != nil {
		d.logger.Warn("ipc stop", zap.Error(err))
	}

	if err := d.store.Close(); err != nil {
		d.logger.Warn("store close", zap.Error(err))
	}

	_ = os.Remove(d.cfg.SocketPath)
	d.logger.Info("daemon stopped")
}

// Running returns true if the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	start := d.startTime
	d.mu.Unlock()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// MetricsAddr returns the bound metrics address, or "" when metrics are off.
func (d *Daemon) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsAddr
}
