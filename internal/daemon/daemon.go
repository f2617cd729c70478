package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"harvest/internal/collection"
	"harvest/internal/config"
	"harvest/internal/datastore"
	"harvest/internal/drain"
	"harvest/internal/logging"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another harvest daemon instance is already running")

// Option configures a Daemon.
type Option func(*Daemon)

// WithDrainer enables periodic delivery of staged items.
func WithDrainer(drainer *drain.Drainer) Option {
	return func(d *Daemon) { d.drainer = drainer }
}

// WithRegistry serves the registry on the configured metrics bind address.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Daemon) { d.registry = reg }
}

// Daemon coordinates background collection and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *datastore.Store
	manager  *collection.Manager
	drainer  *drain.Drainer
	registry *prometheus.Registry

	lockPath string
	lock     *flock.Flock

	scheduler gocron.Scheduler
	drainJob  gocron.Job
	server    *http.Server

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	LockFilePath  string
	StoreDir      string
	CollectionDir string
	Collectors    int
	MetricsBind   string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *datastore.Store, manager *collection.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, and collection manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// IsRunning reports whether a daemon currently holds the lock at lockPath.
func IsRunning(lockPath string) (bool, error) {
	probe := flock.New(lockPath)
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	if err := probe.Unlock(); err != nil {
		return false, fmt.Errorf("release probe lock: %w", err)
	}
	return false, nil
}

// Start acquires the daemon lock, schedules periodic work, and starts the
// store watcher and metrics endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.schedule(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if err := d.serveMetrics(); err != nil {
		cancel()
		_ = d.scheduler.Shutdown()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.watchStore(runCtx)
	}()

	d.scheduler.Start()
	d.running.Store(true)
	d.logger.Info("harvest daemon started",
		logging.String("lock", d.lockPath),
		logging.Duration("pass_interval", d.cfg.PassInterval()),
		logging.Bool("drain_enabled", d.drainer != nil),
		logging.Bool("metrics_enabled", d.server != nil),
	)
	return nil
}

// Stop stops background work, waits for an in-flight pass, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.scheduler.Shutdown(); err != nil {
		d.logger.Warn("scheduler shutdown failed", logging.Error(err))
	}
	d.shutdownMetrics()
	d.manager.Wait()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("harvest daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.manager.Close()
}

// TriggerDrain runs the drain job now. It is a no-op without a drainer.
func (d *Daemon) TriggerDrain() {
	if d.drainJob == nil {
		return
	}
	if err := d.drainJob.RunNow(); err != nil {
		d.logger.Debug("drain trigger ignored", logging.Error(err))
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:       d.running.Load(),
		LockFilePath:  d.lockPath,
		StoreDir:      d.store.Root(),
		CollectionDir: d.manager.Root(),
		Collectors:    len(d.manager.Collectors()),
	}
	if d.server != nil {
		status.MetricsBind = d.server.Addr
	}
	return status
}

func (d *Daemon) watchStore(ctx context.Context) {
	err := d.store.Watch(ctx, func(id string) {
		d.logger.Debug("item published", logging.String(logging.FieldItemID, id))
		d.TriggerDrain()
	})
	if err != nil {
		logging.WarnWithContext(d.logger, "store watcher stopped", "store_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "new items drain on the next scheduled run"),
		)
	}
}
