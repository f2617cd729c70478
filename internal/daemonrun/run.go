package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"harvest/internal/bridge"
	"harvest/internal/collection"
	"harvest/internal/config"
	"harvest/internal/daemon"
	"harvest/internal/datastore"
	"harvest/internal/drain"
	"harvest/internal/logging"
	"harvest/internal/metrics"
	"harvest/internal/sources/filesource"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Drain enables periodic delivery into the configured outbox.
	Drain bool
}

// Run starts the harvest daemon runtime loop and blocks until a signal or
// cmdCtx cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var (
		recorder metrics.Recorder = metrics.NoopRecorder{}
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	store, err := datastore.Open(cfg.Paths.StoreDir,
		datastore.WithLogger(logger),
		datastore.WithRecorder(recorder),
	)
	if err != nil {
		logger.Error("open staging store", logging.Error(err))
		return err
	}

	var d *daemon.Daemon
	observer := bridge.New(store,
		bridge.WithLogger(logger),
		bridge.WithPassHook(func(*collection.Manager) {
			if d != nil {
				d.TriggerDrain()
			}
		}),
	)
	source := filesource.New(cfg.Paths.SourceDir, filesource.WithLogger(logger))
	manager, err := collection.Open(cfg.Paths.CollectionDir, source, observer,
		collection.WithLogger(logger),
		collection.WithRecorder(recorder),
	)
	if err != nil {
		logger.Error("open collection manager", logging.Error(err))
		return err
	}

	daemonOpts := []daemon.Option{daemon.WithRegistry(registry)}
	if opts.Drain {
		drainer, err := NewDrainer(cfg, store, logger, recorder)
		if err != nil {
			_ = manager.Close()
			return err
		}
		daemonOpts = append(daemonOpts, daemon.WithDrainer(drainer))
	}

	d, err = daemon.New(cfg, store, manager, logger, daemonOpts...)
	if err != nil {
		_ = manager.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logStartup(logger, cfg, len(manager.Collectors()))
	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "stop the other daemon or remove a stale lock holder"),
		)
		return err
	}

	// The pid file belongs to the lock holder.
	pidPath := filepath.Join(cfg.Paths.LogDir, "harvestd.pid")
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("write pid file failed", logging.Error(err))
	} else {
		defer os.Remove(pidPath)
	}

	<-signalCtx.Done()
	logger.Info("harvest daemon shutting down")
	return nil
}

// NewDrainer builds a drainer that delivers into the configured outbox.
func NewDrainer(cfg *config.Config, store *datastore.Store, logger *slog.Logger, recorder metrics.Recorder) (*drain.Drainer, error) {
	sink, err := drain.NewDirSink(cfg.Drain.OutboxDir)
	if err != nil {
		return nil, err
	}
	return drain.New(store, sink,
		drain.WithMaxRetries(cfg.Drain.MaxRetries),
		drain.WithRemoveAfterUpload(cfg.Drain.RemoveAfterUpload),
		drain.WithLogger(logger),
		drain.WithRecorder(recorder),
	)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartup(logger *slog.Logger, cfg *config.Config, collectors int) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("store_dir", cfg.Paths.StoreDir),
		logging.String("collection_dir", cfg.Paths.CollectionDir),
		logging.String("source_dir", cfg.Paths.SourceDir),
		logging.Int("collectors", collectors),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)
}
