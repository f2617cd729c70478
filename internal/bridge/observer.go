// Package bridge connects collection passes to the staging store: every batch a
// collector fetches becomes one data item.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"harvest/internal/collection"
	"harvest/internal/collector"
	"harvest/internal/datastore"
	"harvest/internal/faults"
	"harvest/internal/logging"
)

// Store is the part of the staging store the bridge writes to.
type Store interface {
	AddData(ctx context.Context, data []byte, metadata map[string]any) (string, error)
	Stats(ctx context.Context) (datastore.Stats, error)
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the observer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the collected_at time source.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPassHook registers a callback run after every completed pass.
func WithPassHook(hook func(*collection.Manager)) Option {
	return func(o *Observer) { o.hook = hook }
}

// Observer stores collected batches in the staging store.
type Observer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	hook   func(*collection.Manager)

	mu       sync.Mutex
	stored   int
	failures int
}

var (
	_ collection.Observer        = (*Observer)(nil)
	_ collection.FailureObserver = (*Observer)(nil)
)

// New builds an Observer writing to store.
func New(store Store, opts ...Option) *Observer {
	o := &Observer{
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "bridge")
	return o
}

// Collected serializes the batch and stages it as one data item. It reports
// true only when the item was persisted.
func (o *Observer) Collected(ctx context.Context, c *collector.Collector, objects []collector.Object) bool {
	logger := logging.WithContext(ctx, o.logger)

	data, err := c.SerializedData(objects)
	if err != nil {
		logging.WarnWithContext(logger, "batch could not be serialized", "batch_serialize_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "batch left for the next pass"),
		)
		return false
	}
	metadata := map[string]any{
		"collector":    c.Identifier(),
		"kind":         string(c.Kind()),
		"count":        len(objects),
		"collected_at": o.now().UTC().Format(time.RFC3339Nano),
	}
	id, err := o.store.AddData(ctx, data, metadata)
	if err != nil {
		logging.WarnWithContext(logger, "batch could not be staged", "batch_stage_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, faults.Kind(err)),
			logging.String(logging.FieldImpact, "batch left for the next pass"),
			logging.String(logging.FieldErrorHint, "check free space and permissions of the store directory"),
		)
		return false
	}

	o.mu.Lock()
	o.stored++
	o.mu.Unlock()
	logging.WithContext(logging.WithItemID(ctx, id), o.logger).Debug("batch staged",
		logging.Int("count", len(objects)),
		logging.Int("bytes", len(data)),
	)
	return true
}

// CollectionFailed logs a collector whose batch was not stored.
func (o *Observer) CollectionFailed(c *collector.Collector, err error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
	o.logger.Debug("collector failed this pass",
		logging.String(logging.FieldCollector, c.Identifier()),
		logging.Error(err),
	)
}

// PassCompleted refreshes the store gauges and runs the pass hook.
func (o *Observer) PassCompleted(m *collection.Manager) {
	o.mu.Lock()
	stored, failures := o.stored, o.failures
	o.stored, o.failures = 0, 0
	o.mu.Unlock()

	stats, err := o.store.Stats(context.Background())
	if err != nil {
		logging.WarnWithContext(o.logger, "store stats unavailable", "store_stats_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "store gauges not refreshed"),
		)
	} else {
		o.logger.Info("pass staged",
			logging.Int("batches", stored),
			logging.Int("failures", failures),
			logging.Int("pending_items", stats.Pending),
			logging.Int64("store_bytes", stats.Bytes),
		)
	}

	if o.hook != nil {
		o.hook(m)
	}
}
