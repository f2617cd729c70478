package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"harvest/internal/datastore"
	"harvest/internal/faults"
	"harvest/internal/logging"
	"harvest/internal/metrics"
)

const component = "drain"

// Sink receives items. Deliver must be safe to repeat for the same item: a
// crash between delivery and MarkUploaded delivers the item again.
type Sink interface {
	Deliver(ctx context.Context, item *datastore.Item) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, item *datastore.Item) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, item *datastore.Item) error { return f(ctx, item) }

// Summary counts the outcomes of one drain.
type Summary struct {
	Delivered int
	Failed    int
	Exhausted int
	Removed   int
}

// Option configures a Drainer.
type Option func(*Drainer)

// WithMaxRetries caps delivery attempts per item. Zero means unlimited.
func WithMaxRetries(n int) Option {
	return func(d *Drainer) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

// WithRemoveAfterUpload deletes items once delivered.
func WithRemoveAfterUpload(remove bool) Option {
	return func(d *Drainer) { d.removeAfterUpload = remove }
}

// WithLogger sets the drain logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Drainer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(d *Drainer) { d.recorder = metrics.OrNoop(recorder) }
}

// Drainer moves staged items into a Sink.
type Drainer struct {
	store             *datastore.Store
	sink              Sink
	maxRetries        int
	removeAfterUpload bool
	logger            *slog.Logger
	recorder          metrics.Recorder
}

// New builds a Drainer over store.
func New(store *datastore.Store, sink Sink, opts ...Option) (*Drainer, error) {
	if store == nil {
		return nil, faults.Validation(component, "new", "store is required")
	}
	if sink == nil {
		return nil, faults.Validation(component, "new", "sink is required")
	}
	d := &Drainer{
		store:    store,
		sink:     sink,
		logger:   logging.NewNop(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, component)
	return d, nil
}

// Drain delivers every pending item once. It stops early only when ctx is
// cancelled or the store cannot be listed; individual delivery failures are
// counted and recorded on the item.
func (d *Drainer) Drain(ctx context.Context) (Summary, error) {
	var pending []*datastore.Item
	err := d.store.Enumerate(ctx, datastore.EnumerateOptions{
		Exclude:   datastore.ExcludeUploaded,
		SortBy:    datastore.SortByRetryCount,
		Ascending: true,
	}, func(item *datastore.Item) bool {
		pending = append(pending, item)
		return true
	})
	if err != nil {
		return Summary{}, fmt.Errorf("list pending items: %w", err)
	}

	var summary Summary
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if d.exhausted(item) {
			summary.Exhausted++
			d.recorder.IncDelivery(metrics.DeliveryExhausted)
			continue
		}
		removed, err := d.deliver(ctx, item)
		switch {
		case errors.Is(err, faults.ErrNotFound):
			continue
		case err != nil:
			summary.Failed++
		default:
			summary.Delivered++
			if removed {
				summary.Removed++
			}
		}
	}

	if summary.Delivered+summary.Failed+summary.Exhausted > 0 {
		d.logger.Info("drain completed",
			logging.String(logging.FieldEventType, "drain_completed"),
			logging.Int("delivered", summary.Delivered),
			logging.Int("failed", summary.Failed),
			logging.Int("exhausted", summary.Exhausted),
			logging.Int("removed", summary.Removed),
		)
	}
	return summary, nil
}

// DeliverOne delivers a single item regardless of its retry count. Items
// already uploaded are left untouched.
func (d *Drainer) DeliverOne(ctx context.Context, id string) error {
	item, err := d.store.Item(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return faults.NotFound(component, "deliver", id)
	}
	if item.Tracker().Uploaded() {
		d.logger.Debug("item already uploaded", logging.String(logging.FieldItemID, id))
		return nil
	}
	_, err = d.deliver(ctx, item)
	return err
}

func (d *Drainer) exhausted(item *datastore.Item) bool {
	return d.maxRetries > 0 && item.Tracker().RetryCount() >= d.maxRetries
}

func (d *Drainer) deliver(ctx context.Context, item *datastore.Item) (bool, error) {
	ctx = logging.WithItemID(ctx, item.Identifier())
	logger := logging.WithContext(ctx, d.logger)
	tracker := item.Tracker()

	if deliverErr := d.sink.Deliver(ctx, item); deliverErr != nil {
		d.recorder.IncDelivery(metrics.DeliveryFailed)
		if err := tracker.IncreaseRetryCount(ctx); err != nil {
			if errors.Is(err, faults.ErrNotFound) {
				return false, err
			}
			return false, errors.Join(deliverErr, err)
		}
		logging.WarnWithContext(logger, "delivery failed", "delivery_failed",
			logging.Error(deliverErr),
			logging.Int("retry_count", tracker.RetryCount()),
			logging.String(logging.FieldErrorHint, "check the sink destination"),
			logging.String(logging.FieldImpact, "item stays staged for the next drain"),
		)
		return false, deliverErr
	}

	if err := tracker.MarkUploaded(ctx); err != nil {
		return false, err
	}
	d.recorder.IncDelivery(metrics.DeliverySuccess)
	logger.Info("item delivered", logging.String("kind", string(item.Kind())))

	if !d.removeAfterUpload {
		return false, nil
	}
	if err := d.store.RemoveItem(ctx, item.Identifier()); err != nil {
		logging.WarnWithContext(logger, "delivered item not removed", "drain_remove_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item stays in the store marked uploaded"),
		)
		return false, nil
	}
	return true, nil
}
