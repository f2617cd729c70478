package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"harvest/internal/collector"
	"harvest/internal/faults"
	"harvest/internal/logging"
	"harvest/internal/metrics"
)

const component = "collection"

// ErrNotStored is reported to FailureObserver when Collected returns false.
var ErrNotStored = errors.New("observer did not store the batch")

// Observer receives collected batches. Collected must return true only once
// the objects are durably stored; the collector's cursor advances after that.
// A false return leaves the cursor unchanged and the next pass re-fetches the
// same range, so observers should expect to see those objects again.
type Observer interface {
	Collected(ctx context.Context, c *collector.Collector, objects []collector.Object) bool
	PassCompleted(m *Manager)
}

// FailureObserver is optionally implemented by an Observer to learn about
// collectors whose batch could not be fetched or stored.
type FailureObserver interface {
	CollectionFailed(c *collector.Collector, err error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = metrics.OrNoop(recorder) }
}

// WithClock overrides the time source used for pass timing and row stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns an ordered set of collectors persisted under one root.
type Manager struct {
	root     string
	source   collector.Source
	observer Observer
	logger   *slog.Logger
	recorder metrics.Recorder
	now      func() time.Time
	state    *stateDB

	mu         sync.Mutex
	collectors []*collector.Collector

	// passMu keeps passive and synchronous passes from overlapping.
	passMu sync.Mutex

	schedMu sync.Mutex
	idle    *sync.Cond
	running bool
	pending bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Open creates root when needed, opens the collection database and loads the
// registered collectors.
func Open(root string, source collector.Source, observer Observer, opts ...Option) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, faults.Validation(component, "open", "root directory is required")
	}
	if source == nil {
		return nil, faults.Validation(component, "open", "source is required")
	}
	if observer == nil {
		return nil, faults.Validation(component, "open", "observer is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, faults.Wrap(faults.ErrIO, component, "open", "create root", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		root:     root,
		source:   source,
		observer: observer,
		logger:   logging.NewNop(),
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.idle = sync.NewCond(&m.schedMu)
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, component)

	state, err := openStateDB(ctx, root)
	if err != nil {
		cancel()
		return nil, faults.Wrap(faults.ErrIO, component, "open", "collection database", err)
	}
	m.state = state

	if err := m.Reload(ctx); err != nil {
		cancel()
		_ = state.close()
		return nil, err
	}
	return m, nil
}

// Root returns the persistence root.
func (m *Manager) Root() string { return m.root }

// Close waits for outstanding passive passes and closes the database.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.cancel()
	m.Wait()
	return m.state.close()
}

// Reload replaces the in-memory collectors with the persisted ones. Rows that
// fail to decode are skipped with a warning.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.state.list(ctx)
	if err != nil {
		return faults.Wrap(faults.ErrIO, component, "load collectors", "", err)
	}
	loaded := make([]*collector.Collector, 0, len(rows))
	for _, row := range rows {
		c, err := collector.Decode(row.kind, row.params, row.cursor)
		if err != nil {
			logging.WarnWithContext(m.logger, "skipping unreadable collector", "collector_decode_failed",
				logging.String(logging.FieldCollector, row.id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the collector and add it again"),
			)
			continue
		}
		if c.Identifier() != row.id {
			logging.WarnWithContext(m.logger, "collector identifier does not match its parameters", "collector_id_mismatch",
				logging.String(logging.FieldCollector, row.id),
				logging.String("derived", c.Identifier()),
			)
			continue
		}
		loaded = append(loaded, c)
	}

	m.collectors = loaded
	return nil
}

// AddSampleCollector registers a collector for one sample type in the given unit.
func (m *Manager) AddSampleCollector(ctx context.Context, sampleType, unit string, start time.Time) (*collector.Collector, error) {
	c, err := collector.NewSample(sampleType, unit, start)
	if err != nil {
		return nil, err
	}
	return m.register(ctx, c)
}

// AddCorrelationCollector registers a collector for one correlation type.
func (m *Manager) AddCorrelationCollector(ctx context.Context, correlationType string, sampleTypes, units []string, start time.Time) (*collector.Collector, error) {
	c, err := collector.NewCorrelation(correlationType, sampleTypes, units, start)
	if err != nil {
		return nil, err
	}
	return m.register(ctx, c)
}

// AddActivityCollector registers the motion activity collector.
func (m *Manager) AddActivityCollector(ctx context.Context, start time.Time) (*collector.Collector, error) {
	return m.register(ctx, collector.NewActivity(start))
}

func (m *Manager) register(ctx context.Context, c *collector.Collector) (*collector.Collector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.collectors {
		if existing.Identifier() == c.Identifier() {
			return nil, faults.Wrap(faults.ErrConflict, component, "add collector", c.Identifier()+" already registered", nil)
		}
	}
	if err := m.state.insert(ctx, c, m.now()); err != nil {
		return nil, err
	}
	m.collectors = append(m.collectors, c)
	m.logger.Info("collector registered",
		logging.String(logging.FieldCollector, c.Identifier()),
		logging.String("kind", string(c.Kind())),
		logging.Time("start_date", c.StartDate()),
	)
	return c, nil
}

// RemoveCollector unregisters a collector and purges its cursor.
func (m *Manager) RemoveCollector(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := -1
	for i, c := range m.collectors {
		if c.Identifier() == id {
			index = i
			break
		}
	}
	if index < 0 {
		return faults.NotFound(component, "remove collector", fmt.Sprintf("collector %q is not registered", id))
	}
	if _, err := m.state.delete(ctx, id); err != nil {
		return err
	}
	m.collectors = append(m.collectors[:index:index], m.collectors[index+1:]...)
	m.logger.Info("collector removed", logging.String(logging.FieldCollector, id))
	return nil
}

// Collectors returns a snapshot of the registered collectors in registration order.
func (m *Manager) Collectors() []*collector.Collector {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*collector.Collector, len(m.collectors))
	copy(out, m.collectors)
	return out
}

// Collector returns the registered collector with the given identifier.
func (m *Manager) Collector(id string) (*collector.Collector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collectors {
		if c.Identifier() == id {
			return c, true
		}
	}
	return nil, false
}

// replaceCursor swaps in the collector's advanced value. It reports false
// when the collector was removed while its batch was in flight.
func (m *Manager) replaceCursor(id string, cursor collector.Cursor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.collectors {
		if c.Identifier() == id {
			m.collectors[i] = c.WithCursor(cursor)
			return true
		}
	}
	return false
}
