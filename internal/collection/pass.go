package collection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"harvest/internal/collector"
	"harvest/internal/logging"
	"harvest/internal/metrics"
)

// PassSummary describes the outcome of one collection pass.
type PassSummary struct {
	ID        string
	Collected int
	Failed    int
	Skipped   int
	Objects   int
	Duration  time.Duration
}

// RunPassiveCollectionPass starts a pass in the background and returns
// immediately. A request made while a pass is running schedules exactly one
// more pass, however many requests arrive.
func (m *Manager) RunPassiveCollectionPass() {
	m.schedMu.Lock()
	if m.running {
		m.pending = true
		m.schedMu.Unlock()
		return
	}
	m.running = true
	m.schedMu.Unlock()

	go m.passiveLoop()
}

func (m *Manager) passiveLoop() {
	for {
		m.runPass(m.ctx)

		m.schedMu.Lock()
		if m.pending && m.ctx.Err() == nil {
			m.pending = false
			m.schedMu.Unlock()
			continue
		}
		m.pending = false
		m.running = false
		m.idle.Broadcast()
		m.schedMu.Unlock()
		return
	}
}

// Wait blocks until no passive pass is running or pending.
func (m *Manager) Wait() {
	m.schedMu.Lock()
	for m.running || m.pending {
		m.idle.Wait()
	}
	m.schedMu.Unlock()
}

// RunCollectionPass runs one pass synchronously.
func (m *Manager) RunCollectionPass(ctx context.Context) PassSummary {
	return m.runPass(ctx)
}

func (m *Manager) runPass(ctx context.Context) PassSummary {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	started := m.now()
	summary := PassSummary{ID: uuid.NewString()}
	logger := m.logger.With(logging.String("pass_id", summary.ID))

	if err := m.Reload(ctx); err != nil {
		logging.WarnWithContext(logger, "reload collectors failed; using loaded set", "collector_reload_failed",
			logging.Error(err),
		)
	}

	for _, c := range m.Collectors() {
		result, count := m.collect(ctx, logger, c)
		m.recorder.IncCollectorResult(c.Identifier(), result)
		switch result {
		case metrics.ResultStored:
			summary.Collected++
			summary.Objects += count
		case metrics.ResultFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	m.observer.PassCompleted(m)

	summary.Duration = m.now().Sub(started)
	m.recorder.ObservePassDuration(summary.Duration)
	logger.Info("collection pass completed",
		logging.String(logging.FieldEventType, "collection_pass_completed"),
		logging.Int("collected", summary.Collected),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Int("objects", summary.Objects),
		logging.Duration("duration", summary.Duration),
	)
	return summary
}

func (m *Manager) collect(ctx context.Context, logger *slog.Logger, c *collector.Collector) (metrics.ResultLabel, int) {
	ctx = logging.WithCollector(ctx, c.Identifier())
	log := logging.WithContext(ctx, logger)

	objects, next, err := m.source.FetchSince(ctx, c.Query(), c.Cursor())
	if err != nil {
		m.fail(ctx, c, fmt.Errorf("fetch since cursor: %w", err))
		return metrics.ResultFailed, 0
	}
	if len(objects) == 0 {
		// The source may have read past records it filtered out.
		if cursor := c.Advance(next, nil); !cursor.Equal(c.Cursor()) {
			if _, err := m.persistCursor(ctx, c, cursor); err != nil {
				m.fail(ctx, c, err)
				return metrics.ResultFailed, 0
			}
			log.Debug("no new objects; cursor moved past filtered records", logging.String("anchor", cursor.Anchor))
			return metrics.ResultSkipped, 0
		}
		log.Debug("no new objects")
		return metrics.ResultSkipped, 0
	}

	if !m.observer.Collected(ctx, c, objects) {
		m.fail(ctx, c, ErrNotStored)
		return metrics.ResultFailed, 0
	}

	cursor := c.Advance(next, objects)
	kept, err := m.persistCursor(ctx, c, cursor)
	if err != nil {
		m.fail(ctx, c, err)
		return metrics.ResultFailed, 0
	}
	if !kept {
		log.Info("collector removed during pass; cursor discarded")
		return metrics.ResultSkipped, 0
	}

	m.recorder.AddObjectsCollected(c.Identifier(), len(objects))
	log.Info("batch stored",
		logging.Int("count", len(objects)),
		logging.String("anchor", cursor.Anchor),
	)
	return metrics.ResultStored, len(objects)
}

// persistCursor writes cursor to the state database and then to the loaded
// collector. It reports false when the collector was removed meanwhile.
func (m *Manager) persistCursor(ctx context.Context, c *collector.Collector, cursor collector.Cursor) (bool, error) {
	found, err := m.state.updateCursor(ctx, c.Identifier(), cursor, m.now())
	if err != nil {
		return false, err
	}
	return found && m.replaceCursor(c.Identifier(), cursor), nil
}

func (m *Manager) fail(ctx context.Context, c *collector.Collector, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "collection failed; cursor unchanged", "collection_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "objects will be fetched again on the next pass"),
	)
	if failures, ok := m.observer.(FailureObserver); ok {
		failures.CollectionFailed(c, err)
	}
}
