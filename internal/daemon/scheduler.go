package daemon

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"

	"harvest/internal/logging"
)

const drainJobInterval = 5

func (d *Daemon) schedule(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	d.scheduler = s

	if _, err := s.NewJob(
		gocron.DurationJob(d.cfg.PassInterval()),
		gocron.NewTask(d.manager.RunPassiveCollectionPass),
		gocron.WithName("collection-pass"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create collection pass job: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(d.cfg.CleanupInterval()),
		gocron.NewTask(d.cleanup, ctx),
		gocron.WithName("store-cleanup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create cleanup job: %w", err)
	}

	if d.drainer != nil {
		job, err := s.NewJob(
			gocron.DurationJob(drainJobInterval*d.cfg.PassInterval()),
			gocron.NewTask(d.drain, ctx),
			gocron.WithName("drain"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to create drain job: %w", err)
		}
		d.drainJob = job
	}
	return nil
}

func (d *Daemon) cleanup(ctx context.Context) {
	result := d.store.CleanStale(ctx, d.cfg.StaleTempMaxAge())
	if len(result.Removed) > 0 {
		d.logger.Info("stale store entries removed",
			logging.String(logging.FieldEventType, "store_cleanup"),
			logging.Int("removed", len(result.Removed)),
		)
	}
	for _, failure := range result.Errors {
		logging.WarnWithContext(d.logger, "stale store entry not removed", "store_cleanup_failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldErrorHint, "check permissions on the store directory"),
		)
	}
	if _, err := d.store.Stats(ctx); err != nil {
		d.logger.Debug("store stats unavailable", logging.Error(err))
	}
}

func (d *Daemon) drain(ctx context.Context) {
	if _, err := d.drainer.Drain(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "drain failed", "drain_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "items stay staged until the next drain"),
		)
	}
}
