// Package sweep runs the scheduled maintenance passes: the weekly re-open of
// permanently failed episodes and the periodic source reprioritization.
package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/sources"
	"quill/internal/store"
)

// Sweeper bundles the maintenance passes and their cron wiring.
type Sweeper struct {
	store    *store.Store
	registry *sources.Registry
	cfg      config.Sweep
	logger   *slog.Logger
}

// New constructs a sweeper.
func New(st *store.Store, registry *sources.Registry, cfg config.Sweep, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		store:    st,
		registry: registry,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "sweep"),
	}
}

// RunRetrySweep re-opens a bounded number of failed episodes per show so
// sources whose health changed since the last attempt get re-probed.
func (s *Sweeper) RunRetrySweep(ctx context.Context) error {
	reopened, err := s.store.SweepReopen(ctx, s.cfg.RetryPerShow)
	if err != nil {
		return fmt.Errorf("retry sweep: %w", err)
	}
	s.logger.Info("retry sweep finished", logging.Int64("reopened", reopened))
	return nil
}

// RunReprioritize disables sources whose success rate fell below the
// configured low-water mark.
func (s *Sweeper) RunReprioritize(ctx context.Context) error {
	disabled, err := s.registry.Reprioritize(ctx)
	if err != nil {
		return fmt.Errorf("reprioritize: %w", err)
	}
	if len(disabled) > 0 {
		s.logger.Warn("sources disabled by reprioritization", logging.Any("sources", disabled))
	}
	return nil
}

// Register adds both passes to the cron scheduler using the configured
// expressions.
func (s *Sweeper) Register(ctx context.Context, scheduler *cron.Cron) error {
	if _, err := scheduler.AddFunc(s.cfg.RetrySchedule, func() {
		if err := s.RunRetrySweep(ctx); err != nil {
			s.logger.Error("retry sweep failed", logging.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule retry sweep %q: %w", s.cfg.RetrySchedule, err)
	}

	if _, err := scheduler.AddFunc(s.cfg.ReprioritizeSchedule, func() {
		if err := s.RunReprioritize(ctx); err != nil {
			s.logger.Error("reprioritization failed", logging.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reprioritization %q: %w", s.cfg.ReprioritizeSchedule, err)
	}
	return nil
}
