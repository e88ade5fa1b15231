// Package watchdog detects stalled pipeline throughput. It watches how many
// episodes reach the fetched state inside a trailing window and raises a
// single stall alert when throughput flatlines while open work exists.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/store"
)

// Notifier receives stall and recovery signals.
type Notifier interface {
	Stalled(ctx context.Context, openCount int, window time.Duration)
	Recovered(ctx context.Context, resolvedCount int)
}

// Watchdog tracks pipeline throughput between checks.
type Watchdog struct {
	store    *store.Store
	cfg      config.Watchdog
	notifier Notifier
	logger   *slog.Logger

	zeroSince *time.Time
	alerted   bool
}

// New constructs a watchdog. notifier may be nil.
func New(st *store.Store, cfg config.Watchdog, notifier Notifier, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watchdog{
		store:    st,
		cfg:      cfg,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "watchdog"),
	}
}

// Check samples throughput once. The stall alert fires a single time per
// stall; a recovery signal resets it so the next stall can alert again.
func (w *Watchdog) Check(ctx context.Context) error {
	window := time.Duration(w.cfg.WindowMinutes) * time.Minute
	resolved, err := w.store.CountResolvedSince(ctx, time.Now().Add(-window))
	if err != nil {
		return err
	}
	open, err := w.store.CountOpen(ctx)
	if err != nil {
		return err
	}

	if resolved > 0 || open == 0 {
		if w.alerted {
			w.logger.Info("throughput recovered",
				logging.Int("resolved_in_window", resolved),
				logging.Int("open", open))
			if w.notifier != nil {
				w.notifier.Recovered(ctx, resolved)
			}
		}
		w.zeroSince = nil
		w.alerted = false
		return nil
	}

	now := time.Now()
	if w.zeroSince == nil {
		w.zeroSince = &now
	}
	threshold := time.Duration(w.cfg.StallThresholdMinutes) * time.Minute
	if w.alerted || now.Sub(*w.zeroSince) < threshold {
		return nil
	}

	w.logger.Error("pipeline stalled",
		logging.Int("open", open),
		logging.Duration("window", window))
	if w.notifier != nil {
		w.notifier.Stalled(ctx, open, window)
	}
	w.alerted = true
	return nil
}

// Stalled reports whether the watchdog currently considers the pipeline stalled.
func (w *Watchdog) StalledNow() bool {
	return w.alerted
}
