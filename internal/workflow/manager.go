package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/fetch"
	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/pathway"
	"quill/internal/resolver"
	"quill/internal/sources"
	"quill/internal/store"
	"quill/internal/transcribe"
	"quill/internal/watchdog"
)

// ResolvedFunc is the outbound transcript callback exposed to external
// collaborators such as search indexing.
type ResolvedFunc = resolver.ResolvedFunc

// Manager coordinates the pipeline loops.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	notifier notifications.Service

	registry     *sources.Registry
	pathways     *pathway.Resolver
	orchestrator *resolver.Orchestrator
	coordinator  *transcribe.Coordinator
	dog          *watchdog.Watchdog

	pollInterval  time.Duration
	errorInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a workflow manager with the default notifier.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, st, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier.
func NewManagerWithNotifier(cfg *config.Config, st *store.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}

	client := fetch.NewClient(time.Duration(cfg.Resolver.FetchTimeout) * time.Second)
	registry := sources.NewRegistry(st, cfg.Sources, logger)
	fetchers := fetch.NewSet(client, cfg.Resolver)
	aggregator := fetch.NewAggregatorClient(client, cfg.Resolver.AggregatorBaseURL, cfg.Resolver.MinTranscriptChars)

	m := &Manager{
		cfg:           cfg,
		store:         st,
		logger:        logging.NewComponentLogger(logger, "workflow"),
		notifier:      notifier,
		registry:      registry,
		pathways:      pathway.NewResolver(st, cfg.Resolver, aggregator, logger),
		orchestrator:  resolver.New(st, registry, fetchers, cfg.Resolver, cfg.Paths, logger),
		coordinator:   transcribe.NewCoordinator(st, cfg.Transcription, cfg.Paths, client, logger),
		pollInterval:  time.Duration(cfg.Workflow.PollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
	m.dog = watchdog.New(st, cfg.Watchdog, stallNotifier{notifier}, logger)

	notify := func(ctx context.Context, episodeID, _, sourceID string) {
		if err := notifier.NotifyResolved(ctx, episodeID, sourceID); err != nil {
			m.logger.Warn("resolved notification failed", logging.Error(err))
		}
	}
	m.orchestrator.SetResolvedHook(notify)
	m.coordinator.SetResolvedHook(transcribe.ResolvedFunc(notify))
	return m
}

// Registry exposes the source registry for scheduled maintenance.
func (m *Manager) Registry() *sources.Registry {
	return m.registry
}

// SetResolvedHook chains an external transcript consumer after the built-in
// notification hook.
func (m *Manager) SetResolvedHook(fn ResolvedFunc) {
	notifier := m.notifier
	logger := m.logger
	wrapped := func(ctx context.Context, episodeID, text, sourceID string) {
		if err := notifier.NotifyResolved(ctx, episodeID, sourceID); err != nil {
			logger.Warn("resolved notification failed", logging.Error(err))
		}
		if fn != nil {
			fn(ctx, episodeID, text, sourceID)
		}
	}
	m.orchestrator.SetResolvedHook(wrapped)
	m.coordinator.SetResolvedHook(transcribe.ResolvedFunc(wrapped))
}

// Start launches the pipeline loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.spawn(runCtx, "assign", m.pollInterval, m.assignPass)
	m.spawn(runCtx, "resolve", m.pollInterval, m.resolvePass)
	m.spawn(runCtx, "transcribe", time.Duration(m.cfg.Transcription.PollInterval)*time.Second, m.coordinator.RunOnce)
	m.spawn(runCtx, "reclaim", time.Duration(m.cfg.Workflow.HeartbeatInterval)*time.Second, m.reclaimPass)
	m.spawn(runCtx, "watchdog", time.Duration(m.cfg.Watchdog.CheckInterval)*time.Second, m.dog.Check)

	m.logger.Info("pipeline started")
	return nil
}

// Stop halts all loops and waits for them to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("pipeline stopped")
}

// spawn runs fn on an interval until the context ends. A failing pass backs
// off to the error interval instead of spinning.
func (m *Manager) spawn(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		interval = m.pollInterval
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			wait := interval
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("pass failed",
					logging.String("loop", name), logging.Error(err))
				if nErr := m.notifier.NotifyError(ctx, err, name); nErr != nil {
					m.logger.Warn("error notification failed", logging.Error(nErr))
				}
				wait = m.errorInterval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
}

// assignPass gives new shows their pathway and moves their unassigned
// episodes into the claimable pool.
func (m *Manager) assignPass(ctx context.Context) error {
	pending, err := m.store.ShowsWithoutPathway(ctx)
	if err != nil {
		return err
	}
	for _, show := range pending {
		if _, err := m.pathways.Apply(ctx, show); err != nil {
			m.logger.Warn("pathway assignment failed",
				logging.String(logging.FieldShowID, show.ID), logging.Error(err))
		}
	}

	unassigned, err := m.store.EpisodesByState(ctx, store.StateUnassigned, 0)
	if err != nil {
		return err
	}
	for _, episode := range unassigned {
		show, err := m.store.GetShow(ctx, episode.ShowID)
		if err != nil {
			return err
		}
		if show == nil || show.Pathway == "" {
			continue
		}
		if err := m.store.MarkPathwayAssigned(ctx, episode.ID); err != nil {
			m.logger.Warn("episode activation failed",
				logging.String(logging.FieldEpisodeID, episode.ID), logging.Error(err))
		}
	}
	return nil
}

// resolvePass drains claimable episodes. It keeps claiming while work
// exists so a backlog is not limited to one batch per poll interval.
func (m *Manager) resolvePass(ctx context.Context) error {
	for {
		claimed, err := m.orchestrator.RunOnce(ctx)
		if err != nil {
			return err
		}
		if claimed == 0 || ctx.Err() != nil {
			return nil
		}
	}
}

// reclaimPass returns episodes whose worker stopped heartbeating to the
// claimable pool.
func (m *Manager) reclaimPass(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Duration(m.cfg.Workflow.HeartbeatTimeout) * time.Second)
	reclaimed, err := m.store.ReclaimStaleClaims(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		m.logger.Warn("reclaimed stale claims", logging.Int64("count", reclaimed))
	}
	return nil
}

// stallNotifier adapts the notification service to the watchdog signals.
type stallNotifier struct {
	svc notifications.Service
}

func (s stallNotifier) Stalled(ctx context.Context, openCount int, window time.Duration) {
	_ = s.svc.NotifyStall(ctx, openCount, window)
}

func (s stallNotifier) Recovered(ctx context.Context, resolvedCount int) {
	_ = s.svc.NotifyRecovery(ctx, resolvedCount)
}
