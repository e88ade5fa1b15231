package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"quill/internal/config"
	"quill/internal/fetch"
	"quill/internal/logging"
	"quill/internal/services"
	"quill/internal/sources"
	"quill/internal/store"
)

// ResolvedFunc receives every transcript the moment its episode reaches the
// fetched state. The conditional transition guarantees it fires exactly once
// per episode.
type ResolvedFunc func(ctx context.Context, episodeID, transcriptText, sourceID string)

// Orchestrator claims pending episodes and walks each through its fallback
// chain.
type Orchestrator struct {
	store          *store.Store
	registry       *sources.Registry
	fetchers       *fetch.Set
	cfg            config.Resolver
	transcriptsDir string
	limiter        *sourceLimiter
	logger         *slog.Logger
	workerID       string
	onResolved     ResolvedFunc
}

// New constructs an orchestrator.
func New(st *store.Store, registry *sources.Registry, fetchers *fetch.Set, cfg config.Resolver, paths config.Paths, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:          st,
		registry:       registry,
		fetchers:       fetchers,
		cfg:            cfg,
		transcriptsDir: paths.TranscriptsDir,
		limiter:        newSourceLimiter(time.Duration(cfg.SourceSpacing) * time.Second),
		logger:         logging.NewComponentLogger(logger, "resolver"),
		workerID:       "resolver-" + uuid.NewString()[:8],
	}
}

// SetResolvedHook installs the outbound transcript callback.
func (o *Orchestrator) SetResolvedHook(fn ResolvedFunc) {
	o.onResolved = fn
}

// RunOnce claims one batch and processes it to completion. Returns the
// number of episodes claimed so callers can tell an idle pass from a busy one.
func (o *Orchestrator) RunOnce(ctx context.Context) (int, error) {
	claimed, err := o.store.ClaimBatch(ctx, o.workerID, o.cfg.ClaimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.Workers)
	for _, episode := range claimed {
		episode := episode
		group.Go(func() error {
			return o.process(groupCtx, episode)
		})
	}
	return len(claimed), group.Wait()
}

func (o *Orchestrator) process(ctx context.Context, episode *store.Episode) error {
	ctx = services.WithEpisodeID(ctx, episode.ID)
	ctx = services.WithStage(ctx, "resolve")

	show, err := o.store.GetShow(ctx, episode.ShowID)
	if err != nil {
		return err
	}
	if show == nil {
		o.logger.Error("claimed episode references unknown show",
			logging.String(logging.FieldEpisodeID, episode.ID),
			logging.String(logging.FieldShowID, episode.ShowID))
		return o.store.MarkFailedPermanent(ctx, episode.ID, store.StateAttempting, services.ClassInvalidPathway)
	}

	switch show.Pathway {
	case "":
		o.logger.Error("claimed episode has no show pathway",
			logging.String(logging.FieldEpisodeID, episode.ID),
			logging.String(logging.FieldShowID, show.ID))
		return o.store.MarkFailedPermanent(ctx, episode.ID, store.StateAttempting, services.ClassInvalidPathway)
	case store.PathwayUnresolved:
		// No audio and no matching source anywhere. Fail without
		// spending network calls.
		return o.store.MarkFailedPermanent(ctx, episode.ID, store.StateAttempting, services.ClassAudioUnavailable)
	case store.PathwayLocalTranscription:
		if !episode.HasAudio() {
			return o.store.MarkFailedPermanent(ctx, episode.ID, store.StateAttempting, services.ClassAudioUnavailable)
		}
		return o.store.MarkNeedsTranscription(ctx, episode.ID, "")
	default:
		return o.attemptChain(ctx, show, episode)
	}
}

func (o *Orchestrator) attemptChain(ctx context.Context, show *store.Show, episode *store.Episode) error {
	candidates, err := o.registry.Match(ctx, show, episode)
	if err != nil {
		return fmt.Errorf("match sources: %w", err)
	}
	ordered := orderForPathway(candidates, show.Pathway)

	lastClass := services.ClassNoContent
	lastSourceID := ""
	for _, candidate := range ordered {
		fetcher, ok := o.fetchers.ForPathway(candidate.Source.Pathway)
		if !ok {
			continue
		}
		if err := o.limiter.wait(ctx, candidate.Source.ID); err != nil {
			return err
		}

		correlationID := uuid.NewString()
		attemptCtx, cancel := context.WithTimeout(services.WithCorrelationID(ctx, correlationID),
			time.Duration(o.cfg.FetchTimeout)*time.Second)
		result, fetchErr := fetcher.Fetch(attemptCtx, show, episode, candidate.Source)
		cancel()

		attempt := &store.ResolutionAttempt{
			EpisodeID:     episode.ID,
			SourceID:      candidate.Source.ID,
			Outcome:       store.OutcomeSuccess,
			CorrelationID: correlationID,
		}
		if fetchErr != nil {
			attempt.Outcome = store.OutcomeFailure
			attempt.ErrorClass = services.Classify(fetchErr)
		} else {
			attempt.ContentLength = len(result.Text)
		}
		if err := o.registry.RecordOutcome(ctx, attempt); err != nil {
			return err
		}

		if fetchErr == nil {
			return o.finish(ctx, show, episode, candidate.Source.ID, result.Text)
		}

		lastClass = services.Classify(fetchErr)
		lastSourceID = candidate.Source.ID
		o.logger.Debug("attempt failed, advancing fallback chain",
			logging.String(logging.FieldEpisodeID, episode.ID),
			logging.String(logging.FieldSourceID, candidate.Source.ID),
			logging.String(logging.FieldErrorClass, lastClass),
			logging.String(logging.FieldCorrelationID, correlationID))
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return o.exhausted(ctx, episode, lastSourceID, lastClass)
}

// exhausted picks the episode's fate once every candidate failed: retry with
// backoff below the ceiling, then fall back to local transcription when
// audio is obtainable, then park it for triage.
func (o *Orchestrator) exhausted(ctx context.Context, episode *store.Episode, lastSourceID, lastClass string) error {
	if episode.AttemptCount+1 < o.cfg.RetryCeiling {
		next := time.Now().Add(o.backoff(episode.AttemptCount))
		o.logger.Info("fallback chain exhausted, scheduling retry",
			logging.String(logging.FieldEpisodeID, episode.ID),
			logging.String(logging.FieldErrorClass, lastClass),
			logging.Time("next_attempt", next))
		return o.store.MarkRetryWait(ctx, episode.ID, lastSourceID, lastClass, next)
	}

	if episode.HasAudio() {
		o.logger.Info("retry ceiling reached, handing off to transcription",
			logging.String(logging.FieldEpisodeID, episode.ID))
		return o.store.MarkNeedsTranscription(ctx, episode.ID, lastSourceID)
	}

	if lastClass == "" {
		lastClass = services.ClassAudioUnavailable
	}
	o.logger.Warn("episode permanently failed",
		logging.String(logging.FieldEpisodeID, episode.ID),
		logging.String(logging.FieldErrorClass, lastClass))
	return o.store.MarkFailedPermanent(ctx, episode.ID, store.StateAttempting, lastClass)
}

func (o *Orchestrator) finish(ctx context.Context, show *store.Show, episode *store.Episode, sourceID, text string) error {
	path, err := writeTranscript(o.transcriptsDir, show.ID, episode.ID, text)
	if err != nil {
		return err
	}

	if err := o.store.MarkFetched(ctx, episode.ID, store.StateAttempting, sourceID, path); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			// Someone else finished this episode; drop our copy of the work.
			return nil
		}
		return err
	}

	o.logger.Info("transcript resolved",
		logging.String(logging.FieldEpisodeID, episode.ID),
		logging.String(logging.FieldSourceID, sourceID),
		logging.Int("chars", len(text)))
	if o.onResolved != nil {
		o.onResolved(ctx, episode.ID, text, sourceID)
	}
	return nil
}

func (o *Orchestrator) backoff(attemptCount int) time.Duration {
	backoff := time.Duration(o.cfg.BackoffBaseMinutes) * time.Minute
	for i := 0; i < attemptCount; i++ {
		backoff *= time.Duration(o.cfg.BackoffFactor)
	}
	return backoff
}

// orderForPathway keeps registry ordering within each tier but attempts the
// show's primary pathway before any cross-pathway fallback.
func orderForPathway(candidates []sources.Candidate, primary store.Pathway) []sources.Candidate {
	ordered := make([]sources.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Source.Pathway == primary {
			ordered = append(ordered, candidate)
		}
	}
	for _, candidate := range candidates {
		if candidate.Source.Pathway != primary {
			ordered = append(ordered, candidate)
		}
	}
	return ordered
}
