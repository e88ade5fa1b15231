package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"sync"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/store"
)

// Registry selects transcript providers for episodes and tracks their health.
// Success rates are computed on demand from the attempt log, so the registry
// holds no mutable counters of its own.
type Registry struct {
	store  *store.Store
	cfg    config.Sources
	logger *slog.Logger

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// Candidate pairs a source with its rolling success rate at selection time.
type Candidate struct {
	Source      *store.Source
	SuccessRate float64
	SampleSize  int
}

// NewRegistry constructs a registry bound to the given store.
func NewRegistry(st *store.Store, cfg config.Sources, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		store:    st,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "sources"),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Match returns the enabled sources applicable to an episode, ordered by
// priority, then rolling success rate, then identifier. The identifier
// tiebreak keeps the ordering deterministic for equal scores.
func (r *Registry) Match(ctx context.Context, show *store.Show, episode *store.Episode) ([]Candidate, error) {
	enabled, err := r.store.ListEnabledSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}

	var candidates []Candidate
	for _, source := range enabled {
		ok, err := r.applies(source, show, episode)
		if err != nil {
			r.logger.Warn("skipping source with bad pattern",
				logging.String(logging.FieldSourceID, source.ID), logging.Error(err))
			continue
		}
		if !ok {
			continue
		}
		rate, samples, err := r.successRate(ctx, source.ID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Source: source, SuccessRate: rate, SampleSize: samples})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Source.Priority != b.Source.Priority {
			return a.Source.Priority > b.Source.Priority
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.Source.ID < b.Source.ID
	})
	return candidates, nil
}

// RecordOutcome appends one attempt result to the source's history.
func (r *Registry) RecordOutcome(ctx context.Context, attempt *store.ResolutionAttempt) error {
	return r.store.RecordAttempt(ctx, attempt)
}

// SuccessRate returns a source's rolling success rate and the number of
// attempts in the window backing it.
func (r *Registry) SuccessRate(ctx context.Context, sourceID string) (float64, int, error) {
	return r.successRate(ctx, sourceID)
}

// Reprioritize disables sources whose rolling success rate dropped below the
// low-water mark. Sources with fewer than the minimum sample of attempts are
// left alone so a new source is not judged on two bad days. Returns the
// identifiers disabled in this pass.
func (r *Registry) Reprioritize(ctx context.Context) ([]string, error) {
	enabled, err := r.store.ListEnabledSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}

	var disabled []string
	for _, source := range enabled {
		rate, samples, err := r.successRate(ctx, source.ID)
		if err != nil {
			return disabled, err
		}
		if samples < r.cfg.MinSampleSize {
			continue
		}
		if rate >= r.cfg.LowWaterMark {
			continue
		}
		reason := fmt.Sprintf("success rate %.2f below %.2f over %d attempts", rate, r.cfg.LowWaterMark, samples)
		if err := r.store.SetSourceEnabled(ctx, source.ID, false, reason); err != nil {
			return disabled, fmt.Errorf("disable source %s: %w", source.ID, err)
		}
		r.logger.Warn("source auto-disabled",
			logging.String(logging.FieldSourceID, source.ID),
			logging.Float64("success_rate", rate),
			logging.Int("sample_size", samples))
		disabled = append(disabled, source.ID)
	}
	return disabled, nil
}

func (r *Registry) successRate(ctx context.Context, sourceID string) (float64, int, error) {
	outcomes, err := r.store.SourceOutcomes(ctx, sourceID, r.cfg.WindowSize)
	if err != nil {
		return 0, 0, fmt.Errorf("source outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return 1.0, 0, nil
	}
	successes := 0
	for _, outcome := range outcomes {
		if outcome == store.OutcomeSuccess {
			successes++
		}
	}
	return float64(successes) / float64(len(outcomes)), len(outcomes), nil
}

func (r *Registry) applies(source *store.Source, show *store.Show, episode *store.Episode) (bool, error) {
	if source.ShowPattern != "" {
		ok, err := r.matchPattern(source.ShowPattern, show.ID)
		if err != nil || !ok {
			return false, err
		}
	}
	if source.TitlePattern != "" {
		ok, err := r.matchPattern(source.TitlePattern, episode.Title)
		if err != nil || !ok {
			return false, err
		}
	}
	if source.AudioHostPattern != "" {
		host := audioHost(episode.AudioURL)
		if host == "" {
			return false, nil
		}
		ok, err := r.matchPattern(source.AudioHostPattern, host)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (r *Registry) matchPattern(pattern, value string) (bool, error) {
	r.mu.Lock()
	compiled, ok := r.patterns[pattern]
	r.mu.Unlock()
	if !ok {
		var err error
		compiled, err = regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("compile pattern %q: %w", pattern, err)
		}
		r.mu.Lock()
		r.patterns[pattern] = compiled
		r.mu.Unlock()
	}
	return compiled.MatchString(value), nil
}

func audioHost(audioURL string) string {
	if audioURL == "" {
		return ""
	}
	parsed, err := url.Parse(audioURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
