package resolver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/fetch"
	"quill/internal/resolver"
	"quill/internal/services"
	"quill/internal/sources"
	"quill/internal/store"
	"quill/internal/testsupport"
)

func newOrchestrator(t *testing.T, cfg *config.Config, st *store.Store) *resolver.Orchestrator {
	t.Helper()
	registry := sources.NewRegistry(st, cfg.Sources, nil)
	client := fetch.NewClient(5 * time.Second)
	set := fetch.NewSet(client, cfg.Resolver)
	return resolver.New(st, registry, set, cfg.Resolver, cfg.Paths, nil)
}

func readyEpisode(t *testing.T, st *store.Store, showID, episodeID string, pathway store.Pathway) {
	t.Helper()
	ctx := context.Background()
	if show, err := st.GetShow(ctx, showID); err != nil || show == nil {
		testsupport.NewShow(t, st, showID, showID)
	}
	testsupport.NewEpisode(t, st, showID, episodeID, "Episode "+episodeID)
	if err := st.SetShowPathway(ctx, showID, pathway, "test setup"); err != nil {
		t.Fatalf("SetShowPathway: %v", err)
	}
	if err := st.MarkPathwayAssigned(ctx, episodeID); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}
}

func TestRunOnceResolvesThroughSource(t *testing.T) {
	transcript := strings.Repeat("resolved transcript words ", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(transcript))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Resolver.SourceSpacing = 0
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	readyEpisode(t, st, "show-a", "ep-1", store.PathwayWebsiteDirect)
	source := &store.Source{
		ID: "direct", DisplayName: "direct", Pathway: store.PathwayWebsiteDirect,
		BaseURL: server.URL + "/t/{episode}.txt", Enabled: true, Priority: 1,
	}
	if err := st.UpsertSource(ctx, source); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	orch := newOrchestrator(t, cfg, st)
	var resolvedCalls atomic.Int64
	orch.SetResolvedHook(func(_ context.Context, episodeID, text, sourceID string) {
		resolvedCalls.Add(1)
		if episodeID != "ep-1" || sourceID != "direct" || text == "" {
			t.Errorf("unexpected hook payload: %s %s", episodeID, sourceID)
		}
	})

	claimed, err := orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("expected 1 claimed, got %d", claimed)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateFetched {
		t.Fatalf("expected fetched, got %s (%s)", episode.State, episode.LastErrorClass)
	}
	if episode.TranscriptPath == "" || episode.ResolvedSourceID != "direct" {
		t.Fatalf("missing transcript provenance: %+v", episode)
	}
	if resolvedCalls.Load() != 1 {
		t.Fatalf("expected exactly one resolved callback, got %d", resolvedCalls.Load())
	}

	attempts, err := st.AttemptsForEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("AttemptsForEpisode: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != store.OutcomeSuccess {
		t.Fatalf("expected one successful attempt, got %v", attempts)
	}
}

func TestEmptyContentAdvancesChainThenRetryWait(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/empty/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("  "))
	})
	mux.HandleFunc("/missing/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Resolver.SourceSpacing = 0
	cfg.Resolver.AggregatorBaseURL = server.URL + "/empty"
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	readyEpisode(t, st, "show-a", "ep-1", store.PathwayAggregator)
	for _, s := range []*store.Source{
		{ID: "agg-primary", DisplayName: "agg", Pathway: store.PathwayAggregator, Enabled: true, Priority: 9},
		{ID: "arch-fallback", DisplayName: "arch", Pathway: store.PathwayNetworkArchive,
			BaseURL: server.URL + "/missing/{episode}", Enabled: true, Priority: 1},
	} {
		if err := st.UpsertSource(ctx, s); err != nil {
			t.Fatalf("UpsertSource: %v", err)
		}
	}

	orch := newOrchestrator(t, cfg, st)
	if _, err := orch.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateRetryWait {
		t.Fatalf("expected retry_wait, got %s", episode.State)
	}
	if episode.LastErrorClass != services.ClassNoContent {
		t.Fatalf("expected source-no-content, got %s", episode.LastErrorClass)
	}
	if episode.NextAttemptAt == nil || !episode.NextAttemptAt.After(time.Now()) {
		t.Fatalf("expected future next_attempt_at, got %v", episode.NextAttemptAt)
	}

	// Both candidates were tried in one pass; the empty aggregator response
	// advanced the chain instead of consuming its own retry slot.
	attempts, err := st.AttemptsForEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("AttemptsForEpisode: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if episode.AttemptCount != 1 {
		t.Fatalf("expected pass count 1, got %d", episode.AttemptCount)
	}
}

func TestUnresolvedPathwayFailsWithoutNetwork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewShow(t, st, "show-a", "Show A")
	published := time.Now().Add(-time.Hour)
	if _, err := st.UpsertEpisode(ctx, "show-a", "ep-1", "Episode", &published, "", ""); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	if err := st.SetShowPathway(ctx, "show-a", store.PathwayUnresolved, "no audio"); err != nil {
		t.Fatalf("SetShowPathway: %v", err)
	}
	if err := st.MarkPathwayAssigned(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}

	orch := newOrchestrator(t, cfg, st)
	if _, err := orch.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateFailedPermanent {
		t.Fatalf("expected failed_permanent, got %s", episode.State)
	}
	if episode.LastErrorClass != services.ClassAudioUnavailable {
		t.Fatalf("expected audio-unavailable, got %s", episode.LastErrorClass)
	}
	attempts, err := st.AttemptsForEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("AttemptsForEpisode: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("expected no network attempts, got %d", len(attempts))
	}
}

func TestLocalTranscriptionPathwayHandsOff(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	readyEpisode(t, st, "show-a", "ep-1", store.PathwayLocalTranscription)

	orch := newOrchestrator(t, cfg, st)
	if _, err := orch.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateNeedsTranscription {
		t.Fatalf("expected needs_transcription, got %s", episode.State)
	}
}

func TestConcurrentOrchestratorsClaimDisjointly(t *testing.T) {
	transcript := strings.Repeat("concurrent transcript ", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(transcript))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Resolver.SourceSpacing = 0
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const episodeCount = 8
	testsupport.NewShow(t, st, "show-a", "Show A")
	if err := st.SetShowPathway(ctx, "show-a", store.PathwayWebsiteDirect, "test setup"); err != nil {
		t.Fatalf("SetShowPathway: %v", err)
	}
	ids := make([]string, 0, episodeCount)
	for i := 0; i < episodeCount; i++ {
		id := "ep-" + string(rune('a'+i))
		ids = append(ids, id)
		testsupport.NewEpisode(t, st, "show-a", id, "Episode")
		if err := st.MarkPathwayAssigned(ctx, id); err != nil {
			t.Fatalf("MarkPathwayAssigned: %v", err)
		}
	}
	if err := st.UpsertSource(ctx, &store.Source{
		ID: "direct", DisplayName: "direct", Pathway: store.PathwayWebsiteDirect,
		BaseURL: server.URL + "/t/{episode}.txt", Enabled: true, Priority: 1,
	}); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	first := newOrchestrator(t, cfg, st)
	second := newOrchestrator(t, cfg, st)

	var wg sync.WaitGroup
	for _, orch := range []*resolver.Orchestrator{first, second} {
		wg.Add(1)
		go func(o *resolver.Orchestrator) {
			defer wg.Done()
			for {
				claimed, err := o.RunOnce(ctx)
				if err != nil {
					t.Errorf("RunOnce: %v", err)
					return
				}
				if claimed == 0 {
					return
				}
			}
		}(orch)
	}
	wg.Wait()

	for _, id := range ids {
		episode, err := st.GetEpisode(ctx, id)
		if err != nil {
			t.Fatalf("GetEpisode: %v", err)
		}
		if episode.State != store.StateFetched {
			t.Fatalf("episode %s not fetched: %s", id, episode.State)
		}
		attempts, err := st.AttemptsForEpisode(ctx, id)
		if err != nil {
			t.Fatalf("AttemptsForEpisode: %v", err)
		}
		if len(attempts) != 1 {
			t.Fatalf("episode %s processed %d times", id, len(attempts))
		}
	}
}
