package workflow_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quill/internal/ingest"
	"quill/internal/store"
	"quill/internal/testsupport"
	"quill/internal/workflow"
)

func TestManagerResolvesIngestedEpisodeEndToEnd(t *testing.T) {
	transcript := strings.Repeat("full pipeline transcript ", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(transcript))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Workflow.PollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Transcription.PollInterval = 1
	cfg.Watchdog.CheckInterval = 1
	cfg.Resolver.SourceSpacing = 0
	cfg.Resolver.DirectShows = []string{"history-hour"}
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	ingestor := ingest.New(st, nil)
	published := time.Now().Add(-time.Hour)
	if _, err := ingestor.CreateOrUpdateEpisode(ctx, "history-hour", "ep-1", "The Fall of Rome",
		&published, "https://cdn.example.com/1.mp3", ""); err != nil {
		t.Fatalf("CreateOrUpdateEpisode: %v", err)
	}
	if err := st.UpsertSource(ctx, &store.Source{
		ID: "direct", DisplayName: "direct", Pathway: store.PathwayWebsiteDirect,
		BaseURL: server.URL + "/t/{episode}.txt", Enabled: true, Priority: 1,
	}); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	manager := workflow.NewManager(cfg, st, nil)
	var (
		mu       sync.Mutex
		resolved []string
	)
	manager.SetResolvedHook(func(_ context.Context, episodeID, text, sourceID string) {
		mu.Lock()
		defer mu.Unlock()
		resolved = append(resolved, episodeID)
		if text == "" || sourceID != "direct" {
			t.Errorf("unexpected resolution payload: %q via %q", text, sourceID)
		}
	})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	deadline := time.Now().Add(20 * time.Second)
	for {
		episode, err := st.GetEpisode(ctx, "ep-1")
		if err != nil {
			t.Fatalf("GetEpisode: %v", err)
		}
		if episode.State == store.StateFetched {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("episode never resolved, state %s (%s)", episode.State, episode.LastErrorClass)
		}
		time.Sleep(100 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(resolved) != 1 || resolved[0] != "ep-1" {
		t.Fatalf("expected a single resolution callback for ep-1, got %v", resolved)
	}
}

func TestManagerStartStopIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.PollInterval = 1
	st := testsupport.MustOpenStore(t, cfg)

	manager := workflow.NewManager(cfg, st, nil)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	manager.Stop()
	manager.Stop()
}
