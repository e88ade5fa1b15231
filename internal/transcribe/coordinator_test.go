package transcribe_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quill/internal/config"
	"quill/internal/services"
	"quill/internal/store"
	"quill/internal/testsupport"
	"quill/internal/transcribe"
)

type stubDownloader struct {
	calls int
	fail  bool
}

func (d *stubDownloader) Download(_ context.Context, _ string, destPath string) error {
	d.calls++
	if d.fail {
		return services.Wrap(services.ErrAudioUnavailable, "fetch", "download", destPath, nil)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("audio-bytes"), 0o644)
}

func needsTranscription(t *testing.T, st *store.Store, showID, episodeID string) {
	t.Helper()
	ctx := context.Background()
	testsupport.NewEpisode(t, st, showID, episodeID, "Episode")
	if err := st.MarkPathwayAssigned(ctx, episodeID); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}
	if err := st.ClaimEpisode(ctx, episodeID, store.StatePathwayAssigned, "test-worker"); err != nil {
		t.Fatalf("ClaimEpisode: %v", err)
	}
	if err := st.MarkNeedsTranscription(ctx, episodeID, ""); err != nil {
		t.Fatalf("MarkNeedsTranscription: %v", err)
	}
}

func newCoordinator(t *testing.T, cfg *config.Config, st *store.Store) (*transcribe.Coordinator, *stubDownloader) {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	downloader := &stubDownloader{}
	return transcribe.NewCoordinator(st, cfg.Transcription, cfg.Paths, downloader, nil), downloader
}

func TestStagingCreatesSingleJobAndPushesAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewShow(t, st, "show-a", "Show A")
	needsTranscription(t, st, "show-a", "ep-1")

	coordinator, downloader := newCoordinator(t, cfg, st)
	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce repeat: %v", err)
	}

	job, err := st.LiveJobForEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("LiveJobForEpisode: %v", err)
	}
	if job == nil {
		t.Fatal("expected a live job")
	}
	if job.StagedAt == nil {
		t.Fatal("expected job staged")
	}
	if downloader.calls != 1 {
		t.Fatalf("expected a single audio download across sweeps, got %d", downloader.calls)
	}

	inbound := filepath.Join(cfg.Transcription.WorkerInboundDir, job.ID+".mp3")
	if _, err := os.Stat(inbound); err != nil {
		t.Fatalf("expected staged audio at %s: %v", inbound, err)
	}
}

func TestImportCompletedOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewShow(t, st, "show-a", "Show A")
	needsTranscription(t, st, "show-a", "ep-1")

	coordinator, _ := newCoordinator(t, cfg, st)
	var hookCalls int
	coordinator.SetResolvedHook(func(_ context.Context, episodeID, text, sourceID string) {
		hookCalls++
		if episodeID != "ep-1" || sourceID != transcribe.WorkerSourceID || text == "" {
			t.Errorf("unexpected hook payload: %s %s", episodeID, sourceID)
		}
	})
	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce stage: %v", err)
	}

	job, err := st.LiveJobForEpisode(ctx, "ep-1")
	if err != nil || job == nil {
		t.Fatalf("LiveJobForEpisode: %v %v", job, err)
	}
	transcript := strings.Repeat("the worker heard this. ", 20)
	testsupport.WriteFile(t, filepath.Join(cfg.Transcription.WorkerOutboundDir, job.ID+".txt"), transcript)

	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce import: %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateFetched {
		t.Fatalf("expected fetched, got %s", episode.State)
	}
	if episode.ResolvedSourceID != transcribe.WorkerSourceID {
		t.Fatalf("expected worker provenance, got %q", episode.ResolvedSourceID)
	}
	if _, err := os.Stat(episode.TranscriptPath); err != nil {
		t.Fatalf("expected transcript file: %v", err)
	}
	if hookCalls != 1 {
		t.Fatalf("expected one resolved callback, got %d", hookCalls)
	}

	live, err := st.LiveJobForEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("LiveJobForEpisode after import: %v", err)
	}
	if live != nil {
		t.Fatal("expected job archived after import")
	}
	if _, err := os.Stat(filepath.Join(cfg.Transcription.WorkerOutboundDir, job.ID+".txt")); !os.IsNotExist(err) {
		t.Fatal("expected outbound artifact removed")
	}
	if _, err := os.Stat(filepath.Join(cfg.Transcription.WorkerInboundDir, job.ID+".mp3")); !os.IsNotExist(err) {
		t.Fatal("expected inbound artifact removed")
	}
}

func TestNearEmptyOutputIsFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewShow(t, st, "show-a", "Show A")
	needsTranscription(t, st, "show-a", "ep-1")

	coordinator, _ := newCoordinator(t, cfg, st)
	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce stage: %v", err)
	}
	job, err := st.LiveJobForEpisode(ctx, "ep-1")
	if err != nil || job == nil {
		t.Fatalf("LiveJobForEpisode: %v %v", job, err)
	}
	testsupport.WriteFile(t, filepath.Join(cfg.Transcription.WorkerOutboundDir, job.ID+".txt"), "  \n")

	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce import: %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateFailedPermanent {
		t.Fatalf("expected failed_permanent, got %s", episode.State)
	}
	if episode.LastErrorClass != services.ClassNoContent {
		t.Fatalf("expected source-no-content, got %s", episode.LastErrorClass)
	}
}

func TestOfflineWorkerFailsAfterRestageBudgetThenRecovers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcription.StaleThresholdHrs = 0
	cfg.Transcription.MaxRestages = 2
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewShow(t, st, "show-a", "Show A")
	needsTranscription(t, st, "show-a", "ep-1")

	coordinator, _ := newCoordinator(t, cfg, st)
	for cycle := 0; cycle < 5; cycle++ {
		if err := coordinator.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce cycle %d: %v", cycle, err)
		}
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateFailedPermanent {
		t.Fatalf("expected failed_permanent after exhausted re-stages, got %s", episode.State)
	}
	if episode.LastErrorClass != services.ClassWorkerUnavailable {
		t.Fatalf("expected transcription-worker-unavailable, got %s", episode.LastErrorClass)
	}
	if live, _ := st.LiveJobForEpisode(ctx, "ep-1"); live != nil {
		t.Fatal("expected failed job archived")
	}

	// Worker comes back. Re-open the episode, route it through hand-off
	// again, and complete the fresh job.
	if err := st.ReopenEpisode(ctx, "ep-1"); err != nil {
		t.Fatalf("ReopenEpisode: %v", err)
	}
	if err := st.ClaimEpisode(ctx, "ep-1", store.StatePathwayAssigned, "test-worker"); err != nil {
		t.Fatalf("ClaimEpisode: %v", err)
	}
	if err := st.MarkNeedsTranscription(ctx, "ep-1", ""); err != nil {
		t.Fatalf("MarkNeedsTranscription: %v", err)
	}
	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce after recovery: %v", err)
	}

	job, err := st.LiveJobForEpisode(ctx, "ep-1")
	if err != nil || job == nil {
		t.Fatalf("expected fresh job after re-open: %v %v", job, err)
	}
	transcript := strings.Repeat("finally transcribed. ", 20)
	testsupport.WriteFile(t, filepath.Join(cfg.Transcription.WorkerOutboundDir, job.ID+".txt"), transcript)
	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce final import: %v", err)
	}

	episode, err = st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateFetched {
		t.Fatalf("expected fetched after recovery, got %s", episode.State)
	}
}

func TestUnconfiguredWorkerLeavesEpisodesWaiting(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutTranscriptionWorker())
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewShow(t, st, "show-a", "Show A")
	needsTranscription(t, st, "show-a", "ep-1")

	coordinator, downloader := newCoordinator(t, cfg, st)
	if err := coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateNeedsTranscription {
		t.Fatalf("expected episode waiting, got %s", episode.State)
	}
	if downloader.calls != 0 {
		t.Fatalf("expected no downloads without worker dirs, got %d", downloader.calls)
	}
}
