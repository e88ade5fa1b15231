package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"quill/internal/store"
	"quill/internal/testsupport"
)

func TestUpsertEpisodeIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")

	published := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := st.UpsertEpisode(ctx, "show-a", "ep-1", "Episode One", &published, "https://cdn.example.com/1.mp3", "")
	if err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	if first.State != store.StateUnassigned {
		t.Fatalf("expected unassigned, got %s", first.State)
	}

	if err := st.MarkPathwayAssigned(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}

	second, err := st.UpsertEpisode(ctx, "show-a", "ep-1", "Episode One", &published, "https://cdn.example.com/1.mp3", "")
	if err != nil {
		t.Fatalf("UpsertEpisode repeat: %v", err)
	}
	if second.State != store.StatePathwayAssigned {
		t.Fatalf("repeat upsert reset state to %s", second.State)
	}

	episodes, err := st.EpisodesForShow(ctx, "show-a")
	if err != nil {
		t.Fatalf("EpisodesForShow: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("expected 1 episode, got %d", len(episodes))
	}
}

func TestClaimEpisodeCompareAndSet(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")
	testsupport.NewEpisode(t, st, "show-a", "ep-1", "Episode One")
	if err := st.MarkPathwayAssigned(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}

	if err := st.ClaimEpisode(ctx, "ep-1", store.StatePathwayAssigned, "worker-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := st.ClaimEpisode(ctx, "ep-1", store.StatePathwayAssigned, "worker-2")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for second claim, got %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.ClaimedBy != "worker-1" {
		t.Fatalf("expected worker-1 claim, got %q", episode.ClaimedBy)
	}
}

func TestClaimBatchSkipsUnexpiredRetryWait(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")

	for i, next := range []time.Time{time.Now().Add(-time.Minute), time.Now().Add(time.Hour)} {
		id := fmt.Sprintf("ep-%d", i)
		testsupport.NewEpisode(t, st, "show-a", id, "Episode")
		if err := st.MarkPathwayAssigned(ctx, id); err != nil {
			t.Fatalf("MarkPathwayAssigned: %v", err)
		}
		if err := st.ClaimEpisode(ctx, id, store.StatePathwayAssigned, "worker-1"); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := st.MarkRetryWait(ctx, id, "source-x", "source-unreachable", next); err != nil {
			t.Fatalf("MarkRetryWait: %v", err)
		}
	}

	claimed, err := st.ClaimBatch(ctx, "worker-2", 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimable episode, got %d", len(claimed))
	}
	if claimed[0].ID != "ep-0" {
		t.Fatalf("expected expired episode ep-0, got %s", claimed[0].ID)
	}
	if claimed[0].AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", claimed[0].AttemptCount)
	}
}

func TestMarkFetchedSetsTranscriptOnce(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")
	testsupport.NewEpisode(t, st, "show-a", "ep-1", "Episode One")
	if err := st.MarkPathwayAssigned(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}
	if err := st.ClaimEpisode(ctx, "ep-1", store.StatePathwayAssigned, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := st.MarkFetched(ctx, "ep-1", store.StateAttempting, "source-x", "/transcripts/ep-1.txt"); err != nil {
		t.Fatalf("MarkFetched: %v", err)
	}
	err := st.MarkFetched(ctx, "ep-1", store.StateAttempting, "source-y", "/transcripts/other.txt")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on double fetch, got %v", err)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StateFetched {
		t.Fatalf("expected fetched, got %s", episode.State)
	}
	if episode.TranscriptPath != "/transcripts/ep-1.txt" {
		t.Fatalf("transcript path overwritten: %q", episode.TranscriptPath)
	}
	if episode.ResolvedAt == nil {
		t.Fatal("expected resolved_at to be set")
	}
}

func TestReclaimStaleClaims(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")
	testsupport.NewEpisode(t, st, "show-a", "ep-1", "Episode One")
	if err := st.MarkPathwayAssigned(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}
	if err := st.ClaimEpisode(ctx, "ep-1", store.StatePathwayAssigned, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reclaimed, err := st.ReclaimStaleClaims(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleClaims: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", reclaimed)
	}

	episode, err := st.GetEpisode(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if episode.State != store.StatePathwayAssigned {
		t.Fatalf("expected pathway_assigned after reclaim, got %s", episode.State)
	}
	if episode.ClaimedBy != "" {
		t.Fatalf("expected claim cleared, got %q", episode.ClaimedBy)
	}
}

func TestSweepReopenBoundedPerShow(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for _, showID := range []string{"show-a", "show-b"} {
		testsupport.NewShow(t, st, showID, showID)
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("%s-ep-%d", showID, i)
			testsupport.NewEpisode(t, st, showID, id, "Episode")
			if err := st.MarkPathwayAssigned(ctx, id); err != nil {
				t.Fatalf("MarkPathwayAssigned: %v", err)
			}
			if err := st.MarkFailedPermanent(ctx, id, store.StatePathwayAssigned, "source-no-content"); err != nil {
				t.Fatalf("MarkFailedPermanent: %v", err)
			}
		}
	}

	reopened, err := st.SweepReopen(ctx, 2)
	if err != nil {
		t.Fatalf("SweepReopen: %v", err)
	}
	if reopened != 4 {
		t.Fatalf("expected 4 reopened (2 per show), got %d", reopened)
	}

	report, err := st.StatusReport(ctx)
	if err != nil {
		t.Fatalf("StatusReport: %v", err)
	}
	if report.PerState[store.StateFailedPermanent] != 4 {
		t.Fatalf("expected 4 still failed, got %d", report.PerState[store.StateFailedPermanent])
	}
	if report.PerState[store.StatePathwayAssigned] != 4 {
		t.Fatalf("expected 4 pathway_assigned, got %d", report.PerState[store.StatePathwayAssigned])
	}
}

func TestSourceOutcomesWindow(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")
	testsupport.NewEpisode(t, st, "show-a", "ep-1", "Episode One")
	testsupport.NewSource(t, st, "source-x", store.PathwayWebsiteDirect, 10)

	for i := 0; i < 5; i++ {
		outcome := store.OutcomeFailure
		if i >= 3 {
			outcome = store.OutcomeSuccess
		}
		err := st.RecordAttempt(ctx, &store.ResolutionAttempt{
			EpisodeID: "ep-1",
			SourceID:  "source-x",
			Outcome:   outcome,
		})
		if err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	outcomes, err := st.SourceOutcomes(ctx, "source-x", 3)
	if err != nil {
		t.Fatalf("SourceOutcomes: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected window of 3, got %d", len(outcomes))
	}
	// Newest first: the two successes then the latest failure.
	if outcomes[0] != store.OutcomeSuccess || outcomes[1] != store.OutcomeSuccess || outcomes[2] != store.OutcomeFailure {
		t.Fatalf("unexpected window order: %v", outcomes)
	}
}

func TestLiveJobUniquePerEpisode(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")
	testsupport.NewEpisode(t, st, "show-a", "ep-1", "Episode One")

	job, err := st.CreateJob(ctx, "ep-1", "/staging/ep-1.mp3")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.CreateJob(ctx, "ep-1", "/staging/ep-1.mp3"); !errors.Is(err, store.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}

	if err := st.ArchiveJob(ctx, job.ID); err != nil {
		t.Fatalf("ArchiveJob: %v", err)
	}
	if _, err := st.CreateJob(ctx, "ep-1", "/staging/ep-1.mp3"); err != nil {
		t.Fatalf("CreateJob after archive: %v", err)
	}
}

func TestSetShowPathwayWritesAudit(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")

	if err := st.SetShowPathway(ctx, "show-a", store.PathwayAggregator, "aggregator probe succeeded"); err != nil {
		t.Fatalf("SetShowPathway: %v", err)
	}
	if err := st.SetShowPathway(ctx, "show-a", store.PathwayWebsiteDirect, "operator override"); err != nil {
		t.Fatalf("SetShowPathway reassign: %v", err)
	}

	events, err := st.ListAuditEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].Kind != store.AuditPathwayReassigned {
		t.Fatalf("expected reassigned kind first, got %s", events[0].Kind)
	}
	if events[1].Kind != store.AuditPathwayAssigned {
		t.Fatalf("expected assigned kind, got %s", events[1].Kind)
	}
}

func TestCountResolvedSince(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.NewShow(t, st, "show-a", "Show A")
	testsupport.NewEpisode(t, st, "show-a", "ep-1", "Episode One")
	if err := st.MarkPathwayAssigned(ctx, "ep-1"); err != nil {
		t.Fatalf("MarkPathwayAssigned: %v", err)
	}
	if err := st.ClaimEpisode(ctx, "ep-1", store.StatePathwayAssigned, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.MarkFetched(ctx, "ep-1", store.StateAttempting, "source-x", "/t/ep-1.txt"); err != nil {
		t.Fatalf("MarkFetched: %v", err)
	}

	recent, err := st.CountResolvedSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountResolvedSince: %v", err)
	}
	if recent != 1 {
		t.Fatalf("expected 1 recent resolution, got %d", recent)
	}

	old, err := st.CountResolvedSince(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CountResolvedSince future cutoff: %v", err)
	}
	if old != 0 {
		t.Fatalf("expected 0 resolutions after future cutoff, got %d", old)
	}
}
