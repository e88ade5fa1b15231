package testsupport

import (
	"context"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewShow creates a show for tests using the provided store.
func NewShow(t testing.TB, st *store.Store, id, displayName string) *store.Show {
	t.Helper()

	show, err := st.UpsertShow(context.Background(), id, displayName, "")
	if err != nil {
		t.Fatalf("store.UpsertShow: %v", err)
	}
	return show
}

// NewEpisode creates an episode for tests with a remote audio URL.
func NewEpisode(t testing.TB, st *store.Store, showID, id, title string) *store.Episode {
	t.Helper()

	published := time.Now().Add(-24 * time.Hour)
	episode, err := st.UpsertEpisode(context.Background(), showID, id, title, &published,
		"https://cdn.example.com/"+id+".mp3", "")
	if err != nil {
		t.Fatalf("store.UpsertEpisode: %v", err)
	}
	return episode
}

// NewSource registers an enabled source for tests.
func NewSource(t testing.TB, st *store.Store, id string, pathway store.Pathway, priority int) *store.Source {
	t.Helper()

	source := &store.Source{
		ID:          id,
		DisplayName: id,
		Pathway:     pathway,
		Enabled:     true,
		Priority:    priority,
	}
	if err := st.UpsertSource(context.Background(), source); err != nil {
		t.Fatalf("store.UpsertSource: %v", err)
	}
	return source
}
