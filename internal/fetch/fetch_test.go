package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/config"
	"quill/internal/fetch"
	"quill/internal/services"
	"quill/internal/store"
)

func newSet(t *testing.T, minChars int) (*fetch.Set, *fetch.Client) {
	t.Helper()
	client := fetch.NewClient(5 * time.Second)
	cfg := config.Default().Resolver
	cfg.MinTranscriptChars = minChars
	return fetch.NewSet(client, cfg), client
}

func showAndEpisode() (*store.Show, *store.Episode) {
	published := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	show := &store.Show{ID: "history-hour", DisplayName: "The History Hour"}
	episode := &store.Episode{
		ID:          "ep-42",
		ShowID:      show.ID,
		Title:       "The Fall of Rome",
		PublishTime: &published,
		AudioURL:    "https://cdn.example.com/ep-42.mp3",
	}
	return show, episode
}

func TestExpandTemplate(t *testing.T) {
	show, episode := showAndEpisode()
	got := fetch.ExpandTemplate("https://example.com/{show}/{yyyy}/{mm}/{title_slug}", show, episode)
	assert.Equal(t, "https://example.com/history-hour/2025/04/the-fall-of-rome", got)
}

func TestPageFetcherPlainTextDocument(t *testing.T) {
	transcript := strings.Repeat("every word of the conversation. ", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transcripts/ep-42.txt", r.URL.Path)
		_, _ = w.Write([]byte(transcript))
	}))
	defer server.Close()

	set, _ := newSet(t, 100)
	fetcher, ok := set.ForPathway(store.PathwayWebsiteDirect)
	require.True(t, ok)

	show, episode := showAndEpisode()
	source := &store.Source{ID: "direct", BaseURL: server.URL + "/transcripts/{episode}.txt"}
	result, err := fetcher.Fetch(context.Background(), show, episode, source)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(transcript), result.Text)
}

func TestPageFetcherFollowsTranscriptLink(t *testing.T) {
	transcript := strings.Repeat("spoken text ", 30)
	mux := http.NewServeMux()
	mux.HandleFunc("/episode/ep-42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
            <a href="/about">About</a>
            <a href="/files/ep-42.txt">Read the transcript</a>
        </body></html>`))
	})
	mux.HandleFunc("/files/ep-42.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(transcript))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	set, _ := newSet(t, 100)
	fetcher, _ := set.ForPathway(store.PathwayNetworkArchive)

	show, episode := showAndEpisode()
	source := &store.Source{ID: "archive", BaseURL: server.URL + "/episode/{episode}"}
	result, err := fetcher.Fetch(context.Background(), show, episode, source)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(transcript), result.Text)
	assert.Contains(t, result.URL, "/files/ep-42.txt")
}

func TestPageFetcherRejectsShortContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>stub page</body></html>"))
	}))
	defer server.Close()

	set, _ := newSet(t, 200)
	fetcher, _ := set.ForPathway(store.PathwayWebsiteDirect)

	show, episode := showAndEpisode()
	source := &store.Source{ID: "direct", BaseURL: server.URL + "/episode/{episode}"}
	_, err := fetcher.Fetch(context.Background(), show, episode, source)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNoContent)
}

func TestPageFetcherNotFoundIsNoContent(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	set, _ := newSet(t, 100)
	fetcher, _ := set.ForPathway(store.PathwayWebsiteDirect)

	show, episode := showAndEpisode()
	source := &store.Source{ID: "direct", BaseURL: server.URL + "/gone"}
	_, err := fetcher.Fetch(context.Background(), show, episode, source)
	assert.ErrorIs(t, err, services.ErrNoContent)
}

func TestPageFetcherUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	set, _ := newSet(t, 100)
	fetcher, _ := set.ForPathway(store.PathwayWebsiteDirect)

	show, episode := showAndEpisode()
	source := &store.Source{ID: "direct", BaseURL: server.URL + "/episode/{episode}"}
	_, err := fetcher.Fetch(context.Background(), show, episode, source)
	assert.ErrorIs(t, err, services.ErrSourceUnreachable)
}

func TestAggregatorShowExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shows/history-hour", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := fetch.NewClient(5 * time.Second)
	aggregator := fetch.NewAggregatorClient(client, server.URL, 100)

	exists, err := aggregator.ShowExists(context.Background(), "history-hour")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = aggregator.ShowExists(context.Background(), "unknown-show")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAggregatorFetch(t *testing.T) {
	transcript := strings.Repeat("aggregated transcript text ", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/shows/history-hour/episodes/ep-42/transcript", r.URL.Path)
		_, _ = w.Write([]byte(transcript))
	}))
	defer server.Close()

	client := fetch.NewClient(5 * time.Second)
	aggregator := fetch.NewAggregatorClient(client, server.URL, 100)

	show, episode := showAndEpisode()
	result, err := aggregator.Fetch(context.Background(), show, episode, &store.Source{ID: "agg"})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(transcript), result.Text)
}

func TestCaptionsFetcher(t *testing.T) {
	captions := "<transcript><text start=\"0\">hello there</text><text start=\"2\">" +
		strings.Repeat("more caption words ", 20) + "</text></transcript>"
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><script>var cfg = {"captionTracks":[{"baseUrl":"` +
			"http://" + r.Host + `/timedtext"}]};</script></html>`))
	})
	mux.HandleFunc("/timedtext", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(captions))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	set, _ := newSet(t, 100)
	fetcher, ok := set.ForPathway(store.PathwayVideoCaptions)
	require.True(t, ok)

	show, episode := showAndEpisode()
	episode.AudioURL = server.URL + "/watch"
	result, err := fetcher.Fetch(context.Background(), show, episode, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "hello there")
	assert.NotContains(t, result.Text, "<text")
}

func TestDownloadWritesFile(t *testing.T) {
	payload := "binary audio bytes"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := fetch.NewClient(5 * time.Second)
	dest := t.TempDir() + "/audio/ep-42.mp3"
	require.NoError(t, client.Download(context.Background(), server.URL+"/ep-42.mp3", dest))

	assert.FileExists(t, dest)
}
