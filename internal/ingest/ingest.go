package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"quill/internal/logging"
	"quill/internal/store"
)

// Ingestor creates and refreshes shows and episodes.
type Ingestor struct {
	store  *store.Store
	parser *gofeed.Parser
	caser  cases.Caser
	logger *slog.Logger
}

// New constructs an ingestor.
func New(st *store.Store, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingestor{
		store:  st,
		parser: gofeed.NewParser(),
		caser:  cases.Title(language.English),
		logger: logging.NewComponentLogger(logger, "ingest"),
	}
}

// CreateOrUpdateEpisode is the idempotent inbound upsert. It never assigns a
// pathway; that is deferred to the first orchestrator pass over the show.
func (i *Ingestor) CreateOrUpdateEpisode(ctx context.Context, showID, episodeID, title string, publishTime *time.Time, audioURL, audioLocalPath string) (*store.Episode, error) {
	show, err := i.store.GetShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	if show == nil {
		if _, err := i.store.UpsertShow(ctx, showID, displayName(showID), ""); err != nil {
			return nil, err
		}
	}
	return i.store.UpsertEpisode(ctx, showID, episodeID, strings.TrimSpace(title), publishTime, audioURL, audioLocalPath)
}

// ImportFeed pulls a show's feed and upserts every entry. Returns the number
// of episodes seen.
func (i *Ingestor) ImportFeed(ctx context.Context, showID, feedURL string) (int, error) {
	feed, err := i.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	name := strings.TrimSpace(feed.Title)
	if name == "" {
		name = displayName(showID)
	}
	if _, err := i.store.UpsertShow(ctx, showID, name, feedURL); err != nil {
		return 0, err
	}

	count := 0
	for _, item := range feed.Items {
		episodeID := feedEpisodeID(showID, item)
		audioURL := enclosureAudio(item)
		if _, err := i.store.UpsertEpisode(ctx, showID, episodeID, strings.TrimSpace(item.Title),
			item.PublishedParsed, audioURL, ""); err != nil {
			return count, fmt.Errorf("upsert feed item %s: %w", episodeID, err)
		}
		count++
	}
	i.logger.Info("feed imported",
		logging.String(logging.FieldShowID, showID),
		logging.Int("episodes", count))
	return count, nil
}

// displayName turns a slug-style show identifier into a readable title.
func displayName(showID string) string {
	words := strings.NewReplacer("-", " ", "_", " ").Replace(showID)
	caser := cases.Title(language.English)
	return caser.String(words)
}

func feedEpisodeID(showID string, item *gofeed.Item) string {
	key := strings.TrimSpace(item.GUID)
	if key == "" {
		key = strings.TrimSpace(item.Link)
	}
	if key == "" {
		key = strings.TrimSpace(item.Title)
	}
	sum := sha1.Sum([]byte(key))
	return showID + "-" + hex.EncodeToString(sum[:])[:12]
}

func enclosureAudio(item *gofeed.Item) string {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil {
			continue
		}
		if strings.HasPrefix(enclosure.Type, "audio/") || enclosure.Type == "" {
			return enclosure.URL
		}
	}
	return ""
}
