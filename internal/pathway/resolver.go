package pathway

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/store"
)

// AggregatorProbe checks whether the configured aggregator carries a show.
type AggregatorProbe interface {
	ShowExists(ctx context.Context, showID string) (bool, error)
}

// Resolver computes and persists pathway assignments.
type Resolver struct {
	store  *store.Store
	cfg    config.Resolver
	probe  AggregatorProbe
	logger *slog.Logger

	directShows    map[string]struct{}
	networkDomains []string
}

// videoHosts are platforms with caption support worth scraping.
var videoHosts = []string{"youtube.com", "youtu.be", "vimeo.com"}

// NewResolver constructs a pathway resolver. probe may be nil, which makes
// the aggregator rule always miss.
func NewResolver(st *store.Store, cfg config.Resolver, probe AggregatorProbe, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	direct := make(map[string]struct{}, len(cfg.DirectShows))
	for _, id := range cfg.DirectShows {
		direct[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return &Resolver{
		store:          st,
		cfg:            cfg,
		probe:          probe,
		logger:         logging.NewComponentLogger(logger, "pathway"),
		directShows:    direct,
		networkDomains: cfg.NetworkDomains,
	}
}

// Assign computes the pathway for a show from its episodes. The rule chain is
// first-match-wins and depends only on its inputs and the aggregator probe.
func (r *Resolver) Assign(ctx context.Context, show *store.Show, episodes []*store.Episode) (store.Pathway, string, error) {
	// Local-only audio marks paywalled or private content. Web fetches
	// would leak requests for content that is not public, so this rule
	// runs before everything else.
	for _, episode := range episodes {
		if episode.LocalAudioOnly() {
			return store.PathwayLocalTranscription, "episode with local-only audio locator", nil
		}
	}

	if _, ok := r.directShows[strings.ToLower(show.ID)]; ok {
		return store.PathwayWebsiteDirect, "show in curated direct-website set", nil
	}

	if domain := r.matchNetworkDomain(show, episodes); domain != "" {
		return store.PathwayNetworkArchive, fmt.Sprintf("feed from network domain %s", domain), nil
	}

	if r.probe != nil {
		exists, err := r.probe.ShowExists(ctx, show.ID)
		if err != nil {
			r.logger.Warn("aggregator probe failed",
				logging.String(logging.FieldShowID, show.ID), logging.Error(err))
		} else if exists {
			return store.PathwayAggregator, "aggregator reports show present", nil
		}
	}

	if host := r.matchVideoHost(episodes); host != "" {
		return store.PathwayVideoCaptions, fmt.Sprintf("video mirror on %s", host), nil
	}

	for _, episode := range episodes {
		if episode.HasAudio() {
			return store.PathwayLocalTranscription, "public audio available, no transcript source matched", nil
		}
	}
	return store.PathwayUnresolved, "no audio locator on any episode", nil
}

// Apply assigns a pathway to the show and persists it when it changed.
// Returns the pathway in effect after the call.
func (r *Resolver) Apply(ctx context.Context, show *store.Show) (store.Pathway, error) {
	episodes, err := r.store.EpisodesForShow(ctx, show.ID)
	if err != nil {
		return "", fmt.Errorf("load episodes for %s: %w", show.ID, err)
	}

	pathway, reason, err := r.Assign(ctx, show, episodes)
	if err != nil {
		return "", err
	}
	if show.Pathway == pathway {
		return pathway, nil
	}

	if err := r.store.SetShowPathway(ctx, show.ID, pathway, reason); err != nil {
		return "", fmt.Errorf("persist pathway for %s: %w", show.ID, err)
	}
	r.logger.Info("pathway assigned",
		logging.String(logging.FieldShowID, show.ID),
		logging.String(logging.FieldPathway, string(pathway)),
		logging.String("reason", reason))
	return pathway, nil
}

func (r *Resolver) matchNetworkDomain(show *store.Show, episodes []*store.Episode) string {
	hosts := make([]string, 0, len(episodes)+1)
	if host := hostOf(show.FeedURL); host != "" {
		hosts = append(hosts, host)
	}
	for _, episode := range episodes {
		if host := hostOf(episode.AudioURL); host != "" {
			hosts = append(hosts, host)
		}
	}
	for _, domain := range r.networkDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		for _, host := range hosts {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return domain
			}
		}
	}
	return ""
}

func (r *Resolver) matchVideoHost(episodes []*store.Episode) string {
	for _, episode := range episodes {
		host := hostOf(episode.AudioURL)
		for _, videoHost := range videoHosts {
			if host == videoHost || strings.HasSuffix(host, "."+videoHost) {
				return videoHost
			}
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
