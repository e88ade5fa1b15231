package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"quill/internal/config"
	"quill/internal/services"
	"quill/internal/store"
)

// Result is a fetched transcript plus the URL it came from.
type Result struct {
	Text string
	URL  string
}

// Fetcher retrieves a transcript for an episode through one source.
type Fetcher interface {
	Fetch(ctx context.Context, show *store.Show, episode *store.Episode, source *store.Source) (*Result, error)
}

// Set holds one fetcher per online pathway.
type Set struct {
	fetchers map[store.Pathway]Fetcher
}

// NewSet wires the pathway fetchers onto a shared client.
func NewSet(client *Client, cfg config.Resolver) *Set {
	minChars := cfg.MinTranscriptChars
	page := &pageFetcher{client: client, minChars: minChars}
	return &Set{fetchers: map[store.Pathway]Fetcher{
		store.PathwayWebsiteDirect:  page,
		store.PathwayNetworkArchive: page,
		store.PathwayAggregator:     NewAggregatorClient(client, cfg.AggregatorBaseURL, minChars),
		store.PathwayVideoCaptions:  &captionsFetcher{client: client, minChars: minChars},
	}}
}

// ForPathway returns the fetcher handling a pathway.
func (s *Set) ForPathway(pathway store.Pathway) (Fetcher, bool) {
	fetcher, ok := s.fetchers[pathway]
	return fetcher, ok
}

// pageFetcher scrapes transcripts from show websites and network archives.
// The source's base URL is a template expanded per episode.
type pageFetcher struct {
	client   *Client
	minChars int
}

func (f *pageFetcher) Fetch(ctx context.Context, show *store.Show, episode *store.Episode, source *store.Source) (*Result, error) {
	if source.BaseURL == "" {
		return nil, services.Wrap(services.ErrNoContent, "fetch", "page", "source has no base URL", nil)
	}
	pageURL := ExpandTemplate(source.BaseURL, show, episode)

	body, err := f.client.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	if isPDF(pageURL, body) {
		text, err := pdfText(body)
		if err != nil {
			return nil, services.Wrap(services.ErrNoContent, "fetch", "pdf", pageURL, err)
		}
		return validated(text, pageURL, f.minChars)
	}
	if strings.HasSuffix(strings.ToLower(urlPath(pageURL)), ".txt") {
		return validated(string(body), pageURL, f.minChars)
	}

	base, _ := url.Parse(pageURL)
	if link := findTranscriptLink(body, base); link != "" {
		if result, err := f.fetchDocument(ctx, link); err == nil {
			return result, nil
		}
	}
	return validated(articleText(body), pageURL, f.minChars)
}

func (f *pageFetcher) fetchDocument(ctx context.Context, docURL string) (*Result, error) {
	body, err := f.client.Get(ctx, docURL)
	if err != nil {
		return nil, err
	}
	if isPDF(docURL, body) {
		text, err := pdfText(body)
		if err != nil {
			return nil, services.Wrap(services.ErrNoContent, "fetch", "pdf", docURL, err)
		}
		return validated(text, docURL, f.minChars)
	}
	return validated(string(body), docURL, f.minChars)
}

// AggregatorClient talks to the third-party transcript aggregator. It serves
// both as a pathway fetcher and as the existence probe used during pathway
// assignment.
type AggregatorClient struct {
	client   *Client
	baseURL  string
	minChars int
}

// NewAggregatorClient builds a client for the configured aggregator endpoint.
func NewAggregatorClient(client *Client, baseURL string, minChars int) *AggregatorClient {
	return &AggregatorClient{client: client, baseURL: strings.TrimRight(baseURL, "/"), minChars: minChars}
}

// ShowExists probes the aggregator for show presence.
func (a *AggregatorClient) ShowExists(ctx context.Context, showID string) (bool, error) {
	if a.baseURL == "" {
		return false, nil
	}
	return a.client.Head(ctx, fmt.Sprintf("%s/shows/%s", a.baseURL, url.PathEscape(showID)))
}

// Fetch retrieves an episode transcript from the aggregator. A source-level
// base URL overrides the configured endpoint so multiple aggregators can
// coexist in the registry.
func (a *AggregatorClient) Fetch(ctx context.Context, show *store.Show, episode *store.Episode, source *store.Source) (*Result, error) {
	base := a.baseURL
	if source != nil && source.BaseURL != "" {
		base = strings.TrimRight(source.BaseURL, "/")
	}
	if base == "" {
		return nil, services.Wrap(services.ErrNoContent, "fetch", "aggregator", "no aggregator endpoint configured", nil)
	}

	transcriptURL := fmt.Sprintf("%s/shows/%s/episodes/%s/transcript",
		base, url.PathEscape(show.ID), url.PathEscape(episode.ID))
	body, err := a.client.Get(ctx, transcriptURL)
	if err != nil {
		return nil, err
	}
	return validated(string(body), transcriptURL, a.minChars)
}

// ExpandTemplate substitutes episode tokens into a source URL template.
// Recognized tokens: {show}, {episode}, {title_slug}, {yyyy}, {mm}, {dd}.
func ExpandTemplate(template string, show *store.Show, episode *store.Episode) string {
	replacements := []string{
		"{show}", url.PathEscape(show.ID),
		"{episode}", url.PathEscape(episode.ID),
		"{title_slug}", slugify(episode.Title),
	}
	if episode.PublishTime != nil {
		published := episode.PublishTime.UTC()
		replacements = append(replacements,
			"{yyyy}", published.Format("2006"),
			"{mm}", published.Format("01"),
			"{dd}", published.Format("02"),
		)
	}
	return strings.NewReplacer(replacements...).Replace(template)
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func validated(text, sourceURL string, minChars int) (*Result, error) {
	text = strings.TrimSpace(text)
	if len(text) < minChars {
		return nil, services.Wrap(services.ErrNoContent, "fetch", "validate",
			fmt.Sprintf("%s yielded %d chars, need %d", sourceURL, len(text), minChars), nil)
	}
	return &Result{Text: text, URL: sourceURL}, nil
}
