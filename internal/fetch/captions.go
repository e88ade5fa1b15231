package fetch

import (
	"context"
	"encoding/json"
	"html"
	"regexp"

	"quill/internal/services"
	"quill/internal/store"
)

// captionsFetcher pulls the caption track of an episode's video mirror and
// flattens it into transcript text.
type captionsFetcher struct {
	client   *Client
	minChars int
}

var (
	captionTrackPattern = regexp.MustCompile(`"captionTracks":\s*(\[[^\]]*\])`)
	captionTagPattern   = regexp.MustCompile(`<[^>]+>`)
)

func (f *captionsFetcher) Fetch(ctx context.Context, show *store.Show, episode *store.Episode, source *store.Source) (*Result, error) {
	videoURL := episode.AudioURL
	if source != nil && source.BaseURL != "" {
		videoURL = ExpandTemplate(source.BaseURL, show, episode)
	}
	if videoURL == "" {
		return nil, services.Wrap(services.ErrAudioUnavailable, "fetch", "captions", "episode has no video locator", nil)
	}

	page, err := f.client.Get(ctx, videoURL)
	if err != nil {
		return nil, err
	}

	trackURL := captionTrackURL(page)
	if trackURL == "" {
		return nil, services.Wrap(services.ErrNoContent, "fetch", "captions",
			videoURL+" exposes no caption track", nil)
	}

	track, err := f.client.Get(ctx, trackURL)
	if err != nil {
		return nil, err
	}
	return validated(captionText(track), trackURL, f.minChars)
}

// captionTrackURL finds the first caption track URL embedded in a video
// watch page's player config.
func captionTrackURL(page []byte) string {
	match := captionTrackPattern.FindSubmatch(page)
	if match == nil {
		return ""
	}
	var tracks []struct {
		BaseURL string `json:"baseUrl"`
	}
	if err := json.Unmarshal(match[1], &tracks); err != nil || len(tracks) == 0 {
		return ""
	}
	return tracks[0].BaseURL
}

// captionText strips timing markup from a caption track, leaving plain text.
func captionText(track []byte) string {
	stripped := captionTagPattern.ReplaceAllString(string(track), " ")
	return normalizeWhitespace(html.UnescapeString(stripped))
}
