package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"quill/internal/services"
)

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	// maxBodyBytes caps transcript page downloads. Transcripts are text; a
	// response this large is not one.
	maxBodyBytes = 20 << 20
)

// Client wraps an HTTP client with the headers and limits shared by every
// fetcher.
type Client struct {
	http *http.Client
}

// NewClient builds a client whose requests time out after the given duration.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Get fetches a URL and returns the body. Transport failures and timeouts
// classify as source-unreachable; 404 and 410 classify as source-no-content
// since the endpoint answered and said the content does not exist.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := c.get(ctx, rawURL)
	return body, err
}

// Head issues a HEAD request and reports whether the resource exists.
func (c *Client) Head(ctx context.Context, rawURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false, services.Wrap(services.ErrSourceUnreachable, "fetch", "head", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, services.Wrap(services.ErrSourceUnreachable, "fetch", "head", rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return false, nil
	default:
		return false, services.Wrap(services.ErrSourceUnreachable, "fetch", "head",
			fmt.Sprintf("%s returned %d", rawURL, resp.StatusCode), nil)
	}
}

// Download streams a URL into destPath, creating parent directories.
func (c *Client) Download(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return services.Wrap(services.ErrAudioUnavailable, "fetch", "download", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrAudioUnavailable, "fetch", "download", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return services.Wrap(services.ErrAudioUnavailable, "fetch", "download",
			fmt.Sprintf("%s returned %d", rawURL, resp.StatusCode), nil)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	tmp := destPath + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrAudioUnavailable, "fetch", "download", rawURL, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close download file: %w", err)
	}
	return os.Rename(tmp, destPath)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", services.Wrap(services.ErrSourceUnreachable, "fetch", "get", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain,*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", services.Wrap(services.ErrSourceUnreachable, "fetch", "get", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", services.Wrap(services.ErrNoContent, "fetch", "get",
			fmt.Sprintf("%s returned %d", rawURL, resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, "", services.Wrap(services.ErrSourceUnreachable, "fetch", "get",
			fmt.Sprintf("%s returned %d", rawURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", services.Wrap(services.ErrSourceUnreachable, "fetch", "read body", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
