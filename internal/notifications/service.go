package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
)

const userAgent = "Quill/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyStall(ctx context.Context, openCount int, window time.Duration) error
	NotifyRecovery(ctx context.Context, resolvedCount int) error
	NotifyResolved(ctx context.Context, episodeID, sourceID string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		cfg:      cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	cfg      config.Notifications
}

func (n *ntfyService) NotifyStall(ctx context.Context, openCount int, window time.Duration) error {
	if !n.cfg.Stalls {
		return nil
	}
	data := payload{
		title:    "Quill - Pipeline Stalled",
		message:  fmt.Sprintf("No episodes resolved in %s with %d still open", window.Round(time.Minute), openCount),
		tags:     []string{"quill", "stall", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRecovery(ctx context.Context, resolvedCount int) error {
	if !n.cfg.Stalls {
		return nil
	}
	data := payload{
		title:   "Quill - Throughput Recovered",
		message: fmt.Sprintf("Resolution resumed: %d episodes completed in the last window", resolvedCount),
		tags:    []string{"quill", "stall", "recovered"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyResolved(ctx context.Context, episodeID, sourceID string) error {
	if !n.cfg.Resolutions {
		return nil
	}
	data := payload{
		title:   "Quill - Transcript Resolved",
		message: fmt.Sprintf("Episode %s resolved via %s", episodeID, sourceID),
		tags:    []string{"quill", "resolved"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.cfg.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Quill - Error",
		message:  builder.String(),
		tags:     []string{"quill", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Quill - Test",
		message:  "Notification system test",
		tags:     []string{"quill", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyStall(context.Context, int, time.Duration) error { return nil }
func (noopService) NotifyRecovery(context.Context, int) error             { return nil }
func (noopService) NotifyResolved(context.Context, string, string) error  { return nil }
func (noopService) NotifyError(context.Context, error, string) error      { return nil }
func (noopService) TestNotification(context.Context) error                { return nil }
