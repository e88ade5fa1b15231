package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/internal/notifications"
	"quill/internal/testsupport"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(cfg)
	if err := svc.NotifyStall(context.Background(), 12, 30*time.Minute); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceSendsStallAlert(t *testing.T) {
	var gotTitle, gotPriority, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Stalls = true
	svc := notifications.NewService(cfg)

	if err := svc.NotifyStall(context.Background(), 7, 30*time.Minute); err != nil {
		t.Fatalf("NotifyStall: %v", err)
	}
	if gotTitle != "Quill - Pipeline Stalled" {
		t.Fatalf("unexpected title %q", gotTitle)
	}
	if gotPriority != "high" {
		t.Fatalf("expected high priority, got %q", gotPriority)
	}
	if gotBody == "" {
		t.Fatal("expected a message body")
	}
}

func TestEventTogglesSuppressSends(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Resolutions = false
	svc := notifications.NewService(cfg)

	if err := svc.NotifyResolved(context.Background(), "ep-1", "source-x"); err != nil {
		t.Fatalf("NotifyResolved: %v", err)
	}
	if requests != 0 {
		t.Fatalf("expected muted event to skip HTTP, got %d requests", requests)
	}
}
