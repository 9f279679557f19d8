package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loadout/internal/config"
	"loadout/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifySessionCompleted(context.Background(), "job-1", true, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(svc notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "session verified",
			send: func(svc notifications.Service) error {
				return svc.NotifySessionCompleted(context.Background(), "job-17", true, nil)
			},
			expectTitle:   "Loadout - Verified",
			expectMessage: "All required equipment verified for job job-17",
			expectTags:    "loadout,session,verified",
		},
		{
			name: "session missing items",
			send: func(svc notifications.Service) error {
				return svc.NotifySessionCompleted(context.Background(), "job-17", false, []string{"drill-01", "ladder-02"})
			},
			expectTitle:    "Loadout - Missing Equipment",
			expectMessage:  "Job job-17 completed with 2 missing items: drill-01, ladder-02",
			expectTags:     "loadout,session,missing",
			expectPriority: "high",
		},
		{
			name: "budget exhausted",
			send: func(svc notifications.Service) error {
				return svc.NotifyBudgetExhausted(context.Background(), "tenant-a", 995, 1000)
			},
			expectTitle:    "Loadout - Cloud Budget Exhausted",
			expectMessage:  "Tenant tenant-a spent $9.95 of the $10.00 daily cloud budget; verification continues local-only",
			expectTags:     "loadout,budget,alert",
			expectPriority: "high",
		},
		{
			name: "dead letter",
			send: func(svc notifications.Service) error {
				return svc.NotifyDeadLetter(context.Background(), "job-17", 3)
			},
			expectTitle:    "Loadout - Submission Dead-Lettered",
			expectMessage:  "Offline submission for job job-17 failed 3 sync attempts and needs manual review",
			expectTags:     "loadout,queue,dead",
			expectPriority: "high",
		},
		{
			name: "queue eviction",
			send: func(svc notifications.Service) error {
				queuedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
				return svc.NotifyQueueEviction(context.Background(), "job-17", queuedAt)
			},
			expectTitle:   "Loadout - Queue Entry Evicted",
			expectMessage: "Offline queue at capacity: submission for job job-17 (queued 2026-03-14T09:30:00Z) was evicted",
			expectTags:    "loadout,queue,evicted",
		},
		{
			name: "error",
			send: func(svc notifications.Service) error {
				return svc.NotifyError(context.Background(), errors.New("sync failed"), "offline queue")
			},
			expectTitle:    "Loadout - Error",
			expectMessage:  "Error with offline queue: sync failed",
			expectTags:     "loadout,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.Budget = true
			cfg.Notifications.Queue = true
			cfg.Notifications.Completion = true

			svc := notifications.NewService(&cfg)
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsCategoryToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed category: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Budget = false
	cfg.Notifications.Queue = false
	cfg.Notifications.Completion = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyBudgetExhausted(context.Background(), "tenant-a", 1000, 1000); err != nil {
		t.Fatalf("suppressed budget notification errored: %v", err)
	}
	if err := svc.NotifyDeadLetter(context.Background(), "job-1", 3); err != nil {
		t.Fatalf("suppressed queue notification errored: %v", err)
	}
	if err := svc.NotifySessionCompleted(context.Background(), "job-1", false, []string{"drill-01"}); err != nil {
		t.Fatalf("suppressed completion notification errored: %v", err)
	}
}
