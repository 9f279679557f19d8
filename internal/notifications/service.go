package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loadout/internal/config"
)

const userAgent = "Loadout-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifySessionCompleted(ctx context.Context, jobID string, verified bool, missingItems []string) error
	NotifyBudgetExhausted(ctx context.Context, tenantID string, spentCents, capCents int64) error
	NotifyDeadLetter(ctx context.Context, jobID string, attempts int) error
	NotifyQueueEviction(ctx context.Context, jobID string, enqueuedAt time.Time) error
	NotifyError(ctx context.Context, err error, context string) error
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
		endpoint:         topic,
		client:           &http.Client{Timeout: timeout},
		notifyBudget:     cfg.Notifications.Budget,
		notifyQueue:      cfg.Notifications.Queue,
		notifyCompletion: cfg.Notifications.Completion,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint         string
	client           *http.Client
	notifyBudget     bool
	notifyQueue      bool
	notifyCompletion bool
}

func (n *ntfyService) NotifySessionCompleted(ctx context.Context, jobID string, verified bool, missingItems []string) error {
	if !n.notifyCompletion {
		return nil
	}
	jobID = strings.TrimSpace(jobID)
	if verified {
		return n.send(ctx, payload{
			title:   "Loadout - Verified",
			message: fmt.Sprintf("All required equipment verified for job %s", jobID),
			tags:    []string{"loadout", "session", "verified"},
		})
	}
	return n.send(ctx, payload{
		title:    "Loadout - Missing Equipment",
		message:  fmt.Sprintf("Job %s completed with %d missing items: %s", jobID, len(missingItems), strings.Join(missingItems, ", ")),
		tags:     []string{"loadout", "session", "missing"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBudgetExhausted(ctx context.Context, tenantID string, spentCents, capCents int64) error {
	if !n.notifyBudget {
		return nil
	}
	data := payload{
		title: "Loadout - Cloud Budget Exhausted",
		message: fmt.Sprintf("Tenant %s spent $%.2f of the $%.2f daily cloud budget; verification continues local-only",
			strings.TrimSpace(tenantID), float64(spentCents)/100, float64(capCents)/100),
		tags:     []string{"loadout", "budget", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDeadLetter(ctx context.Context, jobID string, attempts int) error {
	if !n.notifyQueue {
		return nil
	}
	data := payload{
		title:    "Loadout - Submission Dead-Lettered",
		message:  fmt.Sprintf("Offline submission for job %s failed %d sync attempts and needs manual review", strings.TrimSpace(jobID), attempts),
		tags:     []string{"loadout", "queue", "dead"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueEviction(ctx context.Context, jobID string, enqueuedAt time.Time) error {
	if !n.notifyQueue {
		return nil
	}
	data := payload{
		title: "Loadout - Queue Entry Evicted",
		message: fmt.Sprintf("Offline queue at capacity: submission for job %s (queued %s) was evicted",
			strings.TrimSpace(jobID), enqueuedAt.UTC().Format(time.RFC3339)),
		tags: []string{"loadout", "queue", "evicted"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
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
		title:    "Loadout - Error",
		message:  builder.String(),
		tags:     []string{"loadout", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Loadout - Test",
		message:  "Notification system test",
		tags:     []string{"loadout", "test"},
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

func (noopService) NotifySessionCompleted(context.Context, string, bool, []string) error { return nil }
func (noopService) NotifyBudgetExhausted(context.Context, string, int64, int64) error    { return nil }
func (noopService) NotifyDeadLetter(context.Context, string, int) error                  { return nil }
func (noopService) NotifyQueueEviction(context.Context, string, time.Time) error         { return nil }
func (noopService) NotifyError(context.Context, error, string) error                     { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
