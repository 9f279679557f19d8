package daemon

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loadout/internal/api"
	"loadout/internal/config"
	"loadout/internal/detection"
	"loadout/internal/offline"
	"loadout/internal/session"
	"loadout/internal/testsupport"
)

func startTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) *Daemon {
	t.Helper()
	d, _ := newTestDaemon(t, opts...)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)
	if d.APIAddr() == "" {
		t.Fatal("daemon did not bind an API address")
	}
	return d
}

func TestAPIStatusEndpoint(t *testing.T) {
	d := startTestDaemon(t)

	client := api.NewClient(d.APIAddr(), "")
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("status should report running")
	}
	if status.QueueCapacity != d.queue.Capacity() {
		t.Fatalf("capacity = %d, want %d", status.QueueCapacity, d.queue.Capacity())
	}
}

func TestAPIRequiresTokenWhenConfigured(t *testing.T) {
	d := startTestDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "hunter2"
	})

	if _, err := api.NewClient(d.APIAddr(), "").Status(context.Background()); err == nil {
		t.Fatal("expected unauthorized without token")
	}
	if _, err := api.NewClient(d.APIAddr(), "wrong").Status(context.Background()); err == nil {
		t.Fatal("expected unauthorized with wrong token")
	}
	if _, err := api.NewClient(d.APIAddr(), "hunter2").Status(context.Background()); err != nil {
		t.Fatalf("expected success with correct token, got %v", err)
	}
}

func TestAPIBudgetEndpoint(t *testing.T) {
	d := startTestDaemon(t)

	stats, err := api.NewClient(d.APIAddr(), "").Budget(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Budget: %v", err)
	}
	if stats.TenantID != "acme" {
		t.Fatalf("tenant = %q, want acme", stats.TenantID)
	}
	if stats.CostCapCents != 1000 || stats.RequestCap != 100 {
		t.Fatalf("caps = %d¢/%d calls, want 1000¢/100", stats.CostCapCents, stats.RequestCap)
	}
	if stats.CostCents != 0 {
		t.Fatalf("fresh tenant should have zero spend, got %d", stats.CostCents)
	}
}

func TestAPISessionEndpoint(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	sess := session.New("acme", "job-7", detection.Location{Latitude: 40.7, Longitude: -74.0}, 0.9, detection.NetworkWifi)
	if err := d.sessions.Save(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	client := api.NewClient(d.APIAddr(), "")
	summary, err := client.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if summary.JobID != "job-7" || summary.Status != string(session.StatusActive) {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if _, err := client.Session(ctx, "no-such-session"); err == nil {
		t.Fatal("expected not-found error for unknown session")
	}
}

func TestAPIQueueRetryAndClear(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	result, err := d.queue.Enqueue(ctx, offline.Entry{TenantID: "acme", JobID: "job-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := d.queue.RecordFailure(ctx, result.ID); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	client := api.NewClient(d.APIAddr(), "")
	retried, err := client.RetryDead(ctx)
	if err != nil {
		t.Fatalf("RetryDead: %v", err)
	}
	if retried.Affected != 1 {
		t.Fatalf("retried = %d, want 1", retried.Affected)
	}

	cleared, err := client.ClearQueue(ctx)
	if err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if cleared.Affected != 1 {
		t.Fatalf("cleared = %d, want 1", cleared.Affected)
	}
	pending, dead, err := d.queue.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if pending != 0 || dead != 0 {
		t.Fatalf("queue must be empty: pending=%d dead=%d", pending, dead)
	}
}

func TestAPIQueueSyncWithoutBackend(t *testing.T) {
	d := startTestDaemon(t)

	if _, err := api.NewClient(d.APIAddr(), "").SyncQueue(context.Background()); err == nil {
		t.Fatal("expected error when no backend endpoint is configured")
	}
}

func TestWebsocketStreamsFrameEvents(t *testing.T) {
	d := startTestDaemon(t)

	wsURL := "ws://" + d.APIAddr() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && d.Hub().ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Hub().ClientCount() == 0 {
		t.Fatal("websocket client never registered with the hub")
	}

	d.PublishFrameResult("sess-42", api.FrameEvent{Seq: 3, State: "verified_local", NewlyVerified: []string{"drill"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	payload := string(raw)
	if !strings.Contains(payload, "sess-42") || !strings.Contains(payload, api.EventFrame) {
		t.Fatalf("unexpected event payload: %s", payload)
	}
}
