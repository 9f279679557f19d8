package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loadout/internal/api"
)

func newTestContext(t *testing.T, srv *httptest.Server) *commandContext {
	t.Helper()
	apiFlag := strings.TrimPrefix(srv.URL, "http://")
	tokenFlag := ""
	configFlag := filepath.Join(t.TempDir(), "absent.toml")
	return newCommandContext(&apiFlag, &tokenFlag, &configFlag)
}

func TestQueueListRendersTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.QueueListResponse{
			Pending:  1,
			Capacity: 200,
			Entries: []api.QueueEntry{{
				ID:         4,
				TenantID:   "acme",
				JobID:      "job-12",
				EnqueuedAt: time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC),
				RetryCount: 1,
				State:      "pending",
			}},
		})
	}))
	defer srv.Close()

	ctx := newTestContext(t, srv)
	root := buildRootCommand(ctx)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"queue", "list"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute queue list: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"1 pending", "acme", "job-12", "Pending"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestQueueListEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.QueueListResponse{Capacity: 200})
	}))
	defer srv.Close()

	ctx := newTestContext(t, srv)
	root := buildRootCommand(ctx)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"queue"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute queue: %v", err)
	}
	if !strings.Contains(buf.String(), "No entries.") {
		t.Fatalf("expected empty-queue message, got:\n%s", buf.String())
	}
}

func TestQueueClearRequiresForce(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(api.QueueActionResponse{Affected: 2})
	}))
	defer srv.Close()

	ctx := newTestContext(t, srv)
	root := buildRootCommand(ctx)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"queue", "clear"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without --force")
	}
	if called {
		t.Fatal("daemon must not be contacted without --force")
	}

	forced := buildRootCommand(newTestContext(t, srv))
	var buf bytes.Buffer
	forced.SetOut(&buf)
	forced.SetArgs([]string{"queue", "clear", "--force"})
	if err := forced.Execute(); err != nil {
		t.Fatalf("execute queue clear --force: %v", err)
	}
	if !strings.Contains(buf.String(), "Removed 2 entries.") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestQueueSyncRendersOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.QueueSyncResponse{Outcomes: []api.QueueSyncOutcome{
			{EntryID: 7, Status: "synced"},
			{EntryID: 8, Status: "retry_scheduled", Error: "backend unreachable"},
		}})
	}))
	defer srv.Close()

	root := buildRootCommand(newTestContext(t, srv))
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"queue", "sync"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute queue sync: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"Synced", "Retry Scheduled", "backend unreachable"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestBudgetRequiresTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx := newTestContext(t, srv)
	root := buildRootCommand(ctx)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"budget"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without --tenant")
	}
}
