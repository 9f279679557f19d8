package offline_test

import (
	"context"
	"fmt"
	"testing"

	"loadout/internal/detection"
	"loadout/internal/offline"
	"loadout/internal/persist"
	"loadout/internal/testsupport"
)

func entry(jobID string) offline.Entry {
	return offline.Entry{
		TenantID: "tenant-a",
		JobID:    jobID,
		Image:    []byte("jpeg"),
		ExpectedItems: []detection.ChecklistItem{
			{ID: "drill-01", Name: "Cordless Drill", Required: true},
		},
	}
}

func TestEnqueueAndPendingOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueueStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, entry(fmt.Sprintf("job-%d", i))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("unexpected pending count: %d", len(pending))
	}
	for i, got := range pending {
		if want := fmt.Sprintf("job-%d", i); got.JobID != want {
			t.Fatalf("entry %d out of order: got %q want %q", i, got.JobID, want)
		}
	}
	if len(pending[0].ExpectedItems) != 1 || pending[0].ExpectedItems[0].ID != "drill-01" {
		t.Fatalf("expected items lost: %+v", pending[0].ExpectedItems)
	}
}

func TestEnqueueEvictsOldestAtCapacity(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQueueCapacity(5))
	store := testsupport.MustOpenQueueStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := store.Enqueue(ctx, entry(fmt.Sprintf("job-%d", i)))
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if result.Evicted != nil {
			t.Fatalf("premature eviction at entry %d", i)
		}
	}

	result, err := store.Enqueue(ctx, entry("job-5"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if result.Evicted == nil || result.Evicted.JobID != "job-0" {
		t.Fatalf("oldest entry must be evicted and reported, got %+v", result.Evicted)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("queue size must never exceed capacity: %d", len(pending))
	}
	if pending[0].JobID != "job-1" || pending[4].JobID != "job-5" {
		t.Fatalf("unexpected queue contents: first=%q last=%q", pending[0].JobID, pending[4].JobID)
	}
}

func TestRecordFailureDeadLettersAfterMaxAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueueStore(t, cfg)
	ctx := context.Background()

	result, err := store.Enqueue(ctx, entry("job-1"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		dead, err := store.RecordFailure(ctx, result.ID)
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if dead {
			t.Fatalf("entry dead-lettered too early at attempt %d", attempt)
		}
	}
	dead, err := store.RecordFailure(ctx, result.ID)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !dead {
		t.Fatal("third failure must dead-letter the entry")
	}

	pending, deadCount, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if pending != 0 || deadCount != 1 {
		t.Fatalf("unexpected counts: pending=%d dead=%d", pending, deadCount)
	}
	deadEntries, err := store.Dead(ctx)
	if err != nil {
		t.Fatalf("Dead failed: %v", err)
	}
	if len(deadEntries) != 1 || deadEntries[0].RetryCount != 3 {
		t.Fatalf("dead entry must be kept with its retry count: %+v", deadEntries)
	}
}

func TestRetryDeadRevivesEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueueStore(t, cfg)
	ctx := context.Background()

	result, err := store.Enqueue(ctx, entry("job-1"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := store.RecordFailure(ctx, result.ID); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	revived, err := store.RetryDead(ctx)
	if err != nil {
		t.Fatalf("RetryDead failed: %v", err)
	}
	if revived != 1 {
		t.Fatalf("revived = %d, want 1", revived)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 0 {
		t.Fatalf("revived entry must be pending with a fresh retry count: %+v", pending)
	}
}

func TestClearRemovesAllEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueueStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Enqueue(ctx, entry(fmt.Sprintf("job-%d", i))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	pending, dead, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if pending != 0 || dead != 0 {
		t.Fatalf("queue must be empty after clear: pending=%d dead=%d", pending, dead)
	}
}

func TestEntryRoundTripsRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueueStore(t, cfg)
	ctx := context.Background()

	queued := entry("job-1")
	queued.SessionID = "sess-1"
	queued.Record = &persist.VerificationRecord{
		TenantID:        "tenant-a",
		JobID:           "job-1",
		SessionID:       "sess-1",
		Verified:        false,
		MissingItemIDs:  []string{"ladder-02"},
		VerifiedItemIDs: []string{"drill-01"},
	}
	if _, err := store.Enqueue(ctx, queued); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	record := pending[0].Record
	if record == nil || record.SessionID != "sess-1" || len(record.MissingItemIDs) != 1 {
		t.Fatalf("record lost in round trip: %+v", record)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	ring := offline.NewRing(3)
	for seq := uint64(1); seq <= 3; seq++ {
		if evicted := ring.Push(offline.Capture{Seq: seq}); evicted != nil {
			t.Fatalf("premature eviction: %+v", evicted)
		}
	}
	evicted := ring.Push(offline.Capture{Seq: 4})
	if evicted == nil || evicted.Seq != 1 {
		t.Fatalf("oldest capture must be evicted, got %+v", evicted)
	}
	if ring.Len() != 3 {
		t.Fatalf("ring size must never exceed capacity: %d", ring.Len())
	}

	drained := ring.Drain()
	if len(drained) != 3 || drained[0].Seq != 2 || drained[2].Seq != 4 {
		t.Fatalf("unexpected drain order: %+v", drained)
	}
	if ring.Len() != 0 {
		t.Fatal("drain must empty the ring")
	}
}

func TestRingPopReturnsOldest(t *testing.T) {
	ring := offline.NewRing(3)
	ring.Push(offline.Capture{Seq: 1})
	ring.Push(offline.Capture{Seq: 2})

	if got := ring.Pop(); got == nil || got.Seq != 1 {
		t.Fatalf("first pop = %+v, want seq 1", got)
	}
	if got := ring.Pop(); got == nil || got.Seq != 2 {
		t.Fatalf("second pop = %+v, want seq 2", got)
	}
	if got := ring.Pop(); got != nil {
		t.Fatalf("empty ring must pop nil, got %+v", got)
	}
}
