package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"loadout/internal/detection"
	"loadout/internal/workflow"
)

func collectResults(t *testing.T, pipeline *workflow.Pipeline, want int) []workflow.FrameResult {
	t.Helper()
	var results []workflow.FrameResult
	deadline := time.After(5 * time.Second)
	for len(results) < want {
		select {
		case result, ok := <-pipeline.Results():
			if !ok {
				t.Fatalf("pipeline stopped early with %d of %d results", len(results), want)
			}
			results = append(results, result)
		case <-deadline:
			t.Fatalf("timed out with %d of %d results", len(results), want)
		}
	}
	return results
}

func TestPipelineProcessesFramesInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.detector.analyses = []detection.FrameAnalysis{
		itemsAnalysis(0.9, "drill-01"),
		itemsAnalysis(0.9, "drill-01", "ladder-02"),
		itemsAnalysis(0.9, "tape-03"),
	}

	sess, _ := h.manager.Start(ctx, "tenant-a", "job-1", detection.Location{}, 0.9, detection.NetworkWifi)
	pipeline := h.manager.StartPipeline(ctx, sess, workflow.ProcessOptions{})
	defer pipeline.Stop()

	for seq := uint64(1); seq <= 3; seq++ {
		if !pipeline.Submit(frameAt(seq)) {
			t.Fatalf("submit of frame %d rejected", seq)
		}
	}

	results := collectResults(t, pipeline, 3)
	for i, result := range results {
		if result.Seq != uint64(i+1) {
			t.Fatalf("results out of order: %+v", results)
		}
	}
	if sess.VerifiedCount() != 3 {
		t.Fatalf("unexpected verified count: %v", sess.VerifiedItems())
	}
}

func TestPipelineDiscardsStaleFrames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.detector.analyses = []detection.FrameAnalysis{itemsAnalysis(0.9, "drill-01")}

	sess, _ := h.manager.Start(ctx, "tenant-a", "job-1", detection.Location{}, 0.9, detection.NetworkWifi)
	pipeline := h.manager.StartPipeline(ctx, sess, workflow.ProcessOptions{})
	defer pipeline.Stop()

	pipeline.Submit(frameAt(5))
	collectResults(t, pipeline, 1)

	// An older frame arriving after a newer one was applied must be ignored.
	pipeline.Submit(frameAt(3))
	pipeline.Submit(frameAt(6))
	results := collectResults(t, pipeline, 1)
	if results[0].Seq != 6 {
		t.Fatalf("stale frame processed: %+v", results[0])
	}
	if sess.TotalFramesProcessed != 2 {
		t.Fatalf("stale frame must not touch counters: %d", sess.TotalFramesProcessed)
	}
}

func TestPipelineBuffersOverflowInBacklog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	gate := make(chan struct{})
	h.detector.gate = gate
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }

	sess, _ := h.manager.Start(ctx, "tenant-a", "job-1", detection.Location{}, 0.9, detection.NetworkWifi)
	pipeline := h.manager.StartPipeline(ctx, sess, workflow.ProcessOptions{})
	defer pipeline.Stop()
	defer release()

	// With the detector held, more frames than the channel can hold must
	// spill into the backlog instead of being dropped.
	const total = 12
	for seq := uint64(1); seq <= total; seq++ {
		if !pipeline.Submit(frameAt(seq)) {
			t.Fatalf("submit of frame %d rejected", seq)
		}
	}
	if pipeline.Backlog() == 0 {
		t.Fatal("overflow frames must land in the capture backlog")
	}

	release()
	results := collectResults(t, pipeline, total)
	for i, result := range results {
		if result.Seq != uint64(i+1) {
			t.Fatalf("results out of order at index %d: %+v", i, result)
		}
	}
}

func TestPipelineStopClosesResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, _ := h.manager.Start(ctx, "tenant-a", "job-1", detection.Location{}, 0.9, detection.NetworkWifi)
	pipeline := h.manager.StartPipeline(ctx, sess, workflow.ProcessOptions{})

	pipeline.Stop()

	if pipeline.Submit(frameAt(1)) {
		t.Fatal("stopped pipeline must reject frames")
	}
	select {
	case _, ok := <-pipeline.Results():
		if ok {
			t.Fatal("results channel must be closed after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("results channel not closed")
	}
}
