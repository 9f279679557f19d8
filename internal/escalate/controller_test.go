package escalate_test

import (
	"context"
	"testing"

	"loadout/internal/budget"
	"loadout/internal/detection"
	"loadout/internal/escalate"
	"loadout/internal/services"
	"loadout/internal/services/cloudvision"
	"loadout/internal/session"
	"loadout/internal/testsupport"
)

type fakeVision struct {
	result cloudvision.Result
	err    error
	calls  int
	cost   int64
}

func (f *fakeVision) AnalyzeFrame(ctx context.Context, frame detection.Frame, checklist []detection.ChecklistItem) (cloudvision.Result, error) {
	f.calls++
	if f.err != nil {
		return cloudvision.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeVision) EstimatedCostCents() int64 {
	if f.cost > 0 {
		return f.cost
	}
	return 10
}

func newGuard(t *testing.T, costCapCents int64, requestCap int) *budget.Guard {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	ledger := testsupport.MustOpenBudgetLedger(t, cfg)
	guard, err := budget.NewGuard(ledger, costCapCents, requestCap)
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}
	return guard
}

func newSession() *session.Session {
	return session.New("tenant-a", "job-1", detection.Location{}, 0.9, detection.NetworkWifi)
}

func localAnalysis(sceneConfidence float64, itemIDs ...string) detection.FrameAnalysis {
	analysis := detection.FrameAnalysis{
		SceneConfidence: sceneConfidence,
		Method:          detection.MethodLocalModel,
	}
	for _, id := range itemIDs {
		analysis.Items = append(analysis.Items, detection.DetectedItem{ID: id, Confidence: sceneConfidence})
	}
	return analysis
}

func cloudResult(costCents int64, itemIDs ...string) cloudvision.Result {
	result := cloudvision.Result{ActualCostCents: costCents}
	result.Analysis = detection.FrameAnalysis{
		SceneConfidence: 0.95,
		Method:          detection.MethodCloudVLM,
	}
	for _, id := range itemIDs {
		result.Analysis.Items = append(result.Analysis.Items, detection.DetectedItem{ID: id, Confidence: 0.95})
	}
	return result
}

func TestConfidentLocalAnalysisStaysLocal(t *testing.T) {
	vision := &fakeVision{}
	ctrl := escalate.New(newGuard(t, 1000, 100), vision, 0.70, 3, nil)
	sess := newSession()
	sess.LocalRetryCount = 1

	outcome, err := ctrl.Resolve(context.Background(), detection.Frame{}, localAnalysis(0.85, "a"), sess, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome.State != escalate.StateVerifiedLocal || outcome.Escalated {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if vision.calls != 0 {
		t.Fatal("cloud must not be called for confident frames")
	}
	if sess.LocalRetryCount != 0 {
		t.Fatalf("confident frame must clear the retry counter: %d", sess.LocalRetryCount)
	}
}

func TestLowConfidenceEscalatesAndCommitsActualCost(t *testing.T) {
	guard := newGuard(t, 1000, 100)
	vision := &fakeVision{result: cloudResult(7, "a", "b")}
	ctrl := escalate.New(guard, vision, 0.70, 3, nil)
	sess := newSession()

	outcome, err := ctrl.Resolve(context.Background(), detection.Frame{}, localAnalysis(0.50, "a"), sess, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome.State != escalate.StateVerifiedCloud || !outcome.Escalated {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.EscalationReason != escalate.ReasonLowConfidence {
		t.Fatalf("unexpected reason: %q", outcome.EscalationReason)
	}
	if outcome.Analysis.Method != detection.MethodCloudVLM || len(outcome.Analysis.Items) != 2 {
		t.Fatalf("cloud analysis must win: %+v", outcome.Analysis)
	}
	if outcome.CostCents != 7 {
		t.Fatalf("unexpected cost: %d", outcome.CostCents)
	}

	stats, err := guard.DailyStats(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if stats.CostCents != 7 || stats.Count != 1 {
		t.Fatalf("actual cost must be committed, got %+v", stats)
	}
}

func TestRetryExhaustionEscalatesDespiteConfidence(t *testing.T) {
	vision := &fakeVision{result: cloudResult(10, "a")}
	ctrl := escalate.New(newGuard(t, 1000, 100), vision, 0.70, 3, nil)
	sess := newSession()
	sess.LocalRetryCount = 3

	outcome, err := ctrl.Resolve(context.Background(), detection.Frame{}, localAnalysis(0.80, "a"), sess, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !outcome.Escalated || outcome.EscalationReason != escalate.ReasonRetryExhausted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if sess.LocalRetryCount != 0 {
		t.Fatalf("escalation must clear the retry counter: %d", sess.LocalRetryCount)
	}
}

func TestBudgetDenialFallsBackToUncertainLocal(t *testing.T) {
	guard := newGuard(t, 5, 100) // cap below the estimated call cost
	vision := &fakeVision{result: cloudResult(10, "a")}
	ctrl := escalate.New(guard, vision, 0.70, 3, nil)
	sess := newSession()

	outcome, err := ctrl.Resolve(context.Background(), detection.Frame{}, localAnalysis(0.50, "a"), sess, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome.State != escalate.StateUncertain {
		t.Fatalf("expected uncertain outcome, got %+v", outcome)
	}
	if !outcome.RequiresVLMFallback {
		t.Fatal("fallback flag must be set")
	}
	if outcome.BudgetDenial == nil || outcome.BudgetDenial.Reason != budget.ReasonCostCap {
		t.Fatalf("expected structured denial, got %+v", outcome.BudgetDenial)
	}
	if vision.calls != 0 {
		t.Fatal("denied escalation must not reach the cloud")
	}
	if outcome.Analysis.Method != detection.MethodLocalModel {
		t.Fatalf("local analysis must be kept: %+v", outcome.Analysis)
	}
}

func TestBudgetDenialWithNoLocalDetectionFails(t *testing.T) {
	guard := newGuard(t, 5, 100)
	ctrl := escalate.New(guard, &fakeVision{}, 0.70, 3, nil)

	outcome, err := ctrl.Resolve(context.Background(), detection.Frame{}, localAnalysis(0.30), newSession(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome.State != escalate.StateFailed {
		t.Fatalf("no detections plus denied escalation must fail: %+v", outcome)
	}
}

func TestCloudTimeoutReleasesReservation(t *testing.T) {
	guard := newGuard(t, 1000, 100)
	vision := &fakeVision{err: services.Wrap(services.ErrTimeout, "cloudvision", "analyze", "request timed out", nil)}
	ctrl := escalate.New(guard, vision, 0.70, 3, nil)

	outcome, err := ctrl.Resolve(context.Background(), detection.Frame{}, localAnalysis(0.50, "a"), newSession(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome.State != escalate.StateUncertain || !outcome.RequiresVLMFallback {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	stats, err := guard.DailyStats(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if stats.CostCents != 0 || stats.Count != 0 {
		t.Fatalf("failed call must not consume budget: %+v", stats)
	}
}

func TestNilVisionStaysLocal(t *testing.T) {
	ctrl := escalate.New(newGuard(t, 1000, 100), nil, 0.70, 3, nil)

	outcome, err := ctrl.Resolve(context.Background(), detection.Frame{}, localAnalysis(0.50, "a"), newSession(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome.State != escalate.StateUncertain || outcome.Escalated {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}
