package escalate

import (
	"context"
	"errors"
	"log/slog"

	"loadout/internal/budget"
	"loadout/internal/detection"
	"loadout/internal/logging"
	"loadout/internal/metrics"
	"loadout/internal/services"
	"loadout/internal/services/cloudvision"
	"loadout/internal/session"
)

// Escalation reason codes carried on outcomes and into logs.
const (
	ReasonLowConfidence  = "scene_confidence_below_threshold"
	ReasonRetryExhausted = "local_retries_exhausted"
)

// Outcome state values.
const (
	StateVerifiedLocal = "verified_local"
	StateVerifiedCloud = "verified_cloud"
	StateUncertain     = "uncertain"
	StateFailed        = "failed"
)

// Vision is the slice of the cloud client the controller needs.
type Vision interface {
	AnalyzeFrame(ctx context.Context, frame detection.Frame, checklist []detection.ChecklistItem) (cloudvision.Result, error)
	EstimatedCostCents() int64
}

// Outcome reports how a frame was ultimately analyzed. When the budget denies
// escalation the local analysis is kept and RequiresVLMFallback records that a
// better answer existed but was not affordable.
type Outcome struct {
	Analysis            detection.FrameAnalysis
	State               string
	EscalationReason    string
	Escalated           bool
	RequiresVLMFallback bool
	BudgetDenial        *budget.Denial
	CostCents           int64
}

// Controller decides when a locally analyzed frame must be re-analyzed by the
// cloud model, and runs the reserve/call/commit sequence when it does. The
// budget guard's answer is final: there is no path to the cloud around it.
type Controller struct {
	guard     *budget.Guard
	vision    Vision
	threshold float64
	maxLocal  int
	logger    *slog.Logger
}

// New builds a controller. vision may be nil for local-only deployments.
func New(guard *budget.Guard, vision Vision, confidenceThreshold float64, maxLocalRetries int, logger *slog.Logger) *Controller {
	return &Controller{
		guard:     guard,
		vision:    vision,
		threshold: confidenceThreshold,
		maxLocal:  maxLocalRetries,
		logger:    logging.NewComponentLogger(logger, "escalate"),
	}
}

// ShouldEscalate reports whether the local analysis is trustworthy enough to
// stand on its own, and the reason code when it is not.
func (c *Controller) ShouldEscalate(analysis detection.FrameAnalysis, sess *session.Session) (bool, string) {
	if sess.LocalRetryCount >= c.maxLocal {
		return true, ReasonRetryExhausted
	}
	if analysis.SceneConfidence < c.threshold {
		return true, ReasonLowConfidence
	}
	return false, ""
}

// Resolve takes a frame and its local analysis and returns the authoritative
// outcome, escalating to the cloud model when warranted and permitted.
func (c *Controller) Resolve(ctx context.Context, frame detection.Frame, local detection.FrameAnalysis, sess *session.Session, checklist []detection.ChecklistItem) (Outcome, error) {
	escalate, reason := c.ShouldEscalate(local, sess)
	if !escalate {
		sess.LocalRetryCount = 0
		return Outcome{Analysis: local, State: StateVerifiedLocal}, nil
	}
	if c.vision == nil {
		// Local-only deployment: low confidence stays low confidence.
		return c.declined(local, reason, nil), nil
	}

	reservation, err := c.guard.Reserve(ctx, sess.TenantID, c.vision.EstimatedCostCents())
	if err != nil {
		if denial, ok := budget.DenialFrom(err); ok {
			c.logger.Warn("escalation denied by budget",
				logging.String(logging.FieldSessionID, sess.ID),
				logging.String(logging.FieldTenantID, sess.TenantID),
				logging.String("denial_reason", denial.Reason),
				logging.Int64("spent_cents", denial.CurrentCostCents),
			)
			metrics.BudgetDenials.WithLabelValues(denial.Reason).Inc()
			return c.declined(local, reason, denial), nil
		}
		return Outcome{}, services.Wrap(services.ErrTransient, "escalate", "reserve", "budget reservation failed", err)
	}

	result, err := c.vision.AnalyzeFrame(ctx, frame, checklist)
	if err != nil {
		if releaseErr := reservation.Release(ctx); releaseErr != nil {
			c.logger.Error("failed to release budget reservation", logging.Error(releaseErr))
		}
		if errors.Is(err, cloudvision.ErrCoolingDown) || errors.Is(err, services.ErrTimeout) || services.Retryable(err) {
			// The cloud answer is unavailable, not forbidden; keep the local
			// analysis and let the next frame try again.
			c.logger.Warn("escalation unavailable",
				logging.String(logging.FieldSessionID, sess.ID),
				logging.Error(err),
			)
			metrics.Escalations.WithLabelValues("unavailable").Inc()
			return c.declined(local, reason, nil), nil
		}
		return Outcome{}, err
	}

	if err := reservation.Commit(ctx, result.ActualCostCents); err != nil {
		c.logger.Error("failed to commit budget reservation", logging.Error(err))
	}
	sess.LocalRetryCount = 0
	metrics.Escalations.WithLabelValues("succeeded").Inc()
	metrics.CloudCostCents.Add(float64(result.ActualCostCents))

	c.logger.Info("frame escalated to cloud model",
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String("reason", reason),
		logging.Int64("cost_cents", result.ActualCostCents),
		logging.Int("items", len(result.Analysis.Items)),
	)
	return Outcome{
		Analysis:         result.Analysis,
		State:            StateVerifiedCloud,
		EscalationReason: reason,
		Escalated:        true,
		CostCents:        result.ActualCostCents,
	}, nil
}

// declined is the shared shape for every path where escalation was warranted
// but did not happen. With no local detections at all there is nothing to fall
// back on, which is a failed frame rather than an uncertain one.
func (c *Controller) declined(local detection.FrameAnalysis, reason string, denial *budget.Denial) Outcome {
	state := StateUncertain
	if len(local.Items) == 0 && len(local.Containers) == 0 {
		state = StateFailed
	}
	return Outcome{
		Analysis:            local,
		State:               state,
		EscalationReason:    reason,
		RequiresVLMFallback: true,
		BudgetDenial:        denial,
	}
}
