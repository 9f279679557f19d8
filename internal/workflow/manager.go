package workflow

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"loadout/internal/aggregate"
	"loadout/internal/budget"
	"loadout/internal/config"
	"loadout/internal/connectivity"
	"loadout/internal/detection"
	"loadout/internal/escalate"
	"loadout/internal/jobs"
	"loadout/internal/logging"
	"loadout/internal/metrics"
	"loadout/internal/notifications"
	"loadout/internal/offline"
	"loadout/internal/persist"
	"loadout/internal/services"
	"loadout/internal/session"
)

// Completion path values reported by Complete.
const (
	PathPersisted = "persisted"
	PathQueued    = "queued"
)

// Deps bundles the collaborators the manager orchestrates.
type Deps struct {
	Config    *config.Config
	Store     *session.Store
	Detector  detection.LocalDetector
	Motion    detection.MotionDetector
	Checklist detection.ChecklistSource
	Escalator *escalate.Controller
	Matcher   *jobs.Matcher
	Backend   persist.Backend
	Queue     *offline.Store
	Monitor   *connectivity.Monitor
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// Manager owns the verification session lifecycle: start, resumption,
// per-frame processing, and completion routing. Sessions are mutated only
// through its operations.
type Manager struct {
	cfg        *config.Config
	store      *session.Store
	detector   detection.LocalDetector
	motion     detection.MotionDetector
	checklist  detection.ChecklistSource
	escalator  *escalate.Controller
	matcher    *jobs.Matcher
	backend    persist.Backend
	queue      *offline.Store
	monitor    *connectivity.Monitor
	notifier   notifications.Service
	aggregator *aggregate.Aggregator
	logger     *slog.Logger
	now        func() time.Time
	observer   func(sessionID string, result FrameResult)

	// budgetAlerts records (tenant, period) pairs already alerted so a run of
	// denied frames produces one notification, not hundreds.
	budgetAlerts sync.Map

	// inflight caps concurrent detection calls system-wide.
	inflight chan struct{}
}

// Option customizes manager construction.
type Option func(*Manager)

// WithClock overrides the time source used for staleness decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithObserver registers a callback invoked after every persisted frame
// result. The callback runs on the processing goroutine and must not block.
func WithObserver(observer func(sessionID string, result FrameResult)) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// NewManager wires the verification workflow together.
func NewManager(deps Deps, opts ...Option) *Manager {
	maxInFlight := deps.Config.Detection.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 2
	}
	m := &Manager{
		cfg:        deps.Config,
		store:      deps.Store,
		detector:   deps.Detector,
		motion:     deps.Motion,
		checklist:  deps.Checklist,
		escalator:  deps.Escalator,
		matcher:    deps.Matcher,
		backend:    deps.Backend,
		queue:      deps.Queue,
		monitor:    deps.Monitor,
		notifier:   deps.Notifier,
		aggregator: aggregate.New(deps.Config.Detection.ConfidenceThreshold, deps.Logger),
		logger:     logging.NewComponentLogger(deps.Logger, "workflow"),
		now:        time.Now,
		inflight:   make(chan struct{}, maxInFlight),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates and persists a fresh session for the job.
func (m *Manager) Start(ctx context.Context, tenantID, jobID string, location detection.Location, battery float64, network detection.NetworkClass) (*session.Session, error) {
	if tenantID == "" || jobID == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "start", "tenant and job ids required", nil)
	}
	sess := session.New(tenantID, jobID, location, battery, network)
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "start", "persist new session", err)
	}
	m.logger.Info("session started",
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String(logging.FieldTenantID, tenantID),
		logging.String(logging.FieldJobID, jobID),
	)
	return sess, nil
}

// Resume returns the prior active session for the job when it is still fresh
// and the technician has not moved materially; otherwise it abandons the
// stale session and returns nil so the caller starts a new one. A rejected
// resumption is a deliberate signal, not an error.
func (m *Manager) Resume(ctx context.Context, tenantID, jobID string, location detection.Location) (*session.Session, error) {
	prior, err := m.store.FindActive(ctx, tenantID, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "resume", "look up prior session", err)
	}
	if prior == nil {
		return nil, nil
	}

	staleness := time.Duration(m.cfg.Session.StalenessMinutes) * time.Minute
	drift := m.cfg.Session.LocationDriftDegrees
	elapsed := m.now().UTC().Sub(prior.LastActiveAt)
	moved := math.Abs(location.Latitude-prior.LastLocation.Latitude) >= drift ||
		math.Abs(location.Longitude-prior.LastLocation.Longitude) >= drift

	if elapsed >= staleness || moved {
		m.logger.Info("resumption rejected",
			logging.String(logging.FieldSessionID, prior.ID),
			logging.Duration("elapsed", elapsed),
			logging.Bool("location_drift", moved),
		)
		if err := m.store.MarkStatus(ctx, prior.ID, session.StatusAbandoned); err != nil {
			m.logger.Error("failed to abandon stale session", logging.Error(err))
		}
		return nil, nil
	}

	m.logger.Info("session resumed",
		logging.String(logging.FieldSessionID, prior.ID),
		logging.Int("verified_items", prior.VerifiedCount()),
	)
	return prior, nil
}

// StartOrResume resumes when the resumption policy allows it, otherwise
// starts fresh. The boolean reports whether an existing session was resumed.
func (m *Manager) StartOrResume(ctx context.Context, tenantID, jobID string, location detection.Location, battery float64, network detection.NetworkClass) (*session.Session, bool, error) {
	resumed, err := m.Resume(ctx, tenantID, jobID, location)
	if err != nil {
		return nil, false, err
	}
	if resumed != nil {
		return resumed, true, nil
	}
	sess, err := m.Start(ctx, tenantID, jobID, location, battery, network)
	return sess, false, err
}

// ProcessingConfig is the capture-loop guidance for the device's current
// battery level.
type ProcessingConfig struct {
	FramesPerSecond float64
	PreferLocal     bool
	SkipTelemetry   bool
}

// ProcessingConfig adapts frame cadence to the battery level: below the
// low-battery threshold the capture rate drops, escalation is avoided, and
// non-essential telemetry is skipped.
func (m *Manager) ProcessingConfig(batteryLevel float64) ProcessingConfig {
	det := m.cfg.Detection
	if batteryLevel < det.LowBatteryLevel {
		return ProcessingConfig{
			FramesPerSecond: det.LowBatteryFPS,
			PreferLocal:     true,
			SkipTelemetry:   true,
		}
	}
	return ProcessingConfig{FramesPerSecond: det.NominalFPS}
}

// Previous carries the prior frame context needed for diffing and the motion
// gate. Both fields are nil for the first frame of a session.
type Previous struct {
	Frame    *detection.Frame
	Analysis *detection.FrameAnalysis
}

// ProcessOptions tunes one frame's processing.
type ProcessOptions struct {
	// PreferLocal suppresses escalation whenever the local detector produced
	// any detections at all, trading certainty for battery.
	PreferLocal bool
}

// FrameResult is the full outcome of processing one frame.
type FrameResult struct {
	Seq       uint64
	Update    aggregate.Update
	Outcome   escalate.Outcome
	JobSwitch *jobs.SwitchDecision
}

// ProcessFrame runs one frame through the motion gate, local detection,
// escalation policy, and the aggregator, then persists the session.
func (m *Manager) ProcessFrame(ctx context.Context, sess *session.Session, frame detection.Frame, prev Previous, opts ProcessOptions) (FrameResult, error) {
	result := FrameResult{Seq: frame.Seq}

	if m.motion != nil && prev.Frame != nil && !m.motion.SignificantChange(*prev.Frame, frame) {
		result.Update = m.aggregator.Skip(aggregate.SkipNoMotion)
		metrics.FramesSkipped.WithLabelValues(aggregate.SkipNoMotion).Inc()
		return result, nil
	}

	select {
	case m.inflight <- struct{}{}:
	case <-ctx.Done():
		return result, ctx.Err()
	}
	defer func() { <-m.inflight }()

	checklist, err := m.checklist.ChecklistItems(ctx, sess.TenantID, sess.JobID)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "workflow", "process_frame", "load checklist", err)
	}

	local, err := m.detector.Analyze(ctx, frame, checklist)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		// A failed local pass consumes one local attempt; once the counter is
		// exhausted the escalation controller takes over with an empty local
		// analysis.
		sess.LocalRetryCount++
		if sess.LocalRetryCount < m.cfg.Detection.MaxLocalRetries {
			if saveErr := m.store.Save(ctx, sess); saveErr != nil {
				m.logger.Error("failed to persist retry counter", logging.Error(saveErr))
			}
			return result, services.Wrap(services.ErrTransient, "workflow", "process_frame", "local detection failed", err)
		}
		local = detection.FrameAnalysis{Timestamp: frame.CapturedAt, Method: detection.MethodLocalModel}
	}

	outcome, err := m.resolveOutcome(ctx, frame, local, sess, checklist, opts)
	if err != nil {
		return result, err
	}
	result.Outcome = outcome
	if outcome.BudgetDenial != nil {
		m.notifyBudgetExhausted(sess.TenantID, outcome.BudgetDenial)
	}

	result.Update = m.aggregator.Process(outcome.Analysis, sess, prev.Analysis)
	metrics.FramesProcessed.WithLabelValues(string(outcome.Analysis.Method)).Inc()
	metrics.ItemsVerified.Add(float64(len(result.Update.NewlyVerified)))
	if len(result.Update.NewlyVerified) > 0 {
		sess.LocalRetryCount = 0
	} else if outcome.State == escalate.StateUncertain || outcome.State == escalate.StateFailed {
		sess.LocalRetryCount++
	}

	result.JobSwitch = m.checkContainerSwitch(ctx, sess, outcome.Analysis)

	sess.Touch(sess.LastLocation)
	if err := m.store.Save(ctx, sess); err != nil {
		return result, services.Wrap(services.ErrTransient, "workflow", "process_frame", "persist session", err)
	}
	if m.observer != nil {
		m.observer(sess.ID, result)
	}
	return result, nil
}

func (m *Manager) resolveOutcome(ctx context.Context, frame detection.Frame, local detection.FrameAnalysis, sess *session.Session, checklist []detection.ChecklistItem, opts ProcessOptions) (escalate.Outcome, error) {
	if opts.PreferLocal && len(local.Items) > 0 {
		if local.SceneConfidence >= m.cfg.Detection.ConfidenceThreshold {
			return escalate.Outcome{Analysis: local, State: escalate.StateVerifiedLocal}, nil
		}
		return escalate.Outcome{
			Analysis:            local,
			State:               escalate.StateUncertain,
			EscalationReason:    escalate.ReasonLowConfidence,
			RequiresVLMFallback: true,
		}, nil
	}
	return m.escalator.Resolve(ctx, frame, local, sess, checklist)
}

// checkContainerSwitch looks for a detected container that attributes the
// activity to a different job. The current session is persisted before the
// switch decision is surfaced.
func (m *Manager) checkContainerSwitch(ctx context.Context, sess *session.Session, analysis detection.FrameAnalysis) *jobs.SwitchDecision {
	if m.matcher == nil {
		return nil
	}
	for _, container := range analysis.Containers {
		if container.ID == "" || container.ID == sess.ActiveContainerID {
			continue
		}
		decision, err := m.matcher.EvaluateContainerSwitch(ctx, sess.TenantID, sess.JobID, sess.LastLocation, container)
		if err != nil {
			m.logger.Error("container switch evaluation failed", logging.Error(err))
			continue
		}
		if !decision.JobSwitched {
			continue
		}
		if err := m.store.Save(ctx, sess); err != nil {
			m.logger.Error("failed to persist session before job switch", logging.Error(err))
		}
		return &decision
	}
	return nil
}

// CompletionResult reports how a finished session was stored.
type CompletionResult struct {
	SessionID      string
	Verified       bool
	VerifiedItems  []string
	MissingItems   []string
	Path           string
	QueueID        int64
	EvictedEntry   *offline.Entry
	PersistFailure error
}

// Complete computes the missing-required-items list, marks the session
// completed, and routes the verification record to the backend when online or
// to the offline queue otherwise. A persistence failure while online falls
// back to the queue instead of losing the record.
func (m *Manager) Complete(ctx context.Context, sess *session.Session, finalImage []byte) (CompletionResult, error) {
	var result CompletionResult
	result.SessionID = sess.ID

	checklist, err := m.checklist.ChecklistItems(ctx, sess.TenantID, sess.JobID)
	if err != nil {
		return result, services.Wrap(services.ErrTransient, "workflow", "complete", "load checklist", err)
	}

	var missing []string
	for _, item := range checklist {
		if item.Required && !sess.IsVerified(item.ID) {
			missing = append(missing, item.ID)
		}
	}
	sort.Strings(missing)
	result.MissingItems = missing
	result.Verified = len(missing) == 0
	result.VerifiedItems = sess.VerifiedItems()

	record := persist.VerificationRecord{
		TenantID:        sess.TenantID,
		JobID:           sess.JobID,
		SessionID:       sess.ID,
		CompletedAt:     m.now().UTC(),
		Verified:        result.Verified,
		VerifiedItemIDs: result.VerifiedItems,
		MissingItemIDs:  missing,
		FramesProcessed: sess.TotalFramesProcessed,
		FinalImage:      finalImage,
	}

	needQueue := true
	if m.monitor != nil && m.monitor.Online() {
		if err := m.backend.SaveVerification(ctx, record); err == nil {
			result.Path = PathPersisted
			needQueue = false
		} else {
			result.PersistFailure = err
			m.logger.Warn("persistence failed while online, queueing",
				logging.String(logging.FieldSessionID, sess.ID), logging.Error(err))
		}
	}
	if needQueue {
		if queueErr := m.enqueueRecord(ctx, sess, record, finalImage, checklist, &result); queueErr != nil {
			return result, queueErr
		}
	}

	sess.Status = session.StatusCompleted
	if err := m.store.Save(ctx, sess); err != nil {
		return result, services.Wrap(services.ErrTransient, "workflow", "complete", "persist completed session", err)
	}

	metrics.SessionsCompleted.WithLabelValues(strconv.FormatBool(result.Verified)).Inc()
	if m.notifier != nil {
		if err := m.notifier.NotifySessionCompleted(ctx, sess.JobID, result.Verified, missing); err != nil {
			m.logger.Warn("completion notification failed", logging.Error(err))
		}
	}
	m.logger.Info("session completed",
		logging.String(logging.FieldSessionID, sess.ID),
		logging.Bool("verified", result.Verified),
		logging.Int("missing_items", len(missing)),
		logging.String("path", result.Path),
	)
	return result, nil
}

func (m *Manager) enqueueRecord(ctx context.Context, sess *session.Session, record persist.VerificationRecord, finalImage []byte, checklist []detection.ChecklistItem, result *CompletionResult) error {
	enqueue, err := m.queue.Enqueue(ctx, offline.Entry{
		TenantID:      sess.TenantID,
		JobID:         sess.JobID,
		SessionID:     sess.ID,
		Image:         finalImage,
		ExpectedItems: checklist,
		Record:        &record,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "complete", "enqueue verification record", err)
	}
	result.Path = PathQueued
	result.QueueID = enqueue.ID
	result.EvictedEntry = enqueue.Evicted
	if enqueue.Evicted != nil {
		m.logger.Warn("queue at capacity, oldest entry evicted",
			logging.Int64("evicted_id", enqueue.Evicted.ID),
			logging.String(logging.FieldJobID, enqueue.Evicted.JobID),
		)
		if m.notifier != nil {
			if err := m.notifier.NotifyQueueEviction(ctx, enqueue.Evicted.JobID, enqueue.Evicted.EnqueuedAt); err != nil {
				m.logger.Warn("eviction notification failed", logging.Error(err))
			}
		}
	}
	return nil
}

// notifyBudgetExhausted alerts once per tenant per UTC day. The send happens
// off the frame-processing goroutine.
func (m *Manager) notifyBudgetExhausted(tenantID string, denial *budget.Denial) {
	if m.notifier == nil || denial == nil {
		return
	}
	if _, seen := m.budgetAlerts.LoadOrStore(tenantID+"|"+denial.Period, struct{}{}); seen {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.notifier.NotifyBudgetExhausted(ctx, tenantID, denial.CurrentCostCents, denial.CostCapCents); err != nil {
			m.logger.Warn("budget notification failed", logging.Error(err))
		}
	}()
}

// Abandon marks a session abandoned and persists it.
func (m *Manager) Abandon(ctx context.Context, sess *session.Session) error {
	sess.Status = session.StatusAbandoned
	if err := m.store.Save(ctx, sess); err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "abandon", "persist session", err)
	}
	return nil
}
