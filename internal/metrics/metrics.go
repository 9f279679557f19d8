package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FramesProcessed counts frames that went through the full detection path,
	// labeled by processing method (local_model or cloud_vlm).
	FramesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadout_frames_processed_total",
		Help: "Total number of frames processed through detection",
	}, []string{"method"})

	// FramesSkipped counts frames dropped by the motion gate or sequence check.
	FramesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadout_frames_skipped_total",
		Help: "Total number of frames skipped before detection",
	}, []string{"reason"})

	// ItemsVerified counts newly verified checklist items.
	ItemsVerified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadout_items_verified_total",
		Help: "Total number of checklist items verified",
	})

	// Escalations counts cloud escalation attempts, labeled by outcome.
	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadout_escalations_total",
		Help: "Total number of cloud escalation attempts",
	}, []string{"outcome"})

	// BudgetDenials counts escalations refused by the budget guard.
	BudgetDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadout_budget_denials_total",
		Help: "Total number of escalations denied by the daily budget",
	}, []string{"reason"})

	// CloudCostCents accumulates the committed cost of cloud calls.
	CloudCostCents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadout_cloud_cost_cents_total",
		Help: "Total committed cloud vision spend in cents",
	})

	// QueueEvictions counts offline-queue entries evicted at capacity.
	QueueEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadout_queue_evictions_total",
		Help: "Total number of offline queue entries evicted at capacity",
	})

	// QueueDeadLetters counts entries that exhausted their sync attempts.
	QueueDeadLetters = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadout_queue_dead_letters_total",
		Help: "Total number of offline queue entries dead-lettered",
	})

	// SessionsCompleted counts completed sessions, labeled by verification result.
	SessionsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadout_sessions_completed_total",
		Help: "Total number of completed verification sessions",
	}, []string{"verified"})
)

// Register installs every collector into the supplied registry, or the
// default registry when nil.
func Register(registry *prometheus.Registry) {
	collectors := []prometheus.Collector{
		FramesProcessed,
		FramesSkipped,
		ItemsVerified,
		Escalations,
		BudgetDenials,
		CloudCostCents,
		QueueEvictions,
		QueueDeadLetters,
		SessionsCompleted,
	}
	if registry != nil {
		registry.MustRegister(collectors...)
		return
	}
	prometheus.MustRegister(collectors...)
}
