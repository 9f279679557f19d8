package aggregate

import (
	"fmt"
	"log/slog"
	"sort"

	"loadout/internal/detection"
	"loadout/internal/logging"
	"loadout/internal/session"
)

// SkipNoMotion is the reason code reported when the motion gate found no
// significant change against the previous frame.
const SkipNoMotion = "no_motion_detected"

// Update is the stable incremental result of one frame transition.
type Update struct {
	// NewlyVerified items crossed the confidence threshold this frame.
	NewlyVerified []string
	// Maintained items are visible this frame and already verified.
	Maintained []string
	// Removed items were visible in the immediately preceding frame but not
	// this one. Removal never un-verifies: it is diff-local context only.
	Removed []string
	// Boosts reports per-item confidence improvements over the session's best
	// prior sighting, for telemetry.
	Boosts map[string]float64
	// Warnings carries non-fatal placement findings such as an item detected
	// in a container other than the session's active one.
	Warnings []string

	Skipped    bool
	SkipReason string
}

// Aggregator converts noisy per-frame detections into stable incremental
// updates against a session's verified set.
type Aggregator struct {
	threshold float64
	logger    *slog.Logger
}

// New builds an aggregator with the given verification threshold.
func New(threshold float64, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		threshold: threshold,
		logger:    logging.NewComponentLogger(logger, "aggregator"),
	}
}

// Skip produces an observable skipped result without touching the session.
func (a *Aggregator) Skip(reason string) Update {
	return Update{Skipped: true, SkipReason: reason}
}

// Process diffs the current frame against the session state and the previous
// frame, mutating the session's verified set and counters. previous may be
// nil for the first frame of a session.
func (a *Aggregator) Process(frame detection.FrameAnalysis, sess *session.Session, previous *detection.FrameAnalysis) Update {
	update := Update{Boosts: make(map[string]float64)}

	currentIDs := make(map[string]struct{}, len(frame.Items))
	for _, item := range frame.Items {
		currentIDs[item.ID] = struct{}{}

		if boost := sess.ObserveConfidence(item.ID, item.Confidence); boost > 0 {
			update.Boosts[item.ID] = boost
		}

		switch {
		case sess.IsVerified(item.ID):
			update.Maintained = append(update.Maintained, item.ID)
		case sess.BestConfidence(item.ID) >= a.threshold:
			// Reinforcement: a below-threshold sighting in an earlier frame
			// counts once the best-seen confidence crosses the line.
			sess.MarkVerified(item.ID)
			update.NewlyVerified = append(update.NewlyVerified, item.ID)
		}

		if warning := containerWarning(item, sess); warning != "" {
			update.Warnings = append(update.Warnings, warning)
		}
	}

	if previous != nil {
		for _, item := range previous.Items {
			if _, stillVisible := currentIDs[item.ID]; !stillVisible {
				update.Removed = append(update.Removed, item.ID)
			}
		}
	}

	for _, container := range frame.Containers {
		sess.ObserveContainer(container)
	}

	sort.Strings(update.NewlyVerified)
	sort.Strings(update.Maintained)
	sort.Strings(update.Removed)

	sess.TotalFramesProcessed++
	sess.TotalItemsVerified += len(update.NewlyVerified)

	if len(update.NewlyVerified) > 0 {
		a.logger.Info("items verified",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.Int("newly_verified", len(update.NewlyVerified)),
			logging.Int("session_total", sess.VerifiedCount()),
		)
	}

	return update
}

func containerWarning(item detection.DetectedItem, sess *session.Session) string {
	if item.ContainerID == "" || sess.ActiveContainerID == "" {
		return ""
	}
	if item.ContainerID == sess.ActiveContainerID {
		return ""
	}
	return fmt.Sprintf("item %s detected in container %s, expected %s", item.ID, item.ContainerID, sess.ActiveContainerID)
}
