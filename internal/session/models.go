package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"loadout/internal/detection"
)

// Status represents the lifecycle of a verification session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Session is one continuous equipment-loading verification episode for a
// single job. It is owned by the workflow manager: all mutation happens
// through manager operations, and the struct is persisted and dropped from
// memory on completion or abandonment.
type Session struct {
	ID           string
	TenantID     string
	JobID        string
	Status       Status
	StartedAt    time.Time
	LastActiveAt time.Time
	LastLocation detection.Location

	// Verified item identifiers. The set grows monotonically: once verified,
	// an item is never removed by disappearance.
	verified map[string]struct{}

	// Best confidence seen per item across the whole session, kept monotone
	// so a removed-then-reappeared item never loses its boost history.
	itemConfidence map[string]float64

	Containers        map[string]detection.DetectedContainer
	ActiveContainerID string

	TotalFramesProcessed int
	TotalItemsVerified   int

	// LocalRetryCount bounds local-only attempts before escalation is forced.
	// Scoped per session, reset whenever any item transitions to verified.
	LocalRetryCount int

	BatteryAtStart float64
	NetworkClass   detection.NetworkClass
}

// New creates an active session for the given job.
func New(tenantID, jobID string, location detection.Location, battery float64, network detection.NetworkClass) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		JobID:          jobID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActiveAt:   now,
		LastLocation:   location,
		verified:       make(map[string]struct{}),
		itemConfidence: make(map[string]float64),
		Containers:     make(map[string]detection.DetectedContainer),
		BatteryAtStart: battery,
		NetworkClass:   network,
	}
}

// IsVerified reports whether the item has been verified in this session.
func (s *Session) IsVerified(itemID string) bool {
	_, ok := s.verified[itemID]
	return ok
}

// MarkVerified adds an item to the verified set. It returns false when the
// item was already verified.
func (s *Session) MarkVerified(itemID string) bool {
	if s.verified == nil {
		s.verified = make(map[string]struct{})
	}
	if _, ok := s.verified[itemID]; ok {
		return false
	}
	s.verified[itemID] = struct{}{}
	return true
}

// VerifiedCount returns the size of the verified set.
func (s *Session) VerifiedCount() int {
	return len(s.verified)
}

// VerifiedItems returns the verified identifiers in sorted order.
func (s *Session) VerifiedItems() []string {
	items := make([]string, 0, len(s.verified))
	for id := range s.verified {
		items = append(items, id)
	}
	sort.Strings(items)
	return items
}

// BestConfidence returns the highest confidence seen for an item so far.
func (s *Session) BestConfidence(itemID string) float64 {
	return s.itemConfidence[itemID]
}

// ObserveConfidence records a sighting, keeping the per-item maximum. It
// returns the boost over the previous best (zero when not an improvement).
func (s *Session) ObserveConfidence(itemID string, confidence float64) float64 {
	if s.itemConfidence == nil {
		s.itemConfidence = make(map[string]float64)
	}
	previous := s.itemConfidence[itemID]
	if confidence <= previous {
		return 0
	}
	s.itemConfidence[itemID] = confidence
	return confidence - previous
}

// Touch advances the activity timestamp and location.
func (s *Session) Touch(location detection.Location) {
	s.LastActiveAt = time.Now().UTC()
	s.LastLocation = location
}

// ObserveContainer records or refreshes a detected container.
func (s *Session) ObserveContainer(container detection.DetectedContainer) {
	if container.ID == "" {
		return
	}
	if s.Containers == nil {
		s.Containers = make(map[string]detection.DetectedContainer)
	}
	if existing, ok := s.Containers[container.ID]; !ok || container.Confidence > existing.Confidence {
		s.Containers[container.ID] = container
	}
	if s.ActiveContainerID == "" {
		s.ActiveContainerID = container.ID
	}
}
