package jobs

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"loadout/internal/config"
	"loadout/internal/detection"
	"loadout/internal/logging"
	"loadout/internal/services"
)

// Match reason codes reported alongside confidence scores.
const (
	ReasonContainerIDMatch   = "container_id_match"
	ReasonContainerTypeMatch = "container_type_match"
	ReasonProximityMatch     = "proximity_match"
	ReasonContainerChange    = "container_change"
)

// Job is one scheduled work assignment a technician could be loading for.
type Job struct {
	ID                   string
	TenantID             string
	Name                 string
	Location             detection.Location
	AssignedContainerIDs []string
	ContainerType        string
	UnfinishedItemCount  int
}

// Directory is the read-only job catalog the matcher ranks against.
type Directory interface {
	ListJobs(ctx context.Context, tenantID string) ([]Job, error)
}

// RankedJob is a candidate with its computed distance and ranking score.
type RankedJob struct {
	Job        Job
	DistanceKM float64
	Score      float64
}

// ContainerMatch explains why a detected container was attributed to a job.
type ContainerMatch struct {
	Job        Job
	Confidence float64
	Reasons    []string
}

// ActiveJob is the detect-active-job result: the best candidate plus a
// confidence score the caller can threshold.
type ActiveJob struct {
	Job        Job
	Confidence float64
}

// SwitchDecision reports whether a newly detected container belongs to a
// different job than the session is currently attributed to.
type SwitchDecision struct {
	JobSwitched bool
	NewJobID    string
	Confidence  float64
	Reason      string
}

// Matcher resolves which job and container a detection batch belongs to.
type Matcher struct {
	directory     Directory
	radiusKM      float64
	maxCandidates int
	logger        *slog.Logger
}

// NewMatcher builds a matcher over the supplied job directory.
func NewMatcher(directory Directory, cfg config.Jobs, logger *slog.Logger) *Matcher {
	radius := cfg.NearbyRadiusKM
	if radius <= 0 {
		radius = 25
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 10
	}
	return &Matcher{
		directory:     directory,
		radiusKM:      radius,
		maxCandidates: maxCandidates,
		logger:        logging.NewComponentLogger(logger, "jobs"),
	}
}

// FindNearbyJobs returns candidate jobs within the configured radius, ranked
// so that closer jobs with more unfinished checklist work sort first.
func (m *Matcher) FindNearbyJobs(ctx context.Context, tenantID string, location detection.Location) ([]RankedJob, error) {
	if tenantID == "" {
		return nil, services.Wrap(services.ErrValidation, "jobs", "find_nearby", "tenant id required", nil)
	}
	all, err := m.directory.ListJobs(ctx, tenantID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "jobs", "find_nearby", "list jobs", err)
	}

	var ranked []RankedJob
	for _, job := range all {
		if job.TenantID != tenantID {
			continue
		}
		distance := haversineKM(location, job.Location)
		if distance > m.radiusKM {
			continue
		}
		ranked = append(ranked, RankedJob{
			Job:        job,
			DistanceKM: distance,
			Score:      m.rankScore(distance, job.UnfinishedItemCount),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > m.maxCandidates {
		ranked = ranked[:m.maxCandidates]
	}
	return ranked, nil
}

// rankScore blends proximity and remaining workload. Distance dominates;
// unfinished items break ties between comparably distant jobs.
func (m *Matcher) rankScore(distanceKM float64, unfinished int) float64 {
	proximity := 1 - distanceKM/m.radiusKM
	if proximity < 0 {
		proximity = 0
	}
	workload := float64(unfinished) / float64(unfinished+5)
	return 0.7*proximity + 0.3*workload
}

// MatchContainerToJob picks the candidate job that best accounts for the
// detected container. An exact identifier match always wins; otherwise the
// match degrades to container type and plain proximity, each reflected in the
// reasons list so the attribution is explainable.
func (m *Matcher) MatchContainerToJob(container detection.DetectedContainer, candidates []RankedJob) *ContainerMatch {
	var best *ContainerMatch
	for _, candidate := range candidates {
		match := scoreContainer(container, candidate)
		if match == nil {
			continue
		}
		if best == nil || match.Confidence > best.Confidence {
			best = match
		}
	}
	return best
}

func scoreContainer(container detection.DetectedContainer, candidate RankedJob) *ContainerMatch {
	var reasons []string
	confidence := 0.0

	for _, assigned := range candidate.Job.AssignedContainerIDs {
		if container.ID != "" && strings.EqualFold(assigned, container.ID) {
			confidence = 0.95
			reasons = append(reasons, ReasonContainerIDMatch)
			break
		}
	}
	if confidence == 0 && container.ContainerType != "" &&
		strings.EqualFold(container.ContainerType, candidate.Job.ContainerType) {
		confidence = 0.5
		reasons = append(reasons, ReasonContainerTypeMatch)
	}
	if confidence == 0 {
		// No identifier evidence at all: proximity alone is weak support.
		confidence = 0.2 * candidate.Score
		reasons = append(reasons, ReasonProximityMatch)
	} else {
		// Proximity nudges otherwise equal identifier matches apart.
		confidence += 0.04 * candidate.Score
		reasons = append(reasons, ReasonProximityMatch)
	}
	if confidence > 1 {
		confidence = 1
	}
	return &ContainerMatch{Job: candidate.Job, Confidence: confidence, Reasons: reasons}
}

// DetectActiveJob resolves the most plausible job for the technician's
// current position without container evidence.
func (m *Matcher) DetectActiveJob(ctx context.Context, location detection.Location, userID, tenantID string) (*ActiveJob, error) {
	ranked, err := m.FindNearbyJobs(ctx, tenantID, location)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	best := ranked[0]
	m.logger.Debug("active job detected",
		logging.String(logging.FieldTenantID, tenantID),
		logging.String(logging.FieldJobID, best.Job.ID),
		logging.String("user_id", userID),
		logging.Float64("score", best.Score),
	)
	return &ActiveJob{Job: best.Job, Confidence: best.Score}, nil
}

// EvaluateContainerSwitch decides whether a container that differs from the
// session's active one means the technician moved on to another job. The
// caller persists the prior session before acting on JobSwitched.
func (m *Matcher) EvaluateContainerSwitch(ctx context.Context, tenantID, currentJobID string, location detection.Location, container detection.DetectedContainer) (SwitchDecision, error) {
	none := SwitchDecision{}
	ranked, err := m.FindNearbyJobs(ctx, tenantID, location)
	if err != nil {
		return none, err
	}
	match := m.MatchContainerToJob(container, ranked)
	if match == nil || match.Job.ID == currentJobID {
		return none, nil
	}

	var currentConfidence float64
	for _, candidate := range ranked {
		if candidate.Job.ID != currentJobID {
			continue
		}
		if current := scoreContainer(container, candidate); current != nil {
			currentConfidence = current.Confidence
		}
	}
	if match.Confidence <= currentConfidence {
		return none, nil
	}

	m.logger.Info("container switch detected",
		logging.String(logging.FieldTenantID, tenantID),
		logging.String("from_job", currentJobID),
		logging.String("to_job", match.Job.ID),
		logging.Float64("confidence", match.Confidence),
	)
	return SwitchDecision{
		JobSwitched: true,
		NewJobID:    match.Job.ID,
		Confidence:  match.Confidence,
		Reason:      ReasonContainerChange,
	}, nil
}

const earthRadiusKM = 6371.0

func haversineKM(a, b detection.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
