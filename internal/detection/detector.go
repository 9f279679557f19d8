package detection

import "context"

// LocalDetector is the on-device object detection model boundary. It returns
// labeled detections with confidence for one frame, synchronously or within a
// short bounded latency.
type LocalDetector interface {
	Analyze(ctx context.Context, frame Frame, expected []ChecklistItem) (FrameAnalysis, error)
}

// MotionDetector reports whether a frame differs enough from its predecessor
// to be worth analyzing. Skipping is a performance optimization only; callers
// must surface skipped frames rather than hiding them.
type MotionDetector interface {
	SignificantChange(previous, current Frame) bool
}

// ChecklistSource provides the read-only required-equipment list for a job.
type ChecklistSource interface {
	ChecklistItems(ctx context.Context, tenantID, jobID string) ([]ChecklistItem, error)
}
