package detection

import (
	"strings"
	"time"
)

// ProcessingMethod records which detector produced a frame analysis.
type ProcessingMethod string

const (
	MethodLocalModel ProcessingMethod = "local_model"
	MethodCloudVLM   ProcessingMethod = "cloud_vlm"
)

// Location is a GPS fix with horizontal accuracy in meters.
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

// NetworkClass describes the device's current connectivity tier.
type NetworkClass string

const (
	NetworkWifi     NetworkClass = "wifi"
	NetworkCellular NetworkClass = "cellular"
	NetworkOffline  NetworkClass = "offline"
)

// Frame is one captured camera image awaiting analysis. Seq is assigned by the
// capture loop in arrival order and tags every downstream result so stale
// responses can be discarded.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Image      []byte
}

// BoundingBox locates a detection within the frame, normalized to [0,1].
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectedItem is one labeled equipment detection within a frame.
type DetectedItem struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	ItemType    string      `json:"item_type"`
	Confidence  float64     `json:"confidence"`
	ContainerID string      `json:"container_id,omitempty"`
	Box         BoundingBox `json:"box"`
}

// DetectedContainer is a recognized vehicle or storage unit.
type DetectedContainer struct {
	ID            string  `json:"id"`
	ContainerType string  `json:"container_type"`
	Color         string  `json:"color,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// FrameAnalysis is the immutable result of analyzing one frame. It is consumed
// once by the aggregator and then retained only as previous-frame context.
type FrameAnalysis struct {
	Timestamp       time.Time           `json:"timestamp"`
	Items           []DetectedItem      `json:"items"`
	Containers      []DetectedContainer `json:"containers"`
	SceneConfidence float64             `json:"scene_confidence"`
	ProcessingTime  time.Duration       `json:"processing_time"`
	Method          ProcessingMethod    `json:"method"`
}

// ItemIDs returns the identifiers of all detected items in frame order.
func (a FrameAnalysis) ItemIDs() []string {
	ids := make([]string, 0, len(a.Items))
	for _, item := range a.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// Item returns the detection for the given item identifier, if present.
func (a FrameAnalysis) Item(id string) (DetectedItem, bool) {
	for _, item := range a.Items {
		if item.ID == id {
			return item, true
		}
	}
	return DetectedItem{}, false
}

// ChecklistItem is one required or optional entry from a job's equipment list.
type ChecklistItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Required bool   `json:"required"`
	Quantity int    `json:"quantity"`
}

// NormalizeNetworkClass maps free-form connectivity strings onto the known tiers.
func NormalizeNetworkClass(value string) NetworkClass {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "wifi", "ethernet":
		return NetworkWifi
	case "cellular", "2g", "3g", "4g", "5g":
		return NetworkCellular
	default:
		return NetworkOffline
	}
}
