package api

import (
	"time"
)

// DaemonStatus is the /api/status payload.
type DaemonStatus struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid"`
	Online        bool   `json:"online"`
	QueueDBPath   string `json:"queue_db_path"`
	LockFilePath  string `json:"lock_file_path"`
	QueuePending  int    `json:"queue_pending"`
	QueueDead     int    `json:"queue_dead"`
	QueueCapacity int    `json:"queue_capacity"`
}

// QueueEntry is one offline submission as reported over the API. The image
// payload is omitted; only metadata crosses the wire.
type QueueEntry struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	JobID      string    `json:"job_id"`
	SessionID  string    `json:"session_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
	State      string    `json:"state"`
}

// QueueListResponse is the /api/queue payload.
type QueueListResponse struct {
	Pending  int          `json:"pending"`
	Dead     int          `json:"dead"`
	Capacity int          `json:"capacity"`
	Entries  []QueueEntry `json:"entries"`
}

// BudgetStats is the /api/budget payload: one tenant's consumption against
// the daily ceilings.
type BudgetStats struct {
	TenantID       string `json:"tenant_id"`
	Period         string `json:"period"`
	CostCents      int64  `json:"cost_cents"`
	CallCount      int    `json:"call_count"`
	CostCapCents   int64  `json:"cost_cap_cents"`
	RequestCap     int    `json:"request_cap"`
	RemainingCents int64  `json:"remaining_cents"`
}

// SessionSummary is the /api/sessions/{id} payload.
type SessionSummary struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActiveAt    time.Time `json:"last_active_at"`
	VerifiedItems   []string  `json:"verified_items"`
	FramesProcessed int       `json:"frames_processed"`
	ItemsVerified   int       `json:"items_verified"`
}

// QueueSyncOutcome is one entry's fate during a requested sync pass.
type QueueSyncOutcome struct {
	EntryID int64  `json:"entry_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// QueueSyncResponse is the /api/queue/sync payload.
type QueueSyncResponse struct {
	Outcomes []QueueSyncOutcome `json:"outcomes"`
}

// QueueActionResponse reports how many entries a queue mutation touched.
type QueueActionResponse struct {
	Affected int64 `json:"affected"`
}

// NotifyTestResponse is the /api/notify/test payload.
type NotifyTestResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// Websocket event types broadcast by the hub.
const (
	EventFrame        = "frame_result"
	EventConnectivity = "connectivity"
	EventSync         = "sync_outcome"
)

// Event is the envelope for every websocket broadcast.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// FrameEvent summarizes one processed frame for streaming consumers.
type FrameEvent struct {
	SessionID      string   `json:"session_id"`
	Seq            uint64   `json:"seq"`
	State          string   `json:"state"`
	Skipped        bool     `json:"skipped"`
	SkipReason     string   `json:"skip_reason,omitempty"`
	NewlyVerified  []string `json:"newly_verified,omitempty"`
	Maintained     []string `json:"maintained,omitempty"`
	Removed        []string `json:"removed,omitempty"`
	Escalated      bool     `json:"escalated"`
	CostCents      int64    `json:"cost_cents,omitempty"`
	JobSwitchedTo  string   `json:"job_switched_to,omitempty"`
	SwitchedReason string   `json:"switch_reason,omitempty"`
}

// ConnectivityEvent reports an online/offline transition.
type ConnectivityEvent struct {
	Online  bool   `json:"online"`
	Network string `json:"network,omitempty"`
}

// SyncEvent reports the fate of one queue entry during a sync pass.
type SyncEvent struct {
	EntryID int64  `json:"entry_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}
