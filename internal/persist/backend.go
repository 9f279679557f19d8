package persist

import (
	"context"
	"sync"
	"time"

	"loadout/internal/services"
)

// VerificationRecord is the completed outcome of one loading session.
type VerificationRecord struct {
	TenantID        string    `json:"tenant_id"`
	JobID           string    `json:"job_id"`
	SessionID       string    `json:"session_id"`
	CompletedAt     time.Time `json:"completed_at"`
	Verified        bool      `json:"verified"`
	VerifiedItemIDs []string  `json:"verified_item_ids"`
	MissingItemIDs  []string  `json:"missing_item_ids"`
	FramesProcessed int       `json:"frames_processed"`
	CloudCallCount  int       `json:"cloud_call_count"`
	FinalImage      []byte    `json:"final_image,omitempty"`
}

// Backend stores completed verification records. Implementations must keep
// records tenant-isolated: a tenant-scoped read never returns another
// tenant's records.
type Backend interface {
	SaveVerification(ctx context.Context, record VerificationRecord) error
	ListVerifications(ctx context.Context, tenantID string) ([]VerificationRecord, error)
}

// Memory is an in-process Backend for tests and local-only deployments.
type Memory struct {
	mu      sync.Mutex
	records map[string][]VerificationRecord

	// FailNext makes the next SaveVerification fail, for exercising the
	// enqueue-on-persistence-failure path.
	FailNext bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]VerificationRecord)}
}

func (m *Memory) SaveVerification(ctx context.Context, record VerificationRecord) error {
	if record.TenantID == "" {
		return services.Wrap(services.ErrValidation, "persist", "save", "tenant id required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return services.Wrap(services.ErrTransient, "persist", "save", "simulated backend failure", nil)
	}
	m.records[record.TenantID] = append(m.records[record.TenantID], record)
	return nil
}

func (m *Memory) ListVerifications(ctx context.Context, tenantID string) ([]VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]VerificationRecord, len(m.records[tenantID]))
	copy(out, m.records[tenantID])
	return out, nil
}
