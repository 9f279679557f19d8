package budget

import "context"

// Usage is the committed-plus-reserved spend recorded for one tenant-day.
type Usage struct {
	CostCents int64
	Count     int
}

// Ledger stores per-tenant-per-day spend. Implementations must make Reserve
// atomic: two concurrent reservations may never jointly exceed the caps.
// Reserved amounts count against the caps immediately; Commit settles the
// difference between estimate and actual, Release backs a reservation out.
type Ledger interface {
	Reserve(ctx context.Context, tenantID, day string, amountCents, costCapCents int64, requestCap int) (bool, Usage, error)
	Commit(ctx context.Context, tenantID, day string, reservedCents, actualCents int64) error
	Release(ctx context.Context, tenantID, day string, amountCents int64) error
	Usage(ctx context.Context, tenantID, day string) (Usage, error)
}
