package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loadout/internal/services"
)

const (
	// ReasonCostCap identifies a denial caused by the daily spend ceiling.
	ReasonCostCap = "daily_cost_cap_exceeded"
	// ReasonRequestCap identifies a denial caused by the daily call-count ceiling.
	ReasonRequestCap = "daily_request_cap_exceeded"

	dayFormat = "2006-01-02"
)

// Stats summarizes a tenant's budget consumption for one UTC day.
type Stats struct {
	TenantID       string
	Period         string
	CostCents      int64
	Count          int
	CostCapCents   int64
	RequestCap     int
	RemainingCents int64
}

// Denial explains a rejected reservation with enough detail for a precise
// user-facing error: never a bare boolean.
type Denial struct {
	Reason             string
	Period             string
	CurrentCostCents   int64
	CostCapCents       int64
	EstimatedCostCents int64
	CurrentCount       int
	RequestCap         int
}

func (d *Denial) Error() string {
	if d.Reason == ReasonRequestCap {
		return fmt.Sprintf("budget: %s: %d of %d cloud calls used for %s",
			d.Reason, d.CurrentCount, d.RequestCap, d.Period)
	}
	return fmt.Sprintf("budget: %s: spent %d¢ of %d¢ cap for %s, call estimated at %d¢",
		d.Reason, d.CurrentCostCents, d.CostCapCents, d.Period, d.EstimatedCostCents)
}

// Guard enforces the hard per-tenant daily cost and request ceilings. All
// mutation goes through reserve-then-commit so concurrent sessions of one
// tenant cannot jointly exceed the caps.
type Guard struct {
	ledger       Ledger
	costCapCents int64
	requestCap   int
	now          func() time.Time
}

// Option customizes guard construction.
type Option func(*Guard)

// WithClock overrides the time source (used in tests to cross day boundaries).
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard builds a guard over the supplied ledger.
func NewGuard(ledger Ledger, costCapCents int64, requestCap int, opts ...Option) (*Guard, error) {
	if ledger == nil {
		return nil, errors.New("budget guard requires a ledger")
	}
	g := &Guard{
		ledger:       ledger,
		costCapCents: costCapCents,
		requestCap:   requestCap,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Reservation is a held slice of the daily budget awaiting Commit or Release.
type Reservation struct {
	guard    *Guard
	tenantID string
	day      string
	amount   int64
	settled  bool
}

// Reserve asks for permission to spend estimatedCents. On denial it returns a
// *Denial (also tagged services.ErrBudgetExceeded) describing current usage;
// the caller must fall back to the local-only path rather than retry.
func (g *Guard) Reserve(ctx context.Context, tenantID string, estimatedCents int64) (*Reservation, error) {
	if tenantID == "" {
		return nil, services.Wrap(services.ErrValidation, "budget", "reserve", "tenant id required", nil)
	}
	if estimatedCents < 0 {
		return nil, services.Wrap(services.ErrValidation, "budget", "reserve", "estimated cost must not be negative", nil)
	}

	day := g.currentDay()
	ok, usage, err := g.ledger.Reserve(ctx, tenantID, day, estimatedCents, g.costCapCents, g.requestCap)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "budget", "reserve", "ledger unavailable", err)
	}
	if !ok {
		denial := &Denial{
			Period:             day,
			CurrentCostCents:   usage.CostCents,
			CostCapCents:       g.costCapCents,
			EstimatedCostCents: estimatedCents,
			CurrentCount:       usage.Count,
			RequestCap:         g.requestCap,
		}
		if usage.Count+1 > g.requestCap {
			denial.Reason = ReasonRequestCap
		} else {
			denial.Reason = ReasonCostCap
		}
		return nil, fmt.Errorf("%w: %w", services.ErrBudgetExceeded, denial)
	}

	return &Reservation{guard: g, tenantID: tenantID, day: day, amount: estimatedCents}, nil
}

// Commit settles the reservation against the provider's actual charge.
func (r *Reservation) Commit(ctx context.Context, actualCents int64) error {
	if r == nil || r.settled {
		return errors.New("budget: reservation already settled")
	}
	if actualCents < 0 {
		actualCents = 0
	}
	if err := r.guard.ledger.Commit(ctx, r.tenantID, r.day, r.amount, actualCents); err != nil {
		return services.Wrap(services.ErrTransient, "budget", "commit", "ledger unavailable", err)
	}
	r.settled = true
	return nil
}

// Release backs out a reservation whose call never executed.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil || r.settled {
		return nil
	}
	if err := r.guard.ledger.Release(ctx, r.tenantID, r.day, r.amount); err != nil {
		return services.Wrap(services.ErrTransient, "budget", "release", "ledger unavailable", err)
	}
	r.settled = true
	return nil
}

// DailyStats reports a tenant's consumption for the current UTC day.
func (g *Guard) DailyStats(ctx context.Context, tenantID string) (Stats, error) {
	day := g.currentDay()
	usage, err := g.ledger.Usage(ctx, tenantID, day)
	if err != nil {
		return Stats{}, services.Wrap(services.ErrTransient, "budget", "stats", "ledger unavailable", err)
	}
	remaining := g.costCapCents - usage.CostCents
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		TenantID:       tenantID,
		Period:         day,
		CostCents:      usage.CostCents,
		Count:          usage.Count,
		CostCapCents:   g.costCapCents,
		RequestCap:     g.requestCap,
		RemainingCents: remaining,
	}, nil
}

// DenialFrom extracts the structured denial from an error chain, if present.
func DenialFrom(err error) (*Denial, bool) {
	var denial *Denial
	if errors.As(err, &denial) {
		return denial, true
	}
	return nil, false
}

// The ledger key embeds the UTC date, so budget state resets at the day
// boundary without a maintenance job.
func (g *Guard) currentDay() string {
	return g.now().UTC().Format(dayFormat)
}
