// Package budget enforces the hard per-tenant daily ceiling on paid cloud
// detection: a spend cap and a call-count cap per UTC day. The Guard exposes
// reserve-then-commit semantics over an injected Ledger keyed by
// (tenant, UTC date), so state resets at the day boundary without maintenance
// jobs and concurrent sessions cannot jointly exceed the caps. Two ledgers
// ship: SQLite for single-device operation and Redis for fleets sharing one
// budget.
package budget
