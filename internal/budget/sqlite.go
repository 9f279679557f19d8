package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"loadout/internal/config"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS budget_ledger (
    tenant_id  TEXT NOT NULL,
    day        TEXT NOT NULL,
    cost_cents INTEGER NOT NULL DEFAULT 0,
    call_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, day)
);
`

// SQLiteLedger is the default on-device budget ledger.
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

// OpenSQLiteLedger initializes or connects to the budget database.
func OpenSQLiteLedger(cfg *config.Config) (*SQLiteLedger, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "budget.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create budget schema: %w", err)
	}

	return &SQLiteLedger{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Reserve atomically adds amountCents and one call to the tenant-day row,
// failing without mutation when either cap would be exceeded.
func (l *SQLiteLedger) Reserve(ctx context.Context, tenantID, day string, amountCents, costCapCents int64, requestCap int) (bool, Usage, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, Usage{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO budget_ledger (tenant_id, day) VALUES (?, ?)`,
		tenantID, day,
	); err != nil {
		return false, Usage{}, fmt.Errorf("seed ledger row: %w", err)
	}

	var usage Usage
	row := tx.QueryRowContext(ctx,
		`SELECT cost_cents, call_count FROM budget_ledger WHERE tenant_id = ? AND day = ?`,
		tenantID, day,
	)
	if err := row.Scan(&usage.CostCents, &usage.Count); err != nil {
		return false, Usage{}, fmt.Errorf("read ledger row: %w", err)
	}

	if usage.CostCents+amountCents > costCapCents || usage.Count+1 > requestCap {
		return false, usage, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE budget_ledger SET cost_cents = cost_cents + ?, call_count = call_count + 1
         WHERE tenant_id = ? AND day = ?`,
		amountCents, tenantID, day,
	); err != nil {
		return false, Usage{}, fmt.Errorf("apply reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, Usage{}, fmt.Errorf("commit reserve tx: %w", err)
	}
	usage.CostCents += amountCents
	usage.Count++
	return true, usage, nil
}

// Commit settles a reservation against the actual charge.
func (l *SQLiteLedger) Commit(ctx context.Context, tenantID, day string, reservedCents, actualCents int64) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE budget_ledger SET cost_cents = MAX(0, cost_cents + ? - ?)
         WHERE tenant_id = ? AND day = ?`,
		actualCents, reservedCents, tenantID, day,
	)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return errors.New("commit without matching reservation row")
	}
	return nil
}

// Release backs out an unused reservation.
func (l *SQLiteLedger) Release(ctx context.Context, tenantID, day string, amountCents int64) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE budget_ledger
         SET cost_cents = MAX(0, cost_cents - ?), call_count = MAX(0, call_count - 1)
         WHERE tenant_id = ? AND day = ?`,
		amountCents, tenantID, day,
	)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// Usage reads the current tenant-day consumption.
func (l *SQLiteLedger) Usage(ctx context.Context, tenantID, day string) (Usage, error) {
	var usage Usage
	row := l.db.QueryRowContext(ctx,
		`SELECT cost_cents, call_count FROM budget_ledger WHERE tenant_id = ? AND day = ?`,
		tenantID, day,
	)
	err := row.Scan(&usage.CostCents, &usage.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return Usage{}, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("read usage: %w", err)
	}
	return usage, nil
}
