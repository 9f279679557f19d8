package testsupport

import (
	"testing"

	"loadout/internal/budget"
	"loadout/internal/config"
	"loadout/internal/offline"
	"loadout/internal/session"
)

// MustOpenBudgetLedger opens a SQLite budget ledger and closes it on cleanup.
func MustOpenBudgetLedger(t testing.TB, cfg *config.Config) *budget.SQLiteLedger {
	t.Helper()
	ledger, err := budget.OpenSQLiteLedger(cfg)
	if err != nil {
		t.Fatalf("open budget ledger: %v", err)
	}
	t.Cleanup(func() {
		if err := ledger.Close(); err != nil {
			t.Errorf("close budget ledger: %v", err)
		}
	})
	return ledger
}

// MustOpenQueueStore opens the offline submission queue store and closes it on cleanup.
func MustOpenQueueStore(t testing.TB, cfg *config.Config) *offline.Store {
	t.Helper()
	store, err := offline.Open(cfg)
	if err != nil {
		t.Fatalf("open offline store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close offline store: %v", err)
		}
	})
	return store
}

// MustOpenSessionStore opens the session store and closes it on cleanup.
func MustOpenSessionStore(t testing.TB, cfg *config.Config) *session.Store {
	t.Helper()
	store, err := session.OpenStore(cfg)
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close session store: %v", err)
		}
	})
	return store
}
