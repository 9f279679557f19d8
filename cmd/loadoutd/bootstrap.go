package main

import (
	"fmt"
	"log/slog"
	"strings"

	"loadout/internal/budget"
	"loadout/internal/config"
	"loadout/internal/connectivity"
	"loadout/internal/daemon"
	"loadout/internal/logging"
	"loadout/internal/notifications"
	"loadout/internal/offline"
	"loadout/internal/persist"
	"loadout/internal/session"
)

// bootstrap assembles the daemon's dependency graph from configuration. The
// returned closer tears down everything the daemon does not own itself.
func bootstrap(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, func(), error) {
	sessions, err := session.OpenStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}

	queue, err := offline.Open(cfg)
	if err != nil {
		_ = sessions.Close()
		return nil, nil, fmt.Errorf("open offline queue: %w", err)
	}

	ledger, closeLedger, err := buildLedger(cfg)
	if err != nil {
		_ = queue.Close()
		_ = sessions.Close()
		return nil, nil, err
	}

	guard, err := budget.NewGuard(ledger, cfg.Budget.DailyCostCapCents, cfg.Budget.DailyRequestCap)
	if err != nil {
		closeLedger()
		_ = queue.Close()
		_ = sessions.Close()
		return nil, nil, fmt.Errorf("build budget guard: %w", err)
	}

	monitor := connectivity.NewMonitor(logger)
	notifier := notifications.NewService(cfg)

	var syncer *offline.Syncer
	if backend := buildBackend(cfg); backend != nil {
		syncer = offline.NewSyncer(queue, offline.BackendSubmitter{Backend: backend}, monitor, cfg.Queue, logger)
	} else {
		logger.Info("no backend endpoint configured, queue sync disabled")
	}

	d, err := daemon.New(daemon.Deps{
		Config:   cfg,
		Sessions: sessions,
		Queue:    queue,
		Guard:    guard,
		Syncer:   syncer,
		Monitor:  monitor,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		closeLedger()
		_ = queue.Close()
		_ = sessions.Close()
		return nil, nil, fmt.Errorf("create daemon: %w", err)
	}

	closer := func() {
		closeLedger()
		if err := d.Close(); err != nil {
			logger.Warn("close daemon", logging.Error(err))
		}
	}
	return d, closer, nil
}

// buildLedger selects the budget ledger backend: Redis when an address is
// configured so a fleet shares one budget, local SQLite otherwise.
func buildLedger(cfg *config.Config) (budget.Ledger, func(), error) {
	if strings.TrimSpace(cfg.Budget.RedisAddr) != "" {
		ledger, err := budget.NewRedisLedger(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis ledger: %w", err)
		}
		return ledger, func() { _ = ledger.Close() }, nil
	}
	ledger, err := budget.OpenSQLiteLedger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	return ledger, func() { _ = ledger.Close() }, nil
}

func buildBackend(cfg *config.Config) persist.Backend {
	if backend := persist.NewHTTPBackend(cfg.Backend); backend != nil {
		return backend
	}
	return nil
}
