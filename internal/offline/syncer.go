package offline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"loadout/internal/config"
	"loadout/internal/connectivity"
	"loadout/internal/logging"
	"loadout/internal/metrics"
	"loadout/internal/persist"
)

// Sync outcome status values.
const (
	OutcomeSynced     = "synced"
	OutcomeRetryLater = "retry_scheduled"
	OutcomeDeadLetter = "dead_lettered"
)

// Submitter delivers one queued entry to the remote backend.
type Submitter interface {
	Submit(ctx context.Context, entry Entry) error
}

// BackendSubmitter adapts a verification backend into a Submitter. Entries
// queued before completion carry no record; a minimal one is built from the
// entry itself so nothing is dropped silently.
type BackendSubmitter struct {
	Backend persist.Backend
}

func (b BackendSubmitter) Submit(ctx context.Context, entry Entry) error {
	record := entry.Record
	if record == nil {
		record = &persist.VerificationRecord{
			TenantID:    entry.TenantID,
			JobID:       entry.JobID,
			SessionID:   entry.SessionID,
			CompletedAt: entry.EnqueuedAt,
			FinalImage:  entry.Image,
		}
	}
	return b.Backend.SaveVerification(ctx, *record)
}

// Outcome reports how one entry fared during a sync pass.
type Outcome struct {
	EntryID int64
	Status  string
	Err     error
}

// Syncer drains the submission queue when connectivity returns. Each entry
// succeeds or fails independently; one pass runs at a time, and nothing here
// holds a lock across a network call, so enqueueing is never blocked.
type Syncer struct {
	store     *Store
	submitter Submitter
	monitor   *connectivity.Monitor
	timeout   time.Duration
	logger    *slog.Logger

	mu sync.Mutex

	// OnDeadLetter, when set, is invoked for every entry that exhausts its
	// attempts during a sync pass.
	OnDeadLetter func(Entry)
}

// NewSyncer builds a syncer over the queue store.
func NewSyncer(store *Store, submitter Submitter, monitor *connectivity.Monitor, cfg config.Queue, logger *slog.Logger) *Syncer {
	timeout := time.Duration(cfg.SyncTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Syncer{
		store:     store,
		submitter: submitter,
		monitor:   monitor,
		timeout:   timeout,
		logger:    logging.NewComponentLogger(logger, "syncer"),
	}
}

// Run blocks until ctx is done, launching a sync pass on every transition to
// online and once at startup if already online.
func (s *Syncer) Run(ctx context.Context) {
	events, cancel := s.monitor.Subscribe()
	defer cancel()

	if s.monitor.Online() {
		s.syncAndLog(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-events:
			if !ok {
				return
			}
			if state.Online {
				s.syncAndLog(ctx)
			}
		}
	}
}

func (s *Syncer) syncAndLog(ctx context.Context) {
	outcomes, err := s.Sync(ctx)
	if err != nil {
		s.logger.Error("sync pass failed", logging.Error(err))
		return
	}
	if len(outcomes) > 0 {
		s.logger.Info("sync pass finished", logging.Int("entries", len(outcomes)))
	}
}

// Sync attempts every pending entry once and returns a per-entry outcome.
func (s *Syncer) Sync(ctx context.Context) ([]Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.store.Pending(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(pending))
	for _, entry := range pending {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		outcomes = append(outcomes, s.syncOne(ctx, entry))
	}
	return outcomes, nil
}

func (s *Syncer) syncOne(ctx context.Context, entry Entry) Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.submitter.Submit(attemptCtx, entry); err != nil {
		dead, failErr := s.store.RecordFailure(ctx, entry.ID)
		if failErr != nil {
			s.logger.Error("failed to record sync failure",
				logging.Int64("entry_id", entry.ID), logging.Error(failErr))
			return Outcome{EntryID: entry.ID, Status: OutcomeRetryLater, Err: err}
		}
		if dead {
			metrics.QueueDeadLetters.Inc()
			s.logger.Warn("entry dead-lettered",
				logging.Int64("entry_id", entry.ID),
				logging.String(logging.FieldJobID, entry.JobID),
				logging.Int("attempts", entry.RetryCount+1),
				logging.Error(err),
			)
			if s.OnDeadLetter != nil {
				entry.RetryCount++
				entry.State = StateDead
				s.OnDeadLetter(entry)
			}
			return Outcome{EntryID: entry.ID, Status: OutcomeDeadLetter, Err: err}
		}
		return Outcome{EntryID: entry.ID, Status: OutcomeRetryLater, Err: err}
	}

	if err := s.store.Remove(ctx, entry.ID); err != nil {
		s.logger.Error("failed to remove synced entry",
			logging.Int64("entry_id", entry.ID), logging.Error(err))
	}
	return Outcome{EntryID: entry.ID, Status: OutcomeSynced}
}
