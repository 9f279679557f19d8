package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"loadout/internal/config"
	"loadout/internal/detection"
	"loadout/internal/metrics"
	"loadout/internal/persist"
)

// State is a queue entry's lifecycle state.
type State string

const (
	// StatePending entries are waiting for the next sync pass.
	StatePending State = "pending"
	// StateDead entries exhausted their sync attempts and need operator
	// attention; they are kept, not dropped.
	StateDead State = "dead"
)

// Entry is one pending offline submission.
type Entry struct {
	ID            int64
	TenantID      string
	JobID         string
	KitID         string
	SessionID     string
	Image         []byte
	ExpectedItems []detection.ChecklistItem
	Record        *persist.VerificationRecord
	EnqueuedAt    time.Time
	RetryCount    int
	State         State
}

// EnqueueResult reports the assigned identifier and, when the queue was at
// capacity, the oldest entry that was evicted to make room. Evictions are
// never silent.
type EnqueueResult struct {
	ID      int64
	Evicted *Entry
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS submissions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id     TEXT NOT NULL,
    job_id        TEXT NOT NULL,
    kit_id        TEXT,
    session_id    TEXT,
    image         BLOB,
    expected_json TEXT,
    record_json   TEXT,
    enqueued_at   TEXT NOT NULL,
    retry_count   INTEGER NOT NULL DEFAULT 0,
    state         TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_submissions_state ON submissions (state, id);
`

// Store is the durable bounded submission queue. Enqueue and sync-side
// operations are independent short transactions so a draining sync never
// blocks new submissions.
type Store struct {
	db          *sql.DB
	capacity    int
	maxAttempts int
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "queue.db")
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

	if _, err := db.Exec(queueSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	capacity := cfg.Queue.SubmissionCapacity
	if capacity <= 0 {
		capacity = 200
	}
	maxAttempts := cfg.Queue.MaxSyncAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Store{db: db, capacity: capacity, maxAttempts: maxAttempts}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Capacity returns the configured pending-entry ceiling.
func (s *Store) Capacity() int {
	return s.capacity
}

// Enqueue appends an entry, evicting the oldest pending entry first when the
// queue is full. The evicted entry is returned to the caller.
func (s *Store) Enqueue(ctx context.Context, entry Entry) (EnqueueResult, error) {
	var result EnqueueResult
	if entry.TenantID == "" {
		return result, errors.New("enqueue: tenant id required")
	}

	expectedJSON, err := json.Marshal(entry.ExpectedItems)
	if err != nil {
		return result, fmt.Errorf("enqueue: marshal expected items: %w", err)
	}
	var recordJSON []byte
	if entry.Record != nil {
		recordJSON, err = json.Marshal(entry.Record)
		if err != nil {
			return result, fmt.Errorf("enqueue: marshal record: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("enqueue: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM submissions WHERE state = ?`, StatePending,
	).Scan(&pending); err != nil {
		return result, fmt.Errorf("enqueue: count pending: %w", err)
	}

	if pending >= s.capacity {
		row := tx.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM submissions WHERE state = ? ORDER BY id ASC LIMIT 1`,
			StatePending,
		)
		evicted, scanErr := scanEntry(row)
		if scanErr != nil {
			return result, fmt.Errorf("enqueue: load eviction candidate: %w", scanErr)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, evicted.ID); err != nil {
			return result, fmt.Errorf("enqueue: evict oldest: %w", err)
		}
		result.Evicted = evicted
	}

	enqueuedAt := entry.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO submissions (tenant_id, job_id, kit_id, session_id, image, expected_json, record_json, enqueued_at, retry_count, state)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		entry.TenantID, entry.JobID, entry.KitID, entry.SessionID,
		entry.Image, string(expectedJSON), nullableString(recordJSON),
		enqueuedAt.Format(time.RFC3339Nano), StatePending,
	)
	if err != nil {
		return result, fmt.Errorf("enqueue: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return result, fmt.Errorf("enqueue: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("enqueue: commit: %w", err)
	}
	if result.Evicted != nil {
		metrics.QueueEvictions.Inc()
	}
	result.ID = id
	return result, nil
}

// Pending returns queued entries in enqueue order.
func (s *Store) Pending(ctx context.Context) ([]Entry, error) {
	return s.listByState(ctx, StatePending)
}

// Dead returns dead-lettered entries in enqueue order.
func (s *Store) Dead(ctx context.Context) ([]Entry, error) {
	return s.listByState(ctx, StateDead)
}

func (s *Store) listByState(ctx context.Context, state State) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM submissions WHERE state = ? ORDER BY id ASC`, state,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s entries: %w", state, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Remove deletes an entry after a successful sync.
func (s *Store) Remove(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove entry %d: %w", id, err)
	}
	return nil
}

// RecordFailure increments an entry's retry count, moving it to the dead
// state once the attempt ceiling is reached. Returns true when the entry was
// dead-lettered by this call.
func (s *Store) RecordFailure(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("record failure: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var retries int
	if err := tx.QueryRowContext(ctx,
		`SELECT retry_count FROM submissions WHERE id = ?`, id,
	).Scan(&retries); err != nil {
		return false, fmt.Errorf("record failure: load entry %d: %w", id, err)
	}

	retries++
	state := StatePending
	if retries >= s.maxAttempts {
		state = StateDead
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions SET retry_count = ?, state = ? WHERE id = ?`,
		retries, state, id,
	); err != nil {
		return false, fmt.Errorf("record failure: update entry %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("record failure: commit: %w", err)
	}
	return state == StateDead, nil
}

// RetryDead moves every dead-lettered entry back to pending with a fresh
// retry count. Returns the number of entries revived.
func (s *Store) RetryDead(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET state = ?, retry_count = 0 WHERE state = ?`,
		StatePending, StateDead,
	)
	if err != nil {
		return 0, fmt.Errorf("retry dead entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retry dead entries: rows affected: %w", err)
	}
	return affected, nil
}

// Clear deletes every entry regardless of state. Returns the number of
// entries removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submissions`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear queue: rows affected: %w", err)
	}
	return affected, nil
}

// Counts returns the pending and dead entry counts.
func (s *Store) Counts(ctx context.Context) (pending, dead int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(1) FROM submissions GROUP BY state`)
	if err != nil {
		return 0, 0, fmt.Errorf("count entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return 0, 0, fmt.Errorf("scan count: %w", err)
		}
		switch State(state) {
		case StatePending:
			pending = count
		case StateDead:
			dead = count
		}
	}
	return pending, dead, rows.Err()
}

const entryColumns = `id, tenant_id, job_id, kit_id, session_id, image, expected_json, record_json, enqueued_at, retry_count, state`

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry       Entry
		kitID       sql.NullString
		sessionID   sql.NullString
		expectedRaw sql.NullString
		recordRaw   sql.NullString
		enqueuedRaw string
		stateStr    string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.JobID,
		&kitID,
		&sessionID,
		&entry.Image,
		&expectedRaw,
		&recordRaw,
		&enqueuedRaw,
		&entry.RetryCount,
		&stateStr,
	); err != nil {
		return nil, err
	}
	entry.KitID = kitID.String
	entry.SessionID = sessionID.String
	entry.State = State(stateStr)
	if enqueued, err := time.Parse(time.RFC3339Nano, enqueuedRaw); err == nil {
		entry.EnqueuedAt = enqueued
	}
	if expectedRaw.Valid && expectedRaw.String != "" {
		if err := json.Unmarshal([]byte(expectedRaw.String), &entry.ExpectedItems); err != nil {
			return nil, fmt.Errorf("decode expected items: %w", err)
		}
	}
	if recordRaw.Valid && recordRaw.String != "" {
		var record persist.VerificationRecord
		if err := json.Unmarshal([]byte(recordRaw.String), &record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		entry.Record = &record
	}
	return &entry, nil
}

func nullableString(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
