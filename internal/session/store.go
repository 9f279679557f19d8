package session

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
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    job_id           TEXT NOT NULL,
    status           TEXT NOT NULL,
    started_at       TEXT NOT NULL,
    last_active_at   TEXT NOT NULL,
    latitude         REAL NOT NULL DEFAULT 0,
    longitude        REAL NOT NULL DEFAULT 0,
    accuracy_meters  REAL NOT NULL DEFAULT 0,
    verified_json    TEXT,
    confidence_json  TEXT,
    containers_json  TEXT,
    active_container TEXT,
    frames_processed INTEGER NOT NULL DEFAULT 0,
    items_verified   INTEGER NOT NULL DEFAULT 0,
    local_retries    INTEGER NOT NULL DEFAULT 0,
    battery_at_start REAL NOT NULL DEFAULT 0,
    network_class    TEXT NOT NULL DEFAULT 'offline'
);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant_job ON sessions (tenant_id, job_id, status);
`

// Store persists verification sessions in SQLite so interrupted loading
// episodes can be resumed across process restarts.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore initializes or connects to the session database.
func OpenStore(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "sessions.db")
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

	if _, err := db.Exec(sessionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the full session state.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}

	verifiedJSON, err := json.Marshal(sess.VerifiedItems())
	if err != nil {
		return fmt.Errorf("marshal verified set: %w", err)
	}
	confidenceJSON, err := json.Marshal(sess.itemConfidence)
	if err != nil {
		return fmt.Errorf("marshal confidence map: %w", err)
	}
	containersJSON, err := json.Marshal(sess.Containers)
	if err != nil {
		return fmt.Errorf("marshal containers: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (
            id, tenant_id, job_id, status, started_at, last_active_at,
            latitude, longitude, accuracy_meters,
            verified_json, confidence_json, containers_json, active_container,
            frames_processed, items_verified, local_retries,
            battery_at_start, network_class
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            last_active_at = excluded.last_active_at,
            latitude = excluded.latitude,
            longitude = excluded.longitude,
            accuracy_meters = excluded.accuracy_meters,
            verified_json = excluded.verified_json,
            confidence_json = excluded.confidence_json,
            containers_json = excluded.containers_json,
            active_container = excluded.active_container,
            frames_processed = excluded.frames_processed,
            items_verified = excluded.items_verified,
            local_retries = excluded.local_retries,
            network_class = excluded.network_class`,
		sess.ID,
		sess.TenantID,
		sess.JobID,
		string(sess.Status),
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActiveAt.UTC().Format(time.RFC3339Nano),
		sess.LastLocation.Latitude,
		sess.LastLocation.Longitude,
		sess.LastLocation.AccuracyMeters,
		string(verifiedJSON),
		string(confidenceJSON),
		string(containersJSON),
		sess.ActiveContainerID,
		sess.TotalFramesProcessed,
		sess.TotalItemsVerified,
		sess.LocalRetryCount,
		sess.BatteryAtStart,
		string(sess.NetworkClass),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetByID fetches a session by identifier. Returns nil when not found.
func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// FindActive returns the most recently active session for a tenant and job,
// or nil when none exists.
func (s *Store) FindActive(ctx context.Context, tenantID, jobID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
         WHERE tenant_id = ? AND job_id = ? AND status = ?
         ORDER BY last_active_at DESC LIMIT 1`,
		tenantID, jobID, StatusActive,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return sess, nil
}

// MarkStatus transitions a stored session's lifecycle state.
func (s *Store) MarkStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, last_active_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("mark session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// ActiveCount returns the number of active sessions for a tenant.
func (s *Store) ActiveCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE tenant_id = ? AND status = ?`,
		tenantID, StatusActive,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

const sessionColumns = `id, tenant_id, job_id, status, started_at, last_active_at,
    latitude, longitude, accuracy_meters,
    verified_json, confidence_json, containers_json, active_container,
    frames_processed, items_verified, local_retries, battery_at_start, network_class`

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		sess           Session
		statusStr      string
		startedRaw     string
		lastActiveRaw  string
		verifiedRaw    sql.NullString
		confidenceRaw  sql.NullString
		containersRaw  sql.NullString
		activeRaw      sql.NullString
		networkClass   string
	)

	if err := scanner.Scan(
		&sess.ID,
		&sess.TenantID,
		&sess.JobID,
		&statusStr,
		&startedRaw,
		&lastActiveRaw,
		&sess.LastLocation.Latitude,
		&sess.LastLocation.Longitude,
		&sess.LastLocation.AccuracyMeters,
		&verifiedRaw,
		&confidenceRaw,
		&containersRaw,
		&activeRaw,
		&sess.TotalFramesProcessed,
		&sess.TotalItemsVerified,
		&sess.LocalRetryCount,
		&sess.BatteryAtStart,
		&networkClass,
	); err != nil {
		return nil, err
	}

	sess.Status = Status(statusStr)
	sess.NetworkClass = detection.NetworkClass(networkClass)
	sess.ActiveContainerID = activeRaw.String

	if started, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		sess.StartedAt = started
	}
	if lastActive, err := time.Parse(time.RFC3339Nano, lastActiveRaw); err == nil {
		sess.LastActiveAt = lastActive
	}

	sess.verified = make(map[string]struct{})
	if verifiedRaw.Valid && verifiedRaw.String != "" {
		var ids []string
		if err := json.Unmarshal([]byte(verifiedRaw.String), &ids); err != nil {
			return nil, fmt.Errorf("decode verified set: %w", err)
		}
		for _, id := range ids {
			sess.verified[id] = struct{}{}
		}
	}

	sess.itemConfidence = make(map[string]float64)
	if confidenceRaw.Valid && confidenceRaw.String != "" {
		if err := json.Unmarshal([]byte(confidenceRaw.String), &sess.itemConfidence); err != nil {
			return nil, fmt.Errorf("decode confidence map: %w", err)
		}
	}

	sess.Containers = make(map[string]detection.DetectedContainer)
	if containersRaw.Valid && containersRaw.String != "" {
		if err := json.Unmarshal([]byte(containersRaw.String), &sess.Containers); err != nil {
			return nil, fmt.Errorf("decode containers: %w", err)
		}
	}

	return &sess, nil
}
