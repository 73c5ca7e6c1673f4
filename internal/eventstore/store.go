// Package eventstore keeps a local SQLite timeline of what the voice runtime
// heard and did, one run per process start, plus the persisted preference
// flags.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-robin/internal/config"
	_ "modernc.org/sqlite"
)

// Timeline event types written by the voice runtime.
const (
	TypeCommand          = "voice.command"
	TypeQuestion         = "voice.question"
	TypeDropped          = "voice.dropped"
	TypeRecognizerError  = "voice.recognizer_error"
	TypeSessionState     = "voice.session_state"
	TypeMicrophone       = "voice.microphone"
	TypeDetectionTick    = "detection.tick"
	TypePreferenceChange = "prefs.changed"
)

// Event is one recorded timeline entry. Payload holds JSON.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE runs (
    run_id     TEXT PRIMARY KEY,
    runtime    TEXT NOT NULL,
    started_at INTEGER NOT NULL
);
CREATE TABLE events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    payload    TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX idx_events_run ON events(run_id, created_at, id);`,
	`CREATE TABLE preferences (
    name       TEXT PRIMARY KEY,
    value      INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);`,
}

// Store is the SQLite-backed timeline. In ephemeral mode it has no database
// and every write is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open creates or upgrades the database at cfg.Path and applies retention.
// Session mode forgets earlier runs on open; persistent mode keeps them
// subject to RetentionDays and MaxRuns.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	s := &Store{cfg: cfg, log: log.With(slog.String("component", "eventstore")), clock: time.Now}
	if cfg.RetentionMode == "ephemeral" {
		return s, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(2000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the per-connection pragmas and serializes writers.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.RetentionMode == "session" {
		// Session retention keeps only the current run's timeline.
		if _, err := db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
			db.Close()
			return nil, fmt.Errorf("clear previous runs: %w", err)
		}
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Warn("vacuum failed", slogError(err))
		}
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warn("prune on open failed", slogError(err))
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("schema migrated", slog.Int("version", i+1))
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) stamp(t time.Time) int64 {
	if t.IsZero() {
		t = s.clock()
	}
	return t.UnixNano()
}

// BeginRun registers a run so its events can be listed and pruned together.
func (s *Store) BeginRun(ctx context.Context, runID, runtime string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, runtime, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET runtime = excluded.runtime`,
		runID, runtime, s.stamp(time.Time{}))
	return err
}

// Append marshals payload and records it under runID.
func (s *Store) Append(ctx context.Context, runID, eventType string, payload any) error {
	return s.appendAt(ctx, runID, eventType, payload, time.Time{})
}

func (s *Store) appendAt(ctx context.Context, runID, eventType string, payload any, at time.Time) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(run_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		runID, eventType, string(data), s.stamp(at))
	return err
}

// ListRunEvents returns up to limit events of a run, oldest first.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, payload, created_at FROM events
		 WHERE run_id = ? ORDER BY created_at, id LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       = Event{RunID: runID}
			payload sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &payload, &created); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByType tallies a run's events per type.
func (s *Store) CountByType(ctx context.Context, runID string) (map[string]int, error) {
	counts := make(map[string]int)
	if s.db == nil {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events WHERE run_id = ? GROUP BY event_type`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// LoadPreferences returns every persisted preference flag.
func (s *Store) LoadPreferences(ctx context.Context) (map[string]bool, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			name  string
			value int
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value != 0
	}
	return out, rows.Err()
}

// SavePreference upserts one preference flag. Preferences survive pruning.
func (s *Store) SavePreference(ctx context.Context, name string, value bool) error {
	if s.db == nil {
		return nil
	}
	flag := 0
	if value {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences(name, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, flag, s.stamp(time.Time{}))
	return err
}

// Prune drops runs older than RetentionDays and all but the newest MaxRuns
// runs. Events go with their run.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if days := s.cfg.RetentionDays; days > 0 {
		cutoff := s.clock().Add(-time.Duration(days) * 24 * time.Hour).UnixNano()
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM runs WHERE run_id IN (
				SELECT run_id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?
			)`, s.cfg.MaxRuns); err != nil {
			return err
		}
	}
	return tx.Commit()
}
