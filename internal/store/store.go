// Package store persists snapshots, strategy records, rankings, feedback,
// and the provider call log in SQLite. Strategy records are single-writer
// (the lock-holding orchestrator); rankings are append-only.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/melodydashora/vecto-pilot/internal/logging"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New initializes the SQLite database at the given path.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable sqlite foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("store initialized at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id TEXT PRIMARY KEY,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		formatted_address TEXT,
		city TEXT,
		state TEXT,
		timezone TEXT,
		day_part TEXT,
		weather TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS strategy_records (
		snapshot_id TEXT PRIMARY KEY REFERENCES snapshots(snapshot_id),
		status TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT '',
		phase_started_at DATETIME,
		expected_duration_ms INTEGER NOT NULL DEFAULT 0,
		strategist_output TEXT NOT NULL DEFAULT '',
		consolidated_output TEXT,
		degraded INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT,
		error_detail TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_strategy_status ON strategy_records(status);

	CREATE TABLE IF NOT EXISTS rankings (
		ranking_id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(snapshot_id),
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rankings_snapshot ON rankings(snapshot_id);

	CREATE TABLE IF NOT EXISTS ranking_candidates (
		ranking_id TEXT NOT NULL REFERENCES rankings(ranking_id),
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		distance_miles REAL NOT NULL,
		drive_minutes REAL NOT NULL,
		estimated_earnings REAL NOT NULL,
		value_per_min REAL NOT NULL,
		value_grade TEXT NOT NULL,
		is_open INTEGER NOT NULL,
		not_worth INTEGER NOT NULL DEFAULT 0,
		staging_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (ranking_id, position)
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ranking_id TEXT NOT NULL REFERENCES rankings(ranking_id),
		venue_name TEXT NOT NULL,
		up INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_ranking ON feedback(ranking_id);

	CREATE TABLE IF NOT EXISTS model_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		role TEXT NOT NULL,
		latency_ms INTEGER,
		tokens_in INTEGER,
		tokens_out INTEGER,
		success INTEGER NOT NULL,
		error_message TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_model_calls_role ON model_calls(role);
	CREATE INDEX IF NOT EXISTS idx_model_calls_created ON model_calls(created_at);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metric_type TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		value REAL NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_created ON metrics(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for collaborators that manage their own
// tables (the lock coordinator's lease table).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
