package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/melodydashora/vecto-pilot/internal/logging"
	"github.com/melodydashora/vecto-pilot/internal/snapshot"
)

// ErrNotFound is returned when no record exists for a snapshot id.
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a status write would regress the
// state machine or touch a terminal record.
var ErrInvalidTransition = errors.New("invalid status transition")

// SaveSnapshot inserts an immutable snapshot row. Inserting the same id
// twice is an error: snapshots are never mutated.
func (s *Store) SaveSnapshot(snap *snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO snapshots (snapshot_id, latitude, longitude, formatted_address, city, state, timezone, day_part, weather, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Latitude, snap.Longitude, snap.FormattedAddress, snap.City, snap.State,
		snap.Timezone, snap.DayPart, snap.Weather, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads a snapshot by id.
func (s *Store) GetSnapshot(id string) (*snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap snapshot.Snapshot
	err := s.db.QueryRow(`
		SELECT snapshot_id, latitude, longitude, formatted_address, city, state, timezone, day_part, weather, created_at
		FROM snapshots WHERE snapshot_id = ?`, id).Scan(
		&snap.ID, &snap.Latitude, &snap.Longitude, &snap.FormattedAddress, &snap.City, &snap.State,
		&snap.Timezone, &snap.DayPart, &snap.Weather, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snap, nil
}

// CreateStrategyRecord inserts the pending record for a snapshot. At most one
// record ever exists per snapshot id; a second create is an error.
func (s *Store) CreateStrategyRecord(snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO strategy_records (snapshot_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		snapshotID, StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("failed to create strategy record: %w", err)
	}
	logging.Store("strategy record created snapshot=%s status=%s", snapshotID, StatusPending)
	return nil
}

// GetStrategyRecord loads the record for a snapshot.
func (s *Store) GetStrategyRecord(snapshotID string) (*StrategyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getStrategyRecord(snapshotID)
}

func (s *Store) getStrategyRecord(snapshotID string) (*StrategyRecord, error) {
	var (
		rec          StrategyRecord
		phaseStarted sql.NullTime
		consolidated sql.NullString
		errKind      sql.NullString
		errDetail    sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT snapshot_id, status, phase, phase_started_at, expected_duration_ms,
		       strategist_output, consolidated_output, degraded, error_kind, error_detail,
		       created_at, updated_at
		FROM strategy_records WHERE snapshot_id = ?`, snapshotID).Scan(
		&rec.SnapshotID, &rec.Status, &rec.Phase, &phaseStarted, &rec.ExpectedDurationMs,
		&rec.StrategistOutput, &consolidated, &rec.Degraded, &errKind, &errDetail,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy record: %w", err)
	}
	if phaseStarted.Valid {
		rec.PhaseStartedAt = phaseStarted.Time
	}
	if consolidated.Valid {
		rec.ConsolidatedOutput = &consolidated.String
	}
	if errKind.Valid {
		kind := ErrorKind(errKind.String)
		rec.ErrorKind = &kind
	}
	if errDetail.Valid {
		rec.ErrorDetail = &errDetail.String
	}
	return &rec, nil
}

// SetRunning advances pending -> running. Only the lock holder calls this.
func (s *Store) SetRunning(snapshotID string) error {
	return s.transition(snapshotID, StatusRunning, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.Exec(`
			UPDATE strategy_records SET status = ?, updated_at = ? WHERE snapshot_id = ?`,
			StatusRunning, now, snapshotID)
		return err
	})
}

// SetPhase records the current sub-stage with its expected duration so
// clients can render progress without per-phase polling.
func (s *Store) SetPhase(snapshotID, phase string, expectedDuration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE strategy_records
		SET phase = ?, phase_started_at = ?, expected_duration_ms = ?, updated_at = ?
		WHERE snapshot_id = ? AND status IN (?, ?)`,
		phase, now, expectedDuration.Milliseconds(), now, snapshotID, StatusRunning, StatusPendingBlocks)
	if err != nil {
		return fmt.Errorf("failed to set phase: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("set phase %q: %w", phase, ErrInvalidTransition)
	}
	logging.StoreDebug("phase snapshot=%s phase=%s expected=%dms", snapshotID, phase, expectedDuration.Milliseconds())
	return nil
}

// SetStrategistOutput stores the immediate narrative while the run continues.
func (s *Store) SetStrategistOutput(snapshotID, narrative string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE strategy_records SET strategist_output = ?, updated_at = ?
		WHERE snapshot_id = ? AND status = ?`,
		narrative, time.Now().UTC(), snapshotID, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to store strategist output: %w", err)
	}
	return nil
}

// SetPendingBlocks marks the narrative ready while ranking is still running.
func (s *Store) SetPendingBlocks(snapshotID string, consolidated *string, degraded bool) error {
	return s.transition(snapshotID, StatusPendingBlocks, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.Exec(`
			UPDATE strategy_records
			SET status = ?, consolidated_output = ?, degraded = ?, updated_at = ?
			WHERE snapshot_id = ?`,
			StatusPendingBlocks, consolidated, degraded, now, snapshotID)
		return err
	})
}

// SetOK finalizes a successful run. Degraded runs carry the partial
// degradation kind as a warning tag alongside status ok.
func (s *Store) SetOK(snapshotID string, consolidated *string, degraded bool, detail string) error {
	return s.transition(snapshotID, StatusOK, func(tx *sql.Tx, now time.Time) error {
		var kind interface{}
		var det interface{}
		if degraded {
			kind = string(ErrKindPartialDegradation)
			det = detail
		}
		_, err := tx.Exec(`
			UPDATE strategy_records
			SET status = ?, consolidated_output = ?, degraded = ?, error_kind = ?, error_detail = ?, updated_at = ?
			WHERE snapshot_id = ?`,
			StatusOK, consolidated, degraded, kind, det, now, snapshotID)
		return err
	})
}

// SetFailed finalizes a failed run with its error kind.
func (s *Store) SetFailed(snapshotID string, kind ErrorKind, detail string) error {
	return s.transition(snapshotID, StatusFailed, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.Exec(`
			UPDATE strategy_records
			SET status = ?, error_kind = ?, error_detail = ?, updated_at = ?
			WHERE snapshot_id = ?`,
			StatusFailed, string(kind), detail, now, snapshotID)
		return err
	})
}

// transition applies a status write inside a transaction with the
// monotonicity guard: the current status is re-read under the tx and the
// write is rejected unless the partial order allows it. Terminal states are
// written exactly once.
func (s *Store) transition(snapshotID string, next Status, write func(tx *sql.Tx, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current Status
	err = tx.QueryRow(`SELECT status FROM strategy_records WHERE snapshot_id = ?`, snapshotID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current status: %w", err)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", current, next, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	if err := write(tx, now); err != nil {
		return fmt.Errorf("failed to write transition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	logging.Store("status snapshot=%s %s -> %s", snapshotID, current, next)
	return nil
}
