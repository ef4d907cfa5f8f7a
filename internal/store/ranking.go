package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/melodydashora/vecto-pilot/internal/logging"
)

// SaveRanking appends one immutable ranking record with its ordered candidate
// rows in a single transaction. Rows are never updated after creation.
func (s *Store) SaveRanking(rec *RankingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO rankings (ranking_id, snapshot_id, created_at) VALUES (?, ?, ?)`,
		rec.RankingID, rec.SnapshotID, rec.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert ranking: %w", err)
	}

	for _, c := range rec.Blocks {
		if _, err := tx.Exec(`
			INSERT INTO ranking_candidates
			(ranking_id, position, name, latitude, longitude, distance_miles, drive_minutes,
			 estimated_earnings, value_per_min, value_grade, is_open, not_worth, staging_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RankingID, c.Position, c.Name, c.Latitude, c.Longitude, c.DistanceMiles, c.DriveMinutes,
			c.EstimatedEarnings, c.ValuePerMin, c.ValueGrade, c.IsOpen, c.NotWorth, c.StagingReason); err != nil {
			return fmt.Errorf("failed to insert ranking candidate %d: %w", c.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ranking: %w", err)
	}
	logging.Store("ranking %s saved for snapshot=%s blocks=%d", rec.RankingID, rec.SnapshotID, len(rec.Blocks))
	return nil
}

// GetRanking loads one ranking with its ordered candidates.
func (s *Store) GetRanking(rankingID string) (*RankingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec RankingRecord
	err := s.db.QueryRow(`
		SELECT ranking_id, snapshot_id, created_at FROM rankings WHERE ranking_id = ?`,
		rankingID).Scan(&rec.RankingID, &rec.SnapshotID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking: %w", err)
	}

	blocks, err := s.loadCandidates(rec.RankingID)
	if err != nil {
		return nil, err
	}
	rec.Blocks = blocks
	return &rec, nil
}

// LatestRankingForSnapshot loads the most recent ranking run for a snapshot.
func (s *Store) LatestRankingForSnapshot(snapshotID string) (*RankingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec RankingRecord
	err := s.db.QueryRow(`
		SELECT ranking_id, snapshot_id, created_at FROM rankings
		WHERE snapshot_id = ? ORDER BY created_at DESC, ranking_id DESC LIMIT 1`,
		snapshotID).Scan(&rec.RankingID, &rec.SnapshotID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest ranking: %w", err)
	}

	blocks, err := s.loadCandidates(rec.RankingID)
	if err != nil {
		return nil, err
	}
	rec.Blocks = blocks
	return &rec, nil
}

func (s *Store) loadCandidates(rankingID string) ([]RankedCandidate, error) {
	rows, err := s.db.Query(`
		SELECT position, name, latitude, longitude, distance_miles, drive_minutes,
		       estimated_earnings, value_per_min, value_grade, is_open, not_worth, staging_reason
		FROM ranking_candidates WHERE ranking_id = ? ORDER BY position`, rankingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking candidates: %w", err)
	}
	defer rows.Close()

	var out []RankedCandidate
	for rows.Next() {
		var c RankedCandidate
		if err := rows.Scan(&c.Position, &c.Name, &c.Latitude, &c.Longitude, &c.DistanceMiles,
			&c.DriveMinutes, &c.EstimatedEarnings, &c.ValuePerMin, &c.ValueGrade,
			&c.IsOpen, &c.NotWorth, &c.StagingReason); err != nil {
			return nil, fmt.Errorf("failed to scan ranking candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveFeedback records a thumbs vote against a ranking row.
func (s *Store) SaveFeedback(fb *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO feedback (ranking_id, venue_name, up, created_at) VALUES (?, ?, ?, ?)`,
		fb.RankingID, fb.VenueName, fb.Up, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// FeedbackForRanking lists votes for one ranking run.
func (s *Store) FeedbackForRanking(rankingID string) ([]Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT ranking_id, venue_name, up, created_at FROM feedback
		WHERE ranking_id = ? ORDER BY created_at`, rankingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var fb Feedback
		if err := rows.Scan(&fb.RankingID, &fb.VenueName, &fb.Up, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}
