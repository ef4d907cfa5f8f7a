// Package snapshot defines the immutable location-context record that anchors
// every pipeline run. A snapshot is captured once at client location fix and
// never mutated; a retry always means a brand new snapshot.
package snapshot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot is an immutable record of a driver's location context at a point
// in time. Downstream strategy and ranking records reference it by ID.
type Snapshot struct {
	ID               string    `json:"snapshot_id"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	FormattedAddress string    `json:"formatted_address,omitempty"`
	City             string    `json:"city,omitempty"`
	State            string    `json:"state,omitempty"`
	Timezone         string    `json:"timezone,omitempty"`
	DayPart          string    `json:"day_part,omitempty"` // morning/afternoon/evening/overnight
	Weather          string    `json:"weather,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// New creates a snapshot with a fresh ID and capture time.
func New(lat, lng float64) *Snapshot {
	return &Snapshot{
		ID:        uuid.NewString(),
		Latitude:  lat,
		Longitude: lng,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks that a snapshot is usable as a pipeline anchor.
func (s *Snapshot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("snapshot id required")
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		return fmt.Errorf("snapshot id must be a UUID: %w", err)
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %f", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %f", s.Longitude)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("snapshot created_at required")
	}
	return nil
}

// DayPartFor buckets a local time into the coarse label used in prompts.
func DayPartFor(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return "morning"
	case h >= 11 && h < 17:
		return "afternoon"
	case h >= 17 && h < 23:
		return "evening"
	default:
		return "overnight"
	}
}
