// Package candidates defines the venue candidate source contract. The live
// places catalog is an external collaborator; the pipeline only depends on
// this interface.
package candidates

import (
	"context"
)

// Band is a drive-time band in minutes. The ranking engine queries the
// narrow band first and widens only when it must.
type Band struct {
	MinMinutes int
	MaxMinutes int
}

// Contains reports whether a drive time falls inside the band.
func (b Band) Contains(driveMinutes float64) bool {
	return driveMinutes >= float64(b.MinMinutes) && driveMinutes <= float64(b.MaxMinutes)
}

// Candidate is a raw venue candidate with distance and open-hours metadata.
type Candidate struct {
	Name              string  `json:"name"`
	Category          string  `json:"category,omitempty"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	DistanceMiles     float64 `json:"distance_miles"`
	DriveMinutes      float64 `json:"drive_minutes"`
	EstimatedEarnings float64 `json:"estimated_earnings"` // expected $ from staging here
	IsOpen            bool    `json:"is_open"`
	BusinessHours     string  `json:"business_hours,omitempty"`
	StagingReason     string  `json:"staging_reason,omitempty"` // why a closed venue still matters (event, queue staging)
}

// Source returns raw venue candidates around a coordinate within a band.
type Source interface {
	LookupCandidates(ctx context.Context, lat, lng float64, band Band) ([]Candidate, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, lat, lng float64, band Band) ([]Candidate, error)

// LookupCandidates calls the wrapped function.
func (f SourceFunc) LookupCandidates(ctx context.Context, lat, lng float64, band Band) ([]Candidate, error) {
	return f(ctx, lat, lng, band)
}
