package candidates

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StaticSource serves candidates from a local catalog file. Used in
// development and tests when no live places backend is wired.
type StaticSource struct {
	venues []catalogVenue
}

type catalogVenue struct {
	Name              string  `yaml:"name"`
	Category          string  `yaml:"category"`
	Latitude          float64 `yaml:"latitude"`
	Longitude         float64 `yaml:"longitude"`
	EstimatedEarnings float64 `yaml:"estimated_earnings"`
	IsOpen            bool    `yaml:"is_open"`
	BusinessHours     string  `yaml:"business_hours"`
	StagingReason     string  `yaml:"staging_reason"`
}

// NewStaticSource loads a YAML catalog from disk.
func NewStaticSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var venues []catalogVenue
	if err := yaml.Unmarshal(data, &venues); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &StaticSource{venues: venues}, nil
}

// averageCitySpeedMph turns straight-line distance into a rough drive time.
const averageCitySpeedMph = 24.0

// LookupCandidates returns catalog venues whose estimated drive time falls
// inside the band, nearest first.
func (s *StaticSource) LookupCandidates(_ context.Context, lat, lng float64, band Band) ([]Candidate, error) {
	var out []Candidate
	for _, v := range s.venues {
		miles := haversineMiles(lat, lng, v.Latitude, v.Longitude)
		driveMin := miles / averageCitySpeedMph * 60
		if !band.Contains(driveMin) {
			continue
		}
		out = append(out, Candidate{
			Name:              v.Name,
			Category:          v.Category,
			Latitude:          v.Latitude,
			Longitude:         v.Longitude,
			DistanceMiles:     round1(miles),
			DriveMinutes:      round1(driveMin),
			EstimatedEarnings: v.EstimatedEarnings,
			IsOpen:            v.IsOpen,
			BusinessHours:     v.BusinessHours,
			StagingReason:     v.StagingReason,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriveMinutes < out[j].DriveMinutes })
	return out, nil
}

// haversineMiles computes great-circle distance between two coordinates.
func haversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusMiles = 3958.8
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
