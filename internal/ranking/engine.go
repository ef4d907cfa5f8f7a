// Package ranking turns raw venue candidates into a graded, deterministically
// ordered block list. Grading is pure arithmetic over drive time and expected
// earnings; no model output ever reorders blocks.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/melodydashora/vecto-pilot/internal/candidates"
	"github.com/melodydashora/vecto-pilot/internal/config"
	"github.com/melodydashora/vecto-pilot/internal/logging"
	"github.com/melodydashora/vecto-pilot/internal/store"
)

// Engine ranks candidates for one snapshot.
type Engine struct {
	source candidates.Source
	cfg    config.RankingConfig
}

// NewEngine binds a candidate source to the ranking thresholds.
func NewEngine(source candidates.Source, cfg config.RankingConfig) *Engine {
	return &Engine{source: source, cfg: cfg}
}

// gradeRank orders grades best-first for sorting. Lower is better.
func gradeRank(grade string) int {
	switch grade {
	case "A":
		return 0
	case "B":
		return 1
	case "C":
		return 2
	default:
		return 3
	}
}

// grade buckets a $/min value.
func (e *Engine) grade(valuePerMin float64) string {
	switch {
	case valuePerMin >= e.cfg.GradeAMin:
		return "A"
	case valuePerMin >= e.cfg.GradeBMin:
		return "B"
	case valuePerMin >= e.cfg.GradeCMin:
		return "C"
	default:
		return "none"
	}
}

// qualify converts raw candidates into graded rows. Closed venues without a
// staging reason are dropped; rows at or under the not-worth floor are kept
// but flagged, so a thin market still shows the driver what exists nearby.
func (e *Engine) qualify(raw []candidates.Candidate) []store.RankedCandidate {
	out := make([]store.RankedCandidate, 0, len(raw))
	for _, c := range raw {
		if !c.IsOpen && strings.TrimSpace(c.StagingReason) == "" {
			continue
		}
		drive := c.DriveMinutes
		if drive < 1 {
			drive = 1
		}
		vpm := c.EstimatedEarnings / drive
		notWorth := vpm <= e.cfg.NotWorthMax
		if notWorth {
			logging.Ranking("flagged %q not worth: $%.2f/min under floor", c.Name, vpm)
		}
		out = append(out, store.RankedCandidate{
			Name:              c.Name,
			Latitude:          c.Latitude,
			Longitude:         c.Longitude,
			DistanceMiles:     c.DistanceMiles,
			DriveMinutes:      c.DriveMinutes,
			EstimatedEarnings: c.EstimatedEarnings,
			ValuePerMin:       vpm,
			ValueGrade:        e.grade(vpm),
			IsOpen:            c.IsOpen,
			NotWorth:          notWorth,
			StagingReason:     c.StagingReason,
		})
	}
	return out
}

// acceptable counts rows a driver would actually be sent to. Flagged rows do
// not satisfy a band.
func acceptable(rows []store.RankedCandidate) int {
	n := 0
	for _, r := range rows {
		if !r.NotWorth {
			n++
		}
	}
	return n
}

// order applies the deterministic total order: flagged rows last, then grade
// descending, then drive minutes ascending, then name ascending. Equal inputs
// always produce equal output, so a re-rank of the same snapshot is
// reproducible.
func order(rows []store.RankedCandidate) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].NotWorth != rows[j].NotWorth {
			return !rows[i].NotWorth
		}
		gi, gj := gradeRank(rows[i].ValueGrade), gradeRank(rows[j].ValueGrade)
		if gi != gj {
			return gi < gj
		}
		if rows[i].DriveMinutes != rows[j].DriveMinutes {
			return rows[i].DriveMinutes < rows[j].DriveMinutes
		}
		return rows[i].Name < rows[j].Name
	})
}

// Rank produces one immutable ranking record for a snapshot location. The
// narrow drive-time band is consulted first; the wide band is queried only
// when the narrow band alone cannot fill the target count.
func (e *Engine) Rank(ctx context.Context, snapshotID string, lat, lng float64) (*store.RankingRecord, error) {
	narrow := candidates.Band{MinMinutes: e.cfg.NarrowBandMin, MaxMinutes: e.cfg.NarrowBandMax}
	raw, err := e.source.LookupCandidates(ctx, lat, lng, narrow)
	if err != nil {
		return nil, fmt.Errorf("narrow band lookup: %w", err)
	}
	rows := e.qualify(raw)

	if acceptable(rows) < e.cfg.TargetBlocks {
		wide := candidates.Band{MinMinutes: e.cfg.WideBandMin, MaxMinutes: e.cfg.WideBandMax}
		wider, err := e.source.LookupCandidates(ctx, lat, lng, wide)
		if err != nil {
			// A wide-band failure never voids the narrow results.
			logging.Ranking("wide band lookup failed, keeping %d narrow blocks: %v", len(rows), err)
		} else {
			rows = append(rows, e.qualify(wider)...)
			logging.Ranking("widened search: %d blocks after wide band", len(rows))
		}
	}

	order(rows)
	if len(rows) > e.cfg.TargetBlocks {
		rows = rows[:e.cfg.TargetBlocks]
	}
	for i := range rows {
		rows[i].Position = i + 1
	}

	rec := &store.RankingRecord{
		RankingID:  uuid.NewString(),
		SnapshotID: snapshotID,
		Blocks:     rows,
		CreatedAt:  time.Now().UTC(),
	}
	logging.Ranking("ranked snapshot=%s ranking=%s blocks=%d", snapshotID, rec.RankingID, len(rows))
	return rec, nil
}
