package pipeline

import "time"

// Phase labels the sub-stages of a running pipeline, in canonical order.
// Each carries an expected duration so clients can render progress bars
// without polling per phase.
type Phase string

const (
	PhaseResolving Phase = "resolving" // snapshot context resolution
	PhaseAnalyzing Phase = "analyzing" // prompt assembly
	PhaseImmediate Phase = "immediate" // strategist narrative (researcher runs alongside)
	PhaseVenues    Phase = "venues"    // candidate lookup
	PhaseRouting   Phase = "routing"   // drive-time valuation
	PhasePlaces    Phase = "places"    // open-hours filtering, block assembly
	PhaseVerifying Phase = "verifying" // consolidator merge
	PhaseEnriching Phase = "enriching" // final narrative assembly
	PhaseComplete  Phase = "complete"
)

// phaseTable is the canonical phase script. Expected durations are progress
// hints, not budgets; the real bounds are the stage timeouts and the overall
// ceiling.
var phaseTable = []struct {
	phase    Phase
	expected time.Duration
}{
	{PhaseResolving, 1 * time.Second},
	{PhaseAnalyzing, 2 * time.Second},
	{PhaseImmediate, 15 * time.Second},
	{PhaseVenues, 5 * time.Second},
	{PhaseRouting, 5 * time.Second},
	{PhasePlaces, 10 * time.Second},
	{PhaseVerifying, 90 * time.Second},
	{PhaseEnriching, 30 * time.Second},
	{PhaseComplete, 0},
}

// phaseIndex returns a phase's position in the canonical order, or -1.
func phaseIndex(p Phase) int {
	for i, row := range phaseTable {
		if row.phase == p {
			return i
		}
	}
	return -1
}

// expectedDuration returns the progress hint for a phase.
func expectedDuration(p Phase) time.Duration {
	if i := phaseIndex(p); i >= 0 {
		return phaseTable[i].expected
	}
	return 0
}
