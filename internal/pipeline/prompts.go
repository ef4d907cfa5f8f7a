package pipeline

import (
	"fmt"
	"strings"

	"github.com/melodydashora/vecto-pilot/internal/snapshot"
)

const strategistSystem = "You are a rideshare strategy expert analyzing current market conditions for a driver. Be concrete and actionable."

const researcherSystem = "You are a factual research assistant. Report only verifiable current conditions: weather, traffic, events, airport activity. No speculation."

const consolidatorSystem = "You are a senior rideshare strategist. Merge the immediate analysis with the researched facts into one coherent, verified strategy. Correct anything the research contradicts."

// buildStrategistPrompt asks for the fast immediate narrative.
func buildStrategistPrompt(snap *snapshot.Snapshot) string {
	var b strings.Builder
	b.WriteString("DRIVER CONTEXT:\n")
	fmt.Fprintf(&b, "- Location: %s\n", orUnknown(snap.FormattedAddress))
	fmt.Fprintf(&b, "- GPS: %.5f, %.5f\n", snap.Latitude, snap.Longitude)
	fmt.Fprintf(&b, "- City: %s, %s (%s)\n", orUnknown(snap.City), snap.State, orUnknown(snap.Timezone))
	fmt.Fprintf(&b, "- Time of day: %s\n", orUnknown(snap.DayPart))
	fmt.Fprintf(&b, "- Weather: %s\n", orUnknown(snap.Weather))
	b.WriteString(`
TASK:
Analyze current market conditions and give strategic guidance for maximizing earnings right now.

Include:
1. Market overview (demand patterns, surge likelihood)
2. Strategic insights (which areas are hot and why, timing)
3. Pro tips (specific actionable advice)
4. Hourly earnings estimate for these conditions

Write 200-300 words of actionable strategic analysis.`)
	return b.String()
}

// buildResearcherPrompt gathers factual context concurrently with the
// strategist.
func buildResearcherPrompt(snap *snapshot.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s (%.5f, %.5f), local time-of-day: %s.\n",
		orUnknown(snap.FormattedAddress), snap.Latitude, snap.Longitude, orUnknown(snap.DayPart))
	b.WriteString(`
Report current conditions relevant to rideshare demand near this location:
- Weather and any active alerts
- Traffic conditions and road closures
- Scheduled events (sports, concerts, conventions) in the next 6 hours
- Airport arrival/departure volume if an airport is within 30 minutes

Short factual bullets only.`)
	return b.String()
}

// buildConsolidatorPrompt merges the immediate narrative with research.
func buildConsolidatorPrompt(snap *snapshot.Snapshot, narrative, research string) string {
	var b strings.Builder
	b.WriteString("IMMEDIATE ANALYSIS:\n")
	b.WriteString(narrative)
	b.WriteString("\n\nRESEARCHED FACTS:\n")
	if strings.TrimSpace(research) == "" {
		b.WriteString("(research unavailable for this run)\n")
	} else {
		b.WriteString(research)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nDRIVER LOCATION: %s (%.5f, %.5f)\n", orUnknown(snap.FormattedAddress), snap.Latitude, snap.Longitude)
	b.WriteString(`
TASK:
Produce the final consolidated strategy. Keep everything from the immediate
analysis that the research supports, correct what it contradicts, and fold in
any event or condition the research surfaced. Keep the same structure and
length (200-300 words). Do not invent venues.`)
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

// wordCount counts whitespace-separated words.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
