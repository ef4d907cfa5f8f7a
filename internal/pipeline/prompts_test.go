package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melodydashora/vecto-pilot/internal/snapshot"
)

func promptSnapshot() *snapshot.Snapshot {
	snap := snapshot.New(32.9, -96.8)
	snap.FormattedAddress = "123 Main St, Dallas, TX"
	snap.City = "Dallas"
	snap.State = "TX"
	snap.DayPart = "evening"
	snap.Weather = "clear, 78F"
	return snap
}

func TestStrategistPromptCarriesContext(t *testing.T) {
	p := buildStrategistPrompt(promptSnapshot())
	assert.Contains(t, p, "123 Main St, Dallas, TX")
	assert.Contains(t, p, "evening")
	assert.Contains(t, p, "clear, 78F")
	assert.Contains(t, p, "32.90000")
}

func TestStrategistPromptHandlesSparseSnapshot(t *testing.T) {
	p := buildStrategistPrompt(snapshot.New(32.9, -96.8))
	assert.Contains(t, p, "Unknown")
	assert.NotContains(t, p, "%!")
}

func TestConsolidatorPromptMergesInputs(t *testing.T) {
	p := buildConsolidatorPrompt(promptSnapshot(), "stage at the airport", "arena event at nine")
	assert.Contains(t, p, "stage at the airport")
	assert.Contains(t, p, "arena event at nine")

	t.Run("missing research is flagged", func(t *testing.T) {
		p := buildConsolidatorPrompt(promptSnapshot(), "stage at the airport", "   ")
		assert.Contains(t, p, "research unavailable")
	})
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, wordCount(""))
	assert.Equal(t, 0, wordCount("   \n\t"))
	assert.Equal(t, 5, wordCount("one two  three\nfour\tfive"))
}
