package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melodydashora/vecto-pilot/internal/snapshot"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSnapshot(t *testing.T, s *Store) *snapshot.Snapshot {
	t.Helper()
	snap := snapshot.New(32.9, -96.8)
	snap.City = "Dallas"
	snap.State = "TX"
	require.NoError(t, s.SaveSnapshot(snap))
	return snap
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	snap := newTestSnapshot(t, s)

	got, err := s.GetSnapshot(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, "Dallas", got.City)
	assert.InDelta(t, 32.9, got.Latitude, 1e-9)

	t.Run("duplicate insert rejected", func(t *testing.T) {
		assert.Error(t, s.SaveSnapshot(snap))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.GetSnapshot("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStatusTransitions(t *testing.T) {
	t.Run("partial order", func(t *testing.T) {
		assert.True(t, StatusPending.CanTransition(StatusRunning))
		assert.True(t, StatusRunning.CanTransition(StatusPendingBlocks))
		assert.True(t, StatusRunning.CanTransition(StatusOK))
		assert.True(t, StatusRunning.CanTransition(StatusFailed))
		assert.True(t, StatusPendingBlocks.CanTransition(StatusOK))
		assert.True(t, StatusPendingBlocks.CanTransition(StatusFailed))
	})

	t.Run("no regression", func(t *testing.T) {
		assert.False(t, StatusRunning.CanTransition(StatusPending))
		assert.False(t, StatusPendingBlocks.CanTransition(StatusRunning))
	})

	t.Run("terminal is final", func(t *testing.T) {
		assert.False(t, StatusOK.CanTransition(StatusFailed))
		assert.False(t, StatusFailed.CanTransition(StatusOK))
		assert.False(t, StatusOK.CanTransition(StatusRunning))
	})
}

func TestStrategyRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	snap := newTestSnapshot(t, s)

	require.NoError(t, s.CreateStrategyRecord(snap.ID))

	rec, err := s.GetStrategyRecord(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, s.SetRunning(snap.ID))
	require.NoError(t, s.SetPhase(snap.ID, "immediate", 15*time.Second))
	require.NoError(t, s.SetStrategistOutput(snap.ID, "stage left at the airport"))

	narrative := "full consolidated strategy"
	require.NoError(t, s.SetPendingBlocks(snap.ID, &narrative, false))

	t.Run("phase writes survive pending_blocks", func(t *testing.T) {
		require.NoError(t, s.SetPhase(snap.ID, "enriching", 30*time.Second))
	})

	require.NoError(t, s.SetOK(snap.ID, &narrative, false, ""))

	rec, err = s.GetStrategyRecord(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, rec.Status)
	require.NotNil(t, rec.ConsolidatedOutput)
	assert.Equal(t, narrative, *rec.ConsolidatedOutput)
	assert.Equal(t, "stage left at the airport", rec.StrategistOutput)
	assert.False(t, rec.Degraded)

	t.Run("terminal rejects further writes", func(t *testing.T) {
		assert.ErrorIs(t, s.SetFailed(snap.ID, ErrKindProviderError, "late"), ErrInvalidTransition)
		assert.ErrorIs(t, s.SetOK(snap.ID, nil, false, ""), ErrInvalidTransition)
		assert.ErrorIs(t, s.SetPhase(snap.ID, "complete", 0), ErrInvalidTransition)
	})
}

func TestDegradedSettle(t *testing.T) {
	s := newTestStore(t)
	snap := newTestSnapshot(t, s)

	require.NoError(t, s.CreateStrategyRecord(snap.ID))
	require.NoError(t, s.SetRunning(snap.ID))
	require.NoError(t, s.SetStrategistOutput(snap.ID, "immediate narrative"))
	require.NoError(t, s.SetOK(snap.ID, nil, true, "consolidator: provider call timed out"))

	rec, err := s.GetStrategyRecord(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, rec.Status)
	assert.True(t, rec.Degraded)
	assert.Nil(t, rec.ConsolidatedOutput)
	require.NotNil(t, rec.ErrorKind)
	assert.Equal(t, ErrKindPartialDegradation, *rec.ErrorKind)
}

func TestFailedSettle(t *testing.T) {
	s := newTestStore(t)
	snap := newTestSnapshot(t, s)

	require.NoError(t, s.CreateStrategyRecord(snap.ID))
	require.NoError(t, s.SetRunning(snap.ID))
	require.NoError(t, s.SetFailed(snap.ID, ErrKindProviderTimeout, "strategist budget exceeded"))

	rec, err := s.GetStrategyRecord(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorKind)
	assert.Equal(t, ErrKindProviderTimeout, *rec.ErrorKind)
}

func TestRankingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	snap := newTestSnapshot(t, s)

	rec := &RankingRecord{
		RankingID:  "rank-1",
		SnapshotID: snap.ID,
		CreatedAt:  time.Now().UTC(),
		Blocks: []RankedCandidate{
			{Position: 1, Name: "DFW Terminal C", DriveMinutes: 12, EstimatedEarnings: 32, ValuePerMin: 2.67, ValueGrade: "A", IsOpen: true},
			{Position: 2, Name: "Legacy West", DriveMinutes: 8, EstimatedEarnings: 9.6, ValuePerMin: 1.2, ValueGrade: "B", IsOpen: true},
			{Position: 3, Name: "Strip Mall", DriveMinutes: 6, EstimatedEarnings: 1.2, ValuePerMin: 0.2, ValueGrade: "none", IsOpen: true, NotWorth: true},
		},
	}
	require.NoError(t, s.SaveRanking(rec))

	got, err := s.GetRanking("rank-1")
	require.NoError(t, err)
	require.Len(t, got.Blocks, 3)
	assert.Equal(t, "DFW Terminal C", got.Blocks[0].Name)
	assert.Equal(t, "A", got.Blocks[0].ValueGrade)
	assert.False(t, got.Blocks[0].NotWorth)
	assert.True(t, got.Blocks[2].NotWorth, "flag survives the round trip")

	t.Run("latest ranking wins", func(t *testing.T) {
		later := &RankingRecord{
			RankingID:  "rank-2",
			SnapshotID: snap.ID,
			CreatedAt:  time.Now().UTC().Add(time.Second),
			Blocks:     []RankedCandidate{{Position: 1, Name: "Deep Ellum", ValueGrade: "B"}},
		}
		require.NoError(t, s.SaveRanking(later))

		latest, err := s.LatestRankingForSnapshot(snap.ID)
		require.NoError(t, err)
		assert.Equal(t, "rank-2", latest.RankingID)
	})

	t.Run("unknown ranking", func(t *testing.T) {
		_, err := s.GetRanking("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFeedback(t *testing.T) {
	s := newTestStore(t)
	snap := newTestSnapshot(t, s)
	require.NoError(t, s.SaveRanking(&RankingRecord{
		RankingID:  "rank-1",
		SnapshotID: snap.ID,
		CreatedAt:  time.Now().UTC(),
		Blocks:     []RankedCandidate{{Position: 1, Name: "Deep Ellum", ValueGrade: "B"}},
	}))

	require.NoError(t, s.SaveFeedback(&Feedback{RankingID: "rank-1", VenueName: "Deep Ellum", Up: true, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.SaveFeedback(&Feedback{RankingID: "rank-1", VenueName: "Deep Ellum", Up: false, CreatedAt: time.Now().UTC()}))

	votes, err := s.FeedbackForRanking("rank-1")
	require.NoError(t, err)
	assert.Len(t, votes, 2)
}

func TestModelCallAggregation(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.LogModelCall(&ModelCall{Provider: "anthropic", Model: "m", Role: "strategist", LatencyMs: 1200, Success: true}))
	require.NoError(t, s.LogModelCall(&ModelCall{Provider: "anthropic", Model: "m", Role: "strategist", LatencyMs: 1800, Success: true}))
	require.NoError(t, s.LogModelCall(&ModelCall{Provider: "anthropic", Model: "m", Role: "strategist", LatencyMs: 15000, Success: false, ErrorMsg: "timeout"}))
	require.NoError(t, s.LogModelCall(&ModelCall{Provider: "openai", Model: "m2", Role: "consolidator", LatencyMs: 60000, Success: true}))

	t.Run("per role", func(t *testing.T) {
		perf, err := s.PerformanceMetrics("strategist", 24)
		require.NoError(t, err)
		assert.Equal(t, 3, perf.TotalCalls)
		assert.Equal(t, 2, perf.SuccessCalls)
		assert.InDelta(t, 2.0/3.0, perf.SuccessRate, 1e-9)
		assert.Equal(t, int64(15000), perf.MaxLatencyMs)
	})

	t.Run("all roles", func(t *testing.T) {
		perf, err := s.PerformanceMetrics("", 24)
		require.NoError(t, err)
		assert.Equal(t, 4, perf.TotalCalls)
	})
}
