package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/melodydashora/vecto-pilot/internal/candidates"
	"github.com/melodydashora/vecto-pilot/internal/config"
	"github.com/melodydashora/vecto-pilot/internal/lock"
	"github.com/melodydashora/vecto-pilot/internal/notify"
	"github.com/melodydashora/vecto-pilot/internal/pipeline"
	"github.com/melodydashora/vecto-pilot/internal/provider"
	"github.com/melodydashora/vecto-pilot/internal/ranking"
	"github.com/melodydashora/vecto-pilot/internal/store"
)

// cannedClient returns a fixed completion for every call.
type cannedClient struct {
	name string
	text string
}

func (c *cannedClient) Complete(_ context.Context, _, _ string) (*provider.Completion, error) {
	return &provider.Completion{Text: c.text, TokensIn: 10, TokensOut: 10}, nil
}
func (c *cannedClient) Provider() string { return c.name }
func (c *cannedClient) Model() string    { return "canned" }

type fixture struct {
	srv   *Server
	store *store.Store
	orch  *pipeline.Orchestrator
	hub   *notify.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	st, err := store.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	locks, err := lock.New(st.DB(), cfg.GetLockTTL(), cfg.GetLockHeartbeat())
	require.NoError(t, err)

	narrative := strings.TrimSpace(strings.Repeat("Hold position near the terminal and rotate to the district when arrivals slow down for the evening. ", 5))
	adapters := &provider.Adapters{
		Strategist:   provider.NewAdapter(provider.RoleStrategist, &cannedClient{name: "anthropic", text: "go to the airport"}, 2*time.Second),
		Researcher:   provider.NewAdapter(provider.RoleResearcher, &cannedClient{name: "gemini", text: "clear skies"}, 2*time.Second),
		Consolidator: provider.NewAdapter(provider.RoleConsolidator, &cannedClient{name: "openai", text: narrative}, 2*time.Second),
	}

	source := candidates.SourceFunc(func(_ context.Context, _, _ float64, band candidates.Band) ([]candidates.Candidate, error) {
		if band.MinMinutes > 0 {
			return nil, nil
		}
		return []candidates.Candidate{
			{Name: "DFW Terminal C", DriveMinutes: 12, EstimatedEarnings: 30, IsOpen: true},
		}, nil
	})

	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	orch := pipeline.New(cfg, st, locks, hub, adapters, ranking.NewEngine(source, cfg.Ranking))
	srv := New(cfg, st, orch, hub, zap.NewNop())
	t.Cleanup(func() { srv.gate.Close() })

	return &fixture{srv: srv, store: st, orch: orch, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) registerSnapshot(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/snapshot", map[string]interface{}{
		"latitude":  32.9,
		"longitude": -96.8,
		"city":      "Dallas",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["snapshot_id"])
	return resp["snapshot_id"]
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vecto-pilot")
}

func TestSnapshotIntake(t *testing.T) {
	f := newFixture(t)

	t.Run("valid snapshot accepted", func(t *testing.T) {
		id := f.registerSnapshot(t)
		assert.NotEmpty(t, id)
	})

	t.Run("latitude out of range rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/snapshot", map[string]interface{}{
			"latitude": 120.0, "longitude": -96.8,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/snapshot", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGenerateRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/strategy/generate", generateRequest{SnapshotID: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Idempotency-Key")
}

func TestGenerateUnknownSnapshot(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/strategy/generate",
		generateRequest{SnapshotID: "4f2f2e9c-0000-4000-8000-000000000000"},
		map[string]string{"Idempotency-Key": "tok-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateAndPollRoundTrip(t *testing.T) {
	f := newFixture(t)
	snapshotID := f.registerSnapshot(t)
	headers := map[string]string{"Idempotency-Key": "tok-1"}

	rec := f.do(t, http.MethodPost, "/api/strategy/generate", generateRequest{SnapshotID: snapshotID}, headers)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Started)
	assert.False(t, resp.Deduplicated)
	assert.Positive(t, resp.PollHints.InitialMs)

	t.Run("same key is deduplicated", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/strategy/generate", generateRequest{SnapshotID: snapshotID}, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		var dup generateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
		assert.True(t, dup.Deduplicated)
	})

	f.orch.Wait()

	t.Run("status reports the settled run", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/strategy/status/%s", snapshotID), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var status statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, string(store.StatusOK), status.Status)
		assert.NotEmpty(t, status.Narrative)
		assert.False(t, status.Degraded)
		require.NotEmpty(t, status.Blocks)
		assert.Equal(t, "DFW Terminal C", status.Blocks[0].Name)
		assert.NotEmpty(t, status.RankingID)
	})

	t.Run("retry after settle replays with the full payload", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/strategy/generate", generateRequest{SnapshotID: snapshotID}, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		var dup generateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
		assert.True(t, dup.Deduplicated)
		require.NotNil(t, dup.Strategy)
		assert.Equal(t, string(store.StatusOK), dup.Strategy.Status)
		assert.Empty(t, dup.Strategy.WaitFor)
	})

	t.Run("fresh key against a settled snapshot starts nothing", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/strategy/generate", generateRequest{SnapshotID: snapshotID},
			map[string]string{"Idempotency-Key": "tok-2"})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp generateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Started)
		require.NotNil(t, resp.Strategy)
		assert.NotEmpty(t, resp.Strategy.Narrative)
	})
}

func TestStatusUnknownSnapshot(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/strategy/status/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedback(t *testing.T) {
	f := newFixture(t)
	snapshotID := f.registerSnapshot(t)

	require.NoError(t, f.store.SaveRanking(&store.RankingRecord{
		RankingID:  "rank-1",
		SnapshotID: snapshotID,
		CreatedAt:  time.Now().UTC(),
		Blocks:     []store.RankedCandidate{{Position: 1, Name: "DFW Terminal C", ValueGrade: "A"}},
	}))

	t.Run("vote recorded", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/strategy/feedback",
			feedbackRequest{RankingID: "rank-1", VenueName: "DFW Terminal C", Up: true}, nil)
		assert.Equal(t, http.StatusCreated, rec.Code)

		votes, err := f.store.FeedbackForRanking("rank-1")
		require.NoError(t, err)
		require.Len(t, votes, 1)
		assert.True(t, votes[0].Up)
	})

	t.Run("unknown ranking rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/strategy/feedback",
			feedbackRequest{RankingID: "missing", VenueName: "X", Up: false}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("incomplete body rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/strategy/feedback", feedbackRequest{RankingID: "rank-1"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPerformance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.LogModelCall(&store.ModelCall{Provider: "anthropic", Model: "m", Role: "strategist", LatencyMs: 900, Success: true}))

	rec := f.do(t, http.MethodGet, "/api/strategy/performance?role=strategist&hours=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var perf store.RolePerformance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perf))
	assert.Equal(t, 1, perf.TotalCalls)

	t.Run("bad hours rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/strategy/performance?hours=zero", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
