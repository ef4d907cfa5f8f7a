package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/melodydashora/vecto-pilot/internal/idempotency"
	"github.com/melodydashora/vecto-pilot/internal/notify"
	"github.com/melodydashora/vecto-pilot/internal/pipeline"
	"github.com/melodydashora/vecto-pilot/internal/snapshot"
	"github.com/melodydashora/vecto-pilot/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    s.cfg.Name,
		"version": s.cfg.Version,
	})
}

// handleSnapshot registers one immutable location snapshot. The client may
// mint its own UUID; missing fields that the server can derive are filled.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap snapshot.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot body: "+err.Error())
		return
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.DayPart == "" {
		snap.DayPart = snapshot.DayPartFor(snap.CreatedAt)
	}
	if err := snap.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveSnapshot(&snap); err != nil {
		writeError(w, http.StatusConflict, "snapshot already exists or could not be saved")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"snapshot_id": snap.ID})
}

type generateRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

type generateResponse struct {
	SnapshotID   string          `json:"snapshot_id"`
	Status       string          `json:"status"`
	Started      bool            `json:"started"`
	Deduplicated bool            `json:"deduplicated"`
	PollHints    hints           `json:"poll"`
	Strategy     *statusResponse `json:"strategy,omitempty"` // present once the run settled
}

type hints struct {
	InitialMs  int64   `json:"initial_ms"`
	MaxMs      int64   `json:"max_ms"`
	Multiplier float64 `json:"multiplier"`
}

func (s *Server) pollHints() hints {
	return hints{
		InitialMs:  s.cfg.GetPollInitial().Milliseconds(),
		MaxMs:      s.cfg.GetPollMax().Milliseconds(),
		Multiplier: s.cfg.Sync.PollMultiplier,
	}
}

// handleGenerate kicks off a pipeline run. The Idempotency-Key header is
// mandatory: retries of the same submission share one execution and one
// cached response instead of spawning runs.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Idempotency-Key")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header required")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SnapshotID == "" {
		writeError(w, http.StatusBadRequest, "body must carry snapshot_id")
		return
	}

	key := idempotency.Key("strategy/generate", req.SnapshotID, token)
	result, outcome, err := s.gate.Admit(key, func() (interface{}, error) {
		started, err := s.orch.Submit(r.Context(), req.SnapshotID)
		if err != nil {
			return nil, err
		}
		return started, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSnapshotUnknown):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, pipeline.ErrSnapshotInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	started, _ := result.(bool)
	resp := generateResponse{
		SnapshotID:   req.SnapshotID,
		Started:      started,
		Deduplicated: outcome == idempotency.Duplicate,
		PollHints:    s.pollHints(),
	}
	if rec, rerr := s.store.GetStrategyRecord(req.SnapshotID); rerr == nil {
		resp.Status = string(rec.Status)
		// A settled snapshot gets its full payload back immediately; there
		// is nothing left to poll for.
		if rec.Status.Terminal() {
			status := s.statusFor(rec)
			resp.Strategy = &status
		}
	}
	code := http.StatusOK
	if started && outcome == idempotency.FirstRequest {
		code = http.StatusAccepted
	}
	writeJSON(w, code, resp)
}

type statusResponse struct {
	SnapshotID         string                  `json:"snapshot_id"`
	Status             string                  `json:"status"`
	Phase              string                  `json:"phase,omitempty"`
	PhaseStartedAt     *time.Time              `json:"phase_started_at,omitempty"`
	PhaseElapsedMs     int64                   `json:"phase_elapsed_ms,omitempty"`
	ExpectedDurationMs int64                   `json:"expected_duration_ms,omitempty"`
	WaitFor            []string                `json:"wait_for,omitempty"`
	Narrative          string                  `json:"narrative,omitempty"`
	Degraded           bool                    `json:"degraded,omitempty"`
	ErrorKind          string                  `json:"error_kind,omitempty"`
	ErrorDetail        string                  `json:"error_detail,omitempty"`
	RankingID          string                  `json:"ranking_id,omitempty"`
	Blocks             []store.RankedCandidate `json:"blocks,omitempty"`
	PollHints          hints                   `json:"poll"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

// handleStatus is the poll side of client sync: the full record plus the
// latest ranking, self-describing enough that a client needs no push events.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetStrategyRecord(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no strategy record for snapshot")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.statusFor(rec))
}

// statusFor projects a strategy record into the poll payload.
func (s *Server) statusFor(rec *store.StrategyRecord) statusResponse {
	resp := statusResponse{
		SnapshotID:         rec.SnapshotID,
		Status:             string(rec.Status),
		Phase:              rec.Phase,
		ExpectedDurationMs: rec.ExpectedDurationMs,
		Degraded:           rec.Degraded,
		PollHints:          s.pollHints(),
		UpdatedAt:          rec.UpdatedAt,
	}
	if !rec.PhaseStartedAt.IsZero() {
		t := rec.PhaseStartedAt
		resp.PhaseStartedAt = &t
		resp.PhaseElapsedMs = time.Since(t).Milliseconds()
	}
	// The consolidated narrative wins; a degraded run serves the immediate
	// one.
	if rec.ConsolidatedOutput != nil {
		resp.Narrative = *rec.ConsolidatedOutput
	} else {
		resp.Narrative = rec.StrategistOutput
	}
	if rec.ErrorKind != nil {
		resp.ErrorKind = string(*rec.ErrorKind)
	}
	if rec.ErrorDetail != nil {
		resp.ErrorDetail = *rec.ErrorDetail
	}
	if ranking, err := s.store.LatestRankingForSnapshot(rec.SnapshotID); err == nil {
		resp.RankingID = ranking.RankingID
		resp.Blocks = ranking.Blocks
	}
	switch rec.Status {
	case store.StatusPending, store.StatusRunning:
		resp.WaitFor = []string{string(notify.ClassStrategyReady), string(notify.ClassBlocksReady)}
	case store.StatusPendingBlocks:
		resp.WaitFor = []string{string(notify.ClassBlocksReady)}
	}
	return resp
}

type feedbackRequest struct {
	RankingID string `json:"ranking_id"`
	VenueName string `json:"venue_name"`
	Up        bool   `json:"up"`
}

// handleFeedback records a thumbs vote against one ranking row.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RankingID == "" || req.VenueName == "" {
		writeError(w, http.StatusBadRequest, "body must carry ranking_id and venue_name")
		return
	}
	if _, err := s.store.GetRanking(req.RankingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown ranking")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	fb := &store.Feedback{
		RankingID: req.RankingID,
		VenueName: req.VenueName,
		Up:        req.Up,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveFeedback(fb); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handlePerformance aggregates the model call log per role over a window.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	perf, err := s.store.PerformanceMetrics(role, hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, perf)
}
