// Package pipeline drives the strategy waterfall for one snapshot: the
// strategist narrative first, research alongside it, consolidation and block
// ranking after. Exactly one orchestrator runs per snapshot at a time,
// guarded by a store-backed lease, and every run converges to a terminal
// status within the overall ceiling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/melodydashora/vecto-pilot/internal/config"
	"github.com/melodydashora/vecto-pilot/internal/lock"
	"github.com/melodydashora/vecto-pilot/internal/logging"
	"github.com/melodydashora/vecto-pilot/internal/notify"
	"github.com/melodydashora/vecto-pilot/internal/provider"
	"github.com/melodydashora/vecto-pilot/internal/ranking"
	"github.com/melodydashora/vecto-pilot/internal/snapshot"
	"github.com/melodydashora/vecto-pilot/internal/store"
)

// Orchestrator owns pipeline runs. Submit is the only entry point; the store
// is the only authority clients read results from.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	locks    *lock.Coordinator
	hub      *notify.Hub
	adapters *provider.Adapters
	engine   *ranking.Engine

	wg sync.WaitGroup
}

// New wires an orchestrator over its collaborators.
func New(cfg *config.Config, st *store.Store, locks *lock.Coordinator, hub *notify.Hub, adapters *provider.Adapters, engine *ranking.Engine) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		locks:    locks,
		hub:      hub,
		adapters: adapters,
		engine:   engine,
	}
}

// Submit starts a pipeline run for a snapshot if one is not already running
// or finished. Returns started=false (with no error) when the snapshot is
// already in flight or settled; the caller polls for the outcome either way.
func (o *Orchestrator) Submit(ctx context.Context, snapshotID string) (started bool, err error) {
	snap, err := o.store.GetSnapshot(snapshotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrSnapshotUnknown, snapshotID)
		}
		return false, err
	}
	if err := snap.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}

	rec, err := o.store.GetStrategyRecord(snapshotID)
	switch {
	case err == nil:
		if rec.Status != store.StatusPending {
			// Running or settled. Nothing to start.
			return false, nil
		}
	case errors.Is(err, store.ErrNotFound):
		if cerr := o.store.CreateStrategyRecord(snapshotID); cerr != nil {
			return false, cerr
		}
	default:
		return false, err
	}

	lease, ok, err := o.locks.TryAcquire(ctx, snapshotID)
	if err != nil {
		return false, err
	}
	if !ok {
		// Another orchestrator holds the snapshot. Not an error.
		return false, nil
	}

	o.wg.Add(1)
	go o.run(snap, lease)
	return true, nil
}

// Wait blocks until all in-flight runs have settled. For shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runState is shared between the run loop and the consolidator goroutine.
type runState struct {
	mu                sync.Mutex
	blocksDone        bool
	strategyPublished bool
	consolidated      *string
	degraded          bool
	degradeDetail     string
}

// run executes the full waterfall. Every exit path releases the lease and
// leaves the record in a terminal status.
func (o *Orchestrator) run(snap *snapshot.Snapshot, lease *lock.Lease) {
	defer o.wg.Done()
	defer lease.Release()

	runCtx, cancel := context.WithTimeout(context.Background(), o.cfg.GetOverallCeiling())
	defer cancel()

	start := time.Now()
	logging.Pipeline("run start snapshot=%s ceiling=%v", snap.ID, o.cfg.GetOverallCeiling())

	if err := o.store.SetRunning(snap.ID); err != nil {
		logging.PipelineError("snapshot=%s could not enter running: %v", snap.ID, err)
		return
	}

	o.setPhase(snap.ID, PhaseResolving)
	o.setPhase(snap.ID, PhaseAnalyzing)

	// Research runs alongside the strategist; its output feeds consolidation
	// and its failure only degrades the final narrative.
	researchCh := make(chan string, 1)
	go func() {
		res, err := o.adapters.Researcher.Invoke(runCtx, researcherSystem, buildResearcherPrompt(snap))
		o.logCall(o.adapters.Researcher, res, err)
		if err != nil {
			logging.Pipeline("snapshot=%s research unavailable: %v", snap.ID, err)
			researchCh <- ""
			return
		}
		researchCh <- res.Text
	}()

	o.setPhase(snap.ID, PhaseImmediate)
	stratRes, err := o.adapters.Strategist.Invoke(runCtx, strategistSystem, buildStrategistPrompt(snap))
	o.logCall(o.adapters.Strategist, stratRes, err)
	if err != nil {
		// No narrative means nothing to serve. Terminal failure.
		kind, detail := o.classify(runCtx, err)
		o.fail(snap.ID, kind, detail)
		return
	}
	if serr := o.store.SetStrategistOutput(snap.ID, stratRes.Text); serr != nil {
		logging.PipelineError("snapshot=%s store strategist output: %v", snap.ID, serr)
	}

	st := &runState{}
	consolidatorDone := make(chan struct{})
	go o.consolidate(runCtx, snap, stratRes.Text, researchCh, st, consolidatorDone)

	// Block ranking runs in the foreground while consolidation verifies.
	o.setPhase(snap.ID, PhaseVenues)
	rankRec, rankErr := o.engine.Rank(runCtx, snap.ID, snap.Latitude, snap.Longitude)
	o.setPhase(snap.ID, PhaseRouting)
	o.setPhase(snap.ID, PhasePlaces)
	if rankErr != nil {
		// Blocks are an enrichment over the narrative; the run continues.
		logging.PipelineError("snapshot=%s ranking failed: %v", snap.ID, rankErr)
	} else if serr := o.store.SaveRanking(rankRec); serr != nil {
		logging.PipelineError("snapshot=%s save ranking: %v", snap.ID, serr)
	} else {
		o.hub.Publish(notify.Event{
			Class:      notify.ClassBlocksReady,
			SnapshotID: snap.ID,
			RankingID:  rankRec.RankingID,
		})
	}
	st.mu.Lock()
	st.blocksDone = true
	stillVerifying := st.consolidated == nil && !st.degraded
	st.mu.Unlock()

	if stillVerifying {
		o.setPhase(snap.ID, PhaseVerifying)
	}
	select {
	case <-consolidatorDone:
	case <-runCtx.Done():
		<-consolidatorDone // consolidator inherits runCtx; it settles promptly
	}

	o.setPhase(snap.ID, PhaseEnriching)
	o.setPhase(snap.ID, PhaseComplete)

	st.mu.Lock()
	consolidated := st.consolidated
	degraded := st.degraded
	detail := st.degradeDetail
	published := st.strategyPublished
	st.mu.Unlock()

	if err := o.store.SetOK(snap.ID, consolidated, degraded, detail); err != nil {
		logging.PipelineError("snapshot=%s could not settle ok: %v", snap.ID, err)
		return
	}
	if !published {
		o.hub.Publish(notify.Event{
			Class:      notify.ClassStrategyReady,
			SnapshotID: snap.ID,
			Status:     string(store.StatusOK),
			Degraded:   degraded,
		})
	}
	_ = o.store.LogMetric("pipeline", "run_ms", float64(time.Since(start).Milliseconds()))
	logging.Pipeline("run settled snapshot=%s status=ok degraded=%v elapsed=%v", snap.ID, degraded, time.Since(start).Round(time.Millisecond))
}

// consolidate waits for research, merges it with the immediate narrative, and
// either promotes the record to pending_blocks (when ranking is still
// running) or stashes the result for the final settle.
func (o *Orchestrator) consolidate(runCtx context.Context, snap *snapshot.Snapshot, narrative string, researchCh <-chan string, st *runState, done chan<- struct{}) {
	defer close(done)

	var research string
	select {
	case research = <-researchCh:
	case <-runCtx.Done():
	}

	res, err := o.adapters.Consolidator.Invoke(runCtx, consolidatorSystem, buildConsolidatorPrompt(snap, narrative, research))
	o.logCall(o.adapters.Consolidator, res, err)
	if err == nil && wordCount(res.Text) < o.cfg.Pipeline.MinNarrative {
		err = fmt.Errorf("consolidated narrative too short (%d words)", wordCount(res.Text))
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		// The immediate narrative still serves. Degrade, never fail.
		st.degraded = true
		st.degradeDetail = err.Error()
		logging.Pipeline("snapshot=%s consolidation degraded: %v", snap.ID, err)
		return
	}
	text := res.Text
	st.consolidated = &text
	if st.blocksDone {
		return
	}
	if perr := o.store.SetPendingBlocks(snap.ID, &text, false); perr != nil {
		logging.PipelineError("snapshot=%s pending_blocks: %v", snap.ID, perr)
		return
	}
	st.strategyPublished = true
	o.hub.Publish(notify.Event{
		Class:      notify.ClassStrategyReady,
		SnapshotID: snap.ID,
		Status:     string(store.StatusPendingBlocks),
	})
}

// setPhase advances the phase script and fans the change out. A rejected
// phase write means the record already settled; the run loop notices on its
// next status write.
func (o *Orchestrator) setPhase(snapshotID string, phase Phase) {
	expected := expectedDuration(phase)
	if err := o.store.SetPhase(snapshotID, string(phase), expected); err != nil {
		logging.PipelineDebug("snapshot=%s phase %s not recorded: %v", snapshotID, phase, err)
		return
	}
	o.hub.Publish(notify.Event{
		Class:              notify.ClassPhaseChange,
		SnapshotID:         snapshotID,
		Phase:              string(phase),
		PhaseStartedAt:     time.Now().UTC(),
		ExpectedDurationMs: expected.Milliseconds(),
	})
}

// fail settles a run as failed and wakes any push listeners.
func (o *Orchestrator) fail(snapshotID string, kind store.ErrorKind, detail string) {
	if err := o.store.SetFailed(snapshotID, kind, detail); err != nil {
		logging.PipelineError("snapshot=%s could not settle failed: %v", snapshotID, err)
		return
	}
	o.hub.Publish(notify.Event{
		Class:      notify.ClassStrategyReady,
		SnapshotID: snapshotID,
		Status:     string(store.StatusFailed),
	})
}

// classify maps a stage error to its record kind. Ceiling expiry outranks the
// stage's own classification.
func (o *Orchestrator) classify(runCtx context.Context, err error) (store.ErrorKind, string) {
	if runCtx.Err() == context.DeadlineExceeded {
		return store.ErrKindPipelineTimeout, fmt.Sprintf("overall ceiling %v exceeded", o.cfg.GetOverallCeiling())
	}
	if provider.IsTimeout(err) {
		return store.ErrKindProviderTimeout, err.Error()
	}
	return store.ErrKindProviderError, err.Error()
}

// logCall records one provider invocation in the call log and latency
// metrics. Best effort.
func (o *Orchestrator) logCall(a *provider.Adapter, res *provider.Result, err error) {
	call := &store.ModelCall{
		Provider: a.Provider(),
		Model:    a.Model(),
		Role:     string(a.Role()),
		Success:  err == nil,
	}
	if res != nil {
		call.LatencyMs = res.LatencyMs
		call.TokensIn = res.TokensIn
		call.TokensOut = res.TokensOut
	}
	if err != nil {
		call.ErrorMsg = err.Error()
	}
	if lerr := o.store.LogModelCall(call); lerr != nil {
		logging.StoreDebug("model call log failed: %v", lerr)
		return
	}
	if res != nil {
		_ = o.store.LogMetric("latency", string(a.Role())+"_ms", float64(res.LatencyMs))
	}
}
