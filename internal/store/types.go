package store

import (
	"time"
)

// Status represents the strategy record state machine.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusOK            Status = "ok"
	StatusPendingBlocks Status = "pending_blocks" // narrative ready, ranking still running
	StatusFailed        Status = "failed"
)

// rank orders statuses for the monotonicity guard. pending_blocks sits
// between running and ok: it may only advance to ok or failed.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusPendingBlocks:
		return 2
	case StatusOK, StatusFailed:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether the status is final and may never change.
func (s Status) Terminal() bool {
	return s == StatusOK || s == StatusFailed
}

// CanTransition reports whether moving from s to next respects the partial
// order pending < running < pending_blocks < {ok, failed}. Terminal states
// accept nothing; regression is never allowed.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// ErrorKind tags a strategy failure or degradation.
type ErrorKind string

const (
	ErrKindProviderTimeout    ErrorKind = "provider_timeout"
	ErrKindProviderError      ErrorKind = "provider_error"
	ErrKindValidation         ErrorKind = "validation_error"
	ErrKindPipelineTimeout    ErrorKind = "pipeline_timeout"
	ErrKindPartialDegradation ErrorKind = "partial_degradation" // warning, not a failure
)

// StrategyRecord is the persisted per-snapshot state machine instance.
// Exactly one row exists per snapshot id; only the lock-holding orchestrator
// writes it; terminal statuses are written once and never reset.
type StrategyRecord struct {
	SnapshotID         string
	Status             Status
	Phase              string
	PhaseStartedAt     time.Time
	ExpectedDurationMs int64
	StrategistOutput   string
	ConsolidatedOutput *string // nil until consolidation succeeds
	Degraded           bool
	ErrorKind          *ErrorKind
	ErrorDetail        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RankedCandidate is one ordered row of a ranking record.
type RankedCandidate struct {
	Position          int     `json:"position"`
	Name              string  `json:"name"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	DistanceMiles     float64 `json:"distance_miles"`
	DriveMinutes      float64 `json:"drive_minutes"`
	EstimatedEarnings float64 `json:"estimated_earnings"`
	ValuePerMin       float64 `json:"value_per_min"`
	ValueGrade        string  `json:"value_grade"` // A/B/C/none
	IsOpen            bool    `json:"is_open"`
	NotWorth          bool    `json:"not_worth"`
	StagingReason     string  `json:"staging_reason,omitempty"`
}

// RankingRecord is one immutable, append-only ranking run.
type RankingRecord struct {
	RankingID  string            `json:"ranking_id"`
	SnapshotID string            `json:"snapshot_id"`
	Blocks     []RankedCandidate `json:"blocks"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Feedback is a thumbs vote against a specific ranking row. Keyed by
// ranking id so history survives re-ranking of the same snapshot.
type Feedback struct {
	RankingID string    `json:"ranking_id"`
	VenueName string    `json:"venue_name"`
	Up        bool      `json:"up"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelCall is one logged provider invocation.
type ModelCall struct {
	ID        int64
	Provider  string
	Model     string
	Role      string
	LatencyMs int64
	TokensIn  int
	TokensOut int
	Success   bool
	ErrorMsg  string
	CreatedAt time.Time
}

// RolePerformance aggregates the call log for one role over a window.
type RolePerformance struct {
	Role         string  `json:"role"`
	TotalCalls   int     `json:"total_calls"`
	SuccessCalls int     `json:"successful_calls"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`
}
