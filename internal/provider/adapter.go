// Package provider implements the uniform adapter contract over the AI models
// backing each pipeline role. Response shapes vary per vendor; every client
// normalizes into one canonical Result at this boundary and nothing downstream
// ever sees a raw provider payload.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/melodydashora/vecto-pilot/internal/logging"
)

// Role identifies a pipeline stage.
type Role string

const (
	RoleStrategist   Role = "strategist"
	RoleResearcher   Role = "researcher"
	RoleConsolidator Role = "consolidator"
)

// Completion is the canonical normalized provider response.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Result is what the orchestrator receives from an adapter invocation.
type Result struct {
	Role      Role
	Provider  string
	Model     string
	Text      string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// Client is the provider-facing completion interface implemented by each
// vendor client.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error)
	Provider() string
	Model() string
}

// ErrTimeout marks a provider call that exceeded its stage budget.
var ErrTimeout = errors.New("provider call timed out")

// IsTimeout reports whether an error is a budget/deadline expiry rather than
// a provider-side failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Adapter binds a client to a role with a per-call budget.
type Adapter struct {
	role   Role
	client Client
	budget time.Duration
}

// NewAdapter creates an adapter for one role.
func NewAdapter(role Role, client Client, budget time.Duration) *Adapter {
	return &Adapter{role: role, client: client, budget: budget}
}

// Role returns the role this adapter serves.
func (a *Adapter) Role() Role { return a.role }

// Budget returns the per-call time budget.
func (a *Adapter) Budget() time.Duration { return a.budget }

// Provider names the backing vendor, for logging.
func (a *Adapter) Provider() string {
	if a.client == nil {
		return ""
	}
	return a.client.Provider()
}

// Model names the backing model, for logging.
func (a *Adapter) Model() string {
	if a.client == nil {
		return ""
	}
	return a.client.Model()
}

// Invoke runs one completion under the role's budget and normalizes the
// outcome. Deadline expiry is reported as ErrTimeout so the orchestrator can
// distinguish it from a provider-side error.
func (a *Adapter) Invoke(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	if a.client == nil {
		return nil, fmt.Errorf("%s: no client configured", a.role)
	}

	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	start := time.Now()
	completion, err := a.client.Complete(ctx, systemPrompt, userPrompt)
	latency := time.Since(start)

	if err != nil {
		if IsTimeout(err) {
			logging.ProviderError("[%s] %s/%s timed out after %v", a.role, a.client.Provider(), a.client.Model(), latency)
			return nil, fmt.Errorf("%s: %w", a.role, ErrTimeout)
		}
		logging.ProviderError("[%s] %s/%s failed after %v: %v", a.role, a.client.Provider(), a.client.Model(), latency, err)
		return nil, fmt.Errorf("%s: %w", a.role, err)
	}
	if strings.TrimSpace(completion.Text) == "" {
		logging.ProviderError("[%s] %s/%s returned empty completion", a.role, a.client.Provider(), a.client.Model())
		return nil, fmt.Errorf("%s: empty completion", a.role)
	}

	logging.Provider("[%s] %s/%s completed in %dms (%d in / %d out tokens)",
		a.role, a.client.Provider(), a.client.Model(), latency.Milliseconds(), completion.TokensIn, completion.TokensOut)

	return &Result{
		Role:      a.role,
		Provider:  a.client.Provider(),
		Model:     a.client.Model(),
		Text:      completion.Text,
		TokensIn:  completion.TokensIn,
		TokensOut: completion.TokensOut,
		LatencyMs: latency.Milliseconds(),
	}, nil
}
