package provider

import (
	"fmt"
	"time"

	"github.com/melodydashora/vecto-pilot/internal/config"
)

// NewClientForRole builds the vendor client a role is configured for.
func NewClientForRole(rc config.RoleConfig, budget time.Duration) (Client, error) {
	switch rc.Provider {
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:    rc.APIKey,
			BaseURL:   rc.BaseURL,
			Model:     rc.Model,
			MaxTokens: rc.MaxTokens,
			Timeout:   budget,
		}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:    rc.APIKey,
			BaseURL:   rc.BaseURL,
			Model:     rc.Model,
			MaxTokens: rc.MaxTokens,
			Timeout:   budget,
		}), nil
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:    rc.APIKey,
			Model:     rc.Model,
			MaxTokens: rc.MaxTokens,
			Timeout:   budget,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", rc.Provider)
	}
}

// Adapters holds the three role adapters the orchestrator drives.
type Adapters struct {
	Strategist   *Adapter
	Researcher   *Adapter
	Consolidator *Adapter
}

// BuildAdapters wires all three roles from configuration.
func BuildAdapters(cfg *config.Config) (*Adapters, error) {
	strategistBudget := cfg.GetStageTimeout(cfg.Providers.Strategist)
	researcherBudget := cfg.GetStageTimeout(cfg.Providers.Researcher)
	consolidatorBudget := cfg.GetStageTimeout(cfg.Providers.Consolidator)

	strategist, err := NewClientForRole(cfg.Providers.Strategist, strategistBudget)
	if err != nil {
		return nil, fmt.Errorf("strategist: %w", err)
	}
	researcher, err := NewClientForRole(cfg.Providers.Researcher, researcherBudget)
	if err != nil {
		return nil, fmt.Errorf("researcher: %w", err)
	}
	consolidator, err := NewClientForRole(cfg.Providers.Consolidator, consolidatorBudget)
	if err != nil {
		return nil, fmt.Errorf("consolidator: %w", err)
	}

	return &Adapters{
		Strategist:   NewAdapter(RoleStrategist, strategist, strategistBudget),
		Researcher:   NewAdapter(RoleResearcher, researcher, researcherBudget),
		Consolidator: NewAdapter(RoleConsolidator, consolidator, consolidatorBudget),
	}, nil
}
