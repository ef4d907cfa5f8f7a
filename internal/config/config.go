// Package config holds all Vecto Pilot configuration: provider credentials,
// stage budgets, ranking thresholds, and server settings. Values load from a
// YAML file with environment-variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Vecto Pilot configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Store     StoreConfig     `yaml:"store"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"` // must exceed the SSE keepalive interval
	IdempotencyTTL  string `yaml:"idempotency_ttl"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ProvidersConfig configures the three pipeline roles.
type ProvidersConfig struct {
	Strategist   RoleConfig `yaml:"strategist"`
	Researcher   RoleConfig `yaml:"researcher"`
	Consolidator RoleConfig `yaml:"consolidator"`
}

// RoleConfig configures one provider role.
type RoleConfig struct {
	Provider  string `yaml:"provider"` // anthropic, openai, gemini
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	OverallCeiling string `yaml:"overall_ceiling"` // hard bound on a full run
	LockTTL        string `yaml:"lock_ttl"`
	LockHeartbeat  string `yaml:"lock_heartbeat"`
	MinNarrative   int    `yaml:"min_narrative_words"` // consolidated output below this is a failure
}

// RankingConfig configures the block ranking engine. All thresholds are
// product-tunable; the engine defines mechanism only.
type RankingConfig struct {
	TargetBlocks  int     `yaml:"target_blocks"`
	GradeAMin     float64 `yaml:"grade_a_min"` // $/min floors for each grade
	GradeBMin     float64 `yaml:"grade_b_min"`
	GradeCMin     float64 `yaml:"grade_c_min"`
	NotWorthMax   float64 `yaml:"not_worth_max"`
	NarrowBandMin int     `yaml:"narrow_band_min_minutes"`
	NarrowBandMax int     `yaml:"narrow_band_max_minutes"`
	WideBandMin   int     `yaml:"wide_band_min_minutes"`
	WideBandMax   int     `yaml:"wide_band_max_minutes"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SyncConfig configures the client sync protocol.
type SyncConfig struct {
	PollInitial    string  `yaml:"poll_initial"`
	PollMax        string  `yaml:"poll_max"`
	PollMultiplier float64 `yaml:"poll_multiplier"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Directory  string          `yaml:"directory"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "vecto-pilot",
		Version: "2.0.0",

		Server: ServerConfig{
			Addr:            ":5000",
			ReadTimeout:     "15s",
			WriteTimeout:    "300s",
			IdempotencyTTL:  "10m",
			ShutdownTimeout: "10s",
		},

		Providers: ProvidersConfig{
			Strategist: RoleConfig{
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-20250514",
				BaseURL:   "https://api.anthropic.com/v1",
				Timeout:   "15s",
				MaxTokens: 2048,
			},
			Researcher: RoleConfig{
				Provider:  "gemini",
				Model:     "gemini-2.0-flash-001",
				Timeout:   "25s",
				MaxTokens: 2048,
			},
			Consolidator: RoleConfig{
				Provider:  "openai",
				Model:     "gpt-5",
				BaseURL:   "https://api.openai.com/v1",
				Timeout:   "120s",
				MaxTokens: 8192,
			},
		},

		Pipeline: PipelineConfig{
			OverallCeiling: "230s",
			LockTTL:        "60s",
			LockHeartbeat:  "20s",
			MinNarrative:   40,
		},

		Ranking: RankingConfig{
			TargetBlocks:  6,
			GradeAMin:     1.50,
			GradeBMin:     1.00,
			GradeCMin:     0.50,
			NotWorthMax:   0.25,
			NarrowBandMin: 0,
			NarrowBandMax: 15,
			WideBandMin:   20,
			WideBandMax:   30,
		},

		Store: StoreConfig{
			DatabasePath: "data/vecto-pilot.db",
		},

		Sync: SyncConfig{
			PollInitial:    "2s",
			PollMax:        "30s",
			PollMultiplier: 2.0,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Directory: "data/logs",
		},
	}
}

// Load loads configuration from a YAML file. Missing file returns defaults;
// environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Providers.Strategist.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Providers.Consolidator.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Providers.Researcher.APIKey = key
	}
	if addr := os.Getenv("VECTO_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("VECTO_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	roles := map[string]RoleConfig{
		"strategist":   c.Providers.Strategist,
		"researcher":   c.Providers.Researcher,
		"consolidator": c.Providers.Consolidator,
	}
	for name, rc := range roles {
		switch rc.Provider {
		case "anthropic", "openai", "gemini":
		default:
			return fmt.Errorf("providers.%s: unknown provider %q", name, rc.Provider)
		}
		if rc.Model == "" {
			return fmt.Errorf("providers.%s: model required", name)
		}
	}
	if c.Ranking.TargetBlocks <= 0 {
		return fmt.Errorf("ranking.target_blocks must be positive")
	}
	if c.Ranking.GradeAMin < c.Ranking.GradeBMin || c.Ranking.GradeBMin < c.Ranking.GradeCMin {
		return fmt.Errorf("ranking grade thresholds must be ordered A >= B >= C")
	}
	if c.Ranking.NarrowBandMax >= c.Ranking.WideBandMin {
		return fmt.Errorf("ranking bands must not overlap")
	}
	if c.GetOverallCeiling() <= c.GetStageTimeout(c.Providers.Consolidator) {
		return fmt.Errorf("pipeline.overall_ceiling must exceed the consolidator budget")
	}
	return nil
}

// durationOr parses a duration string, falling back on error.
func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetStageTimeout returns a role's call budget as a duration.
func (c *Config) GetStageTimeout(role RoleConfig) time.Duration {
	return durationOr(role.Timeout, 30*time.Second)
}

// GetOverallCeiling returns the hard bound on a full pipeline run.
func (c *Config) GetOverallCeiling() time.Duration {
	return durationOr(c.Pipeline.OverallCeiling, 230*time.Second)
}

// GetLockTTL returns the lease lifetime.
func (c *Config) GetLockTTL() time.Duration {
	return durationOr(c.Pipeline.LockTTL, 60*time.Second)
}

// GetLockHeartbeat returns the lease heartbeat interval.
func (c *Config) GetLockHeartbeat() time.Duration {
	return durationOr(c.Pipeline.LockHeartbeat, 20*time.Second)
}

// GetIdempotencyTTL returns how long completed responses stay in the gate.
func (c *Config) GetIdempotencyTTL() time.Duration {
	return durationOr(c.Server.IdempotencyTTL, 10*time.Minute)
}

// GetPollInitial returns the starting poll interval for client sync.
func (c *Config) GetPollInitial() time.Duration {
	return durationOr(c.Sync.PollInitial, 2*time.Second)
}

// GetPollMax returns the poll interval cap.
func (c *Config) GetPollMax() time.Duration {
	return durationOr(c.Sync.PollMax, 30*time.Second)
}
