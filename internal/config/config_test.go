package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "vecto-pilot", cfg.Name)
	assert.Equal(t, ":5000", cfg.Server.Addr)

	t.Run("stage budgets", func(t *testing.T) {
		assert.Equal(t, 15*time.Second, cfg.GetStageTimeout(cfg.Providers.Strategist))
		assert.Equal(t, 25*time.Second, cfg.GetStageTimeout(cfg.Providers.Researcher))
		assert.Equal(t, 120*time.Second, cfg.GetStageTimeout(cfg.Providers.Consolidator))
		assert.Equal(t, 230*time.Second, cfg.GetOverallCeiling())
	})

	t.Run("lock lease", func(t *testing.T) {
		assert.Equal(t, time.Minute, cfg.GetLockTTL())
		assert.Equal(t, 20*time.Second, cfg.GetLockHeartbeat())
		assert.Less(t, cfg.GetLockHeartbeat(), cfg.GetLockTTL())
	})

	t.Run("ranking thresholds", func(t *testing.T) {
		assert.Equal(t, 6, cfg.Ranking.TargetBlocks)
		assert.InDelta(t, 1.50, cfg.Ranking.GradeAMin, 1e-9)
		assert.InDelta(t, 0.25, cfg.Ranking.NotWorthMax, 1e-9)
		assert.Equal(t, 15, cfg.Ranking.NarrowBandMax)
		assert.Equal(t, 20, cfg.Ranking.WideBandMin)
	})

	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "vecto-pilot", cfg.Name)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "vecto-pilot.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":9999"
	cfg.Ranking.TargetBlocks = 4
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.Server.Addr)
	assert.Equal(t, 4, loaded.Ranking.TargetBlocks)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("provider keys", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "ant-key", cfg.Providers.Strategist.APIKey)
		assert.Equal(t, "oa-key", cfg.Providers.Consolidator.APIKey)
		assert.Equal(t, "gem-key", cfg.Providers.Researcher.APIKey)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "env-key")

		cfg := DefaultConfig()
		cfg.Providers.Strategist.APIKey = "file-key"
		cfg.applyEnvOverrides()

		assert.Equal(t, "env-key", cfg.Providers.Strategist.APIKey)
	})

	t.Run("server overrides", func(t *testing.T) {
		t.Setenv("VECTO_ADDR", ":8080")
		t.Setenv("VECTO_DB", "/tmp/alt.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "/tmp/alt.db", cfg.Store.DatabasePath)
	})
}

func TestValidate(t *testing.T) {
	t.Run("unknown provider rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Providers.Strategist.Provider = "mystery"
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty model rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Providers.Consolidator.Model = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.OverallCeiling = "not a duration"
	assert.Equal(t, 230*time.Second, cfg.GetOverallCeiling())

	cfg.Sync.PollInitial = ""
	assert.Equal(t, 2*time.Second, cfg.GetPollInitial())
}
