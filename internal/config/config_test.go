package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayYangTW/pdca/internal/loop"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdca.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaultsToBalanced(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProfileBalanced, cfg.Profile)
	assert.Equal(t, loop.DefaultPolicy(), cfg.Loop)
	assert.Equal(t, float64(80), cfg.Cost.WarnAtPercent)
	assert.Equal(t, int64(15000), cfg.Cost.HardStopAtUnits)
	assert.True(t, cfg.Cost.TrackByAgent)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, DefaultStoragePath(), cfg.Storage.Path)
	assert.Empty(t, cfg.Source)
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		profile      string
		maxIter      int
		target       float64
		threshold    float64
		unitBudget   int64
		timeBudget   time.Duration
		autoContinue bool
		confirm      bool
		hardStop     int64
	}{
		{ProfileEconomic, 1, 0.75, 0.20, 5000, 10 * time.Minute, false, false, 8000},
		{ProfileBalanced, 3, 0.85, 0.10, 10000, 20 * time.Minute, false, true, 15000},
		{ProfilePremium, 5, 0.95, 0.05, 50000, time.Hour, false, true, 80000},
		{ProfileUnlimited, 0, 0.99, 0.01, 0, 0, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			t.Setenv("PDCA_PROFILE", tt.profile)
			cfg, err := Load("")
			require.NoError(t, err)

			assert.Equal(t, tt.profile, cfg.Profile)
			assert.Equal(t, tt.maxIter, cfg.Loop.MaxIterations)
			assert.InDelta(t, tt.target, cfg.Loop.QualityTarget, 1e-9)
			assert.InDelta(t, tt.threshold, cfg.Loop.MarginalThreshold, 1e-9)
			assert.Equal(t, tt.unitBudget, cfg.Loop.UnitBudget)
			assert.Equal(t, tt.timeBudget, cfg.Loop.TimeBudget)
			assert.Equal(t, tt.autoContinue, cfg.Loop.AutoContinue)
			assert.Equal(t, tt.confirm, cfg.Loop.RequireConfirmation)
			assert.Equal(t, tt.hardStop, cfg.Cost.HardStopAtUnits)
		})
	}

	assert.Equal(t, []string{"balanced", "economic", "premium", "unlimited"}, ProfileNames())
}

func TestLoadFileOverridesProfile(t *testing.T) {
	path := writeConfig(t, `
profile: premium
loop:
  max_iterations: 7
  time_budget: 45m
cost:
  budget: 2.5
  currency: EUR
run:
  decision_timeout: 30s
  decision_timeout_default: true
storage:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProfilePremium, cfg.Profile)
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	assert.Equal(t, 45*time.Minute, cfg.Loop.TimeBudget)
	// Untouched keys keep the profile value
	assert.InDelta(t, 0.95, cfg.Loop.QualityTarget, 1e-9)
	assert.Equal(t, 2.5, cfg.Cost.Budget)
	assert.Equal(t, "EUR", cfg.Cost.Currency)
	assert.Equal(t, 30*time.Second, cfg.Run.DecisionTimeout)
	assert.True(t, cfg.Run.DecisionTimeoutDefault)
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, path, cfg.Source)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PDCA_MAX_ITERATIONS", "4")
	t.Setenv("PDCA_QUALITY_TARGET", "0.9")
	t.Setenv("PDCA_TOKEN_BUDGET", "20000")
	t.Setenv("PDCA_LOOP_TIME_BUDGET", "90s")
	t.Setenv("PDCA_COST_BUDGET", "1.25")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Loop.MaxIterations)
	assert.InDelta(t, 0.9, cfg.Loop.QualityTarget, 1e-9)
	assert.Equal(t, int64(20000), cfg.Loop.UnitBudget)
	assert.Equal(t, 90*time.Second, cfg.Loop.TimeBudget)
	assert.Equal(t, 1.25, cfg.Cost.Budget)
}

func TestPrefixedEnvBeatsLegacy(t *testing.T) {
	t.Setenv("PDCA_MAX_ITERATIONS", "4")
	t.Setenv("PDCA_LOOP_MAX_ITERATIONS", "6")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Loop.MaxIterations)
}

func TestEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_iterations: 2\n")
	t.Setenv("PDCA_LOOP_MAX_ITERATIONS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Loop.MaxIterations)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := Load(writeConfig(t, "profile: gold\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown profile")
	})

	t.Run("invalid loop policy", func(t *testing.T) {
		_, err := Load(writeConfig(t, "loop:\n  quality_target: 1.5\n"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, loop.ErrConfiguration))
	})

	t.Run("invalid cost policy", func(t *testing.T) {
		_, err := Load(writeConfig(t, "cost:\n  warn_at_percent: 150\n"))
		assert.Error(t, err)
	})

	t.Run("negative max rounds", func(t *testing.T) {
		_, err := Load(writeConfig(t, "run:\n  max_rounds: -1\n"))
		assert.Error(t, err)
	})

	t.Run("storage without path", func(t *testing.T) {
		_, err := Load(writeConfig(t, "storage:\n  path: \"\"\n"))
		assert.Error(t, err)
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProfileBalanced, cfg.Profile)
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)

	assert.Empty(t, FindConfigFile())

	require.NoError(t, os.WriteFile(DefaultConfigName, []byte("profile: economic\n"), 0644))
	assert.Equal(t, DefaultConfigName, FindConfigFile())
}
