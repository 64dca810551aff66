// Package config loads engine settings from a YAML file and PDCA_* environment
// variables on top of a named profile.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/loop"
)

// EnvPrefix prefixes every environment override (PDCA_LOOP_MAX_ITERATIONS, ...)
const EnvPrefix = "PDCA"

// DefaultConfigName is the file looked up by FindConfigFile
const DefaultConfigName = "pdca.yaml"

// RunConfig controls the round driver
type RunConfig struct {
	// MaxRounds is a safety cap on top of loop.max_iterations (0 = engine default)
	MaxRounds int `mapstructure:"max_rounds" yaml:"max_rounds"`

	// DecisionTimeout bounds each wait for a user decision (0 = wait forever)
	DecisionTimeout time.Duration `mapstructure:"decision_timeout" yaml:"decision_timeout"`

	// DecisionTimeoutDefault is the answer applied when DecisionTimeout expires
	DecisionTimeoutDefault bool `mapstructure:"decision_timeout_default" yaml:"decision_timeout_default"`

	// MinRoundInterval paces round starts
	MinRoundInterval time.Duration `mapstructure:"min_round_interval" yaml:"min_round_interval"`
}

// PricingConfig points at an optional pricing override file
type PricingConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// StorageConfig configures the audit store
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ControlConfig configures the control socket
type ControlConfig struct {
	// SocketDir holds pdca-<run-id>.sock files (empty = os.TempDir())
	SocketDir string `mapstructure:"socket_dir" yaml:"socket_dir"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Config is the full engine configuration
type Config struct {
	Profile   string               `mapstructure:"profile" yaml:"profile"`
	Loop      loop.Policy          `mapstructure:"loop" yaml:"loop"`
	Cost      cost.Policy          `mapstructure:"cost" yaml:"cost"`
	Run       RunConfig            `mapstructure:"run" yaml:"run"`
	Pricing   PricingConfig        `mapstructure:"pricing" yaml:"pricing"`
	Storage   StorageConfig        `mapstructure:"storage" yaml:"storage"`
	Control   ControlConfig        `mapstructure:"control" yaml:"control"`
	Retention EventRetentionConfig `mapstructure:"retention" yaml:"retention"`
	Logging   LoggingConfig        `mapstructure:"logging" yaml:"logging"`

	// Source is the config file that was read (empty when none)
	Source string `mapstructure:"-" yaml:"-"`
}

// legacyEnv maps the short variable names kept for existing scripts
var legacyEnv = map[string]string{
	"loop.max_iterations": "PDCA_MAX_ITERATIONS",
	"loop.quality_target": "PDCA_QUALITY_TARGET",
	"loop.unit_budget":    "PDCA_TOKEN_BUDGET",
}

// Load reads path (optional) and the environment over the selected
// profile's defaults, then validates the result. The profile comes from the
// file's `profile` key or PDCA_PROFILE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		// The prefixed name wins over the legacy one
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	profileName := v.GetString("profile")
	if profileName == "" {
		profileName = DefaultProfile
	}
	profile, err := LookupProfile(profileName)
	if err != nil {
		return nil, err
	}
	setDefaults(v, profile)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Profile = profileName
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the balanced profile with no file and no environment
func Default() *Config {
	p, _ := LookupProfile(DefaultProfile)
	return &Config{
		Profile:   p.Name,
		Loop:      p.Loop,
		Cost:      p.Cost,
		Storage:   StorageConfig{Enabled: true, Path: DefaultStoragePath()},
		Retention: DefaultEventRetentionConfig(),
	}
}

func setDefaults(v *viper.Viper, p Profile) {
	v.SetDefault("profile", p.Name)

	v.SetDefault("loop.max_iterations", p.Loop.MaxIterations)
	v.SetDefault("loop.quality_target", p.Loop.QualityTarget)
	v.SetDefault("loop.marginal_threshold", p.Loop.MarginalThreshold)
	v.SetDefault("loop.unit_budget", p.Loop.UnitBudget)
	v.SetDefault("loop.time_budget", p.Loop.TimeBudget)
	v.SetDefault("loop.auto_continue", p.Loop.AutoContinue)
	v.SetDefault("loop.require_confirmation", p.Loop.RequireConfirmation)

	v.SetDefault("cost.warn_at_percent", p.Cost.WarnAtPercent)
	v.SetDefault("cost.hard_stop_at_units", p.Cost.HardStopAtUnits)
	v.SetDefault("cost.track_by_agent", p.Cost.TrackByAgent)
	v.SetDefault("cost.currency", p.Cost.Currency)
	v.SetDefault("cost.budget", p.Cost.Budget)
	v.SetDefault("cost.warning_threshold", p.Cost.WarningThreshold)

	v.SetDefault("run.max_rounds", 0)
	v.SetDefault("run.decision_timeout", time.Duration(0))
	v.SetDefault("run.decision_timeout_default", false)
	v.SetDefault("run.min_round_interval", time.Duration(0))

	v.SetDefault("pricing.file", "")
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.path", DefaultStoragePath())
	v.SetDefault("control.socket_dir", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.development", false)

	r := DefaultEventRetentionConfig()
	v.SetDefault("retention.retention_days", r.RetentionDays)
	v.SetDefault("retention.retention_critical_days", r.RetentionCriticalDays)
	v.SetDefault("retention.per_run_limit_events", r.PerRunLimitEvents)
	v.SetDefault("retention.global_limit_events", r.GlobalLimitEvents)
	v.SetDefault("retention.cleanup_interval_hours", r.CleanupIntervalHours)
	v.SetDefault("retention.cleanup_batch_size", r.CleanupBatchSize)
	v.SetDefault("retention.cleanup_enabled", r.CleanupEnabled)
	v.SetDefault("retention.cleanup_vacuum", r.CleanupVacuum)
}

// Validate fails fast on any invalid section
func (c *Config) Validate() error {
	if err := c.Loop.Validate(); err != nil {
		return fmt.Errorf("invalid loop config: %w", err)
	}
	if err := c.Cost.Validate(); err != nil {
		return fmt.Errorf("invalid cost config: %w", err)
	}
	if c.Run.MaxRounds < 0 {
		return fmt.Errorf("run.max_rounds cannot be negative (got %d)", c.Run.MaxRounds)
	}
	if c.Run.DecisionTimeout < 0 || c.Run.MinRoundInterval < 0 {
		return fmt.Errorf("run durations cannot be negative")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage is enabled")
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("invalid retention config: %w", err)
	}
	return nil
}

// DefaultStoragePath is the audit database location under the working directory
func DefaultStoragePath() string {
	return filepath.Join(".pdca", "audit.db")
}

// FindConfigFile returns ./pdca.yaml or ~/.config/pdca/pdca.yaml, whichever
// exists first, or "" when neither does
func FindConfigFile() string {
	candidates := []string{DefaultConfigName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "pdca", DefaultConfigName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
