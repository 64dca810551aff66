package config

import (
	"fmt"
	"time"
)

// EventRetentionConfig holds configuration for pruning the audit event log
type EventRetentionConfig struct {
	// RetentionDays is the retention period for info and warning events (in days)
	// Default: 30, Range: 1-365
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`

	// RetentionCriticalDays is the retention period for error and critical events (in days)
	// Must be >= RetentionDays
	// Default: 90, Range: 1-730
	RetentionCriticalDays int `mapstructure:"retention_critical_days" yaml:"retention_critical_days"`

	// PerRunLimitEvents is the maximum number of events kept per run
	// Oldest non-critical events go first. 0 = unlimited
	// Default: 1000, Range: 0 or 100-10000
	PerRunLimitEvents int `mapstructure:"per_run_limit_events" yaml:"per_run_limit_events"`

	// GlobalLimitEvents is the maximum total number of events to keep
	// Default: 100000, Range: 1000-1000000
	GlobalLimitEvents int `mapstructure:"global_limit_events" yaml:"global_limit_events"`

	// CleanupIntervalHours is how often long-running processes prune
	// Default: 24, Range: 1-168 (1 week)
	CleanupIntervalHours int `mapstructure:"cleanup_interval_hours" yaml:"cleanup_interval_hours"`

	// CleanupBatchSize is the number of events deleted per statement
	// Default: 1000, Range: 100-10000
	CleanupBatchSize int `mapstructure:"cleanup_batch_size" yaml:"cleanup_batch_size"`

	// CleanupEnabled controls whether pruning runs at all
	// Default: true
	CleanupEnabled bool `mapstructure:"cleanup_enabled" yaml:"cleanup_enabled"`

	// CleanupVacuum runs VACUUM after a pass that deleted rows
	// Default: false
	CleanupVacuum bool `mapstructure:"cleanup_vacuum" yaml:"cleanup_vacuum"`
}

// DefaultEventRetentionConfig returns the default event retention configuration
func DefaultEventRetentionConfig() EventRetentionConfig {
	return EventRetentionConfig{
		RetentionDays:         30,
		RetentionCriticalDays: 90,
		PerRunLimitEvents:     1000,
		GlobalLimitEvents:     100000,
		CleanupIntervalHours:  24,
		CleanupBatchSize:      1000,
		CleanupEnabled:        true,
		CleanupVacuum:         false,
	}
}

// Validate checks if the configuration has valid values
func (c EventRetentionConfig) Validate() error {
	if c.RetentionDays < 1 || c.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be between 1 and 365 (got %d)", c.RetentionDays)
	}

	if c.RetentionCriticalDays < 1 || c.RetentionCriticalDays > 730 {
		return fmt.Errorf("retention_critical_days must be between 1 and 730 (got %d)",
			c.RetentionCriticalDays)
	}
	if c.RetentionCriticalDays < c.RetentionDays {
		return fmt.Errorf("retention_critical_days (%d) must be >= retention_days (%d)",
			c.RetentionCriticalDays, c.RetentionDays)
	}

	if c.PerRunLimitEvents < 0 {
		return fmt.Errorf("per_run_limit_events cannot be negative (got %d)", c.PerRunLimitEvents)
	}
	if c.PerRunLimitEvents > 0 && c.PerRunLimitEvents < 100 {
		return fmt.Errorf("per_run_limit_events must be 0 (unlimited) or >= 100 (got %d)",
			c.PerRunLimitEvents)
	}
	if c.PerRunLimitEvents > 10000 {
		return fmt.Errorf("per_run_limit_events too large (got %d, max 10000)", c.PerRunLimitEvents)
	}

	if c.GlobalLimitEvents < 1000 {
		return fmt.Errorf("global_limit_events must be at least 1000 (got %d)", c.GlobalLimitEvents)
	}
	if c.GlobalLimitEvents > 1000000 {
		return fmt.Errorf("global_limit_events too large (got %d, max 1000000)", c.GlobalLimitEvents)
	}

	if c.CleanupIntervalHours < 1 {
		return fmt.Errorf("cleanup_interval_hours must be at least 1 (got %d)", c.CleanupIntervalHours)
	}
	if c.CleanupIntervalHours > 168 {
		return fmt.Errorf("cleanup_interval_hours too large (got %d, max 168)", c.CleanupIntervalHours)
	}

	if c.CleanupBatchSize < 100 {
		return fmt.Errorf("cleanup_batch_size must be at least 100 (got %d)", c.CleanupBatchSize)
	}
	if c.CleanupBatchSize > 10000 {
		return fmt.Errorf("cleanup_batch_size too large (got %d, max 10000)", c.CleanupBatchSize)
	}

	return nil
}

// CleanupInterval returns the pruning interval as a time.Duration
func (c EventRetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// String returns a human-readable representation of the config
func (c EventRetentionConfig) String() string {
	return fmt.Sprintf(
		"EventRetentionConfig{RetentionDays: %d, RetentionCriticalDays: %d, "+
			"PerRunLimit: %d, GlobalLimit: %d, CleanupInterval: %dh, "+
			"BatchSize: %d, Enabled: %t, Vacuum: %t}",
		c.RetentionDays, c.RetentionCriticalDays, c.PerRunLimitEvents,
		c.GlobalLimitEvents, c.CleanupIntervalHours, c.CleanupBatchSize,
		c.CleanupEnabled, c.CleanupVacuum,
	)
}
