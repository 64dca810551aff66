package cost

import (
	"fmt"

	"github.com/RayYangTW/pdca/internal/types"
)

// ErrConfiguration is returned for invalid policies and budgets
var ErrConfiguration = types.ErrConfiguration

// DefaultWarningThreshold is the budget fraction at which warnings start
const DefaultWarningThreshold = 0.80

// Policy holds cost control configuration for one run
type Policy struct {
	// WarnAtPercent is the budget percentage that starts budget_warning events
	// 0 = use WarningThreshold (or DefaultWarningThreshold)
	WarnAtPercent float64 `json:"warn_at_percent" yaml:"warn_at_percent" mapstructure:"warn_at_percent"`

	// HardStopAtUnits stops the loop once total units reach this value
	// 0 = off
	HardStopAtUnits int64 `json:"hard_stop_at_units" yaml:"hard_stop_at_units" mapstructure:"hard_stop_at_units"`

	// TrackByAgent keeps per-agent unit and cost breakdowns
	// Default: true
	TrackByAgent bool `json:"track_by_agent" yaml:"track_by_agent" mapstructure:"track_by_agent"`

	// Currency labels every cost figure
	// Default: the pricing registry's currency
	Currency string `json:"currency" yaml:"currency" mapstructure:"currency"`

	// Budget is the monetary cap for the run
	// 0 = no budget (no budget events)
	Budget float64 `json:"budget" yaml:"budget" mapstructure:"budget"`

	// WarningThreshold is the budget fraction that starts warnings when
	// WarnAtPercent is unset. Replaced by SetBudget.
	WarningThreshold float64 `json:"warning_threshold" yaml:"warning_threshold" mapstructure:"warning_threshold"`
}

// DefaultPolicy returns the default cost policy
func DefaultPolicy() Policy {
	return Policy{
		TrackByAgent: true,
	}
}

// Validate checks that the policy has safe values
func (p Policy) Validate() error {
	if p.WarnAtPercent < 0 || p.WarnAtPercent > 100 {
		return fmt.Errorf("%w: warn_at_percent must be between 0 and 100, got %.2f", ErrConfiguration, p.WarnAtPercent)
	}
	if p.HardStopAtUnits < 0 {
		return fmt.Errorf("%w: hard_stop_at_units must be non-negative, got %d", ErrConfiguration, p.HardStopAtUnits)
	}
	if p.Budget < 0 {
		return fmt.Errorf("%w: budget must be non-negative, got %.4f", ErrConfiguration, p.Budget)
	}
	if p.WarningThreshold < 0 || p.WarningThreshold > 1 {
		return fmt.Errorf("%w: warning_threshold must be between 0 and 1, got %.2f", ErrConfiguration, p.WarningThreshold)
	}
	return nil
}

// warnFraction resolves the effective warning threshold as a fraction
func (p Policy) warnFraction() float64 {
	switch {
	case p.WarningThreshold > 0:
		return p.WarningThreshold
	case p.WarnAtPercent > 0:
		return p.WarnAtPercent / 100
	default:
		return DefaultWarningThreshold
	}
}
