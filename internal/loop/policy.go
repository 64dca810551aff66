package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/RayYangTW/pdca/internal/types"
)

var (
	// ErrConfiguration is returned for an invalid policy
	ErrConfiguration = types.ErrConfiguration
	// ErrInvalidStateTransition is returned when Evaluate is called on a
	// stopped or paused controller
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrInvalidIteration is returned for malformed or out-of-sequence metrics
	ErrInvalidIteration = errors.New("invalid iteration")
	// ErrAlreadyResolved is returned by a second Resolve on the same pending decision
	ErrAlreadyResolved = errors.New("decision already resolved")
)

// Policy holds the stop/continue limits for one run. Zero caps are unset.
type Policy struct {
	// MaxIterations stops the loop on the Nth round (0 = unlimited)
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`

	// QualityTarget stops the loop once a round scores at least this (0 = unset)
	QualityTarget float64 `json:"quality_target" yaml:"quality_target" mapstructure:"quality_target"`

	// MarginalThreshold is the minimum round-over-round quality gain worth another round
	MarginalThreshold float64 `json:"marginal_threshold" yaml:"marginal_threshold" mapstructure:"marginal_threshold"`

	// UnitBudget stops the loop once cumulative units reach this (0 = unlimited)
	UnitBudget int64 `json:"unit_budget" yaml:"unit_budget" mapstructure:"unit_budget"`

	// TimeBudget stops the loop once the run has taken this long (0 = unlimited)
	TimeBudget time.Duration `json:"time_budget" yaml:"time_budget" mapstructure:"time_budget"`

	AutoContinue        bool `json:"auto_continue" yaml:"auto_continue" mapstructure:"auto_continue"`
	RequireConfirmation bool `json:"require_confirmation" yaml:"require_confirmation" mapstructure:"require_confirmation"`
}

// DefaultPolicy returns the balanced defaults
func DefaultPolicy() Policy {
	return Policy{
		MaxIterations:       3,
		QualityTarget:       0.85,
		MarginalThreshold:   0.10,
		UnitBudget:          10000,
		TimeBudget:          20 * time.Minute,
		RequireConfirmation: true,
	}
}

// Validate checks that the policy has safe values
func (p Policy) Validate() error {
	if p.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be positive or 0 for unlimited, got %d", ErrConfiguration, p.MaxIterations)
	}
	if p.QualityTarget < 0 || p.QualityTarget > 1 {
		return fmt.Errorf("%w: quality_target must be between 0 and 1, got %.2f", ErrConfiguration, p.QualityTarget)
	}
	if p.MarginalThreshold < 0 || p.MarginalThreshold > 1 {
		return fmt.Errorf("%w: marginal_threshold must be between 0 and 1, got %.2f", ErrConfiguration, p.MarginalThreshold)
	}
	if p.UnitBudget < 0 {
		return fmt.Errorf("%w: unit_budget must be non-negative, got %d", ErrConfiguration, p.UnitBudget)
	}
	if p.TimeBudget < 0 {
		return fmt.Errorf("%w: time_budget must be non-negative, got %v", ErrConfiguration, p.TimeBudget)
	}
	return nil
}

// State is the controller's position in the round lifecycle
type State int

const (
	// StateAwaitingRound accepts the next Evaluate call
	StateAwaitingRound State = iota
	// StateAwaitingUserDecision holds an unresolved PendingDecision
	StateAwaitingUserDecision
	// StateStopped is terminal until Reset
	StateStopped
)

// String returns a human-readable string representation of the state
func (s State) String() string {
	switch s {
	case StateAwaitingRound:
		return "awaiting_round"
	case StateAwaitingUserDecision:
		return "awaiting_user_decision"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// MarshalText lets State render by name in JSON and YAML
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
