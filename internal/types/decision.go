package types

import "fmt"

// Reason is the machine-checkable cause attached to a ContinueDecision.
type Reason string

const (
	ReasonMaxIterationsReached  Reason = "max_iterations_reached"
	ReasonUnitBudgetExceeded    Reason = "unit_budget_exceeded"
	ReasonHardStopReached       Reason = "hard_stop_reached"
	ReasonTimeBudgetExceeded    Reason = "time_budget_exceeded"
	ReasonQualityTargetAchieved Reason = "quality_target_achieved"
	ReasonDiminishingReturns    Reason = "diminishing_returns"
	ReasonInsufficientData      Reason = "insufficient_data"
	ReasonAutoContinueEnabled   Reason = "auto_continue_enabled"
	ReasonDefaultContinue       Reason = "default_continue"
	ReasonUserConfirmed         Reason = "user_confirmed"
	ReasonUserDeclined          Reason = "user_declined"
	ReasonCancelled             Reason = "cancelled"
)

// IsValid checks if the reason is one of the known values
func (r Reason) IsValid() bool {
	switch r {
	case ReasonMaxIterationsReached, ReasonUnitBudgetExceeded, ReasonHardStopReached,
		ReasonTimeBudgetExceeded, ReasonQualityTargetAchieved, ReasonDiminishingReturns,
		ReasonInsufficientData, ReasonAutoContinueEnabled, ReasonDefaultContinue,
		ReasonUserConfirmed, ReasonUserDeclined, ReasonCancelled:
		return true
	}
	return false
}

// IsForceStop reports whether the reason is a hard cap.
func (r Reason) IsForceStop() bool {
	switch r {
	case ReasonMaxIterationsReached, ReasonUnitBudgetExceeded, ReasonHardStopReached, ReasonTimeBudgetExceeded:
		return true
	}
	return false
}

// Recommendation is one structured finding from the recommendation rules.
// Rendering it is left to the presentation layer.
type Recommendation struct {
	Metric  string  `json:"metric" yaml:"metric"`
	Gap     float64 `json:"gap" yaml:"gap"`
	Message string  `json:"message" yaml:"message"`
}

// ContinueDecision is the verdict for one evaluated round. A new value is
// produced per call and never mutated.
type ContinueDecision struct {
	Continue        bool              `json:"continue" yaml:"continue"`
	Reason          Reason            `json:"reason" yaml:"reason"`
	Confidence      float64           `json:"confidence" yaml:"confidence"`
	Suggestion      string            `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Metrics         *IterationMetrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Recommendations []Recommendation  `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// String returns a compact single-line rendering
func (d *ContinueDecision) String() string {
	verdict := "stop"
	if d.Continue {
		verdict = "continue"
	}
	return fmt.Sprintf("%s (%s, confidence %.2f)", verdict, d.Reason, d.Confidence)
}
