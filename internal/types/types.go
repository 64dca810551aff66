package types

import (
	"fmt"
	"math"
	"time"
)

// AgentResult is one worker's outcome within a round.
type AgentResult struct {
	Success bool    `json:"success" yaml:"success"`
	Units   int64   `json:"units" yaml:"units"`
	Cost    float64 `json:"cost" yaml:"cost"`
	Error   string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// IterationMetrics is the measurement of a single plan-do-check-act round.
// It is built once per round by the caller and never modified afterwards.
type IterationMetrics struct {
	// IterationNumber is 1-based and increases by exactly one per round
	IterationNumber int `json:"iteration_number" yaml:"iteration_number"`

	// QualityScore is the round's quality on a 0.0-1.0 scale
	QualityScore float64 `json:"quality_score" yaml:"quality_score"`

	// UnitsUsed is the resource usage (token-like units) consumed by the round
	UnitsUsed int64 `json:"units_used" yaml:"units_used"`

	// Elapsed is the wall time spent executing the round
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`

	// Improvement is QualityScore minus the previous round's score (0 for round 1)
	Improvement float64 `json:"improvement" yaml:"improvement"`

	// AgentResults maps worker identifier to its outcome in this round
	AgentResults map[string]AgentResult `json:"agent_results,omitempty" yaml:"agent_results,omitempty"`
}

// NewIterationMetrics builds the metrics for round n, deriving Improvement
// from the previous round when there is one.
func NewIterationMetrics(n int, quality float64, units int64, elapsed time.Duration, previous *IterationMetrics, agents map[string]AgentResult) IterationMetrics {
	m := IterationMetrics{
		IterationNumber: n,
		QualityScore:    quality,
		UnitsUsed:       units,
		Elapsed:         elapsed,
		AgentResults:    agents,
	}
	if previous != nil {
		m.Improvement = quality - previous.QualityScore
	}
	return m
}

// Validate checks field ranges. Sequencing against earlier rounds is the
// controller's job.
func (m *IterationMetrics) Validate() error {
	if m.IterationNumber < 1 {
		return fmt.Errorf("iteration_number must be positive (got %d)", m.IterationNumber)
	}
	if math.IsNaN(m.QualityScore) || math.IsInf(m.QualityScore, 0) {
		return fmt.Errorf("quality_score must be a finite number (got %v)", m.QualityScore)
	}
	if m.QualityScore < 0 || m.QualityScore > 1 {
		return fmt.Errorf("quality_score must be between 0 and 1 (got %.3f)", m.QualityScore)
	}
	if m.UnitsUsed < 0 {
		return fmt.Errorf("units_used cannot be negative (got %d)", m.UnitsUsed)
	}
	if m.Elapsed < 0 {
		return fmt.Errorf("elapsed cannot be negative (got %v)", m.Elapsed)
	}
	return nil
}

// AgentUnits returns the units reported by each agent.
func (m *IterationMetrics) AgentUnits() map[string]int64 {
	out := make(map[string]int64, len(m.AgentResults))
	for id, r := range m.AgentResults {
		out[id] = r.Units
	}
	return out
}

// UsageRecord is a single entry in a tracker's append-only usage history.
type UsageRecord struct {
	ID            string    `json:"id" yaml:"id"`
	InputUnits    int64     `json:"input_units" yaml:"input_units"`
	OutputUnits   int64     `json:"output_units" yaml:"output_units"`
	TotalUnits    int64     `json:"total_units" yaml:"total_units"`
	EstimatedCost float64   `json:"estimated_cost" yaml:"estimated_cost"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	ProviderModel string    `json:"provider_model" yaml:"provider_model"`
	AgentID       string    `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Operation     string    `json:"operation,omitempty" yaml:"operation,omitempty"`
}
