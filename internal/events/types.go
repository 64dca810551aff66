package events

import (
	"time"
)

// EventType identifies what happened inside the iteration control engine.
type EventType string

const (
	// EventTypeUsageRecorded indicates a usage record was appended to a tracker
	EventTypeUsageRecorded EventType = "usage_recorded"
	// EventTypeBudgetWarning indicates usage crossed a warning bucket
	EventTypeBudgetWarning EventType = "budget_warning"
	// EventTypeBudgetExceeded indicates usage reached or passed the budget
	EventTypeBudgetExceeded EventType = "budget_exceeded"
	// EventTypeStatsReset indicates a tracker was reset for a new run
	EventTypeStatsReset EventType = "stats_reset"

	// EventTypeRoundEvaluated indicates the controller produced a verdict for a round
	EventTypeRoundEvaluated EventType = "round_evaluated"
	// EventTypeDecisionPending indicates the controller is waiting for a user decision
	EventTypeDecisionPending EventType = "decision_pending"
	// EventTypeDecisionResolved indicates a pending user decision was answered
	EventTypeDecisionResolved EventType = "decision_resolved"
	// EventTypeRunStopped indicates the controller entered the stopped state
	EventTypeRunStopped EventType = "run_stopped"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
	// SeverityCritical indicates critical events requiring immediate attention
	SeverityCritical EventSeverity = "critical"
)

// Event is a single observable occurrence in a run.
type Event struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// RunID is the workflow run the event belongs to
	RunID string `json:"run_id"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data"`
}

// UsageRecordedData contains structured data for usage_recorded events.
type UsageRecordedData struct {
	RecordID      string  `json:"record_id"`
	ProviderModel string  `json:"provider_model"`
	AgentID       string  `json:"agent_id,omitempty"`
	Operation     string  `json:"operation,omitempty"`
	InputUnits    int64   `json:"input_units"`
	OutputUnits   int64   `json:"output_units"`
	Cost          float64 `json:"cost"`
	TotalUnits    int64   `json:"total_units"`
	TotalCost     float64 `json:"total_cost"`
}

// BudgetAlertData contains structured data for budget_warning and budget_exceeded events.
type BudgetAlertData struct {
	// UsagePercentage is the budget consumption after the triggering record
	UsagePercentage float64 `json:"usage_percentage"`
	// PreviousPercentage is the consumption before the triggering record
	PreviousPercentage float64 `json:"previous_percentage"`
	// Bucket is the 10% bucket the usage now sits in (e.g. 8 for 80-89%)
	Bucket     int     `json:"bucket"`
	TotalCost  float64 `json:"total_cost"`
	TotalUnits int64   `json:"total_units"`
	Budget     float64 `json:"budget,omitempty"`
	UnitBudget int64   `json:"unit_budget,omitempty"`
	Currency   string  `json:"currency"`
}

// RoundEvaluatedData contains structured data for round_evaluated and run_stopped events.
type RoundEvaluatedData struct {
	Iteration    int     `json:"iteration"`
	QualityScore float64 `json:"quality_score"`
	Continue     bool    `json:"continue"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	TotalUnits   int64   `json:"total_units"`
}

// DecisionPendingData contains structured data for decision_pending events.
type DecisionPendingData struct {
	DecisionID      string   `json:"decision_id"`
	Iteration       int      `json:"iteration"`
	QualityScore    float64  `json:"quality_score"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// DecisionResolvedData contains structured data for decision_resolved events.
type DecisionResolvedData struct {
	DecisionID string `json:"decision_id"`
	Iteration  int    `json:"iteration"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason"`
}
