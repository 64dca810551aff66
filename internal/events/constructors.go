package events

import (
	"time"

	"github.com/google/uuid"
)

// NewSimpleEvent creates an Event without structured data.
func NewSimpleEvent(eventType EventType, runID string, severity EventSeverity, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Severity:  severity,
		Message:   message,
	}
}

// NewUsageRecordedEvent creates a usage_recorded event with type-safe data.
func NewUsageRecordedEvent(runID, message string, data UsageRecordedData) (*Event, error) {
	event := NewSimpleEvent(EventTypeUsageRecorded, runID, SeverityInfo, message)
	if err := event.SetUsageRecordedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewBudgetAlertEvent creates a budget_warning or budget_exceeded event.
// Exceeded alerts are critical; warnings are warnings.
func NewBudgetAlertEvent(eventType EventType, runID, message string, data BudgetAlertData) (*Event, error) {
	severity := SeverityWarning
	if eventType == EventTypeBudgetExceeded {
		severity = SeverityCritical
	}
	event := NewSimpleEvent(eventType, runID, severity, message)
	if err := event.SetBudgetAlertData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewRoundEvaluatedEvent creates a round_evaluated or run_stopped event.
func NewRoundEvaluatedEvent(eventType EventType, runID, message string, data RoundEvaluatedData) (*Event, error) {
	event := NewSimpleEvent(eventType, runID, SeverityInfo, message)
	if err := event.SetRoundEvaluatedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewDecisionPendingEvent creates a decision_pending event.
func NewDecisionPendingEvent(runID, message string, data DecisionPendingData) (*Event, error) {
	event := NewSimpleEvent(EventTypeDecisionPending, runID, SeverityInfo, message)
	if err := event.SetDecisionPendingData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewDecisionResolvedEvent creates a decision_resolved event.
func NewDecisionResolvedEvent(runID, message string, data DecisionResolvedData) (*Event, error) {
	event := NewSimpleEvent(EventTypeDecisionResolved, runID, SeverityInfo, message)
	if err := event.SetDecisionResolvedData(data); err != nil {
		return nil, err
	}
	return event, nil
}
