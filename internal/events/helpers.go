package events

import (
	"encoding/json"
	"fmt"
)

// SetUsageRecordedData sets the Data field with UsageRecordedData in a type-safe way.
func (e *Event) SetUsageRecordedData(data UsageRecordedData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert UsageRecordedData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetUsageRecordedData retrieves UsageRecordedData from the Data field.
func (e *Event) GetUsageRecordedData() (*UsageRecordedData, error) {
	var data UsageRecordedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse UsageRecordedData: %w", err)
	}
	return &data, nil
}

// SetBudgetAlertData sets the Data field with BudgetAlertData in a type-safe way.
func (e *Event) SetBudgetAlertData(data BudgetAlertData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert BudgetAlertData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetBudgetAlertData retrieves BudgetAlertData from the Data field.
func (e *Event) GetBudgetAlertData() (*BudgetAlertData, error) {
	var data BudgetAlertData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse BudgetAlertData: %w", err)
	}
	return &data, nil
}

// SetRoundEvaluatedData sets the Data field with RoundEvaluatedData in a type-safe way.
func (e *Event) SetRoundEvaluatedData(data RoundEvaluatedData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert RoundEvaluatedData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetRoundEvaluatedData retrieves RoundEvaluatedData from the Data field.
func (e *Event) GetRoundEvaluatedData() (*RoundEvaluatedData, error) {
	var data RoundEvaluatedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse RoundEvaluatedData: %w", err)
	}
	return &data, nil
}

// SetDecisionPendingData sets the Data field with DecisionPendingData in a type-safe way.
func (e *Event) SetDecisionPendingData(data DecisionPendingData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert DecisionPendingData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetDecisionPendingData retrieves DecisionPendingData from the Data field.
func (e *Event) GetDecisionPendingData() (*DecisionPendingData, error) {
	var data DecisionPendingData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse DecisionPendingData: %w", err)
	}
	return &data, nil
}

// SetDecisionResolvedData sets the Data field with DecisionResolvedData in a type-safe way.
func (e *Event) SetDecisionResolvedData(data DecisionResolvedData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert DecisionResolvedData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetDecisionResolvedData retrieves DecisionResolvedData from the Data field.
func (e *Event) GetDecisionResolvedData() (*DecisionResolvedData, error) {
	var data DecisionResolvedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse DecisionResolvedData: %w", err)
	}
	return &data, nil
}

// structToMap converts a struct to map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
