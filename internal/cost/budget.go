package cost

import (
	"fmt"
	"math"

	"github.com/RayYangTW/pdca/internal/events"
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates usage below the warning threshold (or no budget)
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates usage at or above the warning threshold
	BudgetWarning
	// BudgetExceeded indicates usage at or above the budget
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BudgetState is a snapshot derived from the usage history on demand
type BudgetState struct {
	TotalUnits   int64              `json:"total_units" yaml:"total_units"`
	TotalCost    float64            `json:"total_cost" yaml:"total_cost"`
	UnitsByAgent map[string]int64   `json:"units_by_agent,omitempty" yaml:"units_by_agent,omitempty"`
	CostByAgent  map[string]float64 `json:"cost_by_agent,omitempty" yaml:"cost_by_agent,omitempty"`

	// Budget and UnitBudget are 0 when not configured
	Budget     float64 `json:"budget,omitempty" yaml:"budget,omitempty"`
	UnitBudget int64   `json:"unit_budget,omitempty" yaml:"unit_budget,omitempty"`

	IsOverBudget bool `json:"is_over_budget" yaml:"is_over_budget"`
	// RemainingBudget is Budget - TotalCost (negative when over); 0 without a budget
	RemainingBudget float64 `json:"remaining_budget" yaml:"remaining_budget"`
	// RemainingUnits is UnitBudget - TotalUnits; 0 without a unit budget
	RemainingUnits int64 `json:"remaining_units" yaml:"remaining_units"`
	// UsagePercentage is the larger of cost and unit consumption, in percent
	UsagePercentage float64 `json:"usage_percentage" yaml:"usage_percentage"`

	Status   BudgetStatus `json:"status" yaml:"status"`
	Currency string       `json:"currency" yaml:"currency"`
}

// WillExceed reports whether spending additionalCost more would reach the budget
func (b BudgetState) WillExceed(additionalCost float64) bool {
	if b.Budget <= 0 {
		return false
	}
	return b.TotalCost+additionalCost >= b.Budget-epsilon
}

// HasBudget reports whether a cost or unit budget is configured
func (b BudgetState) HasBudget() bool {
	return b.Budget > 0 || b.UnitBudget > 0
}

const epsilon = 1e-9

// usagePercent returns max(cost%, unit%) over the configured budgets
func usagePercent(cost, budget float64, units, unitBudget int64) float64 {
	var p float64
	if budget > 0 {
		p = cost / budget * 100
	}
	if unitBudget > 0 {
		if up := float64(units) / float64(unitBudget) * 100; up > p {
			p = up
		}
	}
	return p
}

func bucket(percent float64) int {
	return int(math.Floor(percent/10 + epsilon))
}

// alertCheck holds the budget events triggered by moving from p0 to p1
type alertCheck struct {
	warning  bool
	exceeded bool
}

// checkAlerts applies the bucket rules. exceededFired suppresses repeats of
// budget_exceeded until the tracker re-arms it.
func checkAlerts(p0, p1, warnFraction float64, exceededFired bool) alertCheck {
	var a alertCheck
	if p1+epsilon >= 100 {
		a.exceeded = !exceededFired
		return a
	}

	threshold := warnFraction * 100
	if p1+epsilon < threshold {
		return a
	}
	if bucket(p1) > bucket(p0) || p0+epsilon < threshold {
		a.warning = true
	}
	return a
}

func newBudgetAlert(runID string, eventType events.EventType, p0, p1 float64, state BudgetState) *events.Event {
	msg := fmt.Sprintf("budget %.1f%% used", p1)
	if eventType == events.EventTypeBudgetExceeded {
		msg = fmt.Sprintf("budget exceeded (%.1f%% used)", p1)
	}
	e, err := events.NewBudgetAlertEvent(eventType, runID, msg, events.BudgetAlertData{
		UsagePercentage:    p1,
		PreviousPercentage: p0,
		Bucket:             bucket(p1),
		TotalCost:          state.TotalCost,
		TotalUnits:         state.TotalUnits,
		Budget:             state.Budget,
		UnitBudget:         state.UnitBudget,
		Currency:           state.Currency,
	})
	if err != nil {
		return events.NewSimpleEvent(eventType, runID, events.SeverityWarning, msg)
	}
	return e
}
