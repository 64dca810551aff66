// Package cost tracks unit usage and estimated spend for one run and raises
// budget events as usage grows.
package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/events"
	"github.com/RayYangTW/pdca/internal/pricing"
	"github.com/RayYangTW/pdca/internal/tokens"
	"github.com/RayYangTW/pdca/internal/types"
)

// Option configures a Tracker
type Option func(*Tracker)

// WithEstimator replaces the default token estimator
func WithEstimator(e tokens.Estimator) Option {
	return func(t *Tracker) {
		if e != nil {
			t.estimator = e
		}
	}
}

// WithEventBus publishes tracker events on bus
func WithEventBus(bus *events.Bus) Option {
	return func(t *Tracker) { t.bus = bus }
}

// WithLogger sets the tracker's logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRunID tags every event with runID
func WithRunID(runID string) Option {
	return func(t *Tracker) { t.runID = runID }
}

// WithClock overrides time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Statistics summarizes the usage history
type Statistics struct {
	TotalInputUnits          int64              `json:"total_input_units" yaml:"total_input_units"`
	TotalOutputUnits         int64              `json:"total_output_units" yaml:"total_output_units"`
	TotalUnits               int64              `json:"total_units" yaml:"total_units"`
	TotalCost                float64            `json:"total_cost" yaml:"total_cost"`
	OperationCount           int                `json:"operation_count" yaml:"operation_count"`
	AverageUnitsPerOperation float64            `json:"average_units_per_operation" yaml:"average_units_per_operation"`
	UnitsByAgent             map[string]int64   `json:"units_by_agent,omitempty" yaml:"units_by_agent,omitempty"`
	CostByAgent              map[string]float64 `json:"cost_by_agent,omitempty" yaml:"cost_by_agent,omitempty"`
	StartTime                time.Time          `json:"start_time" yaml:"start_time"`
	LastUpdate               time.Time          `json:"last_update,omitempty" yaml:"last_update,omitempty"`
	Currency                 string             `json:"currency" yaml:"currency"`
}

// Span returns the time between the start of tracking and the last record
func (s Statistics) Span() time.Duration {
	if s.LastUpdate.IsZero() {
		return 0
	}
	return s.LastUpdate.Sub(s.StartTime)
}

// Tracker records usage for a single run. Create one per run; share the
// pricing registry between runs instead.
type Tracker struct {
	mu sync.RWMutex

	policy     Policy
	unitBudget int64
	pricing    *pricing.Registry
	estimator  tokens.Estimator
	bus        *events.Bus
	logger     *zap.Logger
	runID      string
	now        func() time.Time

	history      []types.UsageRecord
	inputUnits   int64
	outputUnits  int64
	totalCost    float64
	unitsByAgent map[string]int64
	costByAgent  map[string]float64
	startTime    time.Time
	lastUpdate   time.Time

	// exceededFired suppresses repeated budget_exceeded events until re-armed
	exceededFired bool
}

// NewTracker creates a tracker. A nil registry uses pricing.Default().
func NewTracker(policy Policy, reg *pricing.Registry, opts ...Option) (*Tracker, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost policy: %w", err)
	}
	if reg == nil {
		reg = pricing.Default()
	}
	if policy.Currency == "" {
		policy.Currency = reg.Currency()
	}

	t := &Tracker{
		policy:       policy,
		pricing:      reg,
		logger:       zap.NewNop(),
		now:          time.Now,
		unitsByAgent: make(map[string]int64),
		costByAgent:  make(map[string]float64),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.estimator == nil {
		t.estimator = tokens.New(tokens.WithLogger(t.logger))
	}
	t.startTime = t.now()

	return t, nil
}

// Policy returns the tracker's current policy
func (t *Tracker) Policy() Policy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.policy
}

// RecordUsage estimates units for the input and output texts, prices them
// under model and appends a usage record.
func (t *Tracker) RecordUsage(ctx context.Context, inputText, outputText, model, agentID, operation string) (types.UsageRecord, error) {
	in := int64(t.estimator.Estimate(inputText))
	out := int64(t.estimator.Estimate(outputText))
	return t.RecordUnits(ctx, in, out, model, agentID, operation)
}

// RecordUnits appends a usage record for already-counted units
func (t *Tracker) RecordUnits(ctx context.Context, inputUnits, outputUnits int64, model, agentID, operation string) (types.UsageRecord, error) {
	if inputUnits < 0 || outputUnits < 0 {
		return types.UsageRecord{}, fmt.Errorf("unit counts must be non-negative, got %d/%d", inputUnits, outputUnits)
	}

	rate, err := t.pricing.Lookup(model)
	if err != nil {
		return types.UsageRecord{}, err
	}

	t.mu.Lock()
	p0 := t.percentLocked()

	ts := t.now()
	if ts.Before(t.lastUpdate) {
		ts = t.lastUpdate
	}
	rec := types.UsageRecord{
		ID:            uuid.New().String(),
		InputUnits:    inputUnits,
		OutputUnits:   outputUnits,
		TotalUnits:    inputUnits + outputUnits,
		EstimatedCost: rate.Cost(inputUnits, outputUnits),
		Timestamp:     ts,
		ProviderModel: model,
		AgentID:       agentID,
		Operation:     operation,
	}

	t.history = append(t.history, rec)
	t.inputUnits += inputUnits
	t.outputUnits += outputUnits
	t.totalCost += rec.EstimatedCost
	t.lastUpdate = ts
	if agentID != "" && t.policy.TrackByAgent {
		t.unitsByAgent[agentID] += rec.TotalUnits
		t.costByAgent[agentID] += rec.EstimatedCost
	}

	p1 := t.percentLocked()
	state := t.budgetStateLocked()
	pending := []*events.Event{t.usageEventLocked(rec)}
	pending = append(pending, t.alertEventsLocked(p0, p1, state)...)
	t.mu.Unlock()

	t.logger.Debug("usage recorded",
		zap.String("run_id", t.runID),
		zap.String("model", model),
		zap.String("agent_id", agentID),
		zap.Int64("units", rec.TotalUnits),
		zap.Float64("cost", rec.EstimatedCost))

	t.publish(ctx, pending)
	return rec, nil
}

// EstimateOnly prices a hypothetical call without recording it. Both texts
// go through the tracker's estimator.
func (t *Tracker) EstimateOnly(inputText, expectedOutputText, model string) (types.UsageRecord, error) {
	return t.EstimateOnlyUnits(inputText, int64(t.estimator.Estimate(expectedOutputText)), model)
}

// EstimateOnlyUnits is EstimateOnly for callers that know the expected
// output size as a unit count rather than text.
func (t *Tracker) EstimateOnlyUnits(inputText string, expectedOutputUnits int64, model string) (types.UsageRecord, error) {
	if expectedOutputUnits < 0 {
		return types.UsageRecord{}, fmt.Errorf("expected output units must be non-negative, got %d", expectedOutputUnits)
	}
	rate, err := t.pricing.Lookup(model)
	if err != nil {
		return types.UsageRecord{}, err
	}
	in := int64(t.estimator.Estimate(inputText))
	return types.UsageRecord{
		InputUnits:    in,
		OutputUnits:   expectedOutputUnits,
		TotalUnits:    in + expectedOutputUnits,
		EstimatedCost: rate.Cost(in, expectedOutputUnits),
		Timestamp:     t.now(),
		ProviderModel: model,
	}, nil
}

// GetStatistics returns aggregate usage figures
func (t *Tracker) GetStatistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := t.inputUnits + t.outputUnits
	stats := Statistics{
		TotalInputUnits:  t.inputUnits,
		TotalOutputUnits: t.outputUnits,
		TotalUnits:       total,
		TotalCost:        t.totalCost,
		OperationCount:   len(t.history),
		UnitsByAgent:     copyUnits(t.unitsByAgent),
		CostByAgent:      copyCosts(t.costByAgent),
		StartTime:        t.startTime,
		LastUpdate:       t.lastUpdate,
		Currency:         t.policy.Currency,
	}
	if len(t.history) > 0 {
		stats.AverageUnitsPerOperation = float64(total) / float64(len(t.history))
	}
	return stats
}

// TotalUnits returns the running unit total
func (t *Tracker) TotalUnits() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inputUnits + t.outputUnits
}

// TotalCost returns the running cost total
func (t *Tracker) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

// History returns a copy of the usage history in recording order
func (t *Tracker) History() []types.UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.UsageRecord(nil), t.history...)
}

// GetBudgetStatus derives the current budget state
func (t *Tracker) GetBudgetStatus() BudgetState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.budgetStateLocked()
}

// SetBudget replaces the cost budget and warning threshold, then re-evaluates
// current usage from 0%.
func (t *Tracker) SetBudget(ctx context.Context, amount, warningThreshold float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: budget must be positive, got %.4f", ErrConfiguration, amount)
	}
	if warningThreshold <= 0 || warningThreshold > 1 {
		return fmt.Errorf("%w: warning threshold must be in (0, 1], got %.2f", ErrConfiguration, warningThreshold)
	}

	t.mu.Lock()
	t.policy.Budget = amount
	t.policy.WarningThreshold = warningThreshold
	pending := t.rearmLocked()
	t.mu.Unlock()

	t.publish(ctx, pending)
	return nil
}

// SetUnitBudget sets a unit cap that counts toward budget events alongside
// the cost budget, then re-evaluates current usage from 0%.
func (t *Tracker) SetUnitBudget(ctx context.Context, units int64) error {
	if units <= 0 {
		return fmt.Errorf("%w: unit budget must be positive, got %d", ErrConfiguration, units)
	}

	t.mu.Lock()
	t.unitBudget = units
	pending := t.rearmLocked()
	t.mu.Unlock()

	t.publish(ctx, pending)
	return nil
}

// Reset clears the history and alert bookkeeping. Policy, pricing and
// budgets are kept.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	t.history = nil
	t.inputUnits = 0
	t.outputUnits = 0
	t.totalCost = 0
	t.unitsByAgent = make(map[string]int64)
	t.costByAgent = make(map[string]float64)
	t.startTime = t.now()
	t.lastUpdate = time.Time{}
	t.exceededFired = false
	t.mu.Unlock()

	t.logger.Debug("usage statistics reset", zap.String("run_id", t.runID))
	t.publish(ctx, []*events.Event{
		events.NewSimpleEvent(events.EventTypeStatsReset, t.runID, events.SeverityInfo, "usage statistics reset"),
	})
}

func (t *Tracker) rearmLocked() []*events.Event {
	t.exceededFired = false
	return t.alertEventsLocked(0, t.percentLocked(), t.budgetStateLocked())
}

func (t *Tracker) percentLocked() float64 {
	return usagePercent(t.totalCost, t.policy.Budget, t.inputUnits+t.outputUnits, t.unitBudget)
}

func (t *Tracker) budgetStateLocked() BudgetState {
	total := t.inputUnits + t.outputUnits
	state := BudgetState{
		TotalUnits:   total,
		TotalCost:    t.totalCost,
		UnitsByAgent: copyUnits(t.unitsByAgent),
		CostByAgent:  copyCosts(t.costByAgent),
		Budget:       t.policy.Budget,
		UnitBudget:   t.unitBudget,
		Currency:     t.policy.Currency,
	}
	if state.Budget > 0 {
		state.RemainingBudget = state.Budget - state.TotalCost
		if state.TotalCost >= state.Budget-epsilon {
			state.IsOverBudget = true
		}
	}
	if state.UnitBudget > 0 {
		state.RemainingUnits = state.UnitBudget - total
		if total >= state.UnitBudget {
			state.IsOverBudget = true
		}
	}
	state.UsagePercentage = t.percentLocked()

	switch {
	case state.IsOverBudget:
		state.Status = BudgetExceeded
	case state.HasBudget() && state.UsagePercentage+epsilon >= t.policy.warnFraction()*100:
		state.Status = BudgetWarning
	default:
		state.Status = BudgetHealthy
	}
	return state
}

func (t *Tracker) alertEventsLocked(p0, p1 float64, state BudgetState) []*events.Event {
	if !state.HasBudget() {
		return nil
	}

	check := checkAlerts(p0, p1, t.policy.warnFraction(), t.exceededFired)
	var out []*events.Event
	if check.exceeded {
		t.exceededFired = true
		t.logger.Warn("budget exceeded",
			zap.String("run_id", t.runID),
			zap.Float64("usage_percent", p1),
			zap.Float64("total_cost", state.TotalCost),
			zap.Int64("total_units", state.TotalUnits))
		out = append(out, newBudgetAlert(t.runID, events.EventTypeBudgetExceeded, p0, p1, state))
	}
	if check.warning {
		t.logger.Info("budget warning",
			zap.String("run_id", t.runID),
			zap.Float64("usage_percent", p1))
		out = append(out, newBudgetAlert(t.runID, events.EventTypeBudgetWarning, p0, p1, state))
	}
	return out
}

func (t *Tracker) usageEventLocked(rec types.UsageRecord) *events.Event {
	msg := fmt.Sprintf("%d units on %s", rec.TotalUnits, rec.ProviderModel)
	e, err := events.NewUsageRecordedEvent(t.runID, msg, events.UsageRecordedData{
		RecordID:      rec.ID,
		ProviderModel: rec.ProviderModel,
		AgentID:       rec.AgentID,
		Operation:     rec.Operation,
		InputUnits:    rec.InputUnits,
		OutputUnits:   rec.OutputUnits,
		Cost:          rec.EstimatedCost,
		TotalUnits:    t.inputUnits + t.outputUnits,
		TotalCost:     t.totalCost,
	})
	if err != nil {
		return events.NewSimpleEvent(events.EventTypeUsageRecorded, t.runID, events.SeverityInfo, msg)
	}
	return e
}

func (t *Tracker) publish(ctx context.Context, pending []*events.Event) {
	for _, e := range pending {
		t.bus.Publish(ctx, e)
	}
}

func copyUnits(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyCosts(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
