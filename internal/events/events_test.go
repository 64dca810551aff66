package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetAlertSeverity(t *testing.T) {
	data := BudgetAlertData{UsagePercentage: 85, Bucket: 8, TotalCost: 0.85, Budget: 1, Currency: "USD"}

	warn, err := NewBudgetAlertEvent(EventTypeBudgetWarning, "run-1", "85% of budget used", data)
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, warn.Severity)
	assert.Equal(t, "run-1", warn.RunID)
	assert.NotEmpty(t, warn.ID)

	exceeded, err := NewBudgetAlertEvent(EventTypeBudgetExceeded, "run-1", "budget exceeded", data)
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, exceeded.Severity)
	assert.NotEqual(t, warn.ID, exceeded.ID)
}

func TestTypedDataAccessors(t *testing.T) {
	e, err := NewUsageRecordedEvent("run-1", "usage", UsageRecordedData{
		RecordID:      "rec-1",
		ProviderModel: "gpt-4",
		AgentID:       "planner",
		InputUnits:    100,
		OutputUnits:   50,
		Cost:          0.006,
	})
	require.NoError(t, err)

	got, err := e.GetUsageRecordedData()
	require.NoError(t, err)
	assert.Equal(t, "planner", got.AgentID)
	assert.Equal(t, int64(100), got.InputUnits)
	assert.InDelta(t, 0.006, got.Cost, 1e-12)

	pending, err := NewDecisionPendingEvent("run-1", "waiting", DecisionPendingData{
		DecisionID:      "d-1",
		Iteration:       2,
		QualityScore:    0.7,
		Recommendations: []string{"raise coverage"},
	})
	require.NoError(t, err)
	pd, err := pending.GetDecisionPendingData()
	require.NoError(t, err)
	assert.Equal(t, []string{"raise coverage"}, pd.Recommendations)
}

type failingSink struct{ calls int }

func (s *failingSink) StoreEvent(context.Context, *Event) error {
	s.calls++
	return errors.New("disk full")
}

type memorySink struct{ stored []*Event }

func (s *memorySink) StoreEvent(_ context.Context, e *Event) error {
	s.stored = append(s.stored, e)
	return nil
}

func TestBusPublish(t *testing.T) {
	bus := NewBus(nil)
	rec := &Recorder{}
	bus.Subscribe(rec.Handle)

	bad := &failingSink{}
	good := &memorySink{}
	bus.AddSink(bad)
	bus.AddSink(good)

	ctx := context.Background()
	bus.Publish(ctx, NewSimpleEvent(EventTypeStatsReset, "run-1", SeverityInfo, "reset"))
	bus.Publish(ctx, NewSimpleEvent(EventTypeRunStopped, "run-1", SeverityInfo, "stopped"))
	bus.Publish(ctx, nil)

	assert.Len(t, rec.Events(), 2)
	assert.Len(t, rec.OfType(EventTypeRunStopped), 1)
	assert.Equal(t, 2, bad.calls, "failing sink must not stop delivery")
	assert.Len(t, good.stored, 2)
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Subscribe(func(context.Context, *Event) {})
		bus.AddSink(&memorySink{})
		bus.Publish(context.Background(), NewSimpleEvent(EventTypeStatsReset, "", SeverityInfo, "x"))
	})
}
