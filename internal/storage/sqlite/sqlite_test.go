package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayYangTW/pdca/internal/config"
	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/events"
	"github.com/RayYangTW/pdca/internal/loop"
	"github.com/RayYangTW/pdca/internal/pricing"
	"github.com/RayYangTW/pdca/internal/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// auditedRun drives one confirmed round and one capped round through a bus
// that persists into store
func auditedRun(t *testing.T, store *Store, runID string) {
	t.Helper()
	ctx := context.Background()

	bus := events.NewBus(nil)
	bus.AddSink(store)

	tracker, err := cost.NewTracker(cost.DefaultPolicy(), pricing.Default(),
		cost.WithEventBus(bus), cost.WithRunID(runID))
	require.NoError(t, err)
	ctrl, err := loop.New(loop.Policy{MaxIterations: 2, QualityTarget: 0.9, RequireConfirmation: true},
		cost.DefaultPolicy(), tracker, loop.WithEventBus(bus), loop.WithRunID(runID))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		rec, err := tracker.RecordUnits(ctx, 100, 50, pricing.ModelGPT4, "planner", "round")
		require.NoError(t, err)

		out, err := ctrl.Evaluate(ctx, types.IterationMetrics{
			IterationNumber: i,
			QualityScore:    0.4 + 0.2*float64(i),
			UnitsUsed:       rec.TotalUnits,
		})
		require.NoError(t, err)
		if out.IsPending() {
			_, err := out.Pending.Resolve(ctx, true)
			require.NoError(t, err)
		}
	}
}

func TestNewAppliesSchema(t *testing.T) {
	store := newStore(t)

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestFileStoreReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "audit.db")

	store, err := New(ctx, path)
	require.NoError(t, err)
	auditedRun(t, store, "run-file")
	require.NoError(t, store.Close())

	reopened, err := New(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, path, reopened.Path())
	usage, err := reopened.ListUsage(ctx, "run-file")
	require.NoError(t, err)
	assert.Len(t, usage, 2)
}

func TestAuditProjection(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	auditedRun(t, store, "run-a")

	t.Run("usage records", func(t *testing.T) {
		usage, err := store.ListUsage(ctx, "run-a")
		require.NoError(t, err)
		require.Len(t, usage, 2)

		rec := usage[0].Record
		assert.Equal(t, "run-a", usage[0].RunID)
		assert.Equal(t, pricing.ModelGPT4, rec.ProviderModel)
		assert.Equal(t, "planner", rec.AgentID)
		assert.Equal(t, int64(150), rec.TotalUnits)
		// 0.1 * 0.03 + 0.05 * 0.06
		assert.InDelta(t, 0.006, rec.EstimatedCost, 1e-12)
		assert.False(t, usage[1].Record.Timestamp.Before(rec.Timestamp))
	})

	t.Run("iterations", func(t *testing.T) {
		rounds, err := store.ListIterations(ctx, "run-a")
		require.NoError(t, err)
		// Round 1 was answered by a user decision, so only round 2 has a verdict row
		require.Len(t, rounds, 1)
		assert.Equal(t, 2, rounds[0].Iteration)
		assert.False(t, rounds[0].Continue)
		assert.Equal(t, types.ReasonMaxIterationsReached, rounds[0].Reason)
		assert.InDelta(t, 0.8, rounds[0].QualityScore, 1e-9)
		assert.Equal(t, int64(300), rounds[0].TotalUnits)
	})

	t.Run("decisions", func(t *testing.T) {
		decisions, err := store.ListDecisions(ctx, "run-a")
		require.NoError(t, err)
		require.Len(t, decisions, 1)

		d := decisions[0]
		assert.Equal(t, 1, d.Iteration)
		assert.Equal(t, DecisionApproved, d.Status)
		assert.Equal(t, types.ReasonUserConfirmed, d.Reason)
		assert.InDelta(t, 0.6, d.QualityScore, 1e-9)
		assert.NotEmpty(t, d.Recommendations)
		require.NotNil(t, d.ResolvedAt)
	})

	t.Run("events", func(t *testing.T) {
		all, err := store.ListEvents(ctx, EventFilter{RunID: "run-a"})
		require.NoError(t, err)
		// 2 usage + pending + resolved + round_evaluated + run_stopped
		assert.Len(t, all, 6)

		stopped, err := store.ListEvents(ctx, EventFilter{Type: events.EventTypeRunStopped})
		require.NoError(t, err)
		require.Len(t, stopped, 1)
		data, err := stopped[0].GetRoundEvaluatedData()
		require.NoError(t, err)
		assert.Equal(t, string(types.ReasonMaxIterationsReached), data.Reason)

		limited, err := store.ListEvents(ctx, EventFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("runs", func(t *testing.T) {
		runs, err := store.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "run-a", runs[0].RunID)
		assert.Equal(t, 1, runs[0].Iterations)
		assert.Equal(t, int64(300), runs[0].TotalUnits)
		assert.InDelta(t, 0.012, runs[0].TotalCost, 1e-12)
		assert.Equal(t, types.ReasonMaxIterationsReached, runs[0].StopReason)
	})
}

func TestResolvedWithoutPending(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	e, err := events.NewDecisionResolvedEvent("late", "declined", events.DecisionResolvedData{
		DecisionID: "d-1",
		Iteration:  3,
		Approved:   false,
		Reason:     string(types.ReasonUserDeclined),
	})
	require.NoError(t, err)
	require.NoError(t, store.StoreEvent(ctx, e))

	decisions, err := store.ListDecisions(ctx, "late")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, DecisionDeclined, decisions[0].Status)
	assert.Equal(t, 3, decisions[0].Iteration)
}

func TestStoreEventRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	e := events.NewSimpleEvent(events.EventTypeStatsReset, "run-x", events.SeverityInfo, "reset")
	require.NoError(t, store.StoreEvent(ctx, e))
	assert.Error(t, store.StoreEvent(ctx, e))

	all, err := store.ListEvents(ctx, EventFilter{RunID: "run-x"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func storeAged(t *testing.T, store *Store, runID string, severity events.EventSeverity, age time.Duration) {
	t.Helper()
	e := events.NewSimpleEvent(events.EventTypeBudgetWarning, runID, severity, "aged")
	e.Timestamp = time.Now().Add(-age)
	require.NoError(t, store.StoreEvent(context.Background(), e))
}

func TestCleanupEventsByAge(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	day := 24 * time.Hour

	storeAged(t, store, "r", events.SeverityInfo, 40*day)     // past regular retention
	storeAged(t, store, "r", events.SeverityWarning, 10*day)  // kept
	storeAged(t, store, "r", events.SeverityCritical, 40*day) // within critical retention
	storeAged(t, store, "r", events.SeverityError, 100*day)   // past critical retention

	deleted, err := store.CleanupEventsByAge(ctx, 30, 90, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	counts, err := store.GetEventCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.TotalEvents)
	assert.Equal(t, 1, counts.EventsBySeverity["warning"])
	assert.Equal(t, 1, counts.EventsBySeverity["critical"])
	assert.Equal(t, 2, counts.EventsByRun["r"])

	_, err = store.CleanupEventsByAge(ctx, -1, 90, 100)
	assert.Error(t, err)
	_, err = store.CleanupEventsByAge(ctx, 30, 90, 0)
	assert.Error(t, err)
}

func TestCleanupEventsByRunLimit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 0; i < 5; i++ {
		storeAged(t, store, "big", events.SeverityInfo, time.Duration(10-i)*time.Minute)
	}
	storeAged(t, store, "big", events.SeverityCritical, time.Hour)
	storeAged(t, store, "small", events.SeverityInfo, time.Minute)

	deleted, err := store.CleanupEventsByRunLimit(ctx, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	counts, err := store.GetEventCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.EventsByRun["big"])
	assert.Equal(t, 1, counts.EventsByRun["small"])
	assert.Equal(t, 1, counts.EventsBySeverity["critical"], "critical events are exempt")

	deleted, err = store.CleanupEventsByRunLimit(ctx, 0, 100)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCleanupEventsByGlobalLimit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i := 0; i < 6; i++ {
		storeAged(t, store, "r", events.SeverityInfo, time.Duration(10-i)*time.Minute)
	}

	deleted, err := store.CleanupEventsByGlobalLimit(ctx, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = store.CleanupEventsByGlobalLimit(ctx, 10, 100)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCleanupWithRetentionConfig(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	auditedRun(t, store, "run-r")
	storeAged(t, store, "run-r", events.SeverityInfo, 60*24*time.Hour)

	cfg := config.DefaultEventRetentionConfig()
	res, err := store.Cleanup(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ByAge)
	assert.Equal(t, 1, res.Total())
	assert.Equal(t, 6, res.EventsAfter)

	// Projections survive pruning
	usage, err := store.ListUsage(ctx, "run-r")
	require.NoError(t, err)
	assert.Len(t, usage, 2)

	cfg.CleanupEnabled = false
	res, err = store.Cleanup(ctx, cfg)
	require.NoError(t, err)
	assert.Zero(t, res.Total())

	cfg.CleanupEnabled = true
	cfg.RetentionDays = 0
	_, err = store.Cleanup(ctx, cfg)
	assert.Error(t, err)
}
