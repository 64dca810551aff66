package cost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/RayYangTW/pdca/internal/events"
	"github.com/RayYangTW/pdca/internal/pricing"
	"github.com/RayYangTW/pdca/internal/tokens"
)

// flatRegistry prices one input unit at a tenth of a cent, so with a
// budget of 1.0 every 10 units is 1%.
func flatRegistry() *pricing.Registry {
	return pricing.NewRegistry(map[string]pricing.Rate{
		"flat": {InputPer1K: 1},
		"free": {},
	})
}

func newTestTracker(t *testing.T, policy Policy, opts ...Option) (*Tracker, *events.Recorder) {
	t.Helper()
	bus := events.NewBus(nil)
	rec := &events.Recorder{}
	bus.Subscribe(rec.Handle)

	tr, err := NewTracker(policy, flatRegistry(), append([]Option{WithEventBus(bus), WithRunID("run-test")}, opts...)...)
	require.NoError(t, err)
	return tr, rec
}

func TestRecordUnitsPricing(t *testing.T) {
	tr, err := NewTracker(DefaultPolicy(), nil)
	require.NoError(t, err)

	rec, err := tr.RecordUnits(context.Background(), 2000, 1000, pricing.ModelClaude35Sonnet, "planner", "plan")
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(3000), rec.TotalUnits)
	assert.InDelta(t, 0.021, rec.EstimatedCost, 1e-12)
	assert.Equal(t, "USD", tr.GetStatistics().Currency)
}

func TestRecordUsageEstimatesText(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultPolicy(), WithEstimator(tokens.New(tokens.WithoutHeuristic())))

	rec, err := tr.RecordUsage(context.Background(), strings.Repeat("a", 1000), "", "flat", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(286), rec.InputUnits)
	assert.Equal(t, int64(0), rec.OutputUnits)
}

func TestRecordUsageUnknownModel(t *testing.T) {
	tr, rec := newTestTracker(t, DefaultPolicy())

	_, err := tr.RecordUnits(context.Background(), 10, 10, "mystery", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pricing.ErrUnknownPricingModel))

	assert.Empty(t, tr.History())
	assert.Empty(t, rec.Events())
}

func TestTotalsMonotonicAndReset(t *testing.T) {
	tr, rec := newTestTracker(t, DefaultPolicy())
	ctx := context.Background()

	var lastUnits int64
	var lastCost float64
	for _, units := range []int64{10, 0, 250, 3} {
		_, err := tr.RecordUnits(ctx, units, 0, "flat", "agent", "")
		require.NoError(t, err)

		stats := tr.GetStatistics()
		assert.GreaterOrEqual(t, stats.TotalUnits, lastUnits)
		assert.GreaterOrEqual(t, stats.TotalCost, lastCost)
		lastUnits, lastCost = stats.TotalUnits, stats.TotalCost
	}
	assert.Equal(t, int64(263), lastUnits)
	assert.Equal(t, 4, tr.GetStatistics().OperationCount)
	assert.Len(t, rec.OfType(events.EventTypeUsageRecorded), 4)

	tr.Reset(ctx)
	stats := tr.GetStatistics()
	assert.Zero(t, stats.TotalUnits)
	assert.Zero(t, stats.TotalCost)
	assert.Zero(t, stats.OperationCount)
	assert.Empty(t, tr.History())
	assert.Len(t, rec.OfType(events.EventTypeStatsReset), 1)
}

func TestReadsAreIdempotent(t *testing.T) {
	policy := DefaultPolicy()
	policy.Budget = 1
	tr, rec := newTestTracker(t, policy)

	_, err := tr.RecordUnits(context.Background(), 850, 0, "flat", "", "")
	require.NoError(t, err)
	before := len(rec.Events())

	assert.Equal(t, tr.GetStatistics(), tr.GetStatistics())
	assert.Equal(t, tr.GetBudgetStatus(), tr.GetBudgetStatus())
	assert.Len(t, rec.Events(), before, "reads must not publish events")
}

func TestBudgetEventBuckets(t *testing.T) {
	policy := DefaultPolicy()
	policy.Budget = 1
	tr, rec := newTestTracker(t, policy)
	ctx := context.Background()

	steps := []struct {
		units        int64
		wantWarnings int
		wantExceeded int
	}{
		{500, 0, 0}, // 50%
		{300, 1, 0}, // 80%: crosses the threshold
		{50, 1, 0},  // 85%: same bucket
		{60, 2, 0},  // 91%: new bucket
		{20, 2, 0},  // 93%: same bucket
		{100, 2, 1}, // 103%: exceeded
		{100, 2, 1}, // 113%: already exceeded
	}

	for i, step := range steps {
		_, err := tr.RecordUnits(ctx, step.units, 0, "flat", "", "")
		require.NoError(t, err)
		assert.Len(t, rec.OfType(events.EventTypeBudgetWarning), step.wantWarnings, "step %d", i)
		assert.Len(t, rec.OfType(events.EventTypeBudgetExceeded), step.wantExceeded, "step %d", i)
	}

	exceeded := rec.OfType(events.EventTypeBudgetExceeded)[0]
	assert.Equal(t, events.SeverityCritical, exceeded.Severity)
	data, err := exceeded.GetBudgetAlertData()
	require.NoError(t, err)
	assert.InDelta(t, 103, data.UsagePercentage, 1e-6)
	assert.InDelta(t, 93, data.PreviousPercentage, 1e-6)
}

func TestBudgetWarningMultiBucketJump(t *testing.T) {
	policy := DefaultPolicy()
	policy.Budget = 1
	tr, rec := newTestTracker(t, policy)

	_, err := tr.RecordUnits(context.Background(), 950, 0, "flat", "", "")
	require.NoError(t, err)
	assert.Len(t, rec.OfType(events.EventTypeBudgetWarning), 1)
	assert.Empty(t, rec.OfType(events.EventTypeBudgetExceeded))
}

func TestWarnAtPercent(t *testing.T) {
	policy := DefaultPolicy()
	policy.Budget = 1
	policy.WarnAtPercent = 50
	tr, rec := newTestTracker(t, policy)
	ctx := context.Background()

	_, err := tr.RecordUnits(ctx, 450, 0, "flat", "", "")
	require.NoError(t, err)
	assert.Empty(t, rec.OfType(events.EventTypeBudgetWarning))

	_, err = tr.RecordUnits(ctx, 60, 0, "flat", "", "")
	require.NoError(t, err)
	assert.Len(t, rec.OfType(events.EventTypeBudgetWarning), 1)
	assert.Equal(t, BudgetWarning, tr.GetBudgetStatus().Status)
}

func TestSetBudgetReevaluates(t *testing.T) {
	tr, rec := newTestTracker(t, DefaultPolicy())
	ctx := context.Background()

	_, err := tr.RecordUnits(ctx, 900, 0, "flat", "", "")
	require.NoError(t, err)
	assert.Empty(t, rec.OfType(events.EventTypeBudgetWarning), "no budget, no alerts")

	require.NoError(t, tr.SetBudget(ctx, 1, 0.8))
	assert.Len(t, rec.OfType(events.EventTypeBudgetWarning), 1)

	require.NoError(t, tr.SetBudget(ctx, 0.5, 0.8))
	assert.Len(t, rec.OfType(events.EventTypeBudgetExceeded), 1)

	// Re-armed by SetBudget
	require.NoError(t, tr.SetBudget(ctx, 0.6, 0.8))
	assert.Len(t, rec.OfType(events.EventTypeBudgetExceeded), 2)

	state := tr.GetBudgetStatus()
	assert.True(t, state.IsOverBudget)
	assert.InDelta(t, -0.3, state.RemainingBudget, 1e-9)
}

func TestSetBudgetValidation(t *testing.T) {
	tr, _ := newTestTracker(t, DefaultPolicy())
	ctx := context.Background()

	tests := []struct {
		name      string
		amount    float64
		threshold float64
	}{
		{"zero amount", 0, 0.8},
		{"negative amount", -1, 0.8},
		{"zero threshold", 1, 0},
		{"threshold above one", 1, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.SetBudget(ctx, tt.amount, tt.threshold)
			assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
		})
	}

	assert.True(t, errors.Is(tr.SetUnitBudget(ctx, 0), ErrConfiguration))
}

func TestUnitBudgetOverrun(t *testing.T) {
	tr, rec := newTestTracker(t, DefaultPolicy())
	ctx := context.Background()
	require.NoError(t, tr.SetUnitBudget(ctx, 1000))

	for _, units := range []int64{400, 400, 250} {
		_, err := tr.RecordUnits(ctx, units, 0, "free", "", "")
		require.NoError(t, err)
	}

	state := tr.GetBudgetStatus()
	assert.Equal(t, int64(1050), state.TotalUnits)
	assert.True(t, state.IsOverBudget)
	assert.Equal(t, int64(-50), state.RemainingUnits)
	assert.Equal(t, BudgetExceeded, state.Status)
	assert.Len(t, rec.OfType(events.EventTypeBudgetExceeded), 1)
}

func TestEstimateOnlyDoesNotMutate(t *testing.T) {
	policy := DefaultPolicy()
	policy.Budget = 1
	tr, rec := newTestTracker(t, policy, WithEstimator(tokens.CharRatioEstimator{}))

	est, err := tr.EstimateOnlyUnits(strings.Repeat("x", 35), 100, "flat")
	require.NoError(t, err)
	assert.Equal(t, int64(10), est.InputUnits)
	assert.Equal(t, int64(100), est.OutputUnits)
	assert.InDelta(t, 0.01, est.EstimatedCost, 1e-12)

	_, err = tr.EstimateOnly(strings.Repeat("x", 35), strings.Repeat("y", 70), "flat")
	require.NoError(t, err)

	assert.Zero(t, tr.GetStatistics().TotalUnits)
	assert.Empty(t, tr.History())
	assert.Empty(t, rec.Events())

	_, err = tr.EstimateOnly("x", "", "mystery")
	assert.True(t, errors.Is(err, pricing.ErrUnknownPricingModel))

	_, err = tr.EstimateOnlyUnits("x", -1, "flat")
	assert.Error(t, err)
}

func TestEstimateOnlyEstimatesOutputText(t *testing.T) {
	estimator := tokens.CharRatioEstimator{}
	tr, _ := newTestTracker(t, DefaultPolicy(), WithEstimator(estimator))

	reg := pricing.NewRegistry(map[string]pricing.Rate{"split": {InputPer1K: 1, OutputPer1K: 2}})
	priced, err := NewTracker(DefaultPolicy(), reg, WithEstimator(estimator))
	require.NoError(t, err)

	input := strings.Repeat("x", 35)
	output := strings.Repeat("y", 70)

	est, err := tr.EstimateOnly(input, output, "flat")
	require.NoError(t, err)
	assert.Equal(t, int64(estimator.Estimate(input)), est.InputUnits)
	assert.Equal(t, int64(estimator.Estimate(output)), est.OutputUnits)
	assert.Equal(t, est.InputUnits+est.OutputUnits, est.TotalUnits)

	est, err = priced.EstimateOnly(input, output, "split")
	require.NoError(t, err)
	// 10 input units at 1/1K, 20 output units at 2/1K
	assert.InDelta(t, 0.05, est.EstimatedCost, 1e-12)

	empty, err := tr.EstimateOnly(input, "", "flat")
	require.NoError(t, err)
	assert.Zero(t, empty.OutputUnits)
}

func TestWillExceed(t *testing.T) {
	state := BudgetState{Budget: 1, TotalCost: 0.7}
	assert.False(t, state.WillExceed(0.2))
	assert.True(t, state.WillExceed(0.3))
	assert.False(t, BudgetState{TotalCost: 100}.WillExceed(1), "no budget never exceeds")
}

func TestTimestampsNonDecreasing(t *testing.T) {
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Second), base.Add(-time.Minute), base.Add(2 * time.Second)}
	i := 0
	clock := func() time.Time {
		now := times[i%len(times)]
		i++
		return now
	}

	tr, _ := newTestTracker(t, DefaultPolicy(), WithClock(clock))
	for j := 0; j < 3; j++ {
		_, err := tr.RecordUnits(context.Background(), 1, 1, "free", "", "")
		require.NoError(t, err)
	}

	history := tr.History()
	require.Len(t, history, 3)
	for j := 1; j < len(history); j++ {
		assert.False(t, history[j].Timestamp.Before(history[j-1].Timestamp))
	}
}

func TestTrackByAgent(t *testing.T) {
	policy := DefaultPolicy()
	policy.TrackByAgent = false
	tr, _ := newTestTracker(t, policy)

	_, err := tr.RecordUnits(context.Background(), 10, 0, "flat", "planner", "")
	require.NoError(t, err)
	assert.Empty(t, tr.GetStatistics().UnitsByAgent)
}

func TestExportReport(t *testing.T) {
	policy := DefaultPolicy()
	policy.Budget = 0.01
	tr, _ := newTestTracker(t, policy)
	ctx := context.Background()

	_, err := tr.RecordUnits(ctx, 6000, 0, "flat", "doer", "do")
	require.NoError(t, err)
	_, err = tr.RecordUnits(ctx, 5000, 0, "flat", "checker", "check")
	require.NoError(t, err)

	report := tr.ExportReport()
	assert.Equal(t, "run-test", report.RunID)
	assert.Len(t, report.History, 2)

	metrics := make([]string, 0, len(report.Recommendations))
	for _, r := range report.Recommendations {
		metrics = append(metrics, r.Metric)
	}
	assert.Equal(t, []string{"budget", "average_units_per_operation", "agent_cost_share"}, metrics)

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf, "json"))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-test", decoded["run_id"])

	buf.Reset()
	require.NoError(t, report.Write(&buf, "yaml"))
	var yamlDecoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &yamlDecoded))
	assert.Contains(t, yamlDecoded, "history")

	assert.Error(t, report.Write(&buf, "xml"))
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{"default", func(*Policy) {}, false},
		{"warn percent too high", func(p *Policy) { p.WarnAtPercent = 120 }, true},
		{"negative hard stop", func(p *Policy) { p.HardStopAtUnits = -1 }, true},
		{"negative budget", func(p *Policy) { p.Budget = -5 }, true},
		{"threshold above one", func(p *Policy) { p.WarningThreshold = 1.2 }, true},
		{"full", func(p *Policy) {
			p.WarnAtPercent = 75
			p.HardStopAtUnits = 50000
			p.Budget = 2
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewTracker(Policy{Budget: -1}, nil)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestBudgetStatusString(t *testing.T) {
	assert.Equal(t, "HEALTHY", BudgetHealthy.String())
	assert.Equal(t, "EXCEEDED", BudgetExceeded.String())
	assert.Equal(t, "UNKNOWN(9)", BudgetStatus(9).String())
}
