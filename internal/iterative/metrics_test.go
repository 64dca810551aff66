package iterative

import (
	"errors"
	"testing"
	"time"

	"github.com/RayYangTW/pdca/internal/types"
)

func TestInMemoryMetricsCollector_Aggregate(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	runs := []*RunMetrics{
		{RunID: "a", Label: "economic", TotalRounds: 1, StopReason: types.ReasonMaxIterationsReached, TotalCost: 0.01, QualityImprovement: 0, TotalDuration: time.Second},
		{RunID: "b", Label: "balanced", TotalRounds: 2, StopReason: types.ReasonQualityTargetAchieved, ReachedTarget: true, TotalCost: 0.02, QualityImprovement: 0.4, TotalDuration: time.Second},
		{RunID: "c", Label: "balanced", TotalRounds: 3, StopReason: types.ReasonDiminishingReturns, TotalCost: 0.03, QualityImprovement: 0.12, TotalDuration: time.Second},
		{RunID: "d", Label: "balanced", TotalRounds: 5, StopReason: types.ReasonQualityTargetAchieved, ReachedTarget: true, TotalCost: 0.04, QualityImprovement: 0.2, TotalDuration: time.Second},
	}
	for _, r := range runs {
		collector.RecordRunComplete(&RunResult{RunID: r.RunID}, r)
	}
	collector.RecordRunComplete(nil, nil)
	collector.RecordExecutorError("e", 1, errors.New("x"))

	agg := collector.GetAggregateMetrics()

	if agg.TotalRuns != 4 {
		t.Errorf("Expected 4 runs, got %d", agg.TotalRuns)
	}
	if agg.TotalRounds != 11 {
		t.Errorf("Expected 11 rounds, got %d", agg.TotalRounds)
	}
	if agg.MeanRounds != 2.75 {
		t.Errorf("Expected mean 2.75, got %f", agg.MeanRounds)
	}
	// sorted [1 2 3 5]: index 4*50/100=2, 4*95/100=3
	if agg.P50Rounds != 3 || agg.P95Rounds != 5 {
		t.Errorf("Expected p50=3 p95=5, got p50=%d p95=%d", agg.P50Rounds, agg.P95Rounds)
	}
	if agg.TargetRuns != 2 || agg.TargetRate() != 50 {
		t.Errorf("Expected 2 target runs (50%%), got %d (%.1f%%)", agg.TargetRuns, agg.TargetRate())
	}
	if agg.ForcedStops != 1 {
		t.Errorf("Expected 1 forced stop, got %d", agg.ForcedStops)
	}
	if agg.ExecutorErrors != 1 {
		t.Errorf("Expected 1 executor error, got %d", agg.ExecutorErrors)
	}
	if agg.TotalDuration != 4*time.Second {
		t.Errorf("Expected 4s total duration, got %v", agg.TotalDuration)
	}

	target := agg.ByReason[types.ReasonQualityTargetAchieved]
	if target == nil || target.Count != 2 || target.MeanRounds != 3.5 {
		t.Errorf("Unexpected quality_target group: %+v", target)
	}
	if diff := target.MeanQualityImprovement - 0.3; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected mean improvement 0.3, got %f", target.MeanQualityImprovement)
	}

	balanced := agg.ByLabel["balanced"]
	if balanced == nil || balanced.Count != 3 || balanced.P50Rounds != 3 {
		t.Errorf("Unexpected balanced group: %+v", balanced)
	}
}

func TestInMemoryMetricsCollector_Empty(t *testing.T) {
	agg := NewInMemoryMetricsCollector().GetAggregateMetrics()
	if agg.TotalRuns != 0 || agg.MeanRounds != 0 || agg.TargetRate() != 0 {
		t.Errorf("Expected zero aggregate, got %+v", agg)
	}
	if agg.ByReason == nil || agg.ByLabel == nil {
		t.Error("Expected initialized maps")
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		sorted []int
		p      int
		want   int
	}{
		{nil, 50, 0},
		{[]int{4}, 95, 4},
		{[]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 50, 6},
		{[]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 95, 10},
	}
	for _, tt := range tests {
		if got := percentile(tt.sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v, %d) = %d, want %d", tt.sorted, tt.p, got, tt.want)
		}
	}
}
