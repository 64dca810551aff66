package iterative

import (
	"sort"
	"sync"
	"time"

	"github.com/RayYangTW/pdca/internal/types"
)

// MetricsCollector provides instrumentation for the round driver.
// Implementations must be safe for concurrent use when shared by RunMany.
//
// This interface is optional - callers can pass nil to Run() to disable
// metrics collection.
type MetricsCollector interface {
	// RecordRoundStart is called before each round executes
	RecordRoundStart(runID string, round int)

	// RecordRoundEnd is called after a round has a verdict
	RecordRoundEnd(runID string, metrics *RoundMetrics)

	// RecordRunComplete is called when the run stops
	RecordRunComplete(result *RunResult, metrics *RunMetrics)

	// RecordExecutorError is called when a round executor fails
	RecordExecutorError(runID string, round int, err error)

	// GetAggregateMetrics returns rolled-up statistics across all runs
	GetAggregateMetrics() *AggregateMetrics
}

// RoundMetrics captures metrics for a single round.
type RoundMetrics struct {
	// Round is the round number (1-based)
	Round int

	InputUnits  int64
	OutputUnits int64
	Cost        float64

	QualityScore float64
	Improvement  float64

	// Duration is the time spent executing the round
	Duration time.Duration

	// Continue, Reason and Confidence are the round's final verdict
	Continue   bool
	Reason     types.Reason
	Confidence float64

	// AwaitedDecision indicates the verdict came from a user decision
	AwaitedDecision bool
}

// RunMetrics captures metrics for an entire run.
type RunMetrics struct {
	RunID string

	// Label groups runs (e.g. a profile name)
	Label string

	// TotalRounds is the number of rounds executed
	TotalRounds int

	// StopReason explains why the run stopped
	StopReason types.Reason

	// ReachedTarget indicates the run stopped on its quality target
	ReachedTarget bool

	FinalQuality float64

	// QualityImprovement is final quality minus first-round quality
	QualityImprovement float64

	TotalDuration    time.Duration
	TotalInputUnits  int64
	TotalOutputUnits int64
	TotalCost        float64

	// Rounds contains the per-round metrics
	Rounds []*RoundMetrics
}

// AggregateMetrics provides rolled-up statistics across runs.
type AggregateMetrics struct {
	TotalRuns int

	// TargetRuns is the count that stopped on quality_target_achieved
	TargetRuns int

	// ForcedStops is the count stopped by an iteration, unit, hard-stop or time cap
	ForcedStops int

	TotalRounds int
	MeanRounds  float64
	P50Rounds   int
	P95Rounds   int

	TotalInputUnits  int64
	TotalOutputUnits int64
	TotalCost        float64
	TotalDuration    time.Duration

	// ExecutorErrors is the total number of failed rounds
	ExecutorErrors int

	// ByReason breaks down runs by stop reason
	ByReason map[types.Reason]*GroupMetrics

	// ByLabel breaks down runs by RunConfig.Label
	ByLabel map[string]*GroupMetrics
}

// TargetRate returns the percentage of runs that reached their quality target
func (a *AggregateMetrics) TargetRate() float64 {
	if a.TotalRuns == 0 {
		return 0
	}
	return float64(a.TargetRuns) / float64(a.TotalRuns) * 100
}

// GroupMetrics provides aggregate statistics for one stop reason or label.
type GroupMetrics struct {
	Count int

	MeanRounds float64
	P50Rounds  int
	P95Rounds  int

	TotalCost float64

	// MeanQualityImprovement is the average first-to-final quality delta
	MeanQualityImprovement float64

	rounds []int
}

// InMemoryMetricsCollector is a simple in-memory implementation of MetricsCollector.
// It stores all metrics in memory for analysis and testing.
type InMemoryMetricsCollector struct {
	mu sync.Mutex

	// runs holds all completed run metrics
	runs []*RunMetrics

	// executorErrors tracks executor failures
	executorErrors int
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		runs: make([]*RunMetrics, 0),
	}
}

// RecordRoundStart implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRoundStart(runID string, round int) {
	// Nothing to do - rounds are attached when the run completes
	_, _ = runID, round
}

// RecordRoundEnd implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRoundEnd(runID string, metrics *RoundMetrics) {
	// Rounds arrive again on RunMetrics.Rounds
	_, _ = runID, metrics
}

// RecordExecutorError implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordExecutorError(runID string, round int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executorErrors++
}

// RecordRunComplete implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRunComplete(result *RunResult, metrics *RunMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, metrics)
}

// GetRuns returns all collected run metrics (useful for analysis)
func (m *InMemoryMetricsCollector) GetRuns() []*RunMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*RunMetrics(nil), m.runs...)
}

// GetAggregateMetrics implements MetricsCollector
func (m *InMemoryMetricsCollector) GetAggregateMetrics() *AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := &AggregateMetrics{
		ByReason:       make(map[types.Reason]*GroupMetrics),
		ByLabel:        make(map[string]*GroupMetrics),
		ExecutorErrors: m.executorErrors,
	}

	var roundCounts []int
	for _, run := range m.runs {
		agg.TotalRuns++
		agg.TotalRounds += run.TotalRounds
		agg.TotalInputUnits += run.TotalInputUnits
		agg.TotalOutputUnits += run.TotalOutputUnits
		agg.TotalCost += run.TotalCost
		agg.TotalDuration += run.TotalDuration
		roundCounts = append(roundCounts, run.TotalRounds)

		if run.ReachedTarget {
			agg.TargetRuns++
		}
		if run.StopReason.IsForceStop() {
			agg.ForcedStops++
		}

		updateGroupMetrics(agg.ByReason, run.StopReason, run)
		if run.Label != "" {
			updateGroupMetrics(agg.ByLabel, run.Label, run)
		}
	}

	if agg.TotalRuns > 0 {
		agg.MeanRounds = float64(agg.TotalRounds) / float64(agg.TotalRuns)
	}
	if len(roundCounts) > 0 {
		sort.Ints(roundCounts)
		agg.P50Rounds = percentile(roundCounts, 50)
		agg.P95Rounds = percentile(roundCounts, 95)
	}

	finalizeGroups(agg.ByReason)
	finalizeGroups(agg.ByLabel)
	return agg
}

// Helper: updateGroupMetrics aggregates one run into its group
func updateGroupMetrics[K comparable](groups map[K]*GroupMetrics, key K, run *RunMetrics) {
	g := groups[key]
	if g == nil {
		g = &GroupMetrics{}
		groups[key] = g
	}

	g.Count++
	g.TotalCost += run.TotalCost
	g.rounds = append(g.rounds, run.TotalRounds)

	// Incremental mean update
	oldMean := g.MeanQualityImprovement
	g.MeanQualityImprovement = oldMean + (run.QualityImprovement-oldMean)/float64(g.Count)
}

// finalizeGroups computes per-group round statistics
func finalizeGroups[K comparable](groups map[K]*GroupMetrics) {
	for _, g := range groups {
		if len(g.rounds) == 0 {
			continue
		}
		sum := 0
		for _, r := range g.rounds {
			sum += r
		}
		g.MeanRounds = float64(sum) / float64(len(g.rounds))

		sort.Ints(g.rounds)
		g.P50Rounds = percentile(g.rounds, 50)
		g.P95Rounds = percentile(g.rounds, 95)
	}
}

// Helper: percentile calculates the Nth percentile from a sorted slice
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// runMetrics builds the run-level metrics from a finished result
func runMetrics(cfg RunConfig, result *RunResult, rounds []*RoundMetrics) *RunMetrics {
	rm := &RunMetrics{
		RunID:            cfg.RunID,
		Label:            cfg.Label,
		TotalRounds:      result.Rounds,
		TotalDuration:    result.ElapsedTime,
		TotalInputUnits:  result.Usage.TotalInputUnits,
		TotalOutputUnits: result.Usage.TotalOutputUnits,
		TotalCost:        result.Usage.TotalCost,
		Rounds:           rounds,
	}
	if result.Final != nil {
		rm.StopReason = result.Final.Reason
		rm.ReachedTarget = result.Final.Reason == types.ReasonQualityTargetAchieved
	}
	if n := len(result.Metrics); n > 0 {
		rm.FinalQuality = result.Metrics[n-1].QualityScore
		rm.QualityImprovement = rm.FinalQuality - result.Metrics[0].QualityScore
	}
	return rm
}
