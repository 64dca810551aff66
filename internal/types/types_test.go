package types

import (
	"math"
	"testing"
	"time"
)

func TestNewIterationMetricsImprovement(t *testing.T) {
	first := NewIterationMetrics(1, 0.5, 100, time.Second, nil, nil)
	if first.Improvement != 0 {
		t.Errorf("first round improvement = %v, want 0", first.Improvement)
	}

	second := NewIterationMetrics(2, 0.7, 80, time.Second, &first, nil)
	if diff := second.Improvement - 0.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("second round improvement = %v, want 0.2", second.Improvement)
	}

	third := NewIterationMetrics(3, 0.6, 80, time.Second, &second, nil)
	if third.Improvement >= 0 {
		t.Errorf("regression should yield negative improvement, got %v", third.Improvement)
	}
}

func TestIterationMetricsValidate(t *testing.T) {
	tests := []struct {
		name    string
		metrics IterationMetrics
		wantErr bool
	}{
		{"valid", IterationMetrics{IterationNumber: 1, QualityScore: 0.4}, false},
		{"zero iteration", IterationMetrics{IterationNumber: 0, QualityScore: 0.4}, true},
		{"quality above one", IterationMetrics{IterationNumber: 1, QualityScore: 7}, true},
		{"negative quality", IterationMetrics{IterationNumber: 1, QualityScore: -0.1}, true},
		{"NaN quality", IterationMetrics{IterationNumber: 1, QualityScore: math.NaN()}, true},
		{"infinite quality", IterationMetrics{IterationNumber: 1, QualityScore: math.Inf(1)}, true},
		{"negative units", IterationMetrics{IterationNumber: 1, UnitsUsed: -1}, true},
		{"negative elapsed", IterationMetrics{IterationNumber: 1, Elapsed: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.metrics.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAgentUnits(t *testing.T) {
	m := IterationMetrics{
		IterationNumber: 1,
		AgentResults: map[string]AgentResult{
			"plan": {Success: true, Units: 120},
			"do":   {Success: false, Units: 300, Error: "timeout"},
		},
	}

	units := m.AgentUnits()
	if units["plan"] != 120 || units["do"] != 300 {
		t.Errorf("AgentUnits() = %v", units)
	}
}

func TestReasonClassification(t *testing.T) {
	force := []Reason{ReasonMaxIterationsReached, ReasonUnitBudgetExceeded, ReasonHardStopReached, ReasonTimeBudgetExceeded}
	for _, r := range force {
		if !r.IsForceStop() {
			t.Errorf("%s should be a force stop", r)
		}
		if !r.IsValid() {
			t.Errorf("%s should be valid", r)
		}
	}

	soft := []Reason{ReasonQualityTargetAchieved, ReasonDiminishingReturns, ReasonDefaultContinue, ReasonCancelled}
	for _, r := range soft {
		if r.IsForceStop() {
			t.Errorf("%s should not be a force stop", r)
		}
	}

	if Reason("bogus").IsValid() {
		t.Error("unknown reason reported as valid")
	}
}

func TestContinueDecisionString(t *testing.T) {
	d := &ContinueDecision{Continue: false, Reason: ReasonDiminishingReturns, Confidence: 0.85}
	if got, want := d.String(), "stop (diminishing_returns, confidence 0.85)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
