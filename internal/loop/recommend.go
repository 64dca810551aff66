package loop

import (
	"fmt"

	"github.com/RayYangTW/pdca/internal/types"
)

// ruleInput is the state a recommendation rule sees
type ruleInput struct {
	policy   Policy
	current  types.IterationMetrics
	previous *types.IterationMetrics
	units    int64
}

// rule produces at most one recommendation
type rule func(in ruleInput) (types.Recommendation, bool)

// recommendationRules are applied in order; rendering is left to callers.
var recommendationRules = []rule{
	qualityGapRule,
	unitBudgetRule,
	trendRule,
}

func qualityGapRule(in ruleInput) (types.Recommendation, bool) {
	if in.policy.QualityTarget <= 0 {
		return types.Recommendation{}, false
	}
	gap := in.policy.QualityTarget - in.current.QualityScore
	switch {
	case gap > 0.1+epsilon:
		return types.Recommendation{
			Metric:  "quality",
			Gap:     gap,
			Message: fmt.Sprintf("quality has %.1f%% of room to improve", gap*100),
		}, true
	case gap > epsilon:
		return types.Recommendation{
			Metric:  "quality",
			Gap:     gap,
			Message: fmt.Sprintf("quality is close to target, %.1f%% to go", gap*100),
		}, true
	}
	return types.Recommendation{}, false
}

func unitBudgetRule(in ruleInput) (types.Recommendation, bool) {
	if in.policy.UnitBudget <= 0 {
		return types.Recommendation{}, false
	}
	remaining := float64(in.policy.UnitBudget-in.units) / float64(in.policy.UnitBudget) * 100
	if remaining >= 20 {
		return types.Recommendation{}, false
	}
	return types.Recommendation{
		Metric:  "unit_budget",
		Gap:     remaining,
		Message: fmt.Sprintf("%.0f%% of the unit budget left, continue with care", remaining),
	}, true
}

func trendRule(in ruleInput) (types.Recommendation, bool) {
	if in.previous == nil {
		return types.Recommendation{}, false
	}
	recent := in.current.QualityScore - in.previous.QualityScore
	if recent > in.policy.MarginalThreshold*2 {
		return types.Recommendation{
			Metric:  "trend",
			Gap:     recent,
			Message: "improving steadily, another round is worthwhile",
		}, true
	}
	return types.Recommendation{
		Metric:  "trend",
		Gap:     recent,
		Message: "improvement is slowing, consider stopping",
	}, true
}

// Recommend applies the rule table to the given state
func Recommend(policy Policy, current types.IterationMetrics, previous *types.IterationMetrics, units int64) []types.Recommendation {
	in := ruleInput{policy: policy, current: current, previous: previous, units: units}
	var recs []types.Recommendation
	for _, r := range recommendationRules {
		if rec, ok := r(in); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

func (c *Controller) recommendationsLocked(m types.IterationMetrics) []types.Recommendation {
	var prev *types.IterationMetrics
	if len(c.history) >= 2 {
		p := c.history[len(c.history)-2]
		prev = &p
	}
	return Recommend(c.policy, m, prev, c.effectiveUnitsLocked())
}
