package cost

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RayYangTW/pdca/internal/types"
)

// HighAverageUnitsPerOperation flags prompts that are likely too large
const HighAverageUnitsPerOperation = 5000

// DominantAgentShare is the cost share above which one agent is flagged
const DominantAgentShare = 0.5

// Report is a self-contained export of a tracker's state
type Report struct {
	RunID           string                 `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	GeneratedAt     time.Time              `json:"generated_at" yaml:"generated_at"`
	Summary         Statistics             `json:"summary" yaml:"summary"`
	Budget          BudgetState            `json:"budget" yaml:"budget"`
	History         []types.UsageRecord    `json:"history" yaml:"history"`
	Recommendations []types.Recommendation `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// ExportReport snapshots statistics, budget and history and attaches
// cost recommendations.
func (t *Tracker) ExportReport() Report {
	summary := t.GetStatistics()
	budget := t.GetBudgetStatus()

	return Report{
		RunID:           t.runID,
		GeneratedAt:     t.now(),
		Summary:         summary,
		Budget:          budget,
		History:         t.History(),
		Recommendations: costRecommendations(summary, budget),
	}
}

func costRecommendations(summary Statistics, budget BudgetState) []types.Recommendation {
	var recs []types.Recommendation

	if budget.IsOverBudget {
		recs = append(recs, types.Recommendation{
			Metric:  "budget",
			Gap:     -budget.RemainingBudget,
			Message: "budget exceeded; adjust the strategy or raise the budget",
		})
	}

	if summary.AverageUnitsPerOperation > HighAverageUnitsPerOperation {
		recs = append(recs, types.Recommendation{
			Metric:  "average_units_per_operation",
			Gap:     summary.AverageUnitsPerOperation - HighAverageUnitsPerOperation,
			Message: "average usage per operation is high; trim prompts or use a cheaper model",
		})
	}

	if summary.TotalCost > 0 && len(summary.CostByAgent) > 0 {
		agents := make([]string, 0, len(summary.CostByAgent))
		for a := range summary.CostByAgent {
			agents = append(agents, a)
		}
		sort.Slice(agents, func(i, j int) bool {
			ci, cj := summary.CostByAgent[agents[i]], summary.CostByAgent[agents[j]]
			if ci != cj {
				return ci > cj
			}
			return agents[i] < agents[j]
		})
		top := agents[0]
		share := summary.CostByAgent[top] / summary.TotalCost
		if share > DominantAgentShare {
			recs = append(recs, types.Recommendation{
				Metric:  "agent_cost_share",
				Gap:     share - DominantAgentShare,
				Message: fmt.Sprintf("agent %q accounts for %.1f%% of cost", top, share*100),
			})
		}
	}

	return recs
}

// Write encodes the report as "json" or "yaml"
func (r Report) Write(w io.Writer, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
	return nil
}
