package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/RayYangTW/pdca/internal/control"
	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/iterative"
	"github.com/RayYangTW/pdca/internal/types"
)

// formatUnits formats a unit count for readability
func formatUnits(units int64) string {
	if units < 1000 {
		return fmt.Sprintf("%d", units)
	} else if units < 1_000_000 {
		return fmt.Sprintf("%.1fK", float64(units)/1000)
	}
	return fmt.Sprintf("%.2fM", float64(units)/1_000_000)
}

// renderProgressBar renders a text-based progress bar
func renderProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100.0 * float64(width))

	var barColor *color.Color
	if percent >= 100 {
		barColor = color.New(color.FgRed, color.Bold)
	} else if percent >= 80 {
		barColor = color.New(color.FgYellow)
	} else {
		barColor = color.New(color.FgGreen)
	}

	var bar strings.Builder
	for i := 0; i < width; i++ {
		if i < filled {
			bar.WriteString(barColor.Sprint("█"))
		} else {
			bar.WriteString(color.New(color.FgHiBlack).Sprint("░"))
		}
	}

	return fmt.Sprintf("[%s]", bar.String())
}

// budgetStatusStyle returns the icon and color for a budget status
func budgetStatusStyle(status cost.BudgetStatus) (string, *color.Color) {
	switch status {
	case cost.BudgetWarning:
		return "⚠️", color.New(color.FgYellow)
	case cost.BudgetExceeded:
		return "🚨", color.New(color.FgRed, color.Bold)
	default:
		return "✓", color.New(color.FgGreen)
	}
}

func printBudget(w io.Writer, b cost.BudgetState) {
	icon, statusColor := budgetStatusStyle(b.Status)
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "%s\n", yellow("Budget:"))
	fmt.Fprintf(w, "  %s Status: %s\n", icon, statusColor.Sprint(b.Status.String()))
	if b.Budget > 0 {
		fmt.Fprintf(w, "  Cost:    %.4f / %.2f %s\n", b.TotalCost, b.Budget, b.Currency)
	} else {
		fmt.Fprintf(w, "  Cost:    %.4f %s (no budget)\n", b.TotalCost, b.Currency)
	}
	if b.UnitBudget > 0 {
		fmt.Fprintf(w, "  Units:   %s / %s\n", formatUnits(b.TotalUnits), formatUnits(b.UnitBudget))
	} else {
		fmt.Fprintf(w, "  Units:   %s (unlimited)\n", formatUnits(b.TotalUnits))
	}
	if b.HasBudget() {
		fmt.Fprintf(w, "           %s %.1f%%\n", renderProgressBar(b.UsagePercentage, 40), b.UsagePercentage)
	}
}

func reasonColor(reason types.Reason) *color.Color {
	switch {
	case reason == types.ReasonQualityTargetAchieved:
		return color.New(color.FgGreen, color.Bold)
	case reason.IsForceStop(), reason == types.ReasonCancelled:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

// printRunSummary prints the outcome of a finished run
func printRunSummary(w io.Writer, res *iterative.RunResult, budget cost.BudgetState) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Run Summary ==="))
	fmt.Fprintf(w, "  Run:        %s\n", res.RunID)
	fmt.Fprintf(w, "  Rounds:     %d\n", res.Rounds)
	if res.Final != nil {
		fmt.Fprintf(w, "  Stopped:    %s\n", reasonColor(res.Final.Reason).Sprint(res.Final.Reason))
		if res.Final.Suggestion != "" {
			fmt.Fprintf(w, "              %s\n", res.Final.Suggestion)
		}
	}
	fmt.Fprintf(w, "  Quality:    %.1f%% (avg %.1f%%)\n", res.Loop.LastQuality*100, res.Loop.AverageQuality*100)
	fmt.Fprintf(w, "  Units:      %s\n", formatUnits(res.Usage.TotalUnits))
	fmt.Fprintf(w, "  Cost:       %.4f %s\n", res.Usage.TotalCost, res.Usage.Currency)
	fmt.Fprintf(w, "  Elapsed:    %s\n", res.ElapsedTime.Round(time.Millisecond))
	fmt.Fprintln(w)

	printBudget(w, budget)

	if res.Final != nil && len(res.Final.Recommendations) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Recommendations:"))
		for _, r := range res.Final.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r.Message)
		}
	}
	fmt.Fprintln(w)
}

// printStatus prints a status payload fetched over the control socket
func printStatus(w io.Writer, s *control.Status) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Run "+s.RunID+" ==="))
	fmt.Fprintf(w, "  State:      %s\n", s.State)
	if s.StopReason != "" {
		fmt.Fprintf(w, "  Stopped:    %s\n", reasonColor(s.StopReason).Sprint(s.StopReason))
	}
	fmt.Fprintf(w, "  Rounds:     %d\n", s.Iterations)
	fmt.Fprintf(w, "  Quality:    %.1f%% (avg %.1f%%)\n", s.LastQuality*100, s.AverageQuality*100)
	if s.EstimatedRoundsToTarget > 0 {
		fmt.Fprintf(w, "  To target:  ~%d more round(s)\n", s.EstimatedRoundsToTarget)
	}
	fmt.Fprintf(w, "  Units:      %s\n", formatUnits(s.TotalUnits))
	fmt.Fprintf(w, "  Cost:       %.4f\n", s.TotalCost)
	fmt.Fprintln(w)

	if s.Budget != nil {
		printBudget(w, *s.Budget)
		fmt.Fprintln(w)
	}

	if s.Pending != nil {
		fmt.Fprintf(w, "%s\n", yellow("Awaiting decision:"))
		fmt.Fprintf(w, "  ID:         %s\n", s.Pending.ID)
		fmt.Fprintf(w, "  Round:      %d (quality %.1f%%)\n", s.Pending.Iteration, s.Pending.QualityScore*100)
		for _, r := range s.Pending.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r.Message)
		}
		fmt.Fprintf(w, "\nTo answer: pdca decide %s --approve | --decline\n", s.RunID)
	}
}

// printAggregate prints cross-run statistics from the metrics collector
func printAggregate(w io.Writer, agg *iterative.AggregateMetrics) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Aggregate ==="))
	fmt.Fprintf(w, "  Runs:          %d\n", agg.TotalRuns)
	fmt.Fprintf(w, "  Reached target: %d (%.0f%%)\n", agg.TargetRuns, agg.TargetRate())
	fmt.Fprintf(w, "  Forced stops:  %d\n", agg.ForcedStops)
	fmt.Fprintf(w, "  Rounds:        mean %.2f, p50 %d, p95 %d\n", agg.MeanRounds, agg.P50Rounds, agg.P95Rounds)
	fmt.Fprintf(w, "  Units:         %s in, %s out\n", formatUnits(agg.TotalInputUnits), formatUnits(agg.TotalOutputUnits))
	fmt.Fprintf(w, "  Cost:          %.4f\n", agg.TotalCost)
	if agg.ExecutorErrors > 0 {
		fmt.Fprintf(w, "  Errors:        %d\n", agg.ExecutorErrors)
	}

	if len(agg.ByReason) > 0 {
		reasons := make([]string, 0, len(agg.ByReason))
		for r := range agg.ByReason {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)

		fmt.Fprintf(w, "\n%s\n", yellow("By stop reason:"))
		for _, r := range reasons {
			g := agg.ByReason[types.Reason(r)]
			fmt.Fprintf(w, "  %-26s %3d runs, mean %.2f rounds, +%.1f%% quality\n",
				r, g.Count, g.MeanRounds, g.MeanQualityImprovement*100)
		}
	}
	fmt.Fprintln(w)
}
