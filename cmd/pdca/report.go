package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RayYangTW/pdca/internal/storage/sqlite"
)

// runReport is the audit trail of one run
type runReport struct {
	Summary    *sqlite.RunSummary    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Usage      []sqlite.UsageRow     `json:"usage" yaml:"usage"`
	Iterations []sqlite.IterationRow `json:"iterations" yaml:"iterations"`
	Decisions  []sqlite.DecisionRow  `json:"decisions" yaml:"decisions"`
}

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show recorded runs from the audit store",
	Long: `Without a run id, list every run in the audit store. With a run id, print
its usage records, round verdicts and user decisions.

Examples:
  pdca report
  pdca report demo
  pdca report demo --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		ctx := cmd.Context()

		store, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(ctx)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			if format == "table" {
				printRuns(os.Stdout, runs)
				return nil
			}
			return encodeReport(os.Stdout, format, runs)
		}

		runID := args[0]
		rep := runReport{}
		for i := range runs {
			if runs[i].RunID == runID {
				rep.Summary = &runs[i]
				break
			}
		}
		if rep.Summary == nil {
			return fmt.Errorf("run %s not found in %s", runID, store.Path())
		}
		if rep.Usage, err = store.ListUsage(ctx, runID); err != nil {
			return err
		}
		if rep.Iterations, err = store.ListIterations(ctx, runID); err != nil {
			return err
		}
		if rep.Decisions, err = store.ListDecisions(ctx, runID); err != nil {
			return err
		}

		if format == "table" {
			printRunReport(os.Stdout, &rep)
			return nil
		}
		return encodeReport(os.Stdout, format, rep)
	},
}

func encodeReport(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (table, json, yaml)", format)
	}
}

func printRuns(w io.Writer, runs []sqlite.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tLAST SEEN\tROUNDS\tUNITS\tCOST\tQUALITY\tSTOPPED")
	for _, r := range runs {
		stopped := string(r.StopReason)
		if stopped == "" {
			stopped = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.4f\t%.0f%%\t%s\n",
			r.RunID, r.LastSeen.Local().Format("2006-01-02 15:04"), r.Iterations,
			formatUnits(r.TotalUnits), r.TotalCost, r.LastQuality*100, stopped)
	}
	_ = tw.Flush()
}

func printRunReport(w io.Writer, rep *runReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Run "+rep.Summary.RunID+" ==="))
	fmt.Fprintf(w, "  Units:    %s\n", formatUnits(rep.Summary.TotalUnits))
	fmt.Fprintf(w, "  Cost:     %.4f\n", rep.Summary.TotalCost)
	if rep.Summary.StopReason != "" {
		fmt.Fprintf(w, "  Stopped:  %s\n", reasonColor(rep.Summary.StopReason).Sprint(rep.Summary.StopReason))
	}

	fmt.Fprintf(w, "\n%s\n", yellow("Usage:"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, u := range rep.Usage {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s in\t%s out\t%.6f\n",
			u.Record.Timestamp.Local().Format("15:04:05"), u.Record.Operation, u.Record.ProviderModel,
			formatUnits(u.Record.InputUnits), formatUnits(u.Record.OutputUnits), u.Record.EstimatedCost)
	}
	_ = tw.Flush()

	if len(rep.Iterations) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Verdicts:"))
		for _, it := range rep.Iterations {
			verdict := "stop"
			if it.Continue {
				verdict = "continue"
			}
			fmt.Fprintf(w, "  round %d: %.0f%% quality, %s (%s, %.0f%% confident)\n",
				it.Iteration, it.QualityScore*100, verdict, it.Reason, it.Confidence*100)
		}
	}

	if len(rep.Decisions) > 0 {
		fmt.Fprintf(w, "\n%s\n", yellow("Decisions:"))
		for _, d := range rep.Decisions {
			fmt.Fprintf(w, "  round %d: %s", d.Iteration, d.Status)
			if d.ResolvedAt != nil {
				fmt.Fprintf(w, " after %s", d.ResolvedAt.Sub(d.CreatedAt).Round(time.Millisecond))
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)
}

func init() {
	reportCmd.Flags().String("format", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(reportCmd)
}
