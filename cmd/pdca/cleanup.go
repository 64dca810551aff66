package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/RayYangTW/pdca/internal/config"
	"github.com/RayYangTW/pdca/internal/storage/sqlite"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune the raw event log of the audit store",
	Long: `Delete old events from the audit store according to the retention policy.

Executes three cleanup strategies in sequence:
  1. Time-based: delete events older than the retention period
  2. Per-run: limit events per run to the configured maximum
  3. Global: enforce the global event count limit

Error and critical events are kept longer and never count against the
limits. Usage records, round verdicts and decisions are not pruned.

Retention is configured under retention: in the config file or through
PDCA_RETENTION_* variables.

Examples:
  pdca cleanup             # Run cleanup with the configured retention
  pdca cleanup --vacuum    # Run cleanup and reclaim disk space
  pdca cleanup --dry-run   # Show the current counts only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		vacuum, _ := cmd.Flags().GetBool("vacuum")

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
		defer cancel()

		store, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		retention := cfg.Retention
		if vacuum {
			retention.CleanupVacuum = true
		}
		return runCleanup(ctx, os.Stdout, store, retention, dryRun)
	},
}

func runCleanup(ctx context.Context, w io.Writer, store *sqlite.Store, retention config.EventRetentionConfig, dryRun bool) error {
	fmt.Fprintf(w, "Event retention: %s\n", retention.String())
	if dryRun {
		fmt.Fprintf(w, "\n%s\n", color.YellowString("DRY RUN MODE - No events will be deleted"))
	}
	fmt.Fprintln(w)

	before, err := store.GetEventCounts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current state:\n")
	fmt.Fprintf(w, "  Total events:    %d\n", before.TotalEvents)
	fmt.Fprintf(w, "  Runs with events: %d\n", len(before.EventsByRun))
	for _, sev := range []string{"info", "warning", "error", "critical"} {
		if n := before.EventsBySeverity[sev]; n > 0 {
			fmt.Fprintf(w, "  %-8s         %d\n", sev+":", n)
		}
	}
	fmt.Fprintln(w)

	if dryRun {
		fmt.Fprintln(w, "Dry run complete. Use without --dry-run to perform cleanup.")
		return nil
	}
	if !retention.CleanupEnabled {
		fmt.Fprintln(w, "Cleanup is disabled (retention.cleanup_enabled=false)")
		return nil
	}

	res, err := store.Cleanup(ctx, retention)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s Cleanup complete\n", green("✓"))
	fmt.Fprintf(w, "  By age:          %d\n", res.ByAge)
	fmt.Fprintf(w, "  By run limit:    %d\n", res.ByRunLimit)
	fmt.Fprintf(w, "  By global limit: %d\n", res.ByGlobal)
	fmt.Fprintf(w, "  Events remaining: %d\n", res.EventsAfter)
	fmt.Fprintf(w, "  Time taken:      %s\n", res.Duration.Round(time.Millisecond))
	if res.Vacuumed {
		fmt.Fprintf(w, "%s VACUUM complete\n", green("✓"))
	} else if res.Total() > 0 {
		fmt.Fprintf(w, "\nNote: Use --vacuum to reclaim disk space\n")
	}
	return nil
}

func init() {
	cleanupCmd.Flags().Bool("dry-run", false, "show counts without deleting")
	cleanupCmd.Flags().Bool("vacuum", false, "run VACUUM after cleanup to reclaim disk space")
	rootCmd.AddCommand(cleanupCmd)
}
