package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/RayYangTW/pdca/internal/control"
)

// socketDir is where runs publish their control sockets
func socketDir() string {
	if cfg.Control.SocketDir != "" {
		return cfg.Control.SocketDir
	}
	return os.TempDir()
}

// findRunSocket returns the control socket for runID. Without a run id the
// only live socket is used.
func findRunSocket(dir, runID string) (string, string, error) {
	if runID != "" {
		path := control.DefaultSocketPath(dir, runID)
		if _, err := os.Stat(path); err != nil {
			return "", "", fmt.Errorf("no control socket for run %s at %s", runID, path)
		}
		return path, runID, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "pdca-*.sock"))
	if err != nil {
		return "", "", fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	switch len(matches) {
	case 0:
		return "", "", fmt.Errorf("no running simulation found (no control socket in %s)", dir)
	case 1:
		id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(matches[0]), "pdca-"), ".sock")
		return matches[0], id, nil
	default:
		return "", "", fmt.Errorf("%d runs are listening, pass a run id", len(matches))
	}
}

// dialRun resolves the socket for the optional run id argument
func dialRun(args []string) (*control.Client, string, error) {
	var runID string
	if len(args) > 0 {
		runID = args[0]
	}
	path, id, err := findRunSocket(socketDir(), runID)
	if err != nil {
		return nil, "", fmt.Errorf("%w\nHint: start one with 'pdca simulate --socket'", err)
	}
	return control.NewClient(path), id, nil
}

// checkResponse turns a failed response into an error
func checkResponse(resp *control.Response) error {
	if resp.Success {
		return nil
	}
	if resp.Error != "" {
		return fmt.Errorf("%s: %s", resp.Message, resp.Error)
	}
	return fmt.Errorf("%s", resp.Message)
}

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the live state of a running simulation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, runID, err := dialRun(args)
		if err != nil {
			return err
		}

		resp, err := client.Status(runID)
		if err != nil {
			return fmt.Errorf("failed to send status command: %w", err)
		}
		if err := checkResponse(resp); err != nil {
			return err
		}

		var status control.Status
		if err := resp.Decode(&status); err != nil {
			return err
		}
		printStatus(os.Stdout, &status)
		return nil
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide [run-id]",
	Short: "Answer the pending decision of a running simulation",
	Long: `Approve or decline another round for a run that is waiting on a user
decision. The decision id is checked when --decision is given so a stale
answer cannot resolve a newer decision.

Examples:
  pdca decide --approve
  pdca decide demo --decline
  pdca decide demo --approve --decision 6f1c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		decline, _ := cmd.Flags().GetBool("decline")
		decisionID, _ := cmd.Flags().GetString("decision")
		if approve == decline {
			return fmt.Errorf("pass exactly one of --approve or --decline")
		}

		client, runID, err := dialRun(args)
		if err != nil {
			return err
		}

		resp, err := client.Resolve(runID, decisionID, approve)
		if err != nil {
			return fmt.Errorf("failed to send resolve command: %w", err)
		}
		if err := checkResponse(resp); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		verdict := "declined"
		if approve {
			verdict = "approved"
		}
		fmt.Printf("%s Round %s for run %s\n", green("✓"), verdict, runID)
		if resp.Message != "" {
			fmt.Printf("  %s\n", resp.Message)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Stop a running simulation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		client, runID, err := dialRun(args)
		if err != nil {
			return err
		}

		resp, err := client.Cancel(runID, reason)
		if err != nil {
			return fmt.Errorf("failed to send cancel command: %w", err)
		}
		if err := checkResponse(resp); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Run %s cancelled\n", green("✓"), runID)
		return nil
	},
}

func init() {
	decideCmd.Flags().Bool("approve", false, "run another round")
	decideCmd.Flags().Bool("decline", false, "stop the run")
	decideCmd.Flags().String("decision", "", "decision id to check against the pending decision")
	cancelCmd.Flags().StringP("reason", "r", "", "reason for cancelling (optional)")

	rootCmd.AddCommand(statusCmd, decideCmd, cancelCmd)
}
