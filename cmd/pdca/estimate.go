package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/pricing"
	"github.com/RayYangTW/pdca/internal/tokens"
	"github.com/RayYangTW/pdca/internal/types"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate [text]",
	Short: "Estimate units and cost for a prompt before running it",
	Long: `Estimate the input units of a prompt and the cost of one round with the
given expected output size. Text is read from the argument, --file, or stdin.
--expected-output takes a sample response and estimates its units the same
way; otherwise --output-units is used.

With --remote the input count comes from the Anthropic token counting API
(ANTHROPIC_API_KEY must be set); any API failure falls back to the local
estimate.

Examples:
  pdca estimate "Refactor the storage layer"
  pdca estimate --file prompt.md --model gpt-4 --output-units 800
  pdca estimate --file prompt.md --expected-output sample-answer.md
  cat prompt.md | pdca estimate --remote`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		model, _ := cmd.Flags().GetString("model")
		outputUnits, _ := cmd.Flags().GetInt64("output-units")
		outputFile, _ := cmd.Flags().GetString("expected-output")
		remote, _ := cmd.Flags().GetBool("remote")
		remoteModel, _ := cmd.Flags().GetString("remote-model")

		text, err := readEstimateInput(args, file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		local := tokens.New(tokens.WithLogger(logger))
		tracker, err := cost.NewTracker(cfg.Cost, reg, cost.WithEstimator(local), cost.WithLogger(logger))
		if err != nil {
			return err
		}

		var expectedOutput string
		if outputFile != "" {
			data, err := os.ReadFile(outputFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", outputFile, err)
			}
			expectedOutput = string(data)
			outputUnits = int64(local.Estimate(expectedOutput))
		}

		if remote {
			counter, err := tokens.NewRemoteCounter("", remoteModel, local, logger)
			if err != nil {
				return err
			}
			n := counter.EstimateContext(cmd.Context(), text)
			return printEstimate(os.Stdout, "remote", int64(n), outputUnits, model, reg)
		}

		var rec types.UsageRecord
		if outputFile != "" {
			rec, err = tracker.EstimateOnly(text, expectedOutput, model)
		} else {
			rec, err = tracker.EstimateOnlyUnits(text, outputUnits, model)
		}
		if err != nil {
			return err
		}
		return printEstimate(os.Stdout, "local", rec.InputUnits, rec.OutputUnits, model, reg)
	},
}

func readEstimateInput(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case len(args) > 0 && file != "":
		return "", fmt.Errorf("pass text or --file, not both")
	case len(args) > 0:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
}

func printEstimate(w io.Writer, source string, inputUnits, outputUnits int64, model string, reg *pricing.Registry) error {
	rate, err := reg.Lookup(model)
	if err != nil {
		return fmt.Errorf("%w (see 'pdca pricing')", err)
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "%s\n", yellow("Estimate ("+source+"):"))
	fmt.Fprintf(w, "  Model:   %s\n", model)
	fmt.Fprintf(w, "  Input:   %s units\n", formatUnits(inputUnits))
	fmt.Fprintf(w, "  Output:  %s units (expected)\n", formatUnits(outputUnits))
	fmt.Fprintf(w, "  Cost:    %.6f %s\n", rate.Cost(inputUnits, outputUnits), reg.Currency())

	if cfg.Loop.MaxIterations > 0 {
		perRound := inputUnits + outputUnits
		fmt.Fprintf(w, "  Up to %d rounds: %s units, %.6f %s\n",
			cfg.Loop.MaxIterations,
			formatUnits(perRound*int64(cfg.Loop.MaxIterations)),
			rate.Cost(inputUnits, outputUnits)*float64(cfg.Loop.MaxIterations),
			reg.Currency())
	}
	if cfg.Loop.UnitBudget > 0 && inputUnits+outputUnits > cfg.Loop.UnitBudget {
		fmt.Fprintf(w, "  %s one round exceeds the unit budget of %s\n",
			color.New(color.FgRed).Sprint("⚠️"), formatUnits(cfg.Loop.UnitBudget))
	}
	return nil
}

func init() {
	estimateCmd.Flags().StringP("file", "f", "", "read the prompt from a file")
	estimateCmd.Flags().String("model", pricing.ModelClaude35Sonnet, "pricing model")
	estimateCmd.Flags().Int64("output-units", 500, "expected output units per round")
	estimateCmd.Flags().String("expected-output", "", "file with a sample response to estimate output units from")
	estimateCmd.Flags().Bool("remote", false, "count input tokens with the Anthropic API")
	estimateCmd.Flags().String("remote-model", tokens.DefaultRemoteModel, "model used for remote counting")
	rootCmd.AddCommand(estimateCmd)
}
