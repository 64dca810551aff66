// Command pdca drives and inspects plan-do-check-act iteration runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/config"
	"github.com/RayYangTW/pdca/internal/logging"
)

var (
	// cfg and logger are set by the root command before any subcommand runs
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "pdca",
	Short: "Iteration control for plan-do-check-act agent loops",
	Long: `pdca decides when an iterative agent loop should run another round.

It tracks unit usage and cost per round, applies the configured stop rules
(iteration cap, unit and time budgets, quality target, diminishing returns)
and asks for confirmation before extra rounds when the profile requires it.

Configuration is read from pdca.yaml (or --config) with PDCA_* environment
overrides on top of a named profile.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		verbose, _ := cmd.Flags().GetBool("verbose")
		level, _ := cmd.Flags().GetString("log-level")
		profile, _ := cmd.Flags().GetString("profile")

		if profile != "" {
			if err := os.Setenv(config.EnvPrefix+"_PROFILE", profile); err != nil {
				return fmt.Errorf("failed to select profile: %w", err)
			}
		}
		if configPath == "" {
			configPath = config.FindConfigFile()
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		if level == "" {
			level = cfg.Logging.Level
		}
		l, err := logging.New(logging.Options{
			Verbose:     verbose,
			Development: cfg.Logging.Development,
			Level:       level,
		})
		if err != nil {
			return err
		}
		logger = l

		logger.Debug("configuration loaded",
			zap.String("profile", cfg.Profile),
			zap.String("source", cfg.Source))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", fmt.Sprintf("config file (default is ./%s when present)", config.DefaultConfigName))
	rootCmd.PersistentFlags().StringP("profile", "p", "", fmt.Sprintf("policy profile %v", config.ProfileNames()))
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
