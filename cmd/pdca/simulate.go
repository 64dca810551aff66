package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/control"
	"github.com/RayYangTW/pdca/internal/events"
	"github.com/RayYangTW/pdca/internal/iterative"
	"github.com/RayYangTW/pdca/internal/loop"
	"github.com/RayYangTW/pdca/internal/pricing"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the iteration controller against a scripted quality sequence",
	Long: `Drive the controller with a scripted executor that reports a fixed quality
score per round. Usage is recorded on the cost tracker, every event is
printed as it happens and written to the audit store when storage is enabled.

When the profile requires confirmation the run pauses for a decision. By
default the decision is asked on the terminal. With --socket the run also
listens on a control socket so 'pdca decide' can answer from another shell;
--wait skips the terminal prompt entirely.

Examples:
  pdca simulate --qualities 0.5,0.7,0.72
  pdca simulate --profile premium --yes
  pdca simulate --socket --wait --run-id demo
  pdca simulate --runs 10 --concurrency 4 --qualities 0.6,0.8,0.9`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := simulateOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if opts.runs > 1 {
			return simulateMany(ctx, opts)
		}
		return simulateOne(ctx, opts)
	},
}

type simulateOptions struct {
	qualities   []float64
	model       string
	agent       string
	inputUnits  int64
	outputUnits int64
	runID       string
	socket      bool
	wait        bool
	yes         bool
	runs        int
	concurrency int
	budget      float64
	report      string
}

func simulateOptionsFromFlags(cmd *cobra.Command) (simulateOptions, error) {
	var opts simulateOptions
	opts.qualities, _ = cmd.Flags().GetFloat64Slice("qualities")
	opts.model, _ = cmd.Flags().GetString("model")
	opts.agent, _ = cmd.Flags().GetString("agent")
	opts.inputUnits, _ = cmd.Flags().GetInt64("input-units")
	opts.outputUnits, _ = cmd.Flags().GetInt64("output-units")
	opts.runID, _ = cmd.Flags().GetString("run-id")
	opts.socket, _ = cmd.Flags().GetBool("socket")
	opts.wait, _ = cmd.Flags().GetBool("wait")
	opts.yes, _ = cmd.Flags().GetBool("yes")
	opts.runs, _ = cmd.Flags().GetInt("runs")
	opts.concurrency, _ = cmd.Flags().GetInt("concurrency")
	opts.budget, _ = cmd.Flags().GetFloat64("budget")
	opts.report, _ = cmd.Flags().GetString("report")
	showUsageEvents, _ = cmd.Flags().GetBool("show-usage")

	if err := validateQualities(opts.qualities); err != nil {
		return opts, err
	}
	if opts.wait {
		opts.socket = true
	}
	if opts.runs < 1 {
		return opts, fmt.Errorf("--runs must be at least 1")
	}
	if opts.runs > 1 && opts.socket {
		return opts, fmt.Errorf("--socket is only supported for a single run")
	}
	if opts.runID == "" {
		opts.runID = newRunID()
	}
	return opts, nil
}

func validateQualities(qualities []float64) error {
	if len(qualities) == 0 {
		return fmt.Errorf("at least one quality score is required")
	}
	for i, q := range qualities {
		if q < 0 || q > 1 {
			return fmt.Errorf("quality %d is %.3f, want a value between 0 and 1", i+1, q)
		}
	}
	return nil
}

func (o simulateOptions) executor() *iterative.ScriptedExecutor {
	return &iterative.ScriptedExecutor{
		Qualities:     o.qualities,
		ProviderModel: o.model,
		AgentID:       o.agent,
		InputUnits:    o.inputUnits,
		OutputUnits:   o.outputUnits,
	}
}

func (o simulateOptions) runConfig(runID string) iterative.RunConfig {
	return iterative.RunConfig{
		RunID:                  runID,
		Label:                  cfg.Profile,
		MaxRounds:              cfg.Run.MaxRounds,
		DecisionTimeout:        cfg.Run.DecisionTimeout,
		DecisionTimeoutDefault: cfg.Run.DecisionTimeoutDefault,
		MinRoundInterval:       cfg.Run.MinRoundInterval,
	}
}

// newEventBus prints events to stdout and persists them to the audit store
// when one is open. The returned func closes the store.
func newEventBus(ctx context.Context) (*events.Bus, func(), error) {
	bus := events.NewBus(logger)

	var mu sync.Mutex
	bus.Subscribe(func(_ context.Context, e *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		displayRunEvent(os.Stdout, e)
	})

	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return bus, func() {}, nil
	}
	bus.AddSink(store)
	return bus, func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close audit store", zap.Error(err))
		}
	}, nil
}

func simulateOne(ctx context.Context, opts simulateOptions) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	bus, closeStore, err := newEventBus(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	costPolicy := cfg.Cost
	if opts.budget > 0 {
		costPolicy.Budget = opts.budget
	}
	tracker, ctrl, err := newRun(opts.runID, reg, costPolicy, bus)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("%s run %s, profile %s, model %s\n\n", cyan("▶"), opts.runID, cfg.Profile, opts.model)

	if opts.socket {
		dispatcher := control.NewDispatcher(logger)
		dispatcher.Register(ctrl, tracker)
		defer dispatcher.Unregister(opts.runID)

		if err := os.MkdirAll(socketDir(), 0755); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
		server, err := control.NewServer(control.DefaultSocketPath(cfg.Control.SocketDir, opts.runID), dispatcher.Handle, logger)
		if err != nil {
			return err
		}
		if err := server.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = server.Stop() }()
		fmt.Printf("Control socket: %s\n", server.SocketPath())
		fmt.Printf("  pdca status %s | pdca decide %s --approve | pdca cancel %s\n\n", opts.runID, opts.runID, opts.runID)
	}

	res, err := iterative.RunWithLogger(ctx, opts.runConfig(opts.runID), opts.executor(),
		tracker, ctrl, opts.resolver(), nil, logger)
	if err != nil {
		return err
	}

	printRunSummary(os.Stdout, res, tracker.GetBudgetStatus())

	if opts.report != "" {
		return tracker.ExportReport().Write(os.Stdout, opts.report)
	}
	return nil
}

// resolver picks how pending decisions are answered; nil waits for the
// control socket
func (o simulateOptions) resolver() iterative.Resolver {
	switch {
	case o.yes:
		return iterative.ResolverFunc(func(context.Context, *loop.PendingDecision) (bool, error) {
			return true, nil
		})
	case o.wait:
		return nil
	case o.runs > 1:
		return iterative.ResolverFunc(func(context.Context, *loop.PendingDecision) (bool, error) {
			return cfg.Run.DecisionTimeoutDefault, nil
		})
	default:
		return &promptResolver{out: os.Stdout}
	}
}

func simulateMany(ctx context.Context, opts simulateOptions) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	bus, closeStore, err := newEventBus(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	costPolicy := cfg.Cost
	if opts.budget > 0 {
		costPolicy.Budget = opts.budget
	}

	specs := make([]iterative.RunSpec, 0, opts.runs)
	for i := 0; i < opts.runs; i++ {
		runID := fmt.Sprintf("%s-%d", opts.runID, i+1)
		tracker, ctrl, err := newRun(runID, reg, costPolicy, bus)
		if err != nil {
			return err
		}
		specs = append(specs, iterative.RunSpec{
			Config:     opts.runConfig(runID),
			Executor:   opts.executor(),
			Tracker:    tracker,
			Controller: ctrl,
			Resolver:   opts.resolver(),
		})
	}

	collector := iterative.NewInMemoryMetricsCollector()
	if _, err := iterative.RunMany(ctx, specs, opts.concurrency, collector, logger); err != nil {
		return err
	}

	printAggregate(os.Stdout, collector.GetAggregateMetrics())
	return nil
}

func init() {
	simulateCmd.Flags().Float64Slice("qualities", []float64{0.55, 0.7, 0.78, 0.8}, "quality score per round (the last repeats)")
	simulateCmd.Flags().String("model", pricing.ModelClaude35Sonnet, "pricing model for recorded usage")
	simulateCmd.Flags().String("agent", "pdca", "agent id usage is attributed to")
	simulateCmd.Flags().Int64("input-units", 0, "input units per round (0 = estimate from the round text)")
	simulateCmd.Flags().Int64("output-units", 0, "output units per round (0 = estimate from the round text)")
	simulateCmd.Flags().String("run-id", "", "run id (default: random)")
	simulateCmd.Flags().Bool("socket", false, "serve a control socket for status, decide and cancel")
	simulateCmd.Flags().Bool("wait", false, "answer decisions only through the control socket (implies --socket)")
	simulateCmd.Flags().BoolP("yes", "y", false, "approve every extra round")
	simulateCmd.Flags().Int("runs", 1, "number of independent runs")
	simulateCmd.Flags().Int("concurrency", 0, "maximum concurrent runs (0 = all)")
	simulateCmd.Flags().Float64("budget", 0, "monetary budget for the run (overrides cost.budget)")
	simulateCmd.Flags().String("report", "", "print the cost report after the run (json or yaml)")
	simulateCmd.Flags().Bool("show-usage", false, "print every usage record")
	rootCmd.AddCommand(simulateCmd)
}
