package iterative

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/loop"
	"github.com/RayYangTW/pdca/internal/types"
)

// Run executes rounds until the controller stops the run.
//
// Safeguards:
// - MaxRounds (or DefaultMaxRounds) prevents runaway loops; hitting it cancels the run
// - Context cancellation cancels the controller and returns ctx's error
// - Executor errors cancel the controller and are returned immediately
//
// collector and resolver may be nil.
func Run(ctx context.Context, cfg RunConfig, exec RoundExecutor, tracker *cost.Tracker, ctrl *loop.Controller, resolver Resolver, collector MetricsCollector) (*RunResult, error) {
	return runWithLogger(ctx, cfg, exec, tracker, ctrl, resolver, collector, zap.NewNop())
}

// RunWithLogger is Run with a logger for round progress
func RunWithLogger(ctx context.Context, cfg RunConfig, exec RoundExecutor, tracker *cost.Tracker, ctrl *loop.Controller, resolver Resolver, collector MetricsCollector, logger *zap.Logger) (*RunResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return runWithLogger(ctx, cfg, exec, tracker, ctrl, resolver, collector, logger)
}

func runWithLogger(ctx context.Context, cfg RunConfig, exec RoundExecutor, tracker *cost.Tracker, ctrl *loop.Controller, resolver Resolver, collector MetricsCollector, logger *zap.Logger) (*RunResult, error) {
	startTime := time.Now()

	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if tracker == nil || ctrl == nil {
		return nil, fmt.Errorf("tracker and controller are required")
	}
	if cfg.MaxRounds < 0 {
		return nil, fmt.Errorf("MaxRounds cannot be negative: %d", cfg.MaxRounds)
	}
	if cfg.DecisionTimeout < 0 {
		return nil, fmt.Errorf("DecisionTimeout cannot be negative: %v", cfg.DecisionTimeout)
	}

	maxRounds := cfg.MaxRounds
	if maxRounds == 0 {
		maxRounds = ctrl.Policy().MaxIterations
	}
	if maxRounds == 0 {
		maxRounds = DefaultMaxRounds
	}

	var limiter *rate.Limiter
	if cfg.MinRoundInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinRoundInterval), 1)
	}

	result := &RunResult{RunID: cfg.RunID}
	var previous *types.IterationMetrics
	var rounds []*RoundMetrics

	finish := func(final *types.ContinueDecision) *RunResult {
		result.Final = final
		result.Metrics = ctrl.History()
		result.Usage = tracker.GetStatistics()
		result.Loop = ctrl.GetStatistics()
		result.ElapsedTime = time.Since(startTime)
		if collector != nil {
			collector.RecordRunComplete(result, runMetrics(cfg, result, rounds))
		}
		return result
	}

	for n := 1; ; n++ {
		// Cancelled from outside (control socket, signal handler)
		if state, _ := ctrl.State(); state == loop.StateStopped {
			return finish(ctrl.LastDecision()), nil
		}
		if n > maxRounds {
			logger.Warn("round limit reached, cancelling run",
				zap.String("run_id", cfg.RunID), zap.Int("max_rounds", maxRounds))
			return finish(ctrl.Cancel(ctx)), nil
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				ctrl.Cancel(context.Background())
				return nil, fmt.Errorf("run canceled after %d rounds: %w", n-1, err)
			}
		}
		if err := ctx.Err(); err != nil {
			ctrl.Cancel(context.Background())
			return nil, fmt.Errorf("run canceled after %d rounds: %w", n-1, err)
		}

		if collector != nil {
			collector.RecordRoundStart(cfg.RunID, n)
		}

		roundStart := time.Now()
		res, err := exec.ExecuteRound(ctx, n, previous)
		if err == nil && res == nil {
			err = fmt.Errorf("executor returned no result")
		}
		if err != nil {
			if collector != nil {
				collector.RecordExecutorError(cfg.RunID, n, err)
			}
			ctrl.Cancel(context.Background())
			return nil, fmt.Errorf("round %d failed: %w", n, err)
		}
		elapsed := res.Elapsed
		if elapsed == 0 {
			elapsed = time.Since(roundStart)
		}

		rec, err := recordRound(ctx, tracker, res, n)
		if err != nil {
			ctrl.Cancel(context.Background())
			return nil, fmt.Errorf("round %d usage: %w", n, err)
		}

		m := types.NewIterationMetrics(n, res.QualityScore, rec.TotalUnits, elapsed, previous, res.Agents)
		outcome, err := ctrl.Evaluate(ctx, m)
		if err != nil {
			if state, reason := ctrl.State(); state == loop.StateStopped && reason == types.ReasonCancelled {
				return finish(ctrl.LastDecision()), nil
			}
			return nil, fmt.Errorf("round %d evaluation: %w", n, err)
		}

		decision := outcome.Decision
		awaited := false
		if outcome.IsPending() {
			awaited = true
			decision, err = awaitDecision(ctx, cfg, ctrl, resolver, outcome.Pending, logger)
			if err != nil {
				return nil, fmt.Errorf("round %d decision: %w", n, err)
			}
		}

		rm := &RoundMetrics{
			Round:           n,
			InputUnits:      rec.InputUnits,
			OutputUnits:     rec.OutputUnits,
			Cost:            rec.EstimatedCost,
			QualityScore:    m.QualityScore,
			Improvement:     m.Improvement,
			Duration:        elapsed,
			Continue:        decision.Continue,
			Reason:          decision.Reason,
			Confidence:      decision.Confidence,
			AwaitedDecision: awaited,
		}
		rounds = append(rounds, rm)
		if collector != nil {
			collector.RecordRoundEnd(cfg.RunID, rm)
		}

		logger.Debug("round finished",
			zap.String("run_id", cfg.RunID),
			zap.Int("round", n),
			zap.Float64("quality", m.QualityScore),
			zap.Int64("units", rec.TotalUnits),
			zap.String("decision", decision.String()))

		result.Rounds = n
		current := m
		previous = &current

		if !decision.Continue {
			return finish(decision), nil
		}
	}
}

func recordRound(ctx context.Context, tracker *cost.Tracker, res *RoundResult, n int) (types.UsageRecord, error) {
	op := fmt.Sprintf("round-%d", n)
	if res.InputUnits > 0 || res.OutputUnits > 0 {
		return tracker.RecordUnits(ctx, res.InputUnits, res.OutputUnits, res.ProviderModel, res.AgentID, op)
	}
	return tracker.RecordUsage(ctx, res.InputText, res.OutputText, res.ProviderModel, res.AgentID, op)
}

// awaitDecision resolves p through resolver, or waits for an outside
// resolution when resolver is nil. A DecisionTimeout expiry resolves with
// the configured default.
func awaitDecision(ctx context.Context, cfg RunConfig, ctrl *loop.Controller, resolver Resolver, p *loop.PendingDecision, logger *zap.Logger) (*types.ContinueDecision, error) {
	waitCtx := ctx
	if cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.DecisionTimeout)
		defer cancel()
	}

	var approve bool
	var err error
	if resolver != nil {
		approve, err = resolver.Decide(waitCtx, p)
	} else {
		var d *types.ContinueDecision
		if d, err = p.Wait(waitCtx); err == nil {
			return d, nil
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			ctrl.Cancel(context.Background())
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Info("user decision timed out, applying default",
			zap.String("decision_id", p.ID),
			zap.Bool("approve", cfg.DecisionTimeoutDefault))
		approve = cfg.DecisionTimeoutDefault
	}

	d, err := p.Resolve(ctx, approve)
	if errors.Is(err, loop.ErrAlreadyResolved) {
		// Resolved elsewhere first (control socket or Cancel)
		return p.Decision(), nil
	}
	return d, err
}

// RunSpec is one independent run for RunMany
type RunSpec struct {
	Config     RunConfig
	Executor   RoundExecutor
	Tracker    *cost.Tracker
	Controller *loop.Controller
	Resolver   Resolver
}

// RunMany executes independent runs concurrently, at most concurrency at a
// time (0 = unbounded). The first failure cancels the remaining runs.
// Results are returned in the order of specs.
func RunMany(ctx context.Context, specs []RunSpec, concurrency int, collector MetricsCollector, logger *zap.Logger) ([]*RunResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]*RunResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			res, err := runWithLogger(gctx, spec.Config, spec.Executor, spec.Tracker, spec.Controller, spec.Resolver, collector, logger)
			if err != nil {
				return fmt.Errorf("run %s: %w", spec.Config.RunID, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
