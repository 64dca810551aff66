// Package iterative drives plan-do-check-act rounds for one or more runs.
//
// # Overview
//
// Run owns the round loop: it asks a RoundExecutor for the next round,
// records the round's usage on the run's cost.Tracker, builds the round's
// types.IterationMetrics and hands them to the run's loop.Controller. The
// controller's verdict ends or continues the loop.
//
// The driver handles mechanics (loop, pacing, cancellation, waiting on user
// decisions). Judgment stays with the controller and quality scoring stays
// with the executor.
//
// # User decisions
//
// When the controller returns a PendingDecision, Run asks the configured
// Resolver. Without a resolver it waits for the decision to be resolved from
// elsewhere (for example the control socket). RunConfig.DecisionTimeout bounds
// the wait; on timeout the decision is resolved with
// RunConfig.DecisionTimeoutDefault.
//
// # Usage Example
//
//	tracker, _ := cost.NewTracker(cost.DefaultPolicy(), pricing.Default())
//	ctrl, _ := loop.New(loop.DefaultPolicy(), cost.DefaultPolicy(), tracker)
//
//	result, err := iterative.Run(ctx, iterative.RunConfig{RunID: "run-1"},
//	    executor, tracker, ctrl, resolver, iterative.NewInMemoryMetricsCollector())
//	if err != nil {
//	    return err
//	}
//	log.Printf("stopped after %d rounds: %s", result.Rounds, result.Final)
//
// # Concurrency
//
// A run's tracker and controller belong to that run. RunMany executes
// independent runs concurrently with a bounded number of workers; runs share
// nothing except the (thread-safe) metrics collector.
//
// # Metrics
//
// Pass a MetricsCollector to record per-round and per-run metrics. The
// in-memory collector aggregates rounds-to-stop percentiles and a breakdown
// by stop reason. Pass nil to disable collection.
package iterative
