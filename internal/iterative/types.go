package iterative

import (
	"context"
	"time"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/loop"
	"github.com/RayYangTW/pdca/internal/types"
)

// DefaultMaxRounds bounds runs whose loop policy sets no iteration cap
const DefaultMaxRounds = 100

// RoundResult is what an executor reports for one finished round.
type RoundResult struct {
	// QualityScore is the round's quality on a 0.0-1.0 scale
	QualityScore float64

	// InputText and OutputText are estimated into units when the provider
	// did not report counts
	InputText  string
	OutputText string

	// InputUnits and OutputUnits are provider-reported counts. When either is
	// non-zero the texts are not estimated.
	InputUnits  int64
	OutputUnits int64

	// ProviderModel selects the pricing rate
	ProviderModel string

	// AgentID attributes the round's usage (optional)
	AgentID string

	// Agents holds per-worker outcomes (optional)
	Agents map[string]types.AgentResult

	// Elapsed is the round's duration. Zero means measure it around the call.
	Elapsed time.Duration
}

// RoundExecutor runs one plan-do-check-act round. previous is nil for round 1.
type RoundExecutor interface {
	ExecuteRound(ctx context.Context, iteration int, previous *types.IterationMetrics) (*RoundResult, error)
}

// RoundExecutorFunc adapts a function to RoundExecutor
type RoundExecutorFunc func(ctx context.Context, iteration int, previous *types.IterationMetrics) (*RoundResult, error)

// ExecuteRound implements RoundExecutor
func (f RoundExecutorFunc) ExecuteRound(ctx context.Context, iteration int, previous *types.IterationMetrics) (*RoundResult, error) {
	return f(ctx, iteration, previous)
}

// Resolver answers pending user decisions. Decide must respect ctx.
type Resolver interface {
	Decide(ctx context.Context, pending *loop.PendingDecision) (bool, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context, pending *loop.PendingDecision) (bool, error)

// Decide implements Resolver
func (f ResolverFunc) Decide(ctx context.Context, pending *loop.PendingDecision) (bool, error) {
	return f(ctx, pending)
}

// RunConfig controls one run of the round driver.
type RunConfig struct {
	// RunID identifies the run in metrics and logs
	RunID string

	// Label groups runs in aggregate metrics (e.g. a profile name)
	Label string

	// MaxRounds is a safety cap on top of the loop policy.
	// 0 = the policy's MaxIterations, or DefaultMaxRounds when that is unset.
	MaxRounds int

	// DecisionTimeout bounds each wait for a user decision. 0 = wait until ctx is done.
	DecisionTimeout time.Duration

	// DecisionTimeoutDefault is the answer used when DecisionTimeout expires
	DecisionTimeoutDefault bool

	// MinRoundInterval paces round starts. 0 = no pacing.
	MinRoundInterval time.Duration
}

// RunResult captures the outcome of a run.
type RunResult struct {
	RunID string

	// Rounds is the number of rounds executed
	Rounds int

	// Final is the verdict that ended the run
	Final *types.ContinueDecision

	// Metrics are the evaluated rounds in order
	Metrics []types.IterationMetrics

	Usage cost.Statistics
	Loop  loop.Statistics

	// ElapsedTime is the total duration of the run
	ElapsedTime time.Duration
}
