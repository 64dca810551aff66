// Package loop decides, after each plan-do-check-act round, whether another
// round is worth running.
//
// A Controller applies its checks in a fixed order and short-circuits on the
// first verdict:
//
//  1. force stops (iteration cap, unit budget, hard stop, time budget)
//  2. quality target
//  3. diminishing returns (needs two rounds)
//  4. auto-continue
//  5. user confirmation, returned as a PendingDecision
//  6. default continue
//
// Suspension for user confirmation never blocks Evaluate. The caller gets a
// PendingDecision handle and resolves it from wherever the answer arrives;
// bounded waits are the caller's job.
package loop

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/events"
	"github.com/RayYangTW/pdca/internal/types"
)

const (
	confidenceForceStop     = 1.0
	confidenceQualityTarget = 0.9
	confidenceDiminishing   = 0.85
	confidenceAutoContinue  = 0.8
	confidenceDefault       = 0.6

	epsilon = 1e-9
)

// Option configures a Controller
type Option func(*Controller)

// WithEventBus publishes controller events on bus
func WithEventBus(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger sets the controller's logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRunID tags every event with runID
func WithRunID(runID string) Option {
	return func(c *Controller) { c.runID = runID }
}

// WithClock overrides time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Outcome is the result of Evaluate: exactly one of Decision or Pending is set.
type Outcome struct {
	Decision *types.ContinueDecision
	Pending  *PendingDecision
}

// IsPending reports whether the round is waiting on a user decision
func (o Outcome) IsPending() bool {
	return o.Pending != nil
}

// Controller is the stop/continue state machine for one run. Calls to
// Evaluate must be serialized by the caller; PendingDecision.Resolve and
// Cancel may come from other goroutines.
type Controller struct {
	mu sync.Mutex

	policy     Policy
	costPolicy cost.Policy
	tracker    *cost.Tracker
	bus        *events.Bus
	logger     *zap.Logger
	runID      string
	now        func() time.Time

	state        State
	stopReason   types.Reason
	history      []types.IterationMetrics
	units        int64
	unitsByAgent map[string]int64
	agentCost    float64
	elapsed      time.Duration
	startTime    time.Time
	pending      *PendingDecision
	last         *types.ContinueDecision
}

// New creates a controller. tracker may be nil; when set, its totals count
// toward the unit caps and its cost appears in statistics, and a non-zero
// UnitBudget is installed on it as its unit budget.
func New(policy Policy, costPolicy cost.Policy, tracker *cost.Tracker, opts ...Option) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop policy: %w", err)
	}
	if err := costPolicy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost policy: %w", err)
	}

	c := &Controller{
		policy:       policy,
		costPolicy:   costPolicy,
		tracker:      tracker,
		logger:       zap.NewNop(),
		now:          time.Now,
		unitsByAgent: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.now()

	if tracker != nil && policy.UnitBudget > 0 {
		if err := tracker.SetUnitBudget(context.Background(), policy.UnitBudget); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Policy returns the loop policy
func (c *Controller) Policy() Policy {
	return c.policy
}

// RunID returns the run identifier used on events
func (c *Controller) RunID() string {
	return c.runID
}

// State returns the current state and, when stopped, the stop reason
func (c *Controller) State() (State, types.Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.stopReason
}

// Pending returns the outstanding pending decision, or nil
func (c *Controller) Pending() *PendingDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// LastDecision returns the most recent verdict, or nil
func (c *Controller) LastDecision() *types.ContinueDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// History returns a copy of the evaluated metrics
func (c *Controller) History() []types.IterationMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.IterationMetrics(nil), c.history...)
}

// Evaluate records a finished round and returns the verdict for it.
func (c *Controller) Evaluate(ctx context.Context, m types.IterationMetrics) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if err := m.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidIteration, err)
	}

	c.mu.Lock()
	switch c.state {
	case StateStopped:
		reason := c.stopReason
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: run stopped (%s), reset before evaluating", ErrInvalidStateTransition, reason)
	case StateAwaitingUserDecision:
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: a user decision is pending", ErrInvalidStateTransition)
	}
	if want := len(c.history) + 1; m.IterationNumber != want {
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: got iteration %d, want %d", ErrInvalidIteration, m.IterationNumber, want)
	}

	c.history = append(c.history, m)
	c.units += m.UnitsUsed
	c.elapsed += m.Elapsed
	for agent, r := range m.AgentResults {
		if c.costPolicy.TrackByAgent {
			c.unitsByAgent[agent] += r.Units
		}
		c.agentCost += r.Cost
	}

	recs := c.recommendationsLocked(m)
	var out Outcome
	var pending []*events.Event

	if d := c.checkLocked(m); d != nil {
		evaluated := m
		d.Metrics = &evaluated
		d.Recommendations = recs
		c.last = d
		out.Decision = d
		pending = append(pending, c.roundEventLocked(events.EventTypeRoundEvaluated, m, d))
		if !d.Continue {
			c.state = StateStopped
			c.stopReason = d.Reason
			pending = append(pending, c.roundEventLocked(events.EventTypeRunStopped, m, d))
		}
	} else {
		p := newPendingDecision(c, m, recs, c.now())
		c.pending = p
		c.state = StateAwaitingUserDecision
		out.Pending = p
		pending = append(pending, c.pendingEventLocked(p))
	}
	c.mu.Unlock()

	if out.Decision != nil {
		c.logger.Info("round evaluated",
			zap.String("run_id", c.runID),
			zap.Int("iteration", m.IterationNumber),
			zap.Float64("quality", m.QualityScore),
			zap.Bool("continue", out.Decision.Continue),
			zap.String("reason", string(out.Decision.Reason)))
	} else {
		c.logger.Info("awaiting user decision",
			zap.String("run_id", c.runID),
			zap.Int("iteration", m.IterationNumber),
			zap.String("decision_id", out.Pending.ID))
	}

	c.publish(ctx, pending)
	return out, nil
}

// checkLocked runs the ordered checks. A nil result means the round needs
// user confirmation.
func (c *Controller) checkLocked(m types.IterationMetrics) *types.ContinueDecision {
	forced, onlyIterationCap := c.forceStopLocked(m)
	soft := c.softStopLocked(m)

	if forced != nil {
		// Diminishing returns on the final permitted round reports the plateau.
		if onlyIterationCap && soft != nil && soft.Reason == types.ReasonDiminishingReturns {
			return soft
		}
		return forced
	}
	if soft != nil {
		return soft
	}

	if c.policy.AutoContinue {
		return &types.ContinueDecision{
			Continue:   true,
			Reason:     types.ReasonAutoContinueEnabled,
			Confidence: confidenceAutoContinue,
			Suggestion: "auto-continue enabled, starting the next round",
		}
	}
	if c.policy.RequireConfirmation {
		return nil
	}
	return &types.ContinueDecision{
		Continue:   true,
		Reason:     types.ReasonDefaultContinue,
		Confidence: confidenceDefault,
		Suggestion: "no limit reached, continuing",
	}
}

func (c *Controller) forceStopLocked(m types.IterationMetrics) (*types.ContinueDecision, bool) {
	units := c.effectiveUnitsLocked()
	spent := c.spentLocked()

	var stops []*types.ContinueDecision
	if c.policy.MaxIterations > 0 && m.IterationNumber >= c.policy.MaxIterations {
		stops = append(stops, forceStop(types.ReasonMaxIterationsReached,
			fmt.Sprintf("reached the iteration cap of %d", c.policy.MaxIterations)))
	}
	if c.policy.UnitBudget > 0 && units >= c.policy.UnitBudget {
		stops = append(stops, forceStop(types.ReasonUnitBudgetExceeded,
			fmt.Sprintf("used %d of %d budgeted units", units, c.policy.UnitBudget)))
	}
	if c.costPolicy.HardStopAtUnits > 0 && units >= c.costPolicy.HardStopAtUnits {
		stops = append(stops, forceStop(types.ReasonHardStopReached,
			fmt.Sprintf("reached the hard stop at %d units", c.costPolicy.HardStopAtUnits)))
	}
	if c.policy.TimeBudget > 0 && spent >= c.policy.TimeBudget {
		stops = append(stops, forceStop(types.ReasonTimeBudgetExceeded,
			fmt.Sprintf("ran for %s of a %s budget", spent.Round(time.Second), c.policy.TimeBudget)))
	}

	if len(stops) == 0 {
		return nil, false
	}
	return stops[0], len(stops) == 1 && stops[0].Reason == types.ReasonMaxIterationsReached
}

func forceStop(reason types.Reason, suggestion string) *types.ContinueDecision {
	return &types.ContinueDecision{
		Continue:   false,
		Reason:     reason,
		Confidence: confidenceForceStop,
		Suggestion: suggestion,
	}
}

func (c *Controller) softStopLocked(m types.IterationMetrics) *types.ContinueDecision {
	if c.policy.QualityTarget > 0 && m.QualityScore+epsilon >= c.policy.QualityTarget {
		return &types.ContinueDecision{
			Continue:   false,
			Reason:     types.ReasonQualityTargetAchieved,
			Confidence: confidenceQualityTarget,
			Suggestion: fmt.Sprintf("quality %.1f%% meets the %.0f%% target", m.QualityScore*100, c.policy.QualityTarget*100),
		}
	}

	if len(c.history) < 2 {
		return nil
	}
	prev := c.history[len(c.history)-2]
	improvement := m.QualityScore - prev.QualityScore
	if improvement < c.policy.MarginalThreshold-epsilon {
		return &types.ContinueDecision{
			Continue:   false,
			Reason:     types.ReasonDiminishingReturns,
			Confidence: confidenceDiminishing,
			Suggestion: fmt.Sprintf("improvement %.1f%% is below the %.1f%% threshold",
				improvement*100, c.policy.MarginalThreshold*100),
		}
	}
	return nil
}

// effectiveUnitsLocked is the larger of the controller's own running total
// and the tracker's, so usage recorded only on the tracker still counts.
func (c *Controller) effectiveUnitsLocked() int64 {
	units := c.units
	if c.tracker != nil {
		if t := c.tracker.TotalUnits(); t > units {
			units = t
		}
	}
	return units
}

func (c *Controller) spentLocked() time.Duration {
	spent := c.elapsed
	if wall := c.now().Sub(c.startTime); wall > spent {
		spent = wall
	}
	return spent
}

// Cancel stops the run from any state. An outstanding pending decision is
// resolved as declined with reason cancelled.
func (c *Controller) Cancel(ctx context.Context) *types.ContinueDecision {
	d := &types.ContinueDecision{
		Continue:   false,
		Reason:     types.ReasonCancelled,
		Confidence: confidenceForceStop,
		Suggestion: "run cancelled",
	}

	c.mu.Lock()
	var pending []*events.Event
	if p := c.pending; p != nil && p.claim() {
		d.Metrics = &p.Metrics
		p.finish(d)
		pending = append(pending, c.resolvedEventLocked(p, false, types.ReasonCancelled))
	}
	c.pending = nil
	c.state = StateStopped
	c.stopReason = types.ReasonCancelled
	c.last = d
	iteration := len(c.history)
	pending = append(pending, c.stoppedEventLocked(iteration, d))
	c.mu.Unlock()

	c.logger.Info("run cancelled", zap.String("run_id", c.runID), zap.Int("iteration", iteration))
	c.publish(ctx, pending)
	return d
}

// Reset clears the round history and returns to AwaitingRound. Policies are
// kept; the tracker is not touched. An outstanding pending decision is
// resolved as cancelled.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.pending; p != nil && p.claim() {
		p.finish(&types.ContinueDecision{
			Continue:   false,
			Reason:     types.ReasonCancelled,
			Confidence: confidenceForceStop,
			Suggestion: "controller reset",
			Metrics:    &p.Metrics,
		})
	}
	c.pending = nil
	c.state = StateAwaitingRound
	c.stopReason = ""
	c.history = nil
	c.units = 0
	c.unitsByAgent = make(map[string]int64)
	c.agentCost = 0
	c.elapsed = 0
	c.startTime = c.now()
	c.last = nil
}

// resolve applies a user answer for p, which the caller has already claimed
func (c *Controller) resolve(ctx context.Context, p *PendingDecision, approve bool) *types.ContinueDecision {
	d := &types.ContinueDecision{
		Continue:        approve,
		Confidence:      confidenceForceStop,
		Metrics:         &p.Metrics,
		Recommendations: p.Recommendations,
	}
	if approve {
		d.Reason = types.ReasonUserConfirmed
		d.Suggestion = "user confirmed another round"
	} else {
		d.Reason = types.ReasonUserDeclined
		d.Suggestion = "user declined another round"
	}

	c.mu.Lock()
	pending := []*events.Event{c.resolvedEventLocked(p, approve, d.Reason)}
	if c.pending == p {
		c.pending = nil
		c.last = d
		if approve {
			c.state = StateAwaitingRound
		} else {
			c.state = StateStopped
			c.stopReason = types.ReasonUserDeclined
			pending = append(pending, c.stoppedEventLocked(p.Metrics.IterationNumber, d))
		}
	}
	p.finish(d)
	c.mu.Unlock()

	c.logger.Info("user decision resolved",
		zap.String("run_id", c.runID),
		zap.String("decision_id", p.ID),
		zap.Bool("approved", approve))
	c.publish(ctx, pending)
	return d
}

// Statistics summarizes the rounds evaluated so far
type Statistics struct {
	Iterations     int              `json:"iterations" yaml:"iterations"`
	TotalUnits     int64            `json:"total_units" yaml:"total_units"`
	TotalCost      float64          `json:"total_cost" yaml:"total_cost"`
	UnitsByAgent   map[string]int64 `json:"units_by_agent,omitempty" yaml:"units_by_agent,omitempty"`
	AverageQuality float64          `json:"average_quality" yaml:"average_quality"`
	LastQuality    float64          `json:"last_quality" yaml:"last_quality"`
	// TotalElapsed is the sum of reported round durations
	TotalElapsed time.Duration `json:"total_elapsed" yaml:"total_elapsed"`
	// WallClock is the time since the controller was created or reset
	WallClock time.Duration `json:"wall_clock" yaml:"wall_clock"`
	// Efficiency is LastQuality per unit spent
	Efficiency         float64 `json:"efficiency" yaml:"efficiency"`
	AverageImprovement float64 `json:"average_improvement" yaml:"average_improvement"`
	// EstimatedRoundsToTarget is 0 when the target is met, unset or not trending up
	EstimatedRoundsToTarget int          `json:"estimated_rounds_to_target" yaml:"estimated_rounds_to_target"`
	State                   State        `json:"state" yaml:"state"`
	StopReason              types.Reason `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
}

// GetStatistics returns aggregate figures for the run
func (c *Controller) GetStatistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Statistics{
		Iterations:   len(c.history),
		TotalUnits:   c.effectiveUnitsLocked(),
		TotalCost:    c.agentCost,
		UnitsByAgent: make(map[string]int64, len(c.unitsByAgent)),
		TotalElapsed: c.elapsed,
		WallClock:    c.now().Sub(c.startTime),
		State:        c.state,
		StopReason:   c.stopReason,
	}
	for k, v := range c.unitsByAgent {
		stats.UnitsByAgent[k] = v
	}
	if c.tracker != nil {
		if tc := c.tracker.TotalCost(); tc > stats.TotalCost {
			stats.TotalCost = tc
		}
	}
	if len(c.history) == 0 {
		return stats
	}

	var sum float64
	for _, m := range c.history {
		sum += m.QualityScore
	}
	stats.AverageQuality = sum / float64(len(c.history))
	stats.LastQuality = c.history[len(c.history)-1].QualityScore
	if stats.TotalUnits > 0 {
		stats.Efficiency = stats.LastQuality / float64(stats.TotalUnits)
	}
	stats.AverageImprovement = c.averageImprovementLocked()

	if gap := c.policy.QualityTarget - stats.LastQuality; c.policy.QualityTarget > 0 && gap > epsilon && stats.AverageImprovement > 0 {
		stats.EstimatedRoundsToTarget = int(math.Ceil(gap/stats.AverageImprovement - epsilon))
	}
	return stats
}

func (c *Controller) averageImprovementLocked() float64 {
	if len(c.history) < 2 {
		return 0
	}
	first := c.history[0].QualityScore
	last := c.history[len(c.history)-1].QualityScore
	return (last - first) / float64(len(c.history)-1)
}

func (c *Controller) roundEventLocked(t events.EventType, m types.IterationMetrics, d *types.ContinueDecision) *events.Event {
	msg := fmt.Sprintf("round %d: %s", m.IterationNumber, d)
	e, err := events.NewRoundEvaluatedEvent(t, c.runID, msg, events.RoundEvaluatedData{
		Iteration:    m.IterationNumber,
		QualityScore: m.QualityScore,
		Continue:     d.Continue,
		Reason:       string(d.Reason),
		Confidence:   d.Confidence,
		TotalUnits:   c.effectiveUnitsLocked(),
	})
	if err != nil {
		return events.NewSimpleEvent(t, c.runID, events.SeverityInfo, msg)
	}
	return e
}

func (c *Controller) stoppedEventLocked(iteration int, d *types.ContinueDecision) *events.Event {
	var quality float64
	if len(c.history) > 0 {
		quality = c.history[len(c.history)-1].QualityScore
	}
	return c.roundEventLocked(events.EventTypeRunStopped, types.IterationMetrics{
		IterationNumber: iteration,
		QualityScore:    quality,
	}, d)
}

func (c *Controller) pendingEventLocked(p *PendingDecision) *events.Event {
	msgs := make([]string, 0, len(p.Recommendations))
	for _, r := range p.Recommendations {
		msgs = append(msgs, r.Message)
	}
	msg := fmt.Sprintf("round %d awaiting confirmation", p.Metrics.IterationNumber)
	e, err := events.NewDecisionPendingEvent(c.runID, msg, events.DecisionPendingData{
		DecisionID:      p.ID,
		Iteration:       p.Metrics.IterationNumber,
		QualityScore:    p.Metrics.QualityScore,
		Recommendations: msgs,
	})
	if err != nil {
		return events.NewSimpleEvent(events.EventTypeDecisionPending, c.runID, events.SeverityInfo, msg)
	}
	return e
}

func (c *Controller) resolvedEventLocked(p *PendingDecision, approve bool, reason types.Reason) *events.Event {
	msg := fmt.Sprintf("round %d decision: %s", p.Metrics.IterationNumber, reason)
	e, err := events.NewDecisionResolvedEvent(c.runID, msg, events.DecisionResolvedData{
		DecisionID: p.ID,
		Iteration:  p.Metrics.IterationNumber,
		Approved:   approve,
		Reason:     string(reason),
	})
	if err != nil {
		return events.NewSimpleEvent(events.EventTypeDecisionResolved, c.runID, events.SeverityInfo, msg)
	}
	return e
}

func (c *Controller) publish(ctx context.Context, pending []*events.Event) {
	for _, e := range pending {
		c.bus.Publish(ctx, e)
	}
}
