package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/loop"
	"github.com/RayYangTW/pdca/internal/types"
)

var (
	// ErrUnknownRun is returned when a command names a run that is not registered
	ErrUnknownRun = errors.New("unknown run")
	// ErrNoPendingDecision is returned by resolve when nothing awaits the user
	ErrNoPendingDecision = errors.New("no pending decision")
	// ErrDecisionMismatch is returned when resolve names a stale decision id
	ErrDecisionMismatch = errors.New("decision id does not match the pending decision")
	// ErrUnknownCommand is returned for unsupported command types
	ErrUnknownCommand = errors.New("unknown command")
)

// PendingInfo describes a decision waiting on the user
type PendingInfo struct {
	ID              string                 `json:"id"`
	Iteration       int                    `json:"iteration"`
	QualityScore    float64                `json:"quality_score"`
	Recommendations []types.Recommendation `json:"recommendations,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Status is the payload of a status command
type Status struct {
	RunID                   string                  `json:"run_id"`
	State                   string                  `json:"state"`
	StopReason              types.Reason            `json:"stop_reason,omitempty"`
	Iterations              int                     `json:"iterations"`
	TotalUnits              int64                   `json:"total_units"`
	TotalCost               float64                 `json:"total_cost"`
	AverageQuality          float64                 `json:"average_quality"`
	LastQuality             float64                 `json:"last_quality"`
	EstimatedRoundsToTarget int                     `json:"estimated_rounds_to_target"`
	Budget                  *cost.BudgetState       `json:"budget,omitempty"`
	Pending                 *PendingInfo            `json:"pending,omitempty"`
	LastDecision            *types.ContinueDecision `json:"last_decision,omitempty"`
}

type registration struct {
	ctrl    *loop.Controller
	tracker *cost.Tracker
}

// Dispatcher routes control commands to registered controllers. Its Handle
// method is the Server's Handler.
type Dispatcher struct {
	mu     sync.RWMutex
	runs   map[string]registration
	logger *zap.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runs:   make(map[string]registration),
		logger: logger,
	}
}

// Register exposes ctrl under its run id. tracker is optional and adds the
// budget state to status replies.
func (d *Dispatcher) Register(ctrl *loop.Controller, tracker *cost.Tracker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs[ctrl.RunID()] = registration{ctrl: ctrl, tracker: tracker}
}

// Unregister removes a run
func (d *Dispatcher) Unregister(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runs, runID)
}

// Runs returns the registered run ids in sorted order
func (d *Dispatcher) Runs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.runs))
	for id := range d.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lookup finds the target run. An empty runID selects the only registered run.
func (d *Dispatcher) lookup(runID string) (registration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if runID == "" {
		if len(d.runs) != 1 {
			return registration{}, fmt.Errorf("run_id is required when %d runs are active", len(d.runs))
		}
		for _, r := range d.runs {
			return r, nil
		}
	}
	r, ok := d.runs[runID]
	if !ok {
		return registration{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return r, nil
}

// Handle executes cmd against the target controller
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (map[string]interface{}, error) {
	reg, err := d.lookup(cmd.RunID)
	if err != nil {
		return nil, err
	}

	switch cmd.Type {
	case CommandStatus:
		return toData(statusOf(reg))

	case CommandResolve:
		p := reg.ctrl.Pending()
		if p == nil {
			return nil, ErrNoPendingDecision
		}
		if cmd.DecisionID != "" && cmd.DecisionID != p.ID {
			return nil, fmt.Errorf("%w: got %s, pending %s", ErrDecisionMismatch, cmd.DecisionID, p.ID)
		}
		decision, err := p.Resolve(ctx, cmd.Approve)
		if err != nil {
			return nil, err
		}
		d.logger.Info("decision resolved over control socket",
			zap.String("run_id", reg.ctrl.RunID()),
			zap.String("decision_id", p.ID),
			zap.Bool("approved", cmd.Approve))
		return toData(decision)

	case CommandCancel:
		decision := reg.ctrl.Cancel(ctx)
		d.logger.Info("run cancelled over control socket",
			zap.String("run_id", reg.ctrl.RunID()),
			zap.String("reason", cmd.Reason))
		return toData(decision)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

func statusOf(reg registration) *Status {
	stats := reg.ctrl.GetStatistics()
	st := &Status{
		RunID:                   reg.ctrl.RunID(),
		State:                   stats.State.String(),
		StopReason:              stats.StopReason,
		Iterations:              stats.Iterations,
		TotalUnits:              stats.TotalUnits,
		TotalCost:               stats.TotalCost,
		AverageQuality:          stats.AverageQuality,
		LastQuality:             stats.LastQuality,
		EstimatedRoundsToTarget: stats.EstimatedRoundsToTarget,
		LastDecision:            reg.ctrl.LastDecision(),
	}
	if reg.tracker != nil {
		budget := reg.tracker.GetBudgetStatus()
		st.Budget = &budget
	}
	if p := reg.ctrl.Pending(); p != nil {
		st.Pending = &PendingInfo{
			ID:              p.ID,
			Iteration:       p.Metrics.IterationNumber,
			QualityScore:    p.Metrics.QualityScore,
			Recommendations: p.Recommendations,
			CreatedAt:       p.CreatedAt,
		}
	}
	return st
}

// toData flattens v into a response payload
func toData(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return data, nil
}
