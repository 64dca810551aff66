package loop

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RayYangTW/pdca/internal/types"
)

// PendingDecision is the handle returned when a round needs user
// confirmation. It is resolved exactly once, by Resolve, Controller.Cancel
// or Controller.Reset.
type PendingDecision struct {
	ID              string                 `json:"id"`
	Metrics         types.IterationMetrics `json:"metrics"`
	Recommendations []types.Recommendation `json:"recommendations,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`

	ctrl *Controller

	mu       sync.Mutex
	claimed  bool
	decision *types.ContinueDecision
	done     chan struct{}
}

func newPendingDecision(c *Controller, m types.IterationMetrics, recs []types.Recommendation, now time.Time) *PendingDecision {
	return &PendingDecision{
		ID:              uuid.New().String(),
		Metrics:         m,
		Recommendations: recs,
		CreatedAt:       now,
		ctrl:            c,
		done:            make(chan struct{}),
	}
}

// Resolve answers the pending decision. approve=true returns the controller
// to AwaitingRound; false stops it with reason user_declined. A second call
// returns ErrAlreadyResolved.
func (p *PendingDecision) Resolve(ctx context.Context, approve bool) (*types.ContinueDecision, error) {
	if !p.claim() {
		return nil, ErrAlreadyResolved
	}
	return p.ctrl.resolve(ctx, p, approve), nil
}

// Wait blocks until the decision is resolved or ctx is done. It does not
// resolve the decision on timeout; callers wanting a default call Resolve.
func (p *PendingDecision) Wait(ctx context.Context) (*types.ContinueDecision, error) {
	select {
	case <-p.done:
		return p.Decision(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the decision is resolved
func (p *PendingDecision) Done() <-chan struct{} {
	return p.done
}

// Decision returns the resolved verdict, or nil while still pending
func (p *PendingDecision) Decision() *types.ContinueDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decision
}

// claim marks the decision as being resolved; only the first caller wins
func (p *PendingDecision) claim() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed {
		return false
	}
	p.claimed = true
	return true
}

func (p *PendingDecision) finish(d *types.ContinueDecision) {
	p.mu.Lock()
	p.decision = d
	p.mu.Unlock()
	close(p.done)
}
