package iterative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RayYangTW/pdca/internal/types"
)

// ScriptedExecutor replays a fixed quality sequence. It backs `pdca simulate`
// and tests; rounds past the end of the script repeat the last score.
type ScriptedExecutor struct {
	Qualities     []float64
	ProviderModel string
	AgentID       string

	// InputUnits and OutputUnits are reported per round when set; otherwise
	// the round texts are estimated
	InputUnits  int64
	OutputUnits int64

	// Delay simulates round latency
	Delay time.Duration
}

// ExecuteRound implements RoundExecutor
func (s *ScriptedExecutor) ExecuteRound(ctx context.Context, iteration int, previous *types.IterationMetrics) (*RoundResult, error) {
	if len(s.Qualities) == 0 {
		return nil, fmt.Errorf("no quality scores scripted")
	}

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	idx := iteration - 1
	if idx >= len(s.Qualities) {
		idx = len(s.Qualities) - 1
	}

	return &RoundResult{
		QualityScore:  s.Qualities[idx],
		InputText:     strings.Repeat("plan and check the change set. ", 20*iteration),
		OutputText:    strings.Repeat("applied fixes and recorded findings. ", 10*iteration),
		InputUnits:    s.InputUnits,
		OutputUnits:   s.OutputUnits,
		ProviderModel: s.ProviderModel,
		AgentID:       s.AgentID,
		Elapsed:       s.Delay,
	}, nil
}
