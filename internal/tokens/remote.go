package tokens

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// DefaultRemoteModel is the model used for provider-side token counting
const DefaultRemoteModel = "claude-sonnet-4-5-20250929"

// RemoteCounter asks the Anthropic API for an exact input token count.
// It is used for pre-flight estimates from the CLI; the tracker's hot path
// stays on the local estimator.
type RemoteCounter struct {
	client   anthropic.Client
	model    string
	fallback Estimator
	logger   *zap.Logger
}

// NewRemoteCounter creates a counter. An empty apiKey falls back to
// ANTHROPIC_API_KEY; an empty model uses DefaultRemoteModel. Extra request
// options are passed to the SDK client.
func NewRemoteCounter(apiKey, model string, fallback Estimator, logger *zap.Logger, opts ...option.RequestOption) (*RemoteCounter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if model == "" {
		model = DefaultRemoteModel
	}
	if fallback == nil {
		fallback = New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &RemoteCounter{
		client:   anthropic.NewClient(opts...),
		model:    model,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Count returns the provider's token count for text sent as one user message.
func (c *RemoteCounter) Count(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	resp, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return int(resp.InputTokens), nil
}

// EstimateContext counts remotely and falls back to the local estimator on
// any error, so like Estimate it never fails.
func (c *RemoteCounter) EstimateContext(ctx context.Context, text string) int {
	n, err := c.Count(ctx, text)
	if err != nil {
		c.logger.Warn("remote token count failed, using local estimate",
			zap.String("model", c.model), zap.Error(err))
		return c.fallback.Estimate(text)
	}
	return n
}
