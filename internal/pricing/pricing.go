// Package pricing maps provider/model identifiers to per-unit rates and turns
// unit counts into a monetary estimate.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownPricingModel is returned when a model has no registered rate.
// Callers should register a rate or pass a model that has one.
var ErrUnknownPricingModel = errors.New("unknown pricing model")

// Well-known models carried in the default table
const (
	ModelClaude35Sonnet = "claude-3-5-sonnet"
	ModelClaude3Haiku   = "claude-3-haiku"
	ModelGPT4           = "gpt-4"
	ModelGPT35Turbo     = "gpt-3.5-turbo"
	ModelGeminiPro      = "gemini-pro"
	ModelGemini15Flash  = "gemini-1.5-flash"
)

// Rate is the cost of 1,000 input and output units.
type Rate struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// Cost returns in/1000*InputPer1K + out/1000*OutputPer1K
func (r Rate) Cost(inputUnits, outputUnits int64) float64 {
	return float64(inputUnits)/1000*r.InputPer1K + float64(outputUnits)/1000*r.OutputPer1K
}

// Validate checks that both rates are non-negative
func (r Rate) Validate() error {
	if r.InputPer1K < 0 {
		return fmt.Errorf("input_per_1k must be non-negative, got %.6f", r.InputPer1K)
	}
	if r.OutputPer1K < 0 {
		return fmt.Errorf("output_per_1k must be non-negative, got %.6f", r.OutputPer1K)
	}
	return nil
}

// DefaultRates returns the built-in table (USD, mid-2025 list prices)
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		ModelClaude35Sonnet: {InputPer1K: 0.003, OutputPer1K: 0.015},
		ModelClaude3Haiku:   {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		ModelGPT4:           {InputPer1K: 0.03, OutputPer1K: 0.06},
		ModelGPT35Turbo:     {InputPer1K: 0.0015, OutputPer1K: 0.002},
		ModelGeminiPro:      {InputPer1K: 0.000125, OutputPer1K: 0.000375},
		ModelGemini15Flash:  {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	}
}

// Registry holds the rate table. It is safe to share between runs.
type Registry struct {
	mu       sync.RWMutex
	rates    map[string]Rate
	currency string
}

// NewRegistry creates a registry with a copy of rates
func NewRegistry(rates map[string]Rate) *Registry {
	r := &Registry{
		rates:    make(map[string]Rate, len(rates)),
		currency: "USD",
	}
	for model, rate := range rates {
		r.rates[model] = rate
	}
	return r
}

// Default returns a registry seeded with DefaultRates
func Default() *Registry {
	return NewRegistry(DefaultRates())
}

// Register adds or replaces the rate for model
func (r *Registry) Register(model string, rate Rate) error {
	if model == "" {
		return fmt.Errorf("model is required")
	}
	if err := rate.Validate(); err != nil {
		return fmt.Errorf("invalid rate for %s: %w", model, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[model] = rate
	return nil
}

// Lookup returns the rate for model or ErrUnknownPricingModel
func (r *Registry) Lookup(model string) (Rate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rate, ok := r.rates[model]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %q", ErrUnknownPricingModel, model)
	}
	return rate, nil
}

// Has reports whether model has a registered rate
func (r *Registry) Has(model string) bool {
	_, err := r.Lookup(model)
	return err == nil
}

// Cost prices a unit count for model
func (r *Registry) Cost(model string, inputUnits, outputUnits int64) (float64, error) {
	rate, err := r.Lookup(model)
	if err != nil {
		return 0, err
	}
	return rate.Cost(inputUnits, outputUnits), nil
}

// Models returns the registered model identifiers in sorted order
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.rates))
	for m := range r.rates {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Currency returns the currency label rates are expressed in
func (r *Registry) Currency() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currency
}
