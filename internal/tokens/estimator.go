// Package tokens converts text payloads into unit counts used as a proxy
// for AI resource usage.
//
// The default estimator runs a language-aware heuristic and degrades to a
// fixed characters-per-unit ratio whenever the heuristic is disabled or
// fails. Estimation never returns an error to the caller.
package tokens

import (
	"math"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultCharsPerUnit is the fallback ratio (1 unit is roughly 3-4 characters).
const DefaultCharsPerUnit = 3.5

// Estimator turns text into a non-negative unit count. Implementations must
// be deterministic for identical input.
type Estimator interface {
	Estimate(text string) int
}

// CharRatioEstimator estimates ceil(runes / CharsPerUnit).
type CharRatioEstimator struct {
	CharsPerUnit float64 // defaults to DefaultCharsPerUnit if zero
}

// Estimate implements Estimator
func (e CharRatioEstimator) Estimate(text string) int {
	ratio := e.CharsPerUnit
	if ratio <= 0 {
		ratio = DefaultCharsPerUnit
	}
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / ratio))
}

// FallbackEstimator runs Primary and recovers to Fallback when Primary is
// nil, panics, or returns a negative count.
type FallbackEstimator struct {
	Primary  Estimator
	Fallback Estimator
	logger   *zap.Logger
}

// Option configures a FallbackEstimator
type Option func(*FallbackEstimator)

// WithLogger sets the logger used to report primary estimator failures
func WithLogger(logger *zap.Logger) Option {
	return func(e *FallbackEstimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithoutHeuristic disables the primary estimator so every call uses the
// character ratio.
func WithoutHeuristic() Option {
	return func(e *FallbackEstimator) {
		e.Primary = nil
	}
}

// WithPrimary replaces the primary estimator
func WithPrimary(primary Estimator) Option {
	return func(e *FallbackEstimator) {
		e.Primary = primary
	}
}

// New returns the default estimator: HeuristicEstimator backed by
// CharRatioEstimator.
func New(opts ...Option) *FallbackEstimator {
	e := &FallbackEstimator{
		Primary:  HeuristicEstimator{},
		Fallback: CharRatioEstimator{CharsPerUnit: DefaultCharsPerUnit},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate implements Estimator
func (e *FallbackEstimator) Estimate(text string) (units int) {
	if e.Primary == nil {
		return e.fallback().Estimate(text)
	}

	defer func() {
		if r := recover(); r != nil {
			e.log().Warn("token estimation failed, using character ratio",
				zap.Any("panic", r), zap.Int("chars", utf8.RuneCountInString(text)))
			units = e.fallback().Estimate(text)
		}
	}()

	units = e.Primary.Estimate(text)
	if units < 0 {
		e.log().Warn("token estimator returned negative count, using character ratio",
			zap.Int("units", units))
		return e.fallback().Estimate(text)
	}
	return units
}

func (e *FallbackEstimator) fallback() Estimator {
	if e.Fallback == nil {
		return CharRatioEstimator{}
	}
	return e.Fallback
}

func (e *FallbackEstimator) log() *zap.Logger {
	if e.logger == nil {
		return zap.NewNop()
	}
	return e.logger
}
