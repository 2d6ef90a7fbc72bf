// Package load turns a feature vector into a smoothed 0-1 load score split
// into intrinsic, extraneous and germane components.
package load

import (
	"fmt"
	"math"

	"github.com/vthunder/clr/internal/types"
)

// Normalization caps: rates at or above these saturate their term.
const (
	TabSwitchCap    = 10.0  // per minute
	CompileErrorCap = 5.0   // per minute
	SessionCap      = 120.0 // minutes
)

// Weights combine the three components into the raw score
type Weights struct {
	Intrinsic  float64 `yaml:"intrinsic" json:"intrinsic"`
	Extraneous float64 `yaml:"extraneous" json:"extraneous"`
	Germane    float64 `yaml:"germane" json:"germane"`
}

// DefaultWeights returns the default component weights
func DefaultWeights() Weights {
	return Weights{Intrinsic: 0.35, Extraneous: 0.40, Germane: 0.25}
}

// Estimator is stateless; the caller carries the previous score.
type Estimator struct {
	weights Weights
	alpha   float64
}

// DefaultAlpha is the EMA smoothing factor
const DefaultAlpha = 0.3

// New creates an estimator. Weights must be non-negative and sum to 1;
// alpha must be in (0,1].
func New(w Weights, alpha float64) (*Estimator, error) {
	if w.Intrinsic < 0 || w.Extraneous < 0 || w.Germane < 0 {
		return nil, fmt.Errorf("%w: negative load weight", types.ErrConfig)
	}
	if sum := w.Intrinsic + w.Extraneous + w.Germane; math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("%w: load weights sum to %v, want 1", types.ErrConfig, sum)
	}
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: smoothing alpha %v not in (0,1]", types.ErrConfig, alpha)
	}
	return &Estimator{weights: w, alpha: alpha}, nil
}

// Default returns an estimator with the default weights and alpha
func Default() *Estimator {
	e, _ := New(DefaultWeights(), DefaultAlpha)
	return e
}

// Components computes the clipped breakdown
func Components(f types.Features) types.Breakdown {
	return types.Breakdown{
		Intrinsic: types.Clamp01(0.55*types.Clamp01(f.CompileErrorRate/CompileErrorCap) +
			0.45*types.Clamp01(f.TypingBurstScore)),
		Extraneous: types.Clamp01(0.6*types.Clamp01(f.TabSwitchRate/TabSwitchCap) +
			0.4*types.Clamp01(f.TaskSwitchEntropy)),
		Germane: types.Clamp01(0.5*types.Clamp01(f.SessionDurationMin/SessionCap) +
			0.5*(1-types.Clamp01(f.IdleFraction))),
	}
}

// Raw is the unsmoothed weighted score
func (e *Estimator) Raw(f types.Features) float64 {
	b := Components(f)
	return types.Clamp01(e.weights.Intrinsic*b.Intrinsic +
		e.weights.Extraneous*b.Extraneous +
		e.weights.Germane*b.Germane)
}

// Smooth applies one EMA step
func (e *Estimator) Smooth(raw, prev float64) float64 {
	return types.Clamp01(e.alpha*types.Clamp01(raw) + (1-e.alpha)*types.Clamp01(prev))
}

// Estimate produces the smoothed estimate. coverage is the fraction of the
// window spanned by observed events and becomes the confidence.
func (e *Estimator) Estimate(f types.Features, prev, coverage float64) types.LoadEstimate {
	return types.LoadEstimate{
		Score:      e.Smooth(e.Raw(f), prev),
		Breakdown:  Components(f),
		Confidence: types.Clamp01(coverage),
	}
}
