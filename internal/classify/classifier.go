// Package classify maps features and load into a discrete attention context.
package classify

import (
	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/types"
)

// Thresholds used by the default rules
const (
	StuckCompileRate   = 2.0 // errors per minute
	StuckTabRate       = 3.0 // switches per minute
	LongSessionMinutes = 90.0
	RecoveringIdle     = 0.2
	RecoveringDrop     = 0.02 // score below recent mean by more than this
	FocusTabRate       = 1.5
	FocusEntropy       = 0.3
	FocusMinLoad       = 0.3
	ShallowTabRate     = 3.0
	ShallowEntropy     = 0.5
	MinConfidence      = 0.05
)

// Input is everything a classifier may look at. History holds recent
// smoothed scores, oldest first, excluding the current one.
type Input struct {
	Features   types.Features
	Score      float64
	Confidence float64
	History    []float64
}

// Classifier turns an input into a context. Implementations must be pure.
type Classifier interface {
	Classify(in Input, s settings.Settings) types.Context
	Name() string
}

// Rule is one entry of an ordered decision list
type Rule struct {
	Name    string
	Context types.Context
	Match   func(in Input, s settings.Settings) bool
}

// RuleClassifier evaluates rules in order; the first match wins.
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier creates a classifier over rules. A nil slice uses
// DefaultRules.
func NewRuleClassifier(rules []Rule) *RuleClassifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleClassifier{rules: rules}
}

// Name identifies the estimator kind in health output
func (c *RuleClassifier) Name() string {
	return "rules"
}

// Classify returns the context of the first matching rule, or unknown
func (c *RuleClassifier) Classify(in Input, s settings.Settings) types.Context {
	ctx, _ := c.Explain(in, s)
	return ctx
}

// Explain is Classify plus the name of the rule that fired
func (c *RuleClassifier) Explain(in Input, s settings.Settings) (types.Context, string) {
	for _, r := range c.rules {
		if r.Match(in, s) {
			return r.Context, r.Name
		}
	}
	return types.ContextUnknown, "default"
}

// Rules returns the rule names in evaluation order
func (c *RuleClassifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// DefaultRules is the documented precedence, most specific first
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "insufficient_signal",
			Context: types.ContextUnknown,
			Match: func(in Input, _ settings.Settings) bool {
				return in.Confidence < MinConfidence
			},
		},
		{
			Name:    "stuck",
			Context: types.ContextStuck,
			Match: func(in Input, _ settings.Settings) bool {
				return in.Features.CompileErrorRate > StuckCompileRate &&
					in.Features.TabSwitchRate > StuckTabRate
			},
		},
		{
			Name:    "fatigue",
			Context: types.ContextFatigue,
			Match: func(in Input, s settings.Settings) bool {
				return in.Score >= s.FatigueThreshold &&
					in.Features.SessionDurationMin > LongSessionMinutes
			},
		},
		{
			Name:    "recovering",
			Context: types.ContextRecovering,
			Match: func(in Input, _ settings.Settings) bool {
				return in.Features.IdleFraction > RecoveringIdle && declining(in.Score, in.History)
			},
		},
		{
			Name:    "deep_focus",
			Context: types.ContextDeepFocus,
			Match: func(in Input, s settings.Settings) bool {
				return in.Features.TabSwitchRate < FocusTabRate &&
					in.Features.TaskSwitchEntropy < FocusEntropy &&
					in.Score >= FocusMinLoad && in.Score < s.HighLoadThreshold
			},
		},
		{
			Name:    "shallow_work",
			Context: types.ContextShallowWork,
			Match: func(in Input, _ settings.Settings) bool {
				return in.Features.TabSwitchRate > ShallowTabRate ||
					in.Features.TaskSwitchEntropy > ShallowEntropy
			},
		},
	}
}

// declining reports whether score sits below the mean of history
func declining(score float64, history []float64) bool {
	if len(history) == 0 {
		return false
	}
	var sum float64
	for _, h := range history {
		sum += h
	}
	return sum/float64(len(history))-score > RecoveringDrop
}
