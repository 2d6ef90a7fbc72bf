package policy

import (
	"fmt"

	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/types"
)

const (
	DefaultPriority = 5
	MinPriority     = 1
	MaxPriority     = 10
)

// Table is the on-disk rule file
type Table struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is a predicate plus the directives it emits
type Rule struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	When        Condition  `yaml:"when"`
	Directives  []Template `yaml:"directives"`
}

// Condition is the rule predicate. All present clauses must hold.
type Condition struct {
	Contexts []types.Context `yaml:"contexts"`
	LoadMin  *float64        `yaml:"load_min"`
	LoadMax  *float64        `yaml:"load_max"`
	Above    string          `yaml:"above"` // settings threshold name
	Below    string          `yaml:"below"`
}

// Template is a directive with unresolved $variables
type Template struct {
	Action   string         `yaml:"action"`
	Params   map[string]any `yaml:"params"`
	Priority int            `yaml:"priority"`
	Reason   string         `yaml:"reason"`
}

// threshold resolves a settings field by name
func threshold(name string, s settings.Settings) (float64, bool) {
	switch name {
	case "high_load_threshold":
		return s.HighLoadThreshold, true
	case "fatigue_threshold":
		return s.FatigueThreshold, true
	}
	return 0, false
}

// Matches reports whether the condition holds
func (c Condition) Matches(ctx types.Context, score float64, s settings.Settings) bool {
	if len(c.Contexts) > 0 {
		found := false
		for _, k := range c.Contexts {
			if k == ctx {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.LoadMin != nil && score < *c.LoadMin {
		return false
	}
	if c.LoadMax != nil && score > *c.LoadMax {
		return false
	}
	if c.Above != "" {
		if t, ok := threshold(c.Above, s); !ok || score <= t {
			return false
		}
	}
	if c.Below != "" {
		if t, ok := threshold(c.Below, s); !ok || score >= t {
			return false
		}
	}
	return true
}

// validate checks a parsed table and fills defaults in place
func (t *Table) validate() error {
	seen := make(map[string]bool)
	for i := range t.Rules {
		r := &t.Rules[i]
		if r.Name == "" {
			return fmt.Errorf("%w: rule %d has no name", types.ErrConfig, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate rule %q", types.ErrConfig, r.Name)
		}
		seen[r.Name] = true

		for _, c := range r.When.Contexts {
			if !c.Valid() {
				return fmt.Errorf("%w: rule %q: unknown context %q", types.ErrConfig, r.Name, c)
			}
		}
		for _, b := range []*float64{r.When.LoadMin, r.When.LoadMax} {
			if b != nil && (*b < 0 || *b > 1) {
				return fmt.Errorf("%w: rule %q: load bound %v outside [0,1]", types.ErrConfig, r.Name, *b)
			}
		}
		for _, name := range []string{r.When.Above, r.When.Below} {
			if name == "" {
				continue
			}
			if _, ok := threshold(name, settings.Defaults()); !ok {
				return fmt.Errorf("%w: rule %q: unknown threshold %q", types.ErrConfig, r.Name, name)
			}
		}
		if len(r.Directives) == 0 {
			return fmt.Errorf("%w: rule %q has no directives", types.ErrConfig, r.Name)
		}
		for j := range r.Directives {
			d := &r.Directives[j]
			if d.Action == "" {
				return fmt.Errorf("%w: rule %q directive %d has no action", types.ErrConfig, r.Name, j)
			}
			if d.Priority == 0 {
				d.Priority = DefaultPriority
			}
			if d.Priority < MinPriority || d.Priority > MaxPriority {
				return fmt.Errorf("%w: rule %q: priority %d outside [%d,%d]",
					types.ErrConfig, r.Name, d.Priority, MinPriority, MaxPriority)
			}
		}
	}
	return nil
}
