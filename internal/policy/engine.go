// Package policy evaluates the declarative rule table into an ordered list
// of action directives.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/types"
)

//go:embed rules.yaml
var defaultRules []byte

// VarFunc computes a $variable from the current score
type VarFunc func(score float64) any

// Engine holds the active rule table. Evaluate is safe to call while a
// reload is in progress.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	path  string
	vars  map[string]VarFunc
}

// New creates an engine with the embedded default rules
func New() *Engine {
	e := &Engine{vars: make(map[string]VarFunc)}
	table, err := Parse(defaultRules)
	if err != nil {
		// embedded file is covered by tests
		panic(fmt.Sprintf("policy: bad embedded rules: %v", err))
	}
	e.rules = table.Rules
	return e
}

// SetVar registers a $name variable for directive params
func (e *Engine) SetVar(name string, fn VarFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[strings.TrimPrefix(name, "$")] = fn
}

// Parse decodes and validates a rule table
func Parse(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("%w: failed to parse rules: %v", types.ErrConfig, err)
	}
	if err := t.validate(); err != nil {
		return t, err
	}
	return t, nil
}

// LoadFile replaces the rule table with the contents of path and remembers
// it for Reload. On error the current rules stay active.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = t.Rules
	e.path = path
	e.mu.Unlock()
	logging.Info("policy", "Loaded %d rules from %s", len(t.Rules), path)
	return nil
}

// Reload re-reads the file given to LoadFile
func (e *Engine) Reload() error {
	e.mu.RLock()
	path := e.path
	e.mu.RUnlock()
	if path == "" {
		return nil
	}
	return e.LoadFile(path)
}

// Path is the override file in use, if any
func (e *Engine) Path() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.path
}

// Rules returns a copy of the active rules
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate fires every matching rule and returns the directives sorted by
// priority. Ties keep rule order, then directive order within a rule.
func (e *Engine) Evaluate(ctx types.Context, score float64, s settings.Settings) []types.Directive {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := []types.Directive{}
	for _, r := range e.rules {
		if !r.When.Matches(ctx, score, s) {
			continue
		}
		for _, tpl := range r.Directives {
			out = append(out, e.render(tpl, r, ctx, score))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Describe returns the descriptions of the rules that match
func (e *Engine) Describe(ctx types.Context, score float64, s settings.Settings) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	for _, r := range e.rules {
		if r.When.Matches(ctx, score, s) {
			desc := r.Description
			if desc == "" {
				desc = r.Name
			}
			out = append(out, desc)
		}
	}
	return out
}

func (e *Engine) render(tpl Template, r Rule, ctx types.Context, score float64) types.Directive {
	params := make(map[string]any, len(tpl.Params))
	for k, v := range tpl.Params {
		params[k] = e.resolve(v, ctx, score)
	}
	reason := tpl.Reason
	if reason == "" {
		reason = r.Description
	}
	return types.Directive{
		ActionType: tpl.Action,
		Params:     params,
		Priority:   tpl.Priority,
		Reason:     reason,
	}
}

func (e *Engine) resolve(v any, ctx types.Context, score float64) any {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$") {
		return v
	}
	name := s[1:]
	switch name {
	case "load_score":
		return types.Round4(score)
	case "context":
		return string(ctx)
	}
	if fn, ok := e.vars[name]; ok {
		return fn(score)
	}
	logging.Debug("policy", "Unresolved variable %s", s)
	return v
}
