package plan

import (
	"github.com/roach88/flowplan/internal/graph"
)

// ElementFactory creates elements for rules that insert new vertices, e.g.
// boundaries between group pipes.
type ElementFactory func(id string) graph.Element

// Registry is an ordered-by-phase collection of rules plus named element
// factories.
//
// Rules are held in a fixed array indexed by phase ordinal, so every phase
// has a (possibly empty) list and registration order is preserved per phase.
//
// A Registry is built once and then only read. It is not safe for
// concurrent mutation, but any number of runs may read it concurrently.
type Registry struct {
	name            string
	rules           [phaseCount][]Rule
	factories       map[string]ElementFactory
	resolveElements bool
}

// NewRegistry creates an empty registry. Element resolution is enabled by
// default.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:            name,
		factories:       make(map[string]ElementFactory),
		resolveElements: true,
	}
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Add registers rule at the end of its phase's list. A rule without a bound
// phase is rejected immediately.
func (r *Registry) Add(rule Rule) error {
	if rule == nil || isNilValue(rule) {
		return NewConstructionError("registry %s: nil rule", r.name)
	}
	if !rule.Phase().Valid() {
		return NewConstructionError("registry %s: rule %q has no phase bound", r.name, rule.Name())
	}
	i := rule.Phase().Ordinal()
	r.rules[i] = append(r.rules[i], rule)
	return nil
}

// MustAdd is like Add but panics on error.
// Use only in tests or when rules are known to be valid.
func (r *Registry) MustAdd(rules ...Rule) *Registry {
	for _, rule := range rules {
		if err := r.Add(rule); err != nil {
			panic(err)
		}
	}
	return r
}

// Rules returns the rules registered for phase in registration order.
func (r *Registry) Rules(phase Phase) []Rule {
	if !phase.Valid() {
		return nil
	}
	return append([]Rule(nil), r.rules[phase.Ordinal()]...)
}

// HasRule reports whether a rule with the given name exists in any phase.
func (r *Registry) HasRule(name string) bool {
	for _, list := range r.rules {
		for _, rule := range list {
			if rule.Name() == name {
				return true
			}
		}
	}
	return false
}

// RuleCount returns the number of registered rules.
func (r *Registry) RuleCount() int {
	n := 0
	for _, list := range r.rules {
		n += len(list)
	}
	return n
}

// AddDefaultFactory registers f under name unless a factory is already
// registered. It reports whether f was registered.
func (r *Registry) AddDefaultFactory(name string, f ElementFactory) bool {
	if _, ok := r.factories[name]; ok {
		return false
	}
	r.factories[name] = f
	return true
}

// SetFactory registers f under name, replacing any existing factory.
func (r *Registry) SetFactory(name string, f ElementFactory) {
	r.factories[name] = f
}

// Factory returns the factory registered under name.
func (r *Registry) Factory(name string) (ElementFactory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// SetResolveElements toggles the ResolveAssembly phase.
func (r *Registry) SetResolveElements(enabled bool) { r.resolveElements = enabled }

// ResolveElements reports whether the ResolveAssembly phase runs.
func (r *Registry) ResolveElements() bool { return r.resolveElements }

// ProcessLevels returns the levels that have at least one registered rule,
// parents first.
func (r *Registry) ProcessLevels() []Level {
	var seen [levelCount]bool
	for _, p := range orderedPhases {
		if len(r.rules[p.Ordinal()]) > 0 {
			seen[p.Level()] = true
		}
	}
	var out []Level
	for _, l := range Levels() {
		if seen[l] {
			out = append(out, l)
		}
	}
	return out
}
