package rules

import (
	"sort"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// Spec declares one rule: which catalog entry, which phase, and the
// parameters of the entry. Unused parameters are ignored.
type Spec struct {
	Rule        string   `json:"rule"`
	Name        string   `json:"name,omitempty"`
	Phase       string   `json:"phase"`
	Source      string   `json:"source,omitempty"`
	Kinds       []string `json:"kinds,omitempty"`
	From        []string `json:"from,omitempty"`
	To          []string `json:"to,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Unsupported bool     `json:"unsupported,omitempty"`
	Tag         string   `json:"tag,omitempty"`
	Excludes    []string `json:"excludes,omitempty"`
	Factory     string   `json:"factory,omitempty"`
}

type builder func(phase plan.Phase, spec Spec) (plan.Rule, error)

var catalog = map[string]builder{
	"SplitAt": func(phase plan.Phase, spec Spec) (plan.Rule, error) {
		kinds, err := parseKinds(spec.Kinds)
		if err != nil {
			return nil, err
		}
		return partitionRule(phase, spec, &SplitAt{Kinds: kinds, Tag: graph.Annotation(spec.Tag)})
	},
	"Components": func(phase plan.Phase, spec Spec) (plan.Rule, error) {
		return partitionRule(phase, spec, &Components{Tag: graph.Annotation(spec.Tag)})
	},
	"MaxInDegree": func(phase plan.Phase, spec Spec) (plan.Rule, error) {
		return assertRule(phase, spec, &MaxInDegree{Limit: spec.Limit, Type: assertionType(spec)})
	},
	"ForbidKind": func(phase plan.Phase, spec Spec) (plan.Rule, error) {
		kind, err := parseKind(spec.Kind)
		if err != nil {
			return nil, err
		}
		return assertRule(phase, spec, &ForbidKind{Kind: kind, Type: assertionType(spec)})
	},
	"MaxKindCount": func(phase plan.Phase, spec Spec) (plan.Rule, error) {
		kind, err := parseKind(spec.Kind)
		if err != nil {
			return nil, err
		}
		return assertRule(phase, spec, &MaxKindCount{Kind: kind, Limit: spec.Limit, Type: assertionType(spec)})
	},
	"InsertBoundary": func(phase plan.Phase, spec Spec) (plan.Rule, error) {
		from, err := parseKinds(spec.From)
		if err != nil {
			return nil, err
		}
		to, err := parseKinds(spec.To)
		if err != nil {
			return nil, err
		}
		return transformRule(phase, spec, &InsertBoundary{From: from, To: to, Factory: spec.Factory})
	},
	"Collapse": func(phase plan.Phase, spec Spec) (plan.Rule, error) {
		kinds, err := parseKinds(spec.Kinds)
		if err != nil {
			return nil, err
		}
		return transformRule(phase, spec, &Collapse{Kinds: kinds})
	},
}

// Names returns the catalog entries in lexical order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the rule spec declares. Unknown entries, phases, kinds
// and sources are construction errors, and so is a rule bound to a phase
// that cannot dispatch it.
func Build(spec Spec) (plan.Rule, error) {
	b, ok := catalog[spec.Rule]
	if !ok {
		return nil, plan.NewConstructionError("unknown rule %q", spec.Rule)
	}
	phase, err := plan.ParsePhase(spec.Phase)
	if err != nil {
		return nil, plan.NewConstructionError("rule %s: %v", spec.Rule, err)
	}
	if spec.Name == "" {
		spec.Name = spec.Rule
	}
	r, err := b(phase, spec)
	if err != nil {
		return nil, err
	}
	if err := fits(r); err != nil {
		return nil, err
	}
	return r, nil
}

func fits(r plan.Rule) error {
	phase := r.Phase()
	if phase.Action() == plan.ActionResolve {
		return plan.NewConstructionError("rule %s: phase %s takes no rules", r.Name(), phase)
	}
	_, partition := r.(*plan.PartitionRule)
	switch {
	case partition && phase.Mode() != plan.ModePartition:
		return plan.NewConstructionError("rule %s: partition rules need a partition phase, got %s", r.Name(), phase)
	case !partition && phase.Mode() != plan.ModeMutate:
		return plan.NewConstructionError("rule %s: %s is a partition phase", r.Name(), phase)
	}
	return nil
}

func partitionRule(phase plan.Phase, spec Spec, p plan.Partitioner) (plan.Rule, error) {
	var source plan.PartitionSource
	switch spec.Source {
	case "", "parent":
		source = plan.PartitionParent
	case "current":
		source = plan.PartitionCurrent
	default:
		return nil, plan.NewConstructionError("rule %s: unknown partition source %q", spec.Name, spec.Source)
	}
	excludes := make([]graph.Annotation, 0, len(spec.Excludes))
	for _, tag := range spec.Excludes {
		excludes = append(excludes, graph.Annotation(tag))
	}
	r, err := plan.NewPartitionRule(phase, spec.Name, source, p, excludes...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func assertRule(phase plan.Phase, spec Spec, a plan.Asserter) (plan.Rule, error) {
	r, err := plan.NewAssertRule(phase, spec.Name, a)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func transformRule(phase plan.Phase, spec Spec, t plan.Transformer) (plan.Rule, error) {
	r, err := plan.NewTransformRule(phase, spec.Name, t)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func assertionType(spec Spec) plan.AssertionType {
	if spec.Unsupported {
		return plan.AssertionUnsupported
	}
	return plan.AssertionInvalid
}

func parseKind(name string) (graph.Kind, error) {
	k := graph.Kind(name)
	if !graph.ValidKinds[k] {
		return "", plan.NewConstructionError("unknown element kind %q", name)
	}
	return k, nil
}

func parseKinds(names []string) ([]graph.Kind, error) {
	out := make([]graph.Kind, 0, len(names))
	for _, name := range names {
		k, err := parseKind(name)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
