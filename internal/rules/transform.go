package rules

import (
	"fmt"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// FactoryBoundary is the element factory InsertBoundary uses by default.
const FactoryBoundary = "boundary"

// NewBoundary is the default boundary factory.
func NewBoundary(id string) graph.Element {
	return graph.NewPipe(graph.KindBoundary, id)
}

// Install registers the default element factories on reg, keeping any the
// caller registered first.
func Install(reg *plan.Registry) {
	reg.AddDefaultFactory(FactoryBoundary, NewBoundary)
}

// InsertBoundary places a boundary element on every edge leading from an
// element of a From kind to an element of a To kind. Boundaries come from
// the registry's Factory (default "boundary") and are named
// "<source>~<target>".
type InsertBoundary struct {
	From    []graph.Kind
	To      []graph.Kind
	Factory string
}

// Transform implements plan.Transformer.
func (b *InsertBoundary) Transform(pc *plan.Context, g *graph.Graph) (plan.Transformed, error) {
	var targets []*graph.Scope
	for _, s := range g.Edges() {
		src, _ := g.Vertex(s.Source)
		tgt, _ := g.Vertex(s.Target)
		if hasKind(b.From, src.Kind()) && hasKind(b.To, tgt.Kind()) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return plan.Transformed{}, nil
	}

	name := b.Factory
	if name == "" {
		name = FactoryBoundary
	}
	if pc == nil || pc.Registry == nil {
		return plan.Transformed{}, plan.NewPlannerFailure("insert boundary: no registry in context")
	}
	factory, ok := pc.Registry.Factory(name)
	if !ok {
		return plan.Transformed{}, plan.NewPlannerFailure("insert boundary: registry %s has no element factory %q", pc.RegistryName(), name)
	}

	for _, s := range targets {
		e := factory(fmt.Sprintf("%s~%s", s.Source, s.Target))
		if e == nil {
			return plan.Transformed{}, plan.NewPlannerFailure("insert boundary: factory %q returned nil", name)
		}
		if err := g.InsertBetween(s, e); err != nil {
			return plan.Transformed{}, err
		}
		pc.Log().Debug("boundary inserted", "element", e.ID(), "graph", g.Name())
	}
	return plan.Transformed{End: g}, nil
}

// Collapse removes pass-through elements: every element of Kinds (default
// pass) with exactly one incoming and one outgoing edge.
type Collapse struct {
	Kinds []graph.Kind
}

// Transform implements plan.Transformer.
func (c *Collapse) Transform(_ *plan.Context, g *graph.Graph) (plan.Transformed, error) {
	kinds := c.Kinds
	if len(kinds) == 0 {
		kinds = []graph.Kind{graph.KindPass}
	}

	changed := false
	for _, e := range g.Vertices() {
		if !hasKind(kinds, e.Kind()) || g.InDegree(e.ID()) != 1 || g.OutDegree(e.ID()) != 1 {
			continue
		}
		if err := g.Bypass(e.ID()); err != nil {
			return plan.Transformed{}, err
		}
		changed = true
	}
	if !changed {
		return plan.Transformed{}, nil
	}
	return plan.Transformed{End: g}, nil
}
