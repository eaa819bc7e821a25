package plan

import (
	"github.com/roach88/flowplan/internal/graph"
)

// ResolveFields propagates field metadata across g in topological order.
//
// Every non-sentinel vertex must have a successor and must be a
// graph.ScopedElement. Its outgoing fields are computed from its incoming
// scopes, which topological order guarantees are already written, and then
// copied onto each outgoing edge. The graph shape is never changed.
//
// Resolving a graph twice is a resolver state error.
func ResolveFields(g *graph.Graph) error {
	if g.Resolved() {
		return newResolverError("graph %q is already resolved", g.Name())
	}

	order, err := g.Topological()
	if err != nil {
		pe := newResolverError("cannot order graph %q", g.Name())
		pe.Err = err
		pe.Graph = g
		return pe
	}

	for _, v := range order {
		if graph.IsExtent(v) {
			continue
		}

		if len(g.Successors(v.ID())) == 0 {
			pe := newResolverError("orphaned element %s has no successors", v.ID())
			pe.Anchor = v
			pe.Graph = g
			return pe
		}

		scoped, ok := v.(graph.ScopedElement)
		if !ok {
			pe := newResolverError("element %s (%s) cannot compute a scope", v.ID(), v.Kind())
			pe.Anchor = v
			pe.Graph = g
			return pe
		}

		fields, err := scoped.OutgoingScope(g.Incoming(v.ID()))
		if err != nil {
			pe := newResolverError("resolving scope of %s", v.ID())
			pe.Anchor = v
			pe.Graph = g
			pe.Err = err
			return pe
		}

		for _, s := range g.Outgoing(v.ID()) {
			s.Fields = fields.Clone()
		}
	}

	return g.MarkResolved()
}
