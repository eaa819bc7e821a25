package rules

import (
	"fmt"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// MaxInDegree anchors the first element with more than Limit incoming
// edges.
type MaxInDegree struct {
	Limit int
	Type  plan.AssertionType
}

// Assert implements plan.Asserter.
func (m *MaxInDegree) Assert(_ *plan.Context, g *graph.Graph) (plan.Asserted, error) {
	for _, e := range g.Vertices() {
		if graph.IsExtent(e) {
			continue
		}
		if n := g.InDegree(e.ID()); n > m.Limit {
			return plan.Asserted{
				Anchor:  e,
				Type:    m.Type,
				Message: fmt.Sprintf("element %s has in-degree %d, limit is %d", e.ID(), n, m.Limit),
			}, nil
		}
	}
	return plan.Asserted{}, nil
}

// ForbidKind anchors the first element of Kind. Platforms use it to reject
// constructs they cannot run, typically with AssertionUnsupported.
type ForbidKind struct {
	Kind graph.Kind
	Type plan.AssertionType
}

// Assert implements plan.Asserter.
func (f *ForbidKind) Assert(_ *plan.Context, g *graph.Graph) (plan.Asserted, error) {
	for _, e := range g.Vertices() {
		if e.Kind() == f.Kind {
			return plan.Asserted{
				Anchor:  e,
				Type:    f.Type,
				Message: fmt.Sprintf("%s elements are not supported", f.Kind),
			}, nil
		}
	}
	return plan.Asserted{}, nil
}

// MaxKindCount anchors the element of Kind that pushes a graph over Limit
// occurrences, e.g. a step holding two groupings.
type MaxKindCount struct {
	Kind  graph.Kind
	Limit int
	Type  plan.AssertionType
}

// Assert implements plan.Asserter.
func (m *MaxKindCount) Assert(_ *plan.Context, g *graph.Graph) (plan.Asserted, error) {
	seen := 0
	for _, e := range g.Vertices() {
		if e.Kind() != m.Kind {
			continue
		}
		seen++
		if seen > m.Limit {
			return plan.Asserted{
				Anchor:  e,
				Type:    m.Type,
				Message: fmt.Sprintf("graph %s holds more than %d %s elements", g.Name(), m.Limit, m.Kind),
			}, nil
		}
	}
	return plan.Asserted{}, nil
}
