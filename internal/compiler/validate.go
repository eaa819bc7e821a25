package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// Flow validation error codes (E100-E199)
const (
	ErrFlowCycle       = "E101" // the flow loops
	ErrUnreachable     = "E102" // no source feeds the element
	ErrDeadEnd         = "E103" // the element reaches no sink
	ErrMissingKeys     = "E104" // group or every pipe without keys
	ErrMergeArity      = "E105" // merge with fewer than two inputs
	ErrSingleInput     = "E106" // element takes exactly one input
	ErrFieldResolution = "E107" // fields do not resolve
)

// ValidationError represents a flow validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateFlow checks a compiled flow for problems the planner would
// otherwise only find at run time. It returns all errors found (does not
// fail fast), in declaration order per check.
//
// Field resolution is only attempted on acyclic flows whose structure is
// otherwise valid, since its errors would repeat the structural ones.
func ValidateFlow(g *graph.Graph) []ValidationError {
	var errs []ValidationError

	// E101: cycles
	for _, c := range FindCycles(g) {
		errs = append(errs, ValidationError{
			Field:   c.Path[0],
			Message: c.Message,
			Code:    ErrFlowCycle,
		})
	}

	// E102/E103: every element lies on a head to tail path
	fromHead := reach(g, graph.Head.ID(), g.Successors)
	toTail := reach(g, graph.Tail.ID(), g.Predecessors)
	for _, e := range g.Vertices() {
		if graph.IsExtent(e) {
			continue
		}
		if !fromHead[e.ID()] {
			errs = append(errs, ValidationError{
				Field:   e.ID(),
				Message: fmt.Sprintf("%s is not fed by any source", e),
				Code:    ErrUnreachable,
			})
		}
		if !toTail[e.ID()] {
			errs = append(errs, ValidationError{
				Field:   e.ID(),
				Message: fmt.Sprintf("%s does not reach any sink", e),
				Code:    ErrDeadEnd,
			})
		}
	}

	for _, e := range g.Vertices() {
		in := g.InDegree(e.ID())
		switch e.Kind() {
		case graph.KindGroup, graph.KindEvery:
			// E104
			if p, ok := e.(*graph.Pipe); ok && len(p.Keys()) == 0 {
				errs = append(errs, ValidationError{
					Field:   e.ID() + ".keys",
					Message: fmt.Sprintf("%s pipe %s declares no keys", e.Kind(), e.ID()),
					Code:    ErrMissingKeys,
				})
			}
		case graph.KindMerge:
			// E105
			if in < 2 {
				errs = append(errs, ValidationError{
					Field:   e.ID() + ".from",
					Message: fmt.Sprintf("merge %s has %d input(s), needs at least two", e.ID(), in),
					Code:    ErrMergeArity,
				})
			}
		case graph.KindEach, graph.KindPass, graph.KindBoundary, graph.KindSink:
			// E106
			if in > 1 {
				errs = append(errs, ValidationError{
					Field:   e.ID() + ".from",
					Message: fmt.Sprintf("%s %s takes one input, has %d", e.Kind(), e.ID(), in),
					Code:    ErrSingleInput,
				})
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}

	// E107: field resolution on a private copy
	if err := plan.ResolveFields(g.Copy()); err != nil {
		ve := ValidationError{Field: g.Name(), Message: err.Error(), Code: ErrFieldResolution}
		var pe *plan.PlanError
		if errors.As(err, &pe) {
			if pe.Anchor != nil {
				ve.Field = pe.Anchor.ID()
			}
			ve.Message = pe.Message
			if pe.Err != nil {
				ve.Message = pe.Err.Error()
			}
		}
		errs = append(errs, ve)
	}
	return errs
}

func reach(g *graph.Graph, start string, next func(id string) []graph.Element) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range next(id) {
			if !seen[e.ID()] {
				seen[e.ID()] = true
				queue = append(queue, e.ID())
			}
		}
	}
	return seen
}
