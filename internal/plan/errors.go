package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowplan/internal/graph"
)

// ErrorCode categorizes planner errors.
type ErrorCode string

const (
	// ErrCodeUnsupportedPlan indicates a well-formed graph the target cannot
	// execute: an assertion anchored with the Unsupported classification.
	ErrCodeUnsupportedPlan ErrorCode = "UNSUPPORTED_PLAN"

	// ErrCodePlannerFailure covers every other rule failure and internal
	// invariant violation.
	ErrCodePlannerFailure ErrorCode = "PLANNER_FAILURE"

	// ErrCodeConstruction is raised synchronously while building rules,
	// registries or registry sets.
	ErrCodeConstruction ErrorCode = "CONSTRUCTION"

	// ErrCodeResolverState indicates a second resolution of the same graph
	// or a vertex the scope resolver cannot handle.
	ErrCodeResolverState ErrorCode = "RESOLVER_STATE"

	// ErrCodeRaceFailed indicates no registry of a race produced a result.
	ErrCodeRaceFailed ErrorCode = "RACE_FAILED"
)

// PlanError is the single error type of the planner. Unsupported and generic
// failures are variants distinguished by Code.
//
// Registry, Phase, Rule, Graph and Anchor are set when known.
type PlanError struct {
	Code     ErrorCode
	Message  string
	Registry string
	Phase    Phase
	Rule     string
	Graph    *graph.Graph
	Anchor   graph.Element
	Err      error
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Registry != "" {
		ctx = append(ctx, "registry="+e.Registry)
	}
	if e.Phase.Valid() {
		ctx = append(ctx, "phase="+e.Phase.String())
	}
	if e.Rule != "" {
		ctx = append(ctx, "rule="+e.Rule)
	}
	if e.Anchor != nil {
		ctx = append(ctx, "element="+e.Anchor.ID())
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *PlanError) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsUnsupported reports whether err is an unsupported-plan failure.
func IsUnsupported(err error) bool { return hasCode(err, ErrCodeUnsupportedPlan) }

// IsPlannerFailure reports whether err is a generic planner failure.
func IsPlannerFailure(err error) bool { return hasCode(err, ErrCodePlannerFailure) }

// IsConstructionError reports whether err was raised while building rules,
// registries or registry sets.
func IsConstructionError(err error) bool { return hasCode(err, ErrCodeConstruction) }

// IsResolverError reports whether err came from the scope resolver.
func IsResolverError(err error) bool { return hasCode(err, ErrCodeResolverState) }

// IsRaceFailure reports whether err means every registry of a race failed.
func IsRaceFailure(err error) bool { return hasCode(err, ErrCodeRaceFailed) }

// CodeOf returns the code of err, or "" when err is not a PlanError.
func CodeOf(err error) ErrorCode {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// NewConstructionError creates a PlanError for construction-time failures.
func NewConstructionError(format string, args ...any) *PlanError {
	return &PlanError{
		Code:    ErrCodeConstruction,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewPlannerFailure creates a generic planner failure.
func NewPlannerFailure(format string, args ...any) *PlanError {
	return &PlanError{
		Code:    ErrCodePlannerFailure,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewUnsupportedPlan creates an unsupported-plan failure anchored on an element.
func NewUnsupportedPlan(anchor graph.Element, message string) *PlanError {
	return &PlanError{
		Code:    ErrCodeUnsupportedPlan,
		Message: message,
		Anchor:  anchor,
	}
}

func newResolverError(format string, args ...any) *PlanError {
	return &PlanError{
		Code:    ErrCodeResolverState,
		Message: fmt.Sprintf(format, args...),
	}
}

// withContext attaches run context to err. An existing PlanError keeps its
// code (an unsupported plan is never downgraded) and only gains the context
// fields it lacks. Anything else becomes a planner failure wrapping err.
func withContext(err error, registry string, phase Phase, rule string, g *graph.Graph) *PlanError {
	var pe *PlanError
	if errors.As(err, &pe) {
		out := *pe
		if out.Registry == "" {
			out.Registry = registry
		}
		if !out.Phase.Valid() {
			out.Phase = phase
		}
		if out.Rule == "" {
			out.Rule = rule
		}
		if out.Graph == nil {
			out.Graph = g
		}
		return &out
	}
	return &PlanError{
		Code:     ErrCodePlannerFailure,
		Message:  "rule failed",
		Registry: registry,
		Phase:    phase,
		Rule:     rule,
		Graph:    g,
		Err:      err,
	}
}
