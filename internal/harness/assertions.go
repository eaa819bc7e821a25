package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the plan shape to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Summary  *plan.Summary // Plan for debugging context, nil on failure
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Summary != nil {
		fmt.Fprintf(&buf, "\nPlan (%s):\n", e.Summary.Registry)
		for _, step := range e.Summary.Steps {
			writeTree(&buf, step, 1)
		}
	}

	return buf.String()
}

func writeTree(buf *strings.Builder, gs plan.GraphSummary, depth int) {
	fmt.Fprintf(buf, "%s%s %v\n", strings.Repeat("  ", depth), gs.Name, gs.Elements)
	for _, child := range gs.Children {
		writeTree(buf, child, depth+1)
	}
}

// AssertionContext provides the store and flow for assertions that query
// recorded runs.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Flow  string
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errors = append(errors, fmt.Sprintf("assertion %d (%s): %s", i, a.Type, err.Error()))
		}
	}
	return errors
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertStepCount:
		return assertCount(result, a, plan.LevelStep)
	case AssertNodeCount:
		return assertCount(result, a, plan.LevelNode)
	case AssertPipelineCount:
		return assertCount(result, a, plan.LevelPipeline)
	case AssertElements:
		return assertElements(result, a)
	case AssertWinner:
		return assertWinner(result, a)
	case AssertErrorCode:
		return assertErrorCode(result, a)
	case AssertFailedPhase:
		return assertFailedPhase(result, a)
	case AssertRecordedRun:
		if actx == nil || actx.Store == nil {
			return fmt.Errorf("recorded_run assertion requires a store")
		}
		return assertRecordedRun(actx, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertCount checks the number of subgraphs planned at level.
func assertCount(result *Result, a Assertion, level plan.Level) error {
	if result.Summary == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s subgraphs", a.Count, strings.ToLower(level.String())),
			Actual:   "no plan",
		}
	}

	var got int
	switch level {
	case plan.LevelStep:
		got = result.Summary.StepCount
	case plan.LevelNode:
		got = result.Summary.NodeCount
	case plan.LevelPipeline:
		got = result.Summary.PipeCount
	}
	if got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s subgraphs", a.Count, strings.ToLower(level.String())),
			Actual:   fmt.Sprintf("%d", got),
			Summary:  result.Summary,
		}
	}
	return nil
}

// assertElements checks the exact element order of a named subgraph.
func assertElements(result *Result, a Assertion) error {
	level, err := parseLevel(a.Level)
	if err != nil {
		return err
	}
	if result.Summary == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s with %v", a.Level, a.Name, a.Elements),
			Actual:   "no plan",
		}
	}

	gs, ok := findSubgraph(result.Summary.Steps, plan.LevelStep, level, a.Name)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s with %v", a.Level, a.Name, a.Elements),
			Actual:   "not found in plan",
			Summary:  result.Summary,
		}
	}
	if !slices.Equal(gs.Elements, a.Elements) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", a.Elements),
			Actual:   fmt.Sprintf("%v", gs.Elements),
			Summary:  result.Summary,
		}
	}
	return nil
}

// findSubgraph walks the summary tree depth first for the subgraph called
// name at the target level.
func findSubgraph(nodes []plan.GraphSummary, at, target plan.Level, name string) (plan.GraphSummary, bool) {
	for _, gs := range nodes {
		if at == target {
			if gs.Name == name {
				return gs, true
			}
			continue
		}
		if found, ok := findSubgraph(gs.Children, at+1, target, name); ok {
			return found, true
		}
	}
	return plan.GraphSummary{}, false
}

func assertWinner(result *Result, a Assertion) error {
	if result.Winner != a.Registry {
		actual := result.Winner
		if actual == "" {
			actual = fmt.Sprintf("no winner (%s)", result.ErrorCode)
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: a.Registry,
			Actual:   actual,
		}
	}
	return nil
}

func assertErrorCode(result *Result, a Assertion) error {
	if result.ErrorCode != a.Code {
		actual := result.ErrorCode
		if actual == "" {
			actual = "planning succeeded"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: a.Code,
			Actual:   actual,
			Summary:  result.Summary,
		}
	}
	return nil
}

func assertFailedPhase(result *Result, a Assertion) error {
	want, err := plan.ParsePhase(a.Phase)
	if err != nil {
		return err
	}
	if result.FailedPhase != want.String() {
		actual := result.FailedPhase
		if actual == "" {
			actual = "no failed phase"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: want.String(),
			Actual:   actual,
		}
	}
	return nil
}

// assertRecordedRun checks that the store holds a run of the registry with
// the expected status.
func assertRecordedRun(actx *AssertionContext, a Assertion) error {
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	runs, err := actx.Store.ListRuns(ctx, store.RunFilter{Flow: actx.Flow, Registry: a.Registry})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	statuses := make([]string, 0, len(runs))
	for _, r := range runs {
		if r.Status == a.Status {
			return nil
		}
		statuses = append(statuses, r.Status)
	}

	actual := "no runs recorded"
	if len(statuses) > 0 {
		actual = fmt.Sprintf("statuses %v", statuses)
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("run of %s with status %s", a.Registry, a.Status),
		Actual:   actual,
	}
}
