package plan

import (
	"time"

	"github.com/roach88/flowplan/internal/graph"
)

// Pair is one (parent, child) entry of a level result.
type Pair struct {
	Parent *graph.Graph
	Child  *graph.Graph
}

// RuleDuration is the time spent applying one rule within a phase.
type RuleDuration struct {
	Rule     string        `json:"rule"`
	Duration time.Duration `json:"duration_ns"`
}

type levelResult struct {
	parents  []*graph.Graph
	children map[*graph.Graph][]*graph.Graph
}

func newLevelResult() *levelResult {
	return &levelResult{children: make(map[*graph.Graph][]*graph.Graph)}
}

// Result records the outcome of one registry run: the current working set
// of every level, phase and rule timings, and the failure that ended the
// run, if any.
//
// A Result belongs to exactly one run and is never shared between
// concurrent runs.
type Result struct {
	registry      string
	levels        [levelCount]*levelResult
	phaseDuration [phaseCount]time.Duration
	ruleDurations [phaseCount][]RuleDuration
	start         time.Time
	end           time.Time
	err           error
}

func newResult(registry string, input *graph.Graph) *Result {
	r := &Result{registry: registry}
	for i := range r.levels {
		r.levels[i] = newLevelResult()
	}
	r.setAssembly(input)
	return r
}

// Registry returns the name of the registry that produced the result.
func (r *Result) Registry() string { return r.registry }

func (r *Result) setAssembly(g *graph.Graph) {
	lr := newLevelResult()
	lr.parents = []*graph.Graph{g}
	lr.children[g] = []*graph.Graph{g}
	r.levels[LevelAssembly] = lr
}

// AssemblyGraph returns the current assembly-level graph.
func (r *Result) AssemblyGraph() *graph.Graph {
	children := r.Children(LevelAssembly)
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// Parents returns the parents recorded at level, in first-recorded order.
func (r *Result) Parents(level Level) []*graph.Graph {
	return append([]*graph.Graph(nil), r.levels[level].parents...)
}

// ChildrenOf returns the children of parent at level.
func (r *Result) ChildrenOf(level Level, parent *graph.Graph) []*graph.Graph {
	return append([]*graph.Graph(nil), r.levels[level].children[parent]...)
}

// Children returns every child at level, grouped by parent.
func (r *Result) Children(level Level) []*graph.Graph {
	lr := r.levels[level]
	var out []*graph.Graph
	for _, p := range lr.parents {
		out = append(out, lr.children[p]...)
	}
	return out
}

// Pairs returns every (parent, child) entry at level.
func (r *Result) Pairs(level Level) []Pair {
	lr := r.levels[level]
	var out []Pair
	for _, p := range lr.parents {
		for _, c := range lr.children[p] {
			out = append(out, Pair{Parent: p, Child: c})
		}
	}
	return out
}

// Count returns the number of children at level.
func (r *Result) Count(level Level) int {
	n := 0
	for _, list := range r.levels[level].children {
		n += len(list)
	}
	return n
}

// Steps returns the step-level subgraphs.
func (r *Result) Steps() []*graph.Graph { return r.Children(LevelStep) }

// setChildren replaces the children of parent at level.
func (r *Result) setChildren(level Level, parent *graph.Graph, children []*graph.Graph) {
	lr := r.levels[level]
	if _, ok := lr.children[parent]; !ok {
		lr.parents = append(lr.parents, parent)
	}
	lr.children[parent] = append([]*graph.Graph(nil), children...)
}

func (r *Result) addPhaseDuration(p Phase, d time.Duration) {
	r.phaseDuration[p.Ordinal()] += d
}

// PhaseDuration returns the cumulative time spent in phase.
func (r *Result) PhaseDuration(p Phase) time.Duration {
	if !p.Valid() {
		return 0
	}
	return r.phaseDuration[p.Ordinal()]
}

// addRuleDuration records the duration of rule within phase. A rule name
// may appear only once per phase.
func (r *Result) addRuleDuration(p Phase, rule string, d time.Duration) error {
	i := p.Ordinal()
	for _, rd := range r.ruleDurations[i] {
		if rd.Rule == rule {
			return &PlanError{
				Code:     ErrCodePlannerFailure,
				Message:  "duplicate rule name within phase",
				Registry: r.registry,
				Phase:    p,
				Rule:     rule,
			}
		}
	}
	r.ruleDurations[i] = append(r.ruleDurations[i], RuleDuration{Rule: rule, Duration: d})
	return nil
}

// RuleDurations returns the per-rule timings of phase in application order.
func (r *Result) RuleDurations(p Phase) []RuleDuration {
	if !p.Valid() {
		return nil
	}
	return append([]RuleDuration(nil), r.ruleDurations[p.Ordinal()]...)
}

func (r *Result) setTimes(start, end time.Time) {
	r.start = start
	r.end = end
}

// Duration returns the wall-clock duration of the whole run.
func (r *Result) Duration() time.Duration { return r.end.Sub(r.start) }

// Start returns when the run started.
func (r *Result) Start() time.Time { return r.start }

// Err returns the failure that ended the run, or nil.
func (r *Result) Err() error { return r.err }

// Failed reports whether the run ended with a failure.
func (r *Result) Failed() bool { return r.err != nil }
