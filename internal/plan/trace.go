package plan

import (
	"github.com/roach88/flowplan/internal/graph"
)

// TraceSink receives planner artifacts. Implementations must never affect
// control flow: they log their own I/O failures and return nothing.
//
// Implementations must tolerate concurrent calls from runs of different
// registries. Each call carries the registry name, so writers can keep
// per-registry outputs apart.
type TraceSink interface {
	// WriteTransformPlan receives the graph produced by one rule
	// application. index numbers the applications of rule within phase.
	WriteTransformPlan(registry string, phase Phase, rule string, index int, g *graph.Graph)

	// WriteLevelResults receives the result after phase completed.
	WriteLevelResults(registry string, phase Phase, res *Result)

	// WriteStats receives the final result of a run, failed or not.
	WriteStats(registry string, res *Result)
}

// Sinks combines several sinks into one. Nil sinks are dropped; with none
// left Sinks returns nil, which disables tracing.
func Sinks(sinks ...TraceSink) TraceSink {
	var out multiSink
	for _, s := range sinks {
		if s != nil && !isNilValue(s) {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

type multiSink []TraceSink

func (m multiSink) WriteTransformPlan(registry string, phase Phase, rule string, index int, g *graph.Graph) {
	for _, s := range m {
		s.WriteTransformPlan(registry, phase, rule, index, g)
	}
}

func (m multiSink) WriteLevelResults(registry string, phase Phase, res *Result) {
	for _, s := range m {
		s.WriteLevelResults(registry, phase, res)
	}
}

func (m multiSink) WriteStats(registry string, res *Result) {
	for _, s := range m {
		s.WriteStats(registry, res)
	}
}
