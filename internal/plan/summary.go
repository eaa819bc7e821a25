package plan

import (
	"github.com/roach88/flowplan/internal/graph"
)

// GraphSummary describes one planned subgraph and the subgraphs it was
// partitioned into.
type GraphSummary struct {
	Name     string         `json:"name"`
	Elements []string       `json:"elements"`
	Children []GraphSummary `json:"children,omitempty"`
}

// Summary is the serialisable shape of a Result: steps, their nodes and the
// nodes' pipelines.
type Summary struct {
	Registry  string         `json:"registry"`
	Steps     []GraphSummary `json:"steps"`
	StepCount int            `json:"step_count"`
	NodeCount int            `json:"node_count"`
	PipeCount int            `json:"pipeline_count"`
}

// Summarize builds the summary tree of r.
func Summarize(r *Result) Summary {
	s := Summary{
		Registry:  r.Registry(),
		Steps:     make([]GraphSummary, 0),
		StepCount: r.Count(LevelStep),
		NodeCount: r.Count(LevelNode),
		PipeCount: r.Count(LevelPipeline),
	}
	for _, step := range r.Steps() {
		s.Steps = append(s.Steps, summarize(r, LevelStep, step))
	}
	return s
}

func summarize(r *Result, level Level, g *graph.Graph) GraphSummary {
	gs := GraphSummary{
		Name:     g.Name(),
		Elements: elementIDs(g),
	}
	if level == LevelPipeline {
		return gs
	}
	next := level + 1
	for _, child := range r.ChildrenOf(next, g) {
		gs.Children = append(gs.Children, summarize(r, next, child))
	}
	return gs
}

// elementIDs lists the non-sentinel vertex IDs of g in insertion order.
func elementIDs(g *graph.Graph) []string {
	out := make([]string, 0, g.VertexCount())
	for _, e := range g.Vertices() {
		if graph.IsExtent(e) {
			continue
		}
		out = append(out, e.ID())
	}
	return out
}
