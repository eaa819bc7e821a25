package testutil

import (
	"fmt"

	"github.com/roach88/flowplan/internal/graph"
)

// Linear builds ^head -> src -> pipes... -> sink -> ^tail.
//
// The source emits "line" and each pipe is an each pipe declaring
// "<id>_out", so the graph resolves cleanly.
func Linear(name string, pipes ...string) *graph.Graph {
	g := graph.New(name)
	src := graph.NewSource("src", "line")
	var prev graph.Element = src
	g.AddEdge(graph.Head, src)
	for _, id := range pipes {
		p := graph.NewPipe(graph.KindEach, id).Declare(id + "_out")
		g.AddEdge(prev, p)
		prev = p
	}
	sink := graph.NewSink("sink")
	g.AddEdge(prev, sink)
	g.AddEdge(sink, graph.Tail)
	return g
}

// LinearN builds a linear graph with n non-sentinel vertices: a source,
// n-2 each pipes named p1, p2, ... and a sink. n must be at least 2.
func LinearN(name string, n int) *graph.Graph {
	if n < 2 {
		panic(fmt.Sprintf("testutil.LinearN: n must be >= 2, got %d", n))
	}
	pipes := make([]string, 0, n-2)
	for i := 1; i <= n-2; i++ {
		pipes = append(pipes, fmt.Sprintf("p%d", i))
	}
	return Linear(name, pipes...)
}

// Diamond builds a fan-out and merge:
//
//	src -> left  -> merge -> sink
//	src -> right -> merge
//
// Both branches declare "x", so the merge sees equal fields.
func Diamond(name string) *graph.Graph {
	g := graph.New(name)
	src := graph.NewSource("src", "line")
	left := graph.NewPipe(graph.KindEach, "left").Declare("x")
	right := graph.NewPipe(graph.KindEach, "right").Declare("x")
	merge := graph.NewPipe(graph.KindMerge, "merge")
	sink := graph.NewSink("sink")

	g.AddEdge(graph.Head, src)
	g.AddEdge(src, left)
	g.AddEdge(src, right)
	g.AddEdge(left, merge)
	g.AddEdge(right, merge)
	g.AddEdge(merge, sink)
	g.AddEdge(sink, graph.Tail)
	return g
}

// GroupChain builds src -> parse -> group(key) -> count(every) -> sink, the
// shape of a word count: one grouping splits it into two steps.
func GroupChain(name string) *graph.Graph {
	g := graph.New(name)
	src := graph.NewSource("src", "line")
	parse := graph.NewPipe(graph.KindEach, "parse").Declare("word")
	group := graph.NewPipe(graph.KindGroup, "group").GroupOn("word")
	count := graph.NewPipe(graph.KindEvery, "count").GroupOn("word").Declare("count")
	sink := graph.NewSink("sink", "word", "count")

	g.AddEdge(graph.Head, src)
	g.AddEdge(src, parse)
	g.AddEdge(parse, group)
	g.AddEdge(group, count)
	g.AddEdge(count, sink)
	g.AddEdge(sink, graph.Tail)
	return g
}

// IDs returns the non-sentinel vertex IDs of g in insertion order.
func IDs(g *graph.Graph) []string {
	var out []string
	for _, e := range g.Vertices() {
		if graph.IsExtent(e) {
			continue
		}
		out = append(out, e.ID())
	}
	return out
}
