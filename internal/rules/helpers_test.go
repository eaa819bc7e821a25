package rules

import (
	"github.com/roach88/flowplan/internal/graph"
)

// twoGroups builds src -> parse -> g1 -> c1 -> g2 -> c2 -> sink: two
// groupings back to back, where c1 feeds g2 directly.
func twoGroups(name string) *graph.Graph {
	g := graph.New(name)
	src := graph.NewSource("src", "line")
	parse := graph.NewPipe(graph.KindEach, "parse").Declare("word")
	g1 := graph.NewPipe(graph.KindGroup, "g1").GroupOn("word")
	c1 := graph.NewPipe(graph.KindEvery, "c1").GroupOn("word").Declare("count")
	g2 := graph.NewPipe(graph.KindGroup, "g2").GroupOn("count")
	c2 := graph.NewPipe(graph.KindEvery, "c2").GroupOn("count").Declare("words")
	sink := graph.NewSink("sink", "count", "words")

	g.AddEdge(graph.Head, src)
	g.AddEdge(src, parse)
	g.AddEdge(parse, g1)
	g.AddEdge(g1, c1)
	g.AddEdge(c1, g2)
	g.AddEdge(g2, c2)
	g.AddEdge(c2, sink)
	g.AddEdge(sink, graph.Tail)
	return g
}

// twoGroupsWithoutBoundary is twoGroups with an each pipe between c1 and
// g2, which no boundary rule matches.
func twoGroupsWithoutBoundary(name string) *graph.Graph {
	g := graph.New(name)
	src := graph.NewSource("src", "line")
	parse := graph.NewPipe(graph.KindEach, "parse").Declare("word")
	g1 := graph.NewPipe(graph.KindGroup, "g1").GroupOn("word")
	c1 := graph.NewPipe(graph.KindEvery, "c1").GroupOn("word").Declare("count")
	bucket := graph.NewPipe(graph.KindEach, "bucket").Declare("size")
	g2 := graph.NewPipe(graph.KindGroup, "g2").GroupOn("size")
	c2 := graph.NewPipe(graph.KindEvery, "c2").GroupOn("size").Declare("words")
	sink := graph.NewSink("sink")

	g.AddEdge(graph.Head, src)
	g.AddEdge(src, parse)
	g.AddEdge(parse, g1)
	g.AddEdge(g1, c1)
	g.AddEdge(c1, bucket)
	g.AddEdge(bucket, g2)
	g.AddEdge(g2, c2)
	g.AddEdge(c2, sink)
	g.AddEdge(sink, graph.Tail)
	return g
}

// passThrough builds src -> hop(pass) -> sink.
func passThrough(name string) *graph.Graph {
	g := graph.New(name)
	src := graph.NewSource("src", "line")
	hop := graph.NewPipe(graph.KindPass, "hop")
	sink := graph.NewSink("sink")
	g.AddEdge(graph.Head, src)
	g.AddEdge(src, hop)
	g.AddEdge(hop, sink)
	g.AddEdge(sink, graph.Tail)
	return g
}
