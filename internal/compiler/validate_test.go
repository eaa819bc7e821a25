package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/testutil"
)

func codes(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidateFlowValid(t *testing.T) {
	for _, g := range []*graph.Graph{
		testutil.GroupChain("wc"),
		testutil.Diamond("fan"),
		testutil.LinearN("line", 5),
	} {
		assert.Empty(t, ValidateFlow(g), "%s should be valid", g.Name())
	}
}

func TestValidateFlowCompiled(t *testing.T) {
	g, err := compileFlow(t, wordCount, "wc")
	require.NoError(t, err)
	assert.Empty(t, ValidateFlow(g))
}

func TestValidateFlow(t *testing.T) {
	src := func() *graph.Tap { return graph.NewSource("src", "line") }

	tests := []struct {
		name    string
		build   func() *graph.Graph
		code    string
		field   string
		message string
	}{
		{
			name: "cycle",
			build: func() *graph.Graph {
				g := graph.New("f")
				s := src()
				a := graph.NewPipe(graph.KindMerge, "a")
				b := graph.NewPipe(graph.KindEach, "b")
				sink := graph.NewSink("sink")
				g.AddEdge(graph.Head, s)
				g.AddEdge(s, a)
				g.AddEdge(a, b)
				g.AddEdge(b, a)
				g.AddEdge(b, sink)
				g.AddEdge(sink, graph.Tail)
				return g
			},
			code:    ErrFlowCycle,
			field:   "a",
			message: "a -> b -> a",
		},
		{
			name: "dead end",
			build: func() *graph.Graph {
				g := graph.New("f")
				s := src()
				p := graph.NewPipe(graph.KindEach, "p")
				q := graph.NewPipe(graph.KindEach, "q")
				sink := graph.NewSink("sink")
				g.AddEdge(graph.Head, s)
				g.AddEdge(s, p)
				g.AddEdge(s, q)
				g.AddEdge(p, sink)
				g.AddEdge(sink, graph.Tail)
				return g
			},
			code:    ErrDeadEnd,
			field:   "q",
			message: "does not reach any sink",
		},
		{
			name: "unreachable",
			build: func() *graph.Graph {
				g := graph.New("f")
				s := src()
				p := graph.NewPipe(graph.KindEach, "p").Declare("x")
				x := graph.NewPipe(graph.KindEach, "x").Declare("x")
				m := graph.NewPipe(graph.KindMerge, "m")
				sink := graph.NewSink("sink")
				g.AddEdge(graph.Head, s)
				g.AddEdge(s, p)
				g.AddEdge(p, m)
				g.AddEdge(x, m)
				g.AddEdge(m, sink)
				g.AddEdge(sink, graph.Tail)
				return g
			},
			code:    ErrUnreachable,
			field:   "x",
			message: "not fed by any source",
		},
		{
			name: "missing keys",
			build: func() *graph.Graph {
				g := graph.New("f")
				s := src()
				grp := graph.NewPipe(graph.KindGroup, "g")
				sink := graph.NewSink("sink")
				g.AddEdge(graph.Head, s)
				g.AddEdge(s, grp)
				g.AddEdge(grp, sink)
				g.AddEdge(sink, graph.Tail)
				return g
			},
			code:    ErrMissingKeys,
			field:   "g.keys",
			message: "declares no keys",
		},
		{
			name: "merge arity",
			build: func() *graph.Graph {
				g := graph.New("f")
				s := src()
				m := graph.NewPipe(graph.KindMerge, "m")
				sink := graph.NewSink("sink")
				g.AddEdge(graph.Head, s)
				g.AddEdge(s, m)
				g.AddEdge(m, sink)
				g.AddEdge(sink, graph.Tail)
				return g
			},
			code:    ErrMergeArity,
			field:   "m.from",
			message: "needs at least two",
		},
		{
			name: "sink with two inputs",
			build: func() *graph.Graph {
				g := graph.New("f")
				a := graph.NewSource("a", "line")
				b := graph.NewSource("b", "line")
				sink := graph.NewSink("sink")
				g.AddEdge(graph.Head, a)
				g.AddEdge(graph.Head, b)
				g.AddEdge(a, sink)
				g.AddEdge(b, sink)
				g.AddEdge(sink, graph.Tail)
				return g
			},
			code:    ErrSingleInput,
			field:   "sink.from",
			message: "takes one input, has 2",
		},
		{
			name: "fields do not resolve",
			build: func() *graph.Graph {
				g := graph.New("f")
				s := src()
				parse := graph.NewPipe(graph.KindEach, "parse").Declare("word")
				sink := graph.NewSink("sink", "word", "total")
				g.AddEdge(graph.Head, s)
				g.AddEdge(s, parse)
				g.AddEdge(parse, sink)
				g.AddEdge(sink, graph.Tail)
				return g
			},
			code:    ErrFieldResolution,
			field:   "sink",
			message: "do not provide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFlow(tt.build())
			require.Equal(t, []string{tt.code}, codes(errs))
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Contains(t, errs[0].Message, tt.message)
			assert.Contains(t, errs[0].Error(), "["+tt.code+"]")
		})
	}
}

func TestValidateFlowResolvesOnACopy(t *testing.T) {
	g := testutil.GroupChain("wc")
	require.Empty(t, ValidateFlow(g))
	assert.False(t, g.Resolved(), "validation must not resolve the caller's graph")
}
