package graph

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linear builds head -> src -> p1 -> ... -> sink -> tail.
func linear(name string, pipes ...string) *Graph {
	g := New(name)
	src := NewSource("src", "line")
	var prev Element = src
	g.AddEdge(Head, src)
	for _, id := range pipes {
		p := NewPipe(KindEach, id).Declare(id + "_out")
		g.AddEdge(prev, p)
		prev = p
	}
	sink := NewSink("sink")
	g.AddEdge(prev, sink)
	g.AddEdge(sink, Tail)
	return g
}

func ids(elems []Element) []string {
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = e.ID()
	}
	return out
}

func TestGraph_AddEdge_Ordinals(t *testing.T) {
	g := New("merge")
	a := NewSource("a", "x")
	b := NewSource("b", "x")
	m := NewPipe(KindMerge, "m")

	s1 := g.AddEdge(a, m)
	s2 := g.AddEdge(b, m)

	assert.Equal(t, 0, s1.Ordinal)
	assert.Equal(t, 1, s2.Ordinal)
	assert.Equal(t, 2, g.InDegree("m"))
	assert.Equal(t, []string{"a", "m", "b"}, g.ElementIDs())
}

func TestGraph_Topological_Linear(t *testing.T) {
	g := linear("lin", "p1", "p2")

	order, err := g.Topological()
	require.NoError(t, err)
	assert.Equal(t, []string{"^head", "src", "p1", "p2", "sink", "^tail"}, ids(order))
}

func TestGraph_Topological_Cycle(t *testing.T) {
	g := New("cyclic")
	a := NewPipe(KindPass, "a")
	b := NewPipe(KindPass, "b")
	g.AddEdge(a, b)
	g.AddEdge(b, a)

	_, err := g.Topological()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGraph_Copy_DoesNotShareScopes(t *testing.T) {
	g := linear("lin", "p1")
	require.NoError(t, g.MarkResolved())

	c := g.Copy()
	assert.False(t, c.Resolved(), "copy starts unresolved")

	s, ok := c.Edge("src", "p1", 0)
	require.True(t, ok)
	s.Fields = NewFields("mutated")

	orig, ok := g.Edge("src", "p1", 0)
	require.True(t, ok)
	assert.Empty(t, orig.Fields, "writes to the copy must not reach the original")
	assert.Equal(t, KeyOf(g), KeyOf(c))
}

func TestGraph_RemoveVertex_Renumbers(t *testing.T) {
	g := New("g")
	a := NewSource("a", "x")
	b := NewSource("b", "x")
	m := NewPipe(KindMerge, "m")
	g.AddEdge(a, m)
	g.AddEdge(b, m)

	g.RemoveVertex("a")

	assert.False(t, g.Contains("a"))
	in := g.Incoming("m")
	require.Len(t, in, 1)
	assert.Equal(t, "b", in[0].Source)
	assert.Equal(t, 0, in[0].Ordinal)
	assert.Empty(t, g.Outgoing("a"))
}

func TestGraph_MarkResolved_Once(t *testing.T) {
	g := New("g")
	require.NoError(t, g.MarkResolved())
	assert.ErrorIs(t, g.MarkResolved(), ErrAlreadyResolved)
}

func TestGraph_Subgraph(t *testing.T) {
	g := linear("lin", "p1", "p2", "p3")

	sub := g.Subgraph("mid", []string{"p2", "p1"})

	assert.Equal(t, []string{"p1", "p2"}, sub.ElementIDs())
	require.Len(t, sub.Edges(), 1)
	assert.Equal(t, "p1", sub.Edges()[0].Source)
	assert.Empty(t, sub.Incoming("p1"))
}

func TestGraph_SourcesAndSinks(t *testing.T) {
	g := linear("lin", "p1")

	assert.Equal(t, []string{"src"}, ids(g.Sources()))
	assert.Equal(t, []string{"sink"}, ids(g.Sinks()))
}

func TestGraph_Bind_CopiesRootFields(t *testing.T) {
	root := linear("lin", "p1", "p2")
	s, _ := root.Edge("p1", "p2", 0)
	s.Fields = NewFields("line", "p1_out")

	sub := root.Subgraph("part", []string{"p1", "p2"})
	sub.Edges()[0].Fields = nil

	sub.Bind(root)

	assert.Same(t, root, sub.Root())
	assert.Equal(t, NewFields("line", "p1_out"), sub.Edges()[0].Fields)
}

func TestKey_IgnoresAnnotationsAndNames(t *testing.T) {
	a := linear("a", "p1")
	b := linear("b", "p1")
	b.Annotate("accumulated", "p1")

	assert.Equal(t, KeyOf(a), KeyOf(b))

	c := linear("c", "p2")
	assert.NotEqual(t, KeyOf(a), KeyOf(c))
}

func TestKey_NFCNormalized(t *testing.T) {
	composed := New("x")
	composed.AddVertex(NewPipe(KindPass, "caf\u00e9"))
	decomposed := New("y")
	decomposed.AddVertex(NewPipe(KindPass, "cafe\u0301"))

	assert.Equal(t, KeyOf(composed), KeyOf(decomposed))
}

func TestKeySet_Add(t *testing.T) {
	set := NewKeySet()
	first := linear("first", "p1")
	dup := linear("dup", "p1")
	dup.Annotate("streamed", "src")

	kept, inserted := set.Add(first)
	assert.True(t, inserted)
	assert.Same(t, first, kept)

	kept, inserted = set.Add(dup)
	assert.False(t, inserted)
	assert.Same(t, first, kept)
	assert.Equal(t, 1, set.Len())
}

func TestKeySet_Lookup(t *testing.T) {
	set := NewKeySet()
	first := linear("first", "p1")
	set.Add(first)

	held, ok := set.Lookup(linear("other", "p1"))
	require.True(t, ok)
	assert.Same(t, first, held)

	_, ok = set.Lookup(linear("other", "p2"))
	assert.False(t, ok)
	assert.Equal(t, 1, set.Len(), "lookup never inserts")
}

func TestKey_Short(t *testing.T) {
	k := KeyOf(linear("a", "p1"))
	assert.Len(t, k.String(), 64)
	assert.Equal(t, k.String()[:12], k.Short())
}

func TestAnnotations_AddAllAndElements(t *testing.T) {
	a := make(Annotations)
	a.Add("streamed", "s1", "s2")
	b := make(Annotations)
	b.Add("streamed", "s2", "s3")
	b.Add("accumulated", "g1")

	a.AddAll(b)

	assert.Equal(t, []string{"s1", "s2", "s3"}, a.Get("streamed"))
	assert.Equal(t, []string{"g1", "s1", "s2", "s3"}, a.Elements("accumulated", "streamed"))
	assert.Equal(t, []Annotation{"accumulated", "streamed"}, a.Tags())
	assert.True(t, a.Has("accumulated", "g1"))
}

func TestFields_Union(t *testing.T) {
	f := NewFields("a", "b").Union(NewFields("b", "c"))
	assert.Equal(t, NewFields("a", "b", "c"), f)
	assert.True(t, f.ContainsAll(NewFields("c", "a")))
	assert.False(t, f.Equal(NewFields("c", "b", "a")))
}

func TestWriteDOT_Golden(t *testing.T) {
	g := linear("lin", "p1")
	g.Annotate("streamed", "src")
	s, _ := g.Edge("src", "p1", 0)
	s.Fields = NewFields("line")

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, g))

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "linear_dot", buf.Bytes())
}

func TestGraph_InsertBetween_KeepsOrdinal(t *testing.T) {
	g := New("merge")
	a := NewSource("a", "x")
	b := NewSource("b", "x")
	m := NewPipe(KindMerge, "m")
	g.AddEdge(a, m)
	second := g.AddEdge(b, m)
	second.Fields = NewFields("x")

	require.NoError(t, g.InsertBetween(second, NewPipe(KindBoundary, "bnd")))

	assert.Equal(t, []string{"a", "m", "b", "bnd"}, g.ElementIDs())
	assert.Equal(t, []string{"bnd"}, ids(g.Successors("b")))
	in := g.Incoming("m")
	require.Len(t, in, 2)
	assert.Equal(t, "a", in[0].Source)
	assert.Equal(t, "bnd", in[1].Source)
	assert.Equal(t, 1, in[1].Ordinal)
	assert.Equal(t, NewFields("x"), in[1].Fields)

	_, ok := g.Edge("b", "m", 1)
	assert.False(t, ok, "the split edge is gone")
}

func TestGraph_InsertBetween_Rejects(t *testing.T) {
	g := linear("lin", "p1")
	s, _ := g.Edge("src", "p1", 0)

	assert.Error(t, g.InsertBetween(s, NewPipe(KindPass, "p1")), "duplicate vertex")

	other := linear("other", "p1")
	foreign, _ := other.Edge("src", "p1", 0)
	assert.Error(t, g.InsertBetween(foreign, NewPipe(KindPass, "x")), "edge of another graph")
}

func TestGraph_Bypass(t *testing.T) {
	g := linear("lin", "p1", "p2")
	out, _ := g.Edge("p1", "p2", 0)
	out.Fields = NewFields("line", "p1_out")

	require.NoError(t, g.Bypass("p1"))

	assert.False(t, g.Contains("p1"))
	assert.Equal(t, []string{"p2"}, ids(g.Successors("src")))
	direct, ok := g.Edge("src", "p2", 0)
	require.True(t, ok)
	assert.Equal(t, NewFields("line", "p1_out"), direct.Fields)

	order, err := g.Topological()
	require.NoError(t, err)
	assert.Len(t, order, 5)
}

func TestGraph_Bypass_NeedsSingleEdges(t *testing.T) {
	g := New("merge")
	m := NewPipe(KindMerge, "m")
	g.AddEdge(NewSource("a"), m)
	g.AddEdge(NewSource("b"), m)
	g.AddEdge(m, NewSink("s"))

	assert.Error(t, g.Bypass("m"))
	assert.Error(t, g.Bypass("missing"))
}
