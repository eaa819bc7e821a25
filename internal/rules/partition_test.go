package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/testutil"
)

func names(gs []*graph.Graph) []string {
	out := make([]string, 0, len(gs))
	for _, g := range gs {
		out = append(out, g.Name())
	}
	return out
}

func TestSplitAt_SharesCutElement(t *testing.T) {
	g := testutil.GroupChain("wc")
	split := &SplitAt{Kinds: []graph.Kind{graph.KindGroup}, Tag: "cut"}

	parts, err := split.Partition(nil, g, nil)
	require.NoError(t, err)
	require.Len(t, parts.Subgraphs, 2)

	assert.Equal(t, []string{"wc-01", "wc-02"}, names(parts.Subgraphs))
	assert.Equal(t, []string{"src", "parse", "group"}, testutil.IDs(parts.Subgraphs[0]))
	assert.Equal(t, []string{"group", "count", "sink"}, testutil.IDs(parts.Subgraphs[1]))

	for _, sub := range parts.Subgraphs {
		assert.Equal(t, []string{"group"}, sub.Annotations().Get("cut"))
	}
}

func TestSplitAt_NoCutsKeepsComponent(t *testing.T) {
	g := testutil.Linear("lin", "p1", "p2")

	parts, err := (&SplitAt{Kinds: []graph.Kind{graph.KindGroup}}).Partition(nil, g, nil)
	require.NoError(t, err)
	require.Len(t, parts.Subgraphs, 1)
	assert.Equal(t, []string{"src", "p1", "p2", "sink"}, testutil.IDs(parts.Subgraphs[0]))
	assert.Zero(t, parts.Subgraphs[0].Annotations().Len())
}

func TestSplitAt_AdjacentCutsFormOwnSegment(t *testing.T) {
	g := graph.New("pair")
	src := graph.NewSource("src", "k")
	g1 := graph.NewPipe(graph.KindGroup, "g1").GroupOn("k")
	g2 := graph.NewPipe(graph.KindGroup, "g2").GroupOn("k")
	sink := graph.NewSink("sink")
	g.AddEdge(graph.Head, src)
	g.AddEdge(src, g1)
	g.AddEdge(g1, g2)
	g.AddEdge(g2, sink)
	g.AddEdge(sink, graph.Tail)

	parts, err := (&SplitAt{Kinds: []graph.Kind{graph.KindGroup}}).Partition(nil, g, nil)
	require.NoError(t, err)
	require.Len(t, parts.Subgraphs, 3)
	assert.Equal(t, []string{"src", "g1"}, testutil.IDs(parts.Subgraphs[0]))
	assert.Equal(t, []string{"g1", "g2"}, testutil.IDs(parts.Subgraphs[1]))
	assert.Equal(t, []string{"g2", "sink"}, testutil.IDs(parts.Subgraphs[2]))
}

func TestSplitAt_SkipsExcluded(t *testing.T) {
	g := testutil.GroupChain("wc")

	parts, err := (&SplitAt{Kinds: []graph.Kind{graph.KindGroup}}).Partition(nil, g, map[string]bool{"src": true})
	require.NoError(t, err)
	require.Len(t, parts.Subgraphs, 2)
	assert.Equal(t, []string{"parse", "group"}, testutil.IDs(parts.Subgraphs[0]))
}

func TestSplitAt_MergeFanIn(t *testing.T) {
	g := testutil.Diamond("d")

	parts, err := (&SplitAt{Kinds: []graph.Kind{graph.KindMerge}}).Partition(nil, g, nil)
	require.NoError(t, err)
	require.Len(t, parts.Subgraphs, 2)
	assert.Equal(t, []string{"src", "left", "right", "merge"}, testutil.IDs(parts.Subgraphs[0]))
	assert.Equal(t, []string{"merge", "sink"}, testutil.IDs(parts.Subgraphs[1]))
}

func TestComponents_SplitsDisconnectedFlows(t *testing.T) {
	g := graph.New("two")
	a1, a2 := graph.NewSource("a1", "x"), graph.NewSink("a2")
	b1, b2 := graph.NewSource("b1", "y"), graph.NewSink("b2")
	g.AddEdge(graph.Head, a1)
	g.AddEdge(graph.Head, b1)
	g.AddEdge(a1, a2)
	g.AddEdge(b1, b2)
	g.AddEdge(a2, graph.Tail)
	g.AddEdge(b2, graph.Tail)

	parts, err := (&Components{Tag: "flow"}).Partition(nil, g, nil)
	require.NoError(t, err)
	require.Len(t, parts.Subgraphs, 2)

	var got [][]string
	for _, sub := range parts.Subgraphs {
		got = append(got, testutil.IDs(sub))
		assert.ElementsMatch(t, testutil.IDs(sub), sub.Annotations().Get("flow"))
	}
	assert.ElementsMatch(t, [][]string{{"a1", "a2"}, {"b1", "b2"}}, got)
	assert.Equal(t, []string{"two-01", "two-02"}, names(parts.Subgraphs))
}

func TestComponents_CycleIsPlannerFailure(t *testing.T) {
	g := graph.New("loop")
	a := graph.NewPipe(graph.KindEach, "a")
	b := graph.NewPipe(graph.KindEach, "b")
	g.AddEdge(a, b)
	g.AddEdge(b, a)

	_, err := (&Components{}).Partition(nil, g, nil)
	require.Error(t, err)
	assert.True(t, plan.IsPlannerFailure(err))
}
