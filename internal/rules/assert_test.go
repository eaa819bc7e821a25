package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/testutil"
)

func TestMaxInDegree(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		anchor string
	}{
		{name: "merge over limit", limit: 1, anchor: "merge"},
		{name: "within limit", limit: 2, anchor: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := (&MaxInDegree{Limit: tt.limit}).Assert(nil, testutil.Diamond("d"))
			require.NoError(t, err)
			if tt.anchor == "" {
				assert.Nil(t, a.Anchor)
				return
			}
			require.NotNil(t, a.Anchor)
			assert.Equal(t, tt.anchor, a.Anchor.ID())
			assert.Equal(t, plan.AssertionInvalid, a.Type)
			assert.Contains(t, a.Message, "in-degree 2")
		})
	}
}

func TestMaxInDegree_IgnoresTail(t *testing.T) {
	g := graph.New("two")
	a1, b1 := graph.NewSource("a1", "x"), graph.NewSource("b1", "x")
	a2, b2 := graph.NewSink("a2"), graph.NewSink("b2")
	g.AddEdge(graph.Head, a1)
	g.AddEdge(graph.Head, b1)
	g.AddEdge(a1, a2)
	g.AddEdge(b1, b2)
	g.AddEdge(a2, graph.Tail)
	g.AddEdge(b2, graph.Tail)

	a, err := (&MaxInDegree{Limit: 1}).Assert(nil, g)
	require.NoError(t, err)
	assert.Nil(t, a.Anchor)
}

func TestForbidKind_Unsupported(t *testing.T) {
	a, err := (&ForbidKind{Kind: graph.KindMerge, Type: plan.AssertionUnsupported}).Assert(nil, testutil.Diamond("d"))
	require.NoError(t, err)

	require.NotNil(t, a.Anchor)
	assert.Equal(t, "merge", a.Anchor.ID())
	assert.Equal(t, plan.AssertionUnsupported, a.Type)
	assert.Equal(t, "merge elements are not supported", a.Message)

	a, err = (&ForbidKind{Kind: graph.KindGroup}).Assert(nil, testutil.Diamond("d"))
	require.NoError(t, err)
	assert.Nil(t, a.Anchor)
}

func TestMaxKindCount_AnchorsFirstExcess(t *testing.T) {
	g := twoGroupsWithoutBoundary("jobs")

	a, err := (&MaxKindCount{Kind: graph.KindGroup, Limit: 1}).Assert(nil, g)
	require.NoError(t, err)
	require.NotNil(t, a.Anchor)
	assert.Equal(t, "g2", a.Anchor.ID())

	a, err = (&MaxKindCount{Kind: graph.KindGroup, Limit: 2}).Assert(nil, g)
	require.NoError(t, err)
	assert.Nil(t, a.Anchor)
}
