package plan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/testutil"
)

func mustAssert(t *testing.T, phase Phase, name string, f AssertFunc) *AssertRule {
	t.Helper()
	r, err := NewAssertRule(phase, name, f)
	require.NoError(t, err)
	return r
}

func mustTransform(t *testing.T, phase Phase, name string, f TransformFunc) *TransformRule {
	t.Helper()
	r, err := NewTransformRule(phase, name, f)
	require.NoError(t, err)
	return r
}

func mustPartition(t *testing.T, phase Phase, name string, src PartitionSource, f PartitionFunc, excludes ...graph.Annotation) *PartitionRule {
	t.Helper()
	r, err := NewPartitionRule(phase, name, src, f, excludes...)
	require.NoError(t, err)
	return r
}

// elementIDsExcluding lists the non-sentinel IDs of g minus excludes.
func elementIDsExcluding(g *graph.Graph, excludes map[string]bool) []string {
	var out []string
	for _, id := range testutil.IDs(g) {
		if !excludes[id] {
			out = append(out, id)
		}
	}
	return out
}

// midpointCut splits a linear graph into two halves sharing the middle
// element.
func midpointCut(_ *Context, g *graph.Graph, excludes map[string]bool) (Partitions, error) {
	ids := elementIDsExcluding(g, excludes)
	mid := len(ids) / 2
	return Partitions{Subgraphs: []*graph.Graph{
		g.Subgraph(g.Name()+"-a", ids[:mid+1]),
		g.Subgraph(g.Name()+"-b", ids[mid:]),
	}}, nil
}

// whole returns g itself as the single partition.
func whole(_ *Context, g *graph.Graph, excludes map[string]bool) (Partitions, error) {
	return Partitions{Subgraphs: []*graph.Graph{
		g.Subgraph(g.Name()+"-all", elementIDsExcluding(g, excludes)),
	}}, nil
}

// maxInDegree anchors the first element with more than n incoming edges.
func maxInDegree(n int) AssertFunc {
	return func(_ *Context, g *graph.Graph) (Asserted, error) {
		for _, e := range g.Vertices() {
			if graph.IsExtent(e) {
				continue
			}
			if g.InDegree(e.ID()) > n {
				return Asserted{Anchor: e, Type: AssertionInvalid, Message: "in-degree too high"}, nil
			}
		}
		return Asserted{}, nil
	}
}

func stepIDs(res *Result) [][]string {
	var out [][]string
	for _, s := range res.Steps() {
		out = append(out, testutil.IDs(s))
	}
	return out
}

// recordingSink captures every trace call.
type recordingSink struct {
	mu         sync.Mutex
	levels     []Phase
	transforms []string
	stats      int
}

func (s *recordingSink) WriteTransformPlan(_ string, phase Phase, rule string, _ int, _ *graph.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transforms = append(s.transforms, phase.String()+"/"+rule)
}

func (s *recordingSink) WriteLevelResults(_ string, phase Phase, _ *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, phase)
}

func (s *recordingSink) WriteStats(_ string, _ *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats++
}
