package plan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/testutil"
)

func quietExecutor(opts ...ExecOption) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(append([]ExecOption{WithLogger(logger)}, opts...)...)
}

func TestRun_VisitsEveryPhaseWithoutRules(t *testing.T) {
	sink := &recordingSink{}
	input := testutil.Linear("lin", "p1")

	res, err := quietExecutor(WithTraceSink(sink)).Run(context.Background(), NewRegistry("empty"), input)
	require.NoError(t, err)

	assert.Equal(t, Phases(), sink.levels)
	assert.Equal(t, 1, sink.stats)
	assert.Equal(t, []string{"ResolveAssembly/ResolveFields"}, sink.transforms)
	assert.Equal(t, 0, res.Count(LevelStep))
	assert.False(t, res.Failed())
}

func TestRun_ResolveWorksOnCopy(t *testing.T) {
	input := testutil.Linear("lin", "p1")

	res, err := quietExecutor().Run(context.Background(), NewRegistry("r"), input)
	require.NoError(t, err)

	asm := res.AssemblyGraph()
	assert.NotSame(t, input, asm)
	assert.True(t, asm.Resolved())
	assert.False(t, input.Resolved(), "input is never resolved in place")

	s, ok := asm.Edge("p1", "sink", 0)
	require.True(t, ok)
	assert.Equal(t, graph.NewFields("line", "p1_out"), s.Fields)
}

func TestRun_ResolveDisabled(t *testing.T) {
	input := testutil.Linear("lin", "p1")
	reg := NewRegistry("r")
	reg.SetResolveElements(false)

	res, err := quietExecutor().Run(context.Background(), reg, input)
	require.NoError(t, err)
	assert.Same(t, input, res.AssemblyGraph())
}

func TestRun_ResolveFailureIsResolverError(t *testing.T) {
	g := graph.New("orphan")
	src := graph.NewSource("src", "line")
	g.AddEdge(graph.Head, src)
	g.AddEdge(src, graph.NewPipe(graph.KindEach, "dead"))

	res, err := quietExecutor().Run(context.Background(), NewRegistry("r"), g)
	require.Error(t, err)
	assert.True(t, IsResolverError(err))

	var pe *PlanError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "r", pe.Registry)
	assert.Equal(t, PhaseResolveAssembly, pe.Phase)
	assert.Same(t, err, res.Err())
}

func TestRun_RequiresRegistryAndInput(t *testing.T) {
	_, err := quietExecutor().Run(context.Background(), nil, graph.New("g"))
	assert.True(t, IsConstructionError(err))

	_, err = quietExecutor().Run(context.Background(), NewRegistry("r"), nil)
	assert.True(t, IsConstructionError(err))
}

// Five-vertex linear graph, a midpoint cut at PartitionSteps and an
// in-degree assertion at PostSteps.
func TestRun_EndToEndMidpointCut(t *testing.T) {
	input := testutil.LinearN("five", 5)
	reg := NewRegistry("mid").MustAdd(
		mustPartition(t, PhasePartitionSteps, "midpoint", PartitionParent, midpointCut),
		mustAssert(t, PhasePostSteps, "in-degree", maxInDegree(2)),
	)

	res, err := quietExecutor().Run(context.Background(), reg, input)
	require.NoError(t, err)

	require.Equal(t, 2, res.Count(LevelStep))
	assert.Equal(t, [][]string{
		{"src", "p1", "p2"},
		{"p2", "p3", "sink"},
	}, stepIDs(res))

	for _, step := range res.Steps() {
		assert.Same(t, res.AssemblyGraph(), step.Root(), "steps are bound to the resolved assembly")
	}
	assert.Len(t, res.RuleDurations(PhasePartitionSteps), 1)
	assert.Len(t, res.RuleDurations(PhasePostSteps), 1)
}

func TestRun_PartitionKeepsResolvedFields(t *testing.T) {
	input := testutil.LinearN("five", 5)
	reg := NewRegistry("mid").MustAdd(
		mustPartition(t, PhasePartitionSteps, "midpoint", PartitionParent, midpointCut),
	)

	res, err := quietExecutor().Run(context.Background(), reg, input)
	require.NoError(t, err)

	second := res.Steps()[1]
	s, ok := second.Edge("p2", "p3", 0)
	require.True(t, ok)
	assert.Equal(t, graph.NewFields("line", "p1_out", "p2_out"), s.Fields)
}

func TestRun_AssertionSemantics(t *testing.T) {
	anchorOn := func(id string, typ AssertionType) AssertFunc {
		return func(_ *Context, g *graph.Graph) (Asserted, error) {
			if e, ok := g.Vertex(id); ok {
				return Asserted{Anchor: e, Type: typ, Message: "found " + id}, nil
			}
			return Asserted{}, nil
		}
	}

	tests := []struct {
		name       string
		assert     AssertFunc
		wantCode   ErrorCode
		wantAnchor string
	}{
		{"unanchored passes every pair", anchorOn("missing", AssertionInvalid), "", ""},
		{"unsupported", anchorOn("p3", AssertionUnsupported), ErrCodeUnsupportedPlan, "p3"},
		{"invalid", anchorOn("p3", AssertionInvalid), ErrCodePlannerFailure, "p3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var checked []string
			recording := func(pc *Context, g *graph.Graph) (Asserted, error) {
				checked = append(checked, g.Name())
				return tt.assert(pc, g)
			}
			reg := NewRegistry("r").MustAdd(
				mustPartition(t, PhasePartitionSteps, "midpoint", PartitionParent, midpointCut),
				mustAssert(t, PhasePostSteps, "inspect", recording),
			)

			res, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))

			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, []string{"five-a", "five-b"}, checked)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, CodeOf(err))
			assert.Equal(t, []string{"five-a", "five-b"}, checked, "the raising pair is the last checked")

			var pe *PlanError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantAnchor, pe.Anchor.ID())
			assert.Equal(t, "found p3", pe.Message)
			assert.Equal(t, "inspect", pe.Rule)
			assert.Equal(t, PhasePostSteps, pe.Phase)
			assert.Equal(t, "five-b", pe.Graph.Name())

			assert.Equal(t, 2, res.Count(LevelStep), "committed level results survive the failure")
		})
	}
}

func TestRun_TransformReplacesChildren(t *testing.T) {
	rename := func(suffix string) TransformFunc {
		return func(_ *Context, g *graph.Graph) (Transformed, error) {
			g.SetName(g.Name() + suffix)
			return Transformed{End: g}, nil
		}
	}
	keep := func(_ *Context, _ *graph.Graph) (Transformed, error) { return Transformed{}, nil }

	sink := &recordingSink{}
	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "midpoint", PartitionParent, midpointCut),
		mustTransform(t, PhasePostSteps, "first", rename("+1")),
		mustTransform(t, PhasePostSteps, "noop", keep),
	)

	res, err := quietExecutor(WithTraceSink(sink)).Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.NoError(t, err)

	var names []string
	for _, s := range res.Steps() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"five-a+1", "five-b+1"}, names, "a nil end keeps the renamed child")
	assert.Equal(t, 2, res.Count(LevelStep))
	assert.Equal(t, []string{
		"ResolveAssembly/ResolveFields",
		"PartitionSteps/midpoint",
		"PartitionSteps/midpoint",
		"PostSteps/first",
		"PostSteps/first",
	}, sink.transforms)
}

func TestRun_TransformStructuralChange(t *testing.T) {
	drop := func(id string) TransformFunc {
		return func(_ *Context, g *graph.Graph) (Transformed, error) {
			if !g.Contains(id) {
				return Transformed{}, nil
			}
			g.RemoveVertex(id)
			return Transformed{End: g}, nil
		}
	}

	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "midpoint", PartitionParent, midpointCut),
		mustTransform(t, PhasePostSteps, "drop-p1", drop("p1")),
		mustTransform(t, PhasePostSteps, "drop-p3", drop("p3")),
	)

	res, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"src", "p2"},
		{"p2", "sink"},
	}, stepIDs(res), "later transforms see the latest children only")
	assert.Equal(t, 2, res.Count(LevelStep))
}

func TestRun_AssemblyTransform(t *testing.T) {
	input := testutil.Linear("lin", "p1")
	reg := NewRegistry("r").MustAdd(
		mustTransform(t, PhasePreBalanceAssembly, "extend", func(_ *Context, g *graph.Graph) (Transformed, error) {
			g.RemoveVertex("sink")
			sink := graph.NewSink("sink")
			p2 := graph.NewPipe(graph.KindEach, "p2").Declare("p2_out")
			p1, _ := g.Vertex("p1")
			g.AddEdge(p1, p2)
			g.AddEdge(p2, sink)
			g.AddEdge(sink, graph.Tail)
			return Transformed{End: g}, nil
		}),
	)

	res, err := quietExecutor().Run(context.Background(), reg, input)
	require.NoError(t, err)

	asm := res.AssemblyGraph()
	assert.Equal(t, []string{"src", "p1", "p2", "sink"}, testutil.IDs(asm))
	assert.True(t, asm.Resolved())
	assert.Equal(t, []string{"src", "p1", "sink"}, testutil.IDs(input), "input untouched")
}

func TestRun_PartitionParentDuplicateIsFatal(t *testing.T) {
	twice := func(_ *Context, g *graph.Graph, _ map[string]bool) (Partitions, error) {
		a := g.Subgraph("a", []string{"src", "p1"})
		b := g.Subgraph("b", []string{"src", "p1"})
		b.Annotate("claimed", "p1")
		return Partitions{Subgraphs: []*graph.Graph{a, b}}, nil
	}
	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "twice", PartitionParent, twice),
	)

	_, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.Error(t, err)
	assert.True(t, IsPlannerFailure(err))
	assert.Contains(t, err.Error(), "duplicate element graphs")
	assert.Contains(t, err.Error(), "a and b share key")
}

func TestRun_PartitionParentMergePrefersExisting(t *testing.T) {
	half := func(name string) PartitionFunc {
		return func(_ *Context, g *graph.Graph, _ map[string]bool) (Partitions, error) {
			return Partitions{Subgraphs: []*graph.Graph{g.Subgraph(name, []string{"src", "p1", "p2"})}}, nil
		}
	}
	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "first", PartitionParent, half("first")),
		mustPartition(t, PhasePartitionSteps, "second", PartitionParent, half("second")),
	)

	res, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.NoError(t, err)

	require.Equal(t, 1, res.Count(LevelStep))
	assert.Equal(t, "first", res.Steps()[0].Name())
}

func TestRun_PartitionParentExclusions(t *testing.T) {
	claim := func(_ *Context, g *graph.Graph, _ map[string]bool) (Partitions, error) {
		sub := g.Subgraph("claimed", []string{"src", "p1"})
		sub.Annotate("claimed", "src", "p1")
		return Partitions{Subgraphs: []*graph.Graph{sub}}, nil
	}

	var gotExcludes map[string]bool
	var gotAnnotations graph.Annotations
	rest := func(_ *Context, g *graph.Graph, excludes map[string]bool) (Partitions, error) {
		gotExcludes = excludes
		gotAnnotations = g.Annotations()
		return Partitions{Subgraphs: []*graph.Graph{
			g.Subgraph("rest", elementIDsExcluding(g, excludes)),
		}}, nil
	}

	input := testutil.LinearN("five", 5)
	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "claim", PartitionParent, claim),
		mustPartition(t, PhasePartitionSteps, "rest", PartitionParent, rest, "claimed"),
	)

	res, err := quietExecutor().Run(context.Background(), reg, input)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"src": true, "p1": true}, gotExcludes)
	assert.Equal(t, []string{"src", "p1"}, gotAnnotations.Get("claimed"), "parent carries the children's annotations")
	assert.Equal(t, [][]string{
		{"src", "p1"},
		{"p2", "p3", "sink"},
	}, stepIDs(res))
	assert.Empty(t, res.AssemblyGraph().Annotations(), "the parent itself is never annotated")
}

func TestRun_PartitionCurrentMerge(t *testing.T) {
	halves := func(_ *Context, g *graph.Graph, _ map[string]bool) (Partitions, error) {
		return Partitions{Subgraphs: []*graph.Graph{
			g.Subgraph("child1", []string{"src", "p1", "p2"}),
			g.Subgraph("sibling", []string{"p3", "p4", "sink"}),
		}}, nil
	}
	splitChild1 := func(_ *Context, g *graph.Graph, _ map[string]bool) (Partitions, error) {
		if !g.Contains("p1") {
			return Partitions{}, nil
		}
		return Partitions{Subgraphs: []*graph.Graph{
			g.Subgraph("child1a", []string{"src", "p1"}),
			g.Subgraph("child1b", []string{"p2"}),
		}}, nil
	}

	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "halves", PartitionParent, halves),
		mustPartition(t, PhasePartitionSteps, "split", PartitionCurrent, splitChild1),
	)

	res, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("six", 6))
	require.NoError(t, err)

	byName := make(map[string][]string)
	for _, s := range res.Steps() {
		byName[s.Name()] = testutil.IDs(s)
	}
	assert.Equal(t, map[string][]string{
		"child1a": {"src", "p1"},
		"child1b": {"p2"},
		"sibling": {"p3", "p4", "sink"},
	}, byName)
}

func TestRun_PartitionCurrentDuplicateIsFatal(t *testing.T) {
	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "whole", PartitionParent, whole),
		mustPartition(t, PhasePartitionSteps, "dup", PartitionCurrent, func(_ *Context, g *graph.Graph, _ map[string]bool) (Partitions, error) {
			return Partitions{Subgraphs: []*graph.Graph{
				g.Subgraph("x", []string{"p1"}),
				g.Subgraph("y", []string{"p1"}),
			}}, nil
		}),
	)

	_, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.Error(t, err)
	assert.True(t, IsPlannerFailure(err))
	assert.Contains(t, err.Error(), "x and y share key")
}

func TestRun_NodesPartitionEachStep(t *testing.T) {
	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "midpoint", PartitionParent, midpointCut),
		mustPartition(t, PhasePartitionNodes, "whole", PartitionParent, whole),
		mustPartition(t, PhasePartitionPipelines, "whole", PartitionParent, whole),
	)

	res, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count(LevelStep))
	assert.Equal(t, 2, res.Count(LevelNode))
	assert.Equal(t, 2, res.Count(LevelPipeline))
	for _, step := range res.Steps() {
		nodes := res.ChildrenOf(LevelNode, step)
		require.Len(t, nodes, 1)
		assert.Equal(t, step.Name()+"-all", nodes[0].Name())
	}
}

func TestRun_RuleUnderWrongModeFails(t *testing.T) {
	reg := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePostSteps, "misplaced", PartitionParent, whole),
	)

	_, err := quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.Error(t, err)
	assert.True(t, IsPlannerFailure(err))
	assert.Contains(t, err.Error(), "cannot run in mutate phase")

	reg = NewRegistry("r").MustAdd(mustAssert(t, PhasePartitionSteps, "misplaced", passAll))
	_, err = quietExecutor().Run(context.Background(), reg, testutil.LinearN("five", 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot run in partition phase")
}

func TestRun_DuplicateRuleNameInPhase(t *testing.T) {
	reg := NewRegistry("r").MustAdd(
		mustAssert(t, PhasePostResolveAssembly, "same", passAll),
		mustAssert(t, PhasePostResolveAssembly, "same", passAll),
	)

	_, err := quietExecutor().Run(context.Background(), reg, testutil.Linear("lin", "p1"))
	require.Error(t, err)
	assert.True(t, IsPlannerFailure(err))
	assert.Contains(t, err.Error(), "duplicate rule name")
}

func TestRun_RuleErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry("r").MustAdd(
		mustAssert(t, PhasePostResolveAssembly, "explode", func(*Context, *graph.Graph) (Asserted, error) {
			return Asserted{}, boom
		}),
	)

	_, err := quietExecutor().Run(context.Background(), reg, testutil.Linear("lin", "p1"))
	require.Error(t, err)
	assert.True(t, IsPlannerFailure(err))
	assert.ErrorIs(t, err, boom)

	var pe *PlanError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "r", pe.Registry)
	assert.Equal(t, PhasePostResolveAssembly, pe.Phase)
	assert.Equal(t, "explode", pe.Rule)
	assert.NotNil(t, pe.Graph)
}

func TestRun_UnsupportedIsNotDowngraded(t *testing.T) {
	reg := NewRegistry("r").MustAdd(
		mustAssert(t, PhasePostResolveAssembly, "deny", func(_ *Context, g *graph.Graph) (Asserted, error) {
			e, _ := g.Vertex("p1")
			return Asserted{}, NewUnsupportedPlan(e, "no each pipes")
		}),
	)

	_, err := quietExecutor().Run(context.Background(), reg, testutil.Linear("lin", "p1"))
	assert.True(t, IsUnsupported(err))
	assert.Contains(t, err.Error(), "rule=deny")
}

func TestRun_PanicBecomesPlannerFailure(t *testing.T) {
	reg := NewRegistry("r").MustAdd(
		mustTransform(t, PhasePostResolveAssembly, "panics", func(*Context, *graph.Graph) (Transformed, error) {
			panic("bad rule")
		}),
	)

	res, err := quietExecutor().Run(context.Background(), reg, testutil.Linear("lin", "p1"))
	require.Error(t, err)
	assert.True(t, IsPlannerFailure(err))
	assert.Contains(t, err.Error(), "rule panicked: bad rule")
	assert.True(t, res.AssemblyGraph().Resolved(), "resolution committed before the panic is kept")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := quietExecutor().Run(ctx, NewRegistry("r"), testutil.Linear("lin", "p1"))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, isCancelled(err))
}

func TestRun_ContextCarriesRegistryAndFlow(t *testing.T) {
	var got *Context
	reg := NewRegistry("r").MustAdd(
		mustAssert(t, PhasePostResolveAssembly, "capture", func(pc *Context, _ *graph.Graph) (Asserted, error) {
			got = pc
			return Asserted{}, nil
		}),
	)

	_, err := quietExecutor(WithFlowName("wordcount"), WithTraceSink(&recordingSink{})).
		Run(context.Background(), reg, testutil.Linear("lin", "p1"))
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "r", got.RegistryName())
	assert.Equal(t, "wordcount", got.Flow)
	assert.True(t, got.TraceEnabled)
	assert.NotNil(t, got.Log())
}

func TestRun_VerboseThreshold(t *testing.T) {
	run := func(threshold int) string {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
		_, err := NewExecutor(WithLogger(logger), WithVerboseThreshold(threshold)).
			Run(context.Background(), NewRegistry("r"), testutil.Linear("lin", "p1"))
		require.NoError(t, err)
		return buf.String()
	}

	assert.NotContains(t, run(DefaultVerboseThreshold), "phase completed")
	assert.Contains(t, run(1), "phase completed")
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	rules := NewRegistry("r").MustAdd(
		mustPartition(t, PhasePartitionSteps, "midpoint", PartitionParent, midpointCut),
	)

	_, err := quietExecutor(WithMetrics(m)).Run(context.Background(), rules, testutil.LinearN("five", 5))
	require.NoError(t, err)

	assert.Equal(t, 12, promtest.CollectAndCount(m.PhaseSeconds))
	assert.Equal(t, 1, promtest.CollectAndCount(m.RuleSeconds))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.RunsTotal.WithLabelValues("r", "success")))

	failing := NewRegistry("f").MustAdd(mustAssert(t, PhasePostSteps, "deny", func(_ *Context, g *graph.Graph) (Asserted, error) {
		return Asserted{Anchor: graph.Head, Type: AssertionUnsupported}, nil
	}))
	_, err = quietExecutor(WithMetrics(m)).Run(context.Background(), failing, testutil.LinearN("five", 5))
	require.Error(t, err)
	assert.Equal(t, float64(1), promtest.ToFloat64(m.RunsTotal.WithLabelValues("f", "unsupported")))
}
