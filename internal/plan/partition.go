package plan

import (
	"github.com/roach88/flowplan/internal/graph"
)

// partitionParent partitions each parent of the phase level. Parents are
// the current children of the enclosing level. The fresh subgraphs are
// merged into the parent's existing children.
func (r *run) partitionParent(phase Phase, rule *PartitionRule) error {
	level := phase.Level()
	parentLevel, ok := level.Parent()
	if !ok {
		return NewPlannerFailure("partition phase %s has no parent level", phase)
	}

	index := 0
	for _, parent := range r.res.Children(parentLevel) {
		existing := r.res.ChildrenOf(level, parent)
		fresh, err := r.partition(phase, rule, parent, existing, &index)
		if err != nil {
			return err
		}
		r.res.setChildren(level, parent, r.merge(phase, rule, existing, fresh))
	}
	return nil
}

// partitionCurrent re-partitions each child of the phase level on its own.
// A child the partitioner returns nothing for is kept as it is; otherwise it
// is replaced by its partitions, merged into the remaining siblings.
func (r *run) partitionCurrent(phase Phase, rule *PartitionRule) error {
	level := phase.Level()
	index := 0
	for _, parent := range r.res.Parents(level) {
		children := r.res.ChildrenOf(level, parent)
		siblings := append([]*graph.Graph(nil), children...)
		for _, child := range children {
			fresh, err := r.partition(phase, rule, child, children, &index)
			if err != nil {
				return err
			}
			if len(fresh) == 0 {
				continue
			}
			siblings = r.merge(phase, rule, without(siblings, child), fresh)
		}
		r.res.setChildren(level, parent, siblings)
	}
	return nil
}

// partition invokes the partitioner on target. The target is annotated with
// every annotation of existing, and elements carrying an excluded tag there
// are withheld. Fresh subgraphs are bound to the assembly graph and must be
// structurally distinct.
func (r *run) partition(phase Phase, rule *PartitionRule, target *graph.Graph, existing []*graph.Graph, index *int) ([]*graph.Graph, error) {
	annotations := unionAnnotations(existing)
	excludes := exclusionSet(annotations, rule.Excludes)
	annotated := target.Annotated(annotations)

	parts, err := rule.Partitioner.Partition(r.pc, annotated, excludes)
	if err != nil {
		return nil, withContext(err, r.reg.Name(), phase, rule.Name(), target)
	}

	root := r.res.AssemblyGraph()
	seen := graph.NewKeySet()
	fresh := make([]*graph.Graph, 0, len(parts.Subgraphs))
	for _, sub := range parts.Subgraphs {
		if sub == nil {
			continue
		}
		sub.Bind(root)
		if prev, ok := seen.Lookup(sub); ok {
			pe := NewPlannerFailure("found duplicate element graphs in partition of %s: %s and %s share key %s",
				target.Name(), prev.Name(), sub.Name(), graph.KeyOf(sub).Short())
			return nil, withContext(pe, r.reg.Name(), phase, rule.Name(), sub)
		}
		seen.Add(sub)
		fresh = append(fresh, sub)
		if r.exec.sink != nil {
			r.exec.sink.WriteTransformPlan(r.reg.Name(), phase, rule.Name(), *index, sub)
		}
		*index++
	}
	return fresh, nil
}

// merge combines existing children with fresh partitions. An existing child
// structurally equal to a fresh one wins.
func (r *run) merge(phase Phase, rule *PartitionRule, existing, fresh []*graph.Graph) []*graph.Graph {
	set := graph.NewKeySet()
	for _, g := range existing {
		set.Add(g)
	}
	for _, g := range fresh {
		held, inserted := set.Add(g)
		if inserted || held.Name() == g.Name() {
			continue
		}
		r.log.Warn("partition conflict: keeping existing subgraph",
			"phase", phase.String(),
			"rule", rule.Name(),
			"existing", held.Name(),
			"fresh", g.Name(),
			"key", graph.KeyOf(g).Short(),
		)
	}
	return set.Graphs()
}

func unionAnnotations(graphs []*graph.Graph) graph.Annotations {
	out := make(graph.Annotations)
	for _, g := range graphs {
		out.AddAll(g.Annotations())
	}
	return out
}

func exclusionSet(annotations graph.Annotations, tags []graph.Annotation) map[string]bool {
	out := make(map[string]bool)
	if len(tags) == 0 {
		return out
	}
	for _, id := range annotations.Elements(tags...) {
		out[id] = true
	}
	return out
}

func without(list []*graph.Graph, g *graph.Graph) []*graph.Graph {
	out := make([]*graph.Graph, 0, len(list))
	for _, c := range list {
		if c != g {
			out = append(out, c)
		}
	}
	return out
}
