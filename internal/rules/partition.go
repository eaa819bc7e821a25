package rules

import (
	"fmt"
	"sort"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// SplitAt partitions a graph into segments that meet at cut elements.
//
// A cut element is any element whose kind is listed in Kinds. It closes the
// segment feeding it and opens the segments it feeds, so it belongs to
// both. Two adjacent cut elements form a segment of their own. When Tag is
// set, each segment is annotated with Tag over its cut elements.
type SplitAt struct {
	Kinds []graph.Kind
	Tag   graph.Annotation
}

// Partition implements plan.Partitioner.
func (s *SplitAt) Partition(_ *plan.Context, g *graph.Graph, excludes map[string]bool) (plan.Partitions, error) {
	order, err := memberOrder(g, excludes)
	if err != nil {
		return plan.Partitions{}, err
	}
	cut := func(id string) bool {
		e, _ := g.Vertex(id)
		return hasKind(s.Kinds, e.Kind())
	}

	uf := newUnionFind()
	for _, id := range order.ids {
		if !cut(id) {
			uf.add(id)
		}
	}
	for _, id := range order.ids {
		if cut(id) {
			continue
		}
		for _, succ := range g.Successors(id) {
			if order.has(succ.ID()) && !cut(succ.ID()) {
				uf.union(id, succ.ID())
			}
		}
	}

	segments := newSegments()
	for _, id := range order.ids {
		if !cut(id) {
			segments.add(uf.find(id), id)
		}
	}
	for _, id := range order.ids {
		if !cut(id) {
			continue
		}
		attached := false
		for _, n := range neighbours(g, id) {
			if !order.has(n) {
				continue
			}
			attached = true
			if cut(n) {
				// Adjacent cuts share a segment keyed by the upstream one.
				key := "cut:" + id
				if order.index[n] < order.index[id] {
					key = "cut:" + n
				}
				segments.add(key, id)
				segments.add(key, n)
				continue
			}
			segments.add(uf.find(n), id)
		}
		if !attached {
			segments.add("cut:"+id, id)
		}
	}

	subgraphs := segments.build(g, order)
	if s.Tag != "" {
		for _, sub := range subgraphs {
			for _, e := range sub.Vertices() {
				if cut(e.ID()) {
					sub.Annotate(s.Tag, e.ID())
				}
			}
		}
	}
	return plan.Partitions{Subgraphs: subgraphs}, nil
}

// Components partitions a graph into its weakly connected components. When
// Tag is set, every element of a component is annotated with it.
type Components struct {
	Tag graph.Annotation
}

// Partition implements plan.Partitioner.
func (c *Components) Partition(_ *plan.Context, g *graph.Graph, excludes map[string]bool) (plan.Partitions, error) {
	order, err := memberOrder(g, excludes)
	if err != nil {
		return plan.Partitions{}, err
	}

	uf := newUnionFind()
	for _, id := range order.ids {
		uf.add(id)
	}
	for _, id := range order.ids {
		for _, succ := range g.Successors(id) {
			if order.has(succ.ID()) {
				uf.union(id, succ.ID())
			}
		}
	}

	segments := newSegments()
	for _, id := range order.ids {
		segments.add(uf.find(id), id)
	}

	subgraphs := segments.build(g, order)
	if c.Tag != "" {
		for _, sub := range subgraphs {
			sub.Annotate(c.Tag, sub.ElementIDs()...)
		}
	}
	return plan.Partitions{Subgraphs: subgraphs}, nil
}

// members is the topologically ordered set of partitionable element IDs.
type members struct {
	ids   []string
	index map[string]int
}

func (m members) has(id string) bool {
	_, ok := m.index[id]
	return ok
}

func memberOrder(g *graph.Graph, excludes map[string]bool) (members, error) {
	topo, err := g.Topological()
	if err != nil {
		return members{}, plan.NewPlannerFailure("partition %s: %v", g.Name(), err)
	}
	m := members{index: make(map[string]int)}
	for _, e := range topo {
		if graph.IsExtent(e) || excludes[e.ID()] {
			continue
		}
		m.index[e.ID()] = len(m.ids)
		m.ids = append(m.ids, e.ID())
	}
	return m, nil
}

func neighbours(g *graph.Graph, id string) []string {
	var out []string
	for _, p := range g.Predecessors(id) {
		out = append(out, p.ID())
	}
	for _, s := range g.Successors(id) {
		out = append(out, s.ID())
	}
	return out
}

// segments collects element IDs per key without duplicates.
type segments struct {
	keys    []string
	members map[string][]string
}

func newSegments() *segments {
	return &segments{members: make(map[string][]string)}
}

func (s *segments) add(key, id string) {
	list, ok := s.members[key]
	if !ok {
		s.keys = append(s.keys, key)
	}
	for _, existing := range list {
		if existing == id {
			return
		}
	}
	s.members[key] = append(list, id)
}

// build turns each segment into a subgraph of g. Segments are ordered by
// their earliest element in topological order and named <graph>-01,
// <graph>-02 and so on.
func (s *segments) build(g *graph.Graph, order members) []*graph.Graph {
	first := func(key string) int {
		lowest := len(order.ids)
		for _, id := range s.members[key] {
			if i := order.index[id]; i < lowest {
				lowest = i
			}
		}
		return lowest
	}
	keys := append([]string(nil), s.keys...)
	sort.SliceStable(keys, func(i, j int) bool { return first(keys[i]) < first(keys[j]) })

	out := make([]*graph.Graph, 0, len(keys))
	for i, key := range keys {
		out = append(out, g.Subgraph(fmt.Sprintf("%s-%02d", g.Name(), i+1), s.members[key]))
	}
	return out
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) add(id string) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id string) string {
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

func hasKind(kinds []graph.Kind, k graph.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
