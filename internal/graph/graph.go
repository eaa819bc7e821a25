package graph

import (
	"errors"
	"fmt"
)

// ErrAlreadyResolved is returned by MarkResolved on a graph whose resolved
// flag is already set.
var ErrAlreadyResolved = errors.New("graph already resolved")

// Scope is an edge between two elements carrying field-flow metadata.
// Fields is written in place by the scope resolver.
type Scope struct {
	Source  string
	Target  string
	Ordinal int
	Fields  Fields
}

func (s *Scope) copy() *Scope {
	return &Scope{
		Source:  s.Source,
		Target:  s.Target,
		Ordinal: s.Ordinal,
		Fields:  s.Fields.Clone(),
	}
}

func (s *Scope) String() string {
	return fmt.Sprintf("%s->%s#%d%s", s.Source, s.Target, s.Ordinal, s.Fields)
}

// Graph is a directed element graph.
//
// Graph is not safe for concurrent mutation. The planner hands each
// concurrent run its own Copy.
type Graph struct {
	name        string
	order       []string
	vertices    map[string]Element
	out         map[string][]*Scope
	in          map[string][]*Scope
	annotations Annotations
	resolved    bool
	root        *Graph
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{
		name:        name,
		vertices:    make(map[string]Element),
		out:         make(map[string][]*Scope),
		in:          make(map[string][]*Scope),
		annotations: make(Annotations),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// SetName renames the graph.
func (g *Graph) SetName(name string) { g.name = name }

// AddVertex adds e. Adding an element whose ID is already present is a no-op.
func (g *Graph) AddVertex(e Element) {
	if _, ok := g.vertices[e.ID()]; ok {
		return
	}
	g.vertices[e.ID()] = e
	g.order = append(g.order, e.ID())
}

// AddEdge connects src to tgt, adding either vertex if missing.
// The edge ordinal is the number of edges already entering tgt.
func (g *Graph) AddEdge(src, tgt Element) *Scope {
	g.AddVertex(src)
	g.AddVertex(tgt)
	s := &Scope{
		Source:  src.ID(),
		Target:  tgt.ID(),
		Ordinal: len(g.in[tgt.ID()]),
	}
	g.out[s.Source] = append(g.out[s.Source], s)
	g.in[s.Target] = append(g.in[s.Target], s)
	return s
}

// Connect connects two vertices already in the graph by ID.
func (g *Graph) Connect(srcID, tgtID string) (*Scope, error) {
	src, ok := g.vertices[srcID]
	if !ok {
		return nil, fmt.Errorf("connect: unknown vertex %q", srcID)
	}
	tgt, ok := g.vertices[tgtID]
	if !ok {
		return nil, fmt.Errorf("connect: unknown vertex %q", tgtID)
	}
	return g.AddEdge(src, tgt), nil
}

// RemoveVertex removes the vertex and every edge touching it. Remaining
// edges entering a former successor are renumbered to stay dense.
func (g *Graph) RemoveVertex(id string) {
	if _, ok := g.vertices[id]; !ok {
		return
	}
	for _, s := range g.out[id] {
		g.in[s.Target] = removeScope(g.in[s.Target], s)
		renumber(g.in[s.Target])
	}
	for _, s := range g.in[id] {
		g.out[s.Source] = removeScope(g.out[s.Source], s)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.vertices, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			break
		}
	}
}

// InsertBetween splits the edge s with e: s.Source feeds e, and e feeds
// s.Target at the ordinal s held. Both new edges carry the fields of s.
func (g *Graph) InsertBetween(s *Scope, e Element) error {
	if g.Contains(e.ID()) {
		return fmt.Errorf("insert: vertex %q already present", e.ID())
	}
	if !g.owns(s) {
		return fmt.Errorf("insert: %s is not an edge of graph %q", s, g.name)
	}
	g.AddVertex(e)

	in := &Scope{Source: s.Source, Target: e.ID(), Ordinal: 0, Fields: s.Fields.Clone()}
	out := &Scope{Source: e.ID(), Target: s.Target, Ordinal: s.Ordinal, Fields: s.Fields.Clone()}
	replaceScope(g.out[s.Source], s, in)
	replaceScope(g.in[s.Target], s, out)
	g.in[e.ID()] = []*Scope{in}
	g.out[e.ID()] = []*Scope{out}
	return nil
}

// Bypass removes the vertex id, which must have exactly one incoming and one
// outgoing edge, and connects its predecessor straight to its successor. The
// new edge keeps the outgoing edge's ordinal and fields.
func (g *Graph) Bypass(id string) error {
	if !g.Contains(id) {
		return fmt.Errorf("bypass: unknown vertex %q", id)
	}
	if len(g.in[id]) != 1 || len(g.out[id]) != 1 {
		return fmt.Errorf("bypass: vertex %q needs one incoming and one outgoing edge, has %d and %d",
			id, len(g.in[id]), len(g.out[id]))
	}
	in, out := g.in[id][0], g.out[id][0]
	direct := &Scope{Source: in.Source, Target: out.Target, Ordinal: out.Ordinal, Fields: out.Fields.Clone()}
	replaceScope(g.out[in.Source], in, direct)
	replaceScope(g.in[out.Target], out, direct)

	delete(g.out, id)
	delete(g.in, id)
	delete(g.vertices, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

func (g *Graph) owns(s *Scope) bool {
	for _, o := range g.out[s.Source] {
		if o == s {
			return true
		}
	}
	return false
}

func replaceScope(list []*Scope, old, repl *Scope) {
	for i, s := range list {
		if s == old {
			list[i] = repl
			return
		}
	}
}

func removeScope(list []*Scope, target *Scope) []*Scope {
	out := list[:0:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func renumber(list []*Scope) {
	for i, s := range list {
		s.Ordinal = i
	}
}

// Vertex returns the element with the given ID.
func (g *Graph) Vertex(id string) (Element, bool) {
	e, ok := g.vertices[id]
	return e, ok
}

// Contains reports whether the graph holds a vertex with the given ID.
func (g *Graph) Contains(id string) bool {
	_, ok := g.vertices[id]
	return ok
}

// Vertices returns all elements in insertion order.
func (g *Graph) Vertices() []Element {
	out := make([]Element, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.vertices[id])
	}
	return out
}

// VertexCount returns the number of vertices, sentinels included.
func (g *Graph) VertexCount() int { return len(g.order) }

// Incoming returns the scopes entering the vertex, in ordinal order.
func (g *Graph) Incoming(id string) []*Scope {
	return append([]*Scope(nil), g.in[id]...)
}

// Outgoing returns the scopes leaving the vertex, in insertion order.
func (g *Graph) Outgoing(id string) []*Scope {
	return append([]*Scope(nil), g.out[id]...)
}

// InDegree returns the number of edges entering the vertex.
func (g *Graph) InDegree(id string) int { return len(g.in[id]) }

// OutDegree returns the number of edges leaving the vertex.
func (g *Graph) OutDegree(id string) int { return len(g.out[id]) }

// Successors returns the distinct targets of the vertex's outgoing edges.
func (g *Graph) Successors(id string) []Element {
	seen := make(map[string]bool)
	var out []Element
	for _, s := range g.out[id] {
		if !seen[s.Target] {
			seen[s.Target] = true
			out = append(out, g.vertices[s.Target])
		}
	}
	return out
}

// Predecessors returns the distinct sources of the vertex's incoming edges.
func (g *Graph) Predecessors(id string) []Element {
	seen := make(map[string]bool)
	var out []Element
	for _, s := range g.in[id] {
		if !seen[s.Source] {
			seen[s.Source] = true
			out = append(out, g.vertices[s.Source])
		}
	}
	return out
}

// Edges returns every scope, grouped by source in vertex insertion order.
func (g *Graph) Edges() []*Scope {
	var out []*Scope
	for _, id := range g.order {
		out = append(out, g.out[id]...)
	}
	return out
}

// Edge returns the scope from src to tgt with the given ordinal.
func (g *Graph) Edge(src, tgt string, ordinal int) (*Scope, bool) {
	for _, s := range g.out[src] {
		if s.Target == tgt && s.Ordinal == ordinal {
			return s, true
		}
	}
	return nil, false
}

// Topological returns the vertices in topological order. Ties are broken by
// insertion order. A cycle is an error.
func (g *Graph) Topological() ([]Element, error) {
	indegree := make(map[string]int, len(g.order))
	var ready []string
	for _, id := range g.order {
		indegree[id] = len(g.in[id])
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]Element, 0, len(g.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, g.vertices[id])
		for _, s := range g.out[id] {
			indegree[s.Target]--
			if indegree[s.Target] == 0 {
				ready = append(ready, s.Target)
			}
		}
	}

	if len(out) != len(g.order) {
		return nil, fmt.Errorf("graph %q contains a cycle", g.name)
	}
	return out, nil
}

// Sources returns the non-sentinel vertices with no predecessor other than Head.
func (g *Graph) Sources() []Element {
	var out []Element
	for _, e := range g.Vertices() {
		if IsExtent(e) {
			continue
		}
		preds := g.Predecessors(e.ID())
		if len(preds) == 0 || (len(preds) == 1 && preds[0].Kind() == KindHead) {
			out = append(out, e)
		}
	}
	return out
}

// Sinks returns the non-sentinel vertices with no successor other than Tail.
func (g *Graph) Sinks() []Element {
	var out []Element
	for _, e := range g.Vertices() {
		if IsExtent(e) {
			continue
		}
		succs := g.Successors(e.ID())
		if len(succs) == 0 || (len(succs) == 1 && succs[0].Kind() == KindTail) {
			out = append(out, e)
		}
	}
	return out
}

// Copy returns a structural deep copy. Elements are shared, scopes and
// annotations are not. The copy is unresolved and carries the same root.
func (g *Graph) Copy() *Graph {
	c := g.clone()
	c.resolved = false
	return c
}

func (g *Graph) clone() *Graph {
	c := New(g.name)
	for _, id := range g.order {
		c.AddVertex(g.vertices[id])
	}
	for _, id := range g.order {
		for _, s := range g.out[id] {
			cs := s.copy()
			c.out[cs.Source] = append(c.out[cs.Source], cs)
		}
	}
	// Preserve incoming ordinal order.
	for _, id := range g.order {
		for _, s := range g.in[id] {
			cs, _ := c.Edge(s.Source, s.Target, s.Ordinal)
			c.in[id] = append(c.in[id], cs)
		}
	}
	c.annotations = g.annotations.Clone()
	c.resolved = g.resolved
	c.root = g.root
	return c
}

// Subgraph returns the subgraph induced by ids, keeping the parent's vertex
// order. Unknown ids are ignored. Edge ordinals and fields are preserved.
func (g *Graph) Subgraph(name string, ids []string) *Graph {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	sub := New(name)
	for _, id := range g.order {
		if want[id] {
			sub.AddVertex(g.vertices[id])
		}
	}
	for _, id := range sub.order {
		for _, s := range g.out[id] {
			if !want[s.Target] {
				continue
			}
			cs := s.copy()
			sub.out[cs.Source] = append(sub.out[cs.Source], cs)
		}
	}
	for _, id := range sub.order {
		for _, s := range g.in[id] {
			if cs, ok := sub.Edge(s.Source, s.Target, s.Ordinal); ok {
				sub.in[id] = append(sub.in[id], cs)
			}
		}
	}
	sub.root = g.root
	return sub
}

// Annotations returns a copy of the graph's annotations.
func (g *Graph) Annotations() Annotations { return g.annotations.Clone() }

// Annotate tags the given element IDs.
func (g *Graph) Annotate(tag Annotation, ids ...string) {
	g.annotations.Add(tag, ids...)
}

// Annotated returns a copy of the graph with extra annotations merged in.
// Unlike Copy, the resolved flag is kept.
func (g *Graph) Annotated(extra Annotations) *Graph {
	c := g.clone()
	c.annotations.AddAll(extra)
	return c
}

// Resolved reports whether the scope resolver has run on this graph.
func (g *Graph) Resolved() bool { return g.resolved }

// MarkResolved sets the resolved flag. It fails if the flag is already set.
func (g *Graph) MarkResolved() error {
	if g.resolved {
		return ErrAlreadyResolved
	}
	g.resolved = true
	return nil
}

// Root returns the top-level graph this graph was bound to, or nil.
func (g *Graph) Root() *Graph { return g.root }

// Bind attaches g to the fully resolved top-level graph root. Field metadata
// of every edge present in both graphs is taken from root, so a partition
// keeps the scopes computed on the whole assembly. Bind returns g.
func (g *Graph) Bind(root *Graph) *Graph {
	if root == nil {
		return g
	}
	g.root = root
	for _, id := range g.order {
		for _, s := range g.out[id] {
			if rs, ok := root.Edge(s.Source, s.Target, s.Ordinal); ok {
				s.Fields = rs.Fields.Clone()
			}
		}
	}
	return g
}

// ElementIDs returns vertex IDs in insertion order.
func (g *Graph) ElementIDs() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph %q (%d vertices)", g.name, len(g.order))
}
