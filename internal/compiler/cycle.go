package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/flowplan/internal/graph"
)

// Cycle is a loop in a compiled flow. A flow must be acyclic to be planned,
// so every cycle is reported as an error.
type Cycle struct {
	Path    []string `json:"path"`    // ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
}

// FindCycles reports every strongly connected component of g that loops:
// components with more than one element, and elements feeding themselves.
// Components are reported in the order their first element was declared.
//
// An acyclic graph returns an empty list.
func FindCycles(g *graph.Graph) []Cycle {
	adj := adjacency(g)
	order := make([]string, 0, g.VertexCount())
	for _, e := range g.Vertices() {
		order = append(order, e.ID())
	}

	var cycles []Cycle
	for _, scc := range tarjanSCC(order, adj) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], adj) {
			continue
		}
		cycles = append(cycles, sccToCycle(scc, order, adj))
	}
	if cycles == nil {
		return []Cycle{}
	}

	// Tarjan emits components in reverse topological order of the
	// condensation; report them by declaration.
	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	sortCycles(cycles, position)
	return cycles
}

func adjacency(g *graph.Graph) map[string][]string {
	adj := make(map[string][]string, g.VertexCount())
	for _, e := range g.Vertices() {
		for _, s := range g.Successors(e.ID()) {
			adj[e.ID()] = append(adj[e.ID()], s.ID())
		}
	}
	return adj
}

func hasSelfLoop(node string, adj map[string][]string) bool {
	for _, neighbor := range adj[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the given order so results are deterministic.
func tarjanSCC(order []string, adj map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of a component: pop it.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func sccToCycle(scc, order []string, adj map[string][]string) Cycle {
	if len(scc) == 1 {
		id := scc[0]
		return Cycle{
			Path:    []string{id, id},
			Message: fmt.Sprintf("element %s feeds itself", id),
		}
	}

	// Start the walk at the earliest declared member.
	members := make(map[string]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}
	start := scc[0]
	for _, id := range order {
		if members[id] {
			start = id
			break
		}
	}
	path := reconstructCyclePath(start, members, adj)
	return Cycle{
		Path:    path,
		Message: fmt.Sprintf("cycle detected: %s", strings.Join(path, " -> ")),
	}
}

// reconstructCyclePath follows edges inside the component from start until
// it returns to start.
func reconstructCyclePath(start string, members map[string]bool, adj map[string][]string) []string {
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range adj[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

func sortCycles(cycles []Cycle, position map[string]int) {
	first := func(c Cycle) int {
		lowest := len(position)
		for _, id := range c.Path {
			if p, ok := position[id]; ok && p < lowest {
				lowest = p
			}
		}
		return lowest
	}
	sort.SliceStable(cycles, func(i, j int) bool { return first(cycles[i]) < first(cycles[j]) })
}
