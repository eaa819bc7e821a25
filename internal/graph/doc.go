// Package graph provides the element graph consumed by the planner.
//
// A Graph is a directed graph whose vertices are Elements (data endpoints and
// processing pipes) and whose edges are Scopes carrying field-flow metadata.
// Assembly graphs are framed by two sentinel extents, Head and Tail: every
// source hangs off Head and every sink feeds Tail.
//
// This package imports nothing internal. The planner (internal/plan) and the
// rule library (internal/rules) build on it.
//
// Key design constraints:
//   - Vertex iteration order is insertion order; Topological breaks ties the
//     same way so planning is deterministic.
//   - Copy never shares Scope objects, so in-place field writes by the scope
//     resolver never leak into another copy.
//   - The resolved flag is settable exactly once per graph instance.
//   - Key ignores annotations; it is the only equality used for duplicate
//     detection between partitions.
package graph
