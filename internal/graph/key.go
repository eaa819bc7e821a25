package graph

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// DomainGraphKey separates structural graph keys from any other hash.
// The version suffix leaves room for a future encoding change.
const DomainGraphKey = "flowplan/graph/v1"

// Key is the annotation-insensitive structural identity of a graph: two
// graphs with the same vertices (id and kind) and the same edges have equal
// keys regardless of name, annotations, field metadata or resolved state.
//
// Key exists only for set membership during partition deduplication. It is
// deliberately not a method on Graph so it is never mistaken for equality.
type Key struct {
	digest string
}

// KeyOf computes the structural key of g.
func KeyOf(g *Graph) Key {
	data, err := canonicalStructure(g)
	if err != nil {
		// canonicalStructure only encodes strings and ints.
		panic(fmt.Sprintf("graph key: %v", err))
	}
	return Key{digest: hashWithDomain(DomainGraphKey, data)}
}

// String returns the hex digest.
func (k Key) String() string { return k.digest }

// Short returns the first 12 hex characters of the digest.
func (k Key) Short() string {
	if len(k.digest) < 12 {
		return k.digest
	}
	return k.digest[:12]
}

type canonicalVertex struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type canonicalEdge struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Ordinal int    `json:"ordinal"`
}

type canonicalGraph struct {
	Edges    []canonicalEdge   `json:"edges"`
	Vertices []canonicalVertex `json:"vertices"`
}

// canonicalStructure encodes the structure of g with sorted vertices and
// edges and NFC-normalised identifiers, without HTML escaping.
func canonicalStructure(g *Graph) ([]byte, error) {
	cg := canonicalGraph{
		Edges:    make([]canonicalEdge, 0),
		Vertices: make([]canonicalVertex, 0, g.VertexCount()),
	}
	for _, e := range g.Vertices() {
		cg.Vertices = append(cg.Vertices, canonicalVertex{
			ID:   norm.NFC.String(e.ID()),
			Kind: string(e.Kind()),
		})
	}
	for _, s := range g.Edges() {
		cg.Edges = append(cg.Edges, canonicalEdge{
			Source:  norm.NFC.String(s.Source),
			Target:  norm.NFC.String(s.Target),
			Ordinal: s.Ordinal,
		})
	}

	sort.Slice(cg.Vertices, func(i, j int) bool {
		return cg.Vertices[i].ID < cg.Vertices[j].ID
	})
	sort.Slice(cg.Edges, func(i, j int) bool {
		a, b := cg.Edges[i], cg.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Ordinal < b.Ordinal
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cg); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// KeySet is an insertion-ordered set of graphs keyed by structural identity.
type KeySet struct {
	keys   map[Key]int
	graphs []*Graph
}

// NewKeySet returns an empty set.
func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[Key]int)}
}

// Add inserts g unless a structurally equal graph is already present.
// It returns the graph held by the set and whether g was inserted.
func (s *KeySet) Add(g *Graph) (*Graph, bool) {
	k := KeyOf(g)
	if i, ok := s.keys[k]; ok {
		return s.graphs[i], false
	}
	s.keys[k] = len(s.graphs)
	s.graphs = append(s.graphs, g)
	return g, true
}

// Lookup returns the member structurally equal to g.
func (s *KeySet) Lookup(g *Graph) (*Graph, bool) {
	i, ok := s.keys[KeyOf(g)]
	if !ok {
		return nil, false
	}
	return s.graphs[i], true
}

// Graphs returns the members in insertion order.
func (s *KeySet) Graphs() []*Graph {
	return append([]*Graph(nil), s.graphs...)
}

// Len returns the number of members.
func (s *KeySet) Len() int { return len(s.graphs) }
