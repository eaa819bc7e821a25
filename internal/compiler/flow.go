package compiler

import (
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/flowplan/internal/graph"
)

type sourceDecl struct {
	Fields []string `json:"fields"`
}

type pipeDecl struct {
	Kind    string   `json:"kind"`
	From    []string `json:"from"`
	Declare []string `json:"declare"`
	Keys    []string `json:"keys"`
}

type sinkDecl struct {
	From   []string `json:"from"`
	Fields []string `json:"fields"`
}

// element is a declared element waiting for its edges.
type element struct {
	elem  graph.Element
	from  []string
	field string
	val   cue.Value
}

// CompileFlow parses a CUE flow declaration into an assembly graph.
//
// The CUE value should be the flow struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`flow: wc: { source: src: fields: ["line"] ... }`)
//	g, err := CompileFlow(v.LookupPath(cue.ParsePath("flow.wc")))
//
// Vertices are added in declaration order: the head, the sources, the pipes,
// the sinks and finally the tail. Every source hangs off the head and every
// sink feeds the tail. Edges into an element follow the order of its from
// list.
func CompileFlow(v cue.Value) (*graph.Graph, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	name := labelOf(v)
	if name == "" {
		return nil, errorAt(v, "flow", "flow name is required")
	}

	var elems []element
	seen := make(map[string]bool)
	declare := func(e element) error {
		id := e.elem.ID()
		if strings.HasPrefix(id, "^") {
			return errorAt(e.val, e.field, "element id %q is reserved", id)
		}
		if seen[id] {
			return errorAt(e.val, e.field, "duplicate element id %q", id)
		}
		seen[id] = true
		elems = append(elems, e)
		return nil
	}

	sources, err := parseSources(v)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errorAt(v, "source", "at least one source is required")
	}
	for _, e := range sources {
		if err := declare(e); err != nil {
			return nil, err
		}
	}

	pipes, err := parsePipes(v)
	if err != nil {
		return nil, err
	}
	for _, e := range pipes {
		if err := declare(e); err != nil {
			return nil, err
		}
	}

	sinks, err := parseSinks(v)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return nil, errorAt(v, "sink", "at least one sink is required")
	}
	for _, e := range sinks {
		if err := declare(e); err != nil {
			return nil, err
		}
	}

	g := graph.New(name)
	g.AddVertex(graph.Head)
	byID := make(map[string]graph.Element, len(elems))
	for _, e := range elems {
		g.AddVertex(e.elem)
		byID[e.elem.ID()] = e.elem
	}
	g.AddVertex(graph.Tail)

	for _, e := range sources {
		g.AddEdge(graph.Head, e.elem)
	}
	for _, e := range elems {
		for _, from := range e.from {
			src, ok := byID[from]
			if !ok {
				return nil, errorAt(e.val, e.field+".from", "unknown element %q", from)
			}
			if src.Kind() == graph.KindSink {
				return nil, errorAt(e.val, e.field+".from", "sink %q has no outgoing data", from)
			}
			g.AddEdge(src, e.elem)
		}
	}
	for _, e := range sinks {
		g.AddEdge(e.elem, graph.Tail)
	}
	return g, nil
}

func parseSources(v cue.Value) ([]element, error) {
	var out []element
	err := eachField(v, "source", func(id string, val cue.Value) error {
		field := "source." + id
		var d sourceDecl
		if err := decode(val, field, &d); err != nil {
			return err
		}
		if len(d.Fields) == 0 {
			return errorAt(val, field+".fields", "a source must declare at least one field")
		}
		out = append(out, element{elem: graph.NewSource(id, d.Fields...), field: field, val: val})
		return nil
	})
	return out, err
}

func parsePipes(v cue.Value) ([]element, error) {
	var out []element
	err := eachField(v, "pipe", func(id string, val cue.Value) error {
		field := "pipe." + id
		var d pipeDecl
		if err := decode(val, field, &d); err != nil {
			return err
		}
		kind := graph.Kind(d.Kind)
		if !graph.ValidKinds[kind] || kind == graph.KindSource || kind == graph.KindSink {
			return errorAt(val, field+".kind", "unknown pipe kind %q", d.Kind)
		}
		if len(d.From) == 0 {
			return errorAt(val, field+".from", "a pipe needs at least one input")
		}
		p := graph.NewPipe(kind, id)
		if len(d.Declare) > 0 {
			p.Declare(d.Declare...)
		}
		if len(d.Keys) > 0 {
			p.GroupOn(d.Keys...)
		}
		out = append(out, element{elem: p, from: d.From, field: field, val: val})
		return nil
	})
	return out, err
}

func parseSinks(v cue.Value) ([]element, error) {
	var out []element
	err := eachField(v, "sink", func(id string, val cue.Value) error {
		field := "sink." + id
		var d sinkDecl
		if err := decode(val, field, &d); err != nil {
			return err
		}
		if len(d.From) == 0 {
			return errorAt(val, field+".from", "a sink needs an input")
		}
		out = append(out, element{elem: graph.NewSink(id, d.Fields...), from: d.From, field: field, val: val})
		return nil
	})
	return out, err
}

// eachField calls fn for every regular field of the struct at path, in
// declaration order. A missing struct is not an error.
func eachField(v cue.Value, path string, fn func(label string, val cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return errorAt(sv, path, "%v", err)
	}
	for iter.Next() {
		if err := fn(unquote(iter.Label()), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}
