package graph

import (
	"fmt"
)

// Kind classifies an element.
type Kind string

const (
	KindHead     Kind = "head"
	KindTail     Kind = "tail"
	KindSource   Kind = "source"
	KindSink     Kind = "sink"
	KindEach     Kind = "each"
	KindEvery    Kind = "every"
	KindGroup    Kind = "group"
	KindMerge    Kind = "merge"
	KindBoundary Kind = "boundary"
	KindPass     Kind = "pass"
)

// ValidKinds lists the kinds a flow declaration may use.
var ValidKinds = map[Kind]bool{
	KindSource:   true,
	KindSink:     true,
	KindEach:     true,
	KindEvery:    true,
	KindGroup:    true,
	KindMerge:    true,
	KindBoundary: true,
	KindPass:     true,
}

// Element is a vertex of the logical dataflow graph.
type Element interface {
	ID() string
	Kind() Kind
}

// ScopedElement is an element able to compute its outgoing scope from its
// incoming scopes. The scope resolver requires every non-sentinel vertex to
// implement it.
type ScopedElement interface {
	Element
	OutgoingScope(incoming []*Scope) (Fields, error)
}

// Extent is a head or tail sentinel. Extents are not scope-capable.
type Extent struct {
	id   string
	kind Kind
}

// Head and Tail frame an assembly graph.
var (
	Head = &Extent{id: "^head", kind: KindHead}
	Tail = &Extent{id: "^tail", kind: KindTail}
)

func (e *Extent) ID() string { return e.id }
func (e *Extent) Kind() Kind { return e.kind }
func (e *Extent) String() string { return e.id }

// IsExtent reports whether e is one of the Head/Tail sentinels.
func IsExtent(e Element) bool {
	k := e.Kind()
	return k == KindHead || k == KindTail
}

// Tap is a data endpoint: a source reads declared fields, a sink writes them.
type Tap struct {
	id     string
	sink   bool
	fields Fields
}

// NewSource returns a source tap emitting fields.
func NewSource(id string, fields ...string) *Tap {
	return &Tap{id: id, fields: NewFields(fields...)}
}

// NewSink returns a sink tap. When fields are given, the incoming scope must
// carry all of them and only they are written.
func NewSink(id string, fields ...string) *Tap {
	return &Tap{id: id, sink: true, fields: NewFields(fields...)}
}

func (t *Tap) ID() string { return t.id }

func (t *Tap) Kind() Kind {
	if t.sink {
		return KindSink
	}
	return KindSource
}

// Fields returns the declared fields of the tap.
func (t *Tap) Fields() Fields { return t.fields.Clone() }

func (t *Tap) String() string { return fmt.Sprintf("%s[%s]", t.Kind(), t.id) }

// OutgoingScope implements ScopedElement.
func (t *Tap) OutgoingScope(incoming []*Scope) (Fields, error) {
	if !t.sink {
		return t.fields.Clone(), nil
	}
	if len(incoming) != 1 {
		return nil, fmt.Errorf("sink %s: expected exactly one incoming scope, got %d", t.id, len(incoming))
	}
	in := incoming[0].Fields
	if len(t.fields) == 0 {
		return in.Clone(), nil
	}
	if !in.ContainsAll(t.fields) {
		return nil, fmt.Errorf("sink %s: incoming fields %s do not provide %s", t.id, in, t.fields)
	}
	return t.fields.Clone(), nil
}

// Pipe is a processing element.
//
// Declared fields are appended by each and every pipes. Keys are the grouping
// fields of group pipes and the retained key fields of every pipes.
type Pipe struct {
	id       string
	kind     Kind
	declared Fields
	keys     Fields
}

// NewPipe returns a pipe of the given kind.
func NewPipe(kind Kind, id string) *Pipe {
	return &Pipe{id: id, kind: kind}
}

// Declare sets the fields the pipe adds and returns the pipe.
func (p *Pipe) Declare(fields ...string) *Pipe {
	p.declared = NewFields(fields...)
	return p
}

// GroupOn sets the key fields of the pipe and returns the pipe.
func (p *Pipe) GroupOn(keys ...string) *Pipe {
	p.keys = NewFields(keys...)
	return p
}

func (p *Pipe) ID() string { return p.id }
func (p *Pipe) Kind() Kind { return p.kind }
func (p *Pipe) Declared() Fields { return p.declared.Clone() }
func (p *Pipe) Keys() Fields { return p.keys.Clone() }

func (p *Pipe) String() string { return fmt.Sprintf("%s[%s]", p.kind, p.id) }

// OutgoingScope implements ScopedElement.
func (p *Pipe) OutgoingScope(incoming []*Scope) (Fields, error) {
	if len(incoming) == 0 {
		return nil, fmt.Errorf("%s %s: no incoming scopes", p.kind, p.id)
	}

	switch p.kind {
	case KindEach:
		if len(incoming) != 1 {
			return nil, fmt.Errorf("each %s: expected one incoming scope, got %d", p.id, len(incoming))
		}
		return incoming[0].Fields.Union(p.declared), nil

	case KindEvery:
		in := incoming[0].Fields
		if !in.ContainsAll(p.keys) {
			return nil, fmt.Errorf("every %s: incoming fields %s do not provide keys %s", p.id, in, p.keys)
		}
		return p.keys.Union(p.declared), nil

	case KindGroup:
		var out Fields
		for _, s := range incoming {
			if !s.Fields.ContainsAll(p.keys) {
				return nil, fmt.Errorf("group %s: incoming fields %s do not provide keys %s", p.id, s.Fields, p.keys)
			}
			out = out.Union(s.Fields)
		}
		return out, nil

	case KindMerge:
		first := incoming[0].Fields
		for _, s := range incoming[1:] {
			if !s.Fields.Equal(first) {
				return nil, fmt.Errorf("merge %s: incompatible incoming fields %s and %s", p.id, first, s.Fields)
			}
		}
		return first.Clone(), nil

	case KindBoundary, KindPass:
		if len(incoming) != 1 {
			return nil, fmt.Errorf("%s %s: expected one incoming scope, got %d", p.kind, p.id, len(incoming))
		}
		return incoming[0].Fields.Clone(), nil

	default:
		return nil, fmt.Errorf("pipe %s: unsupported kind %q", p.id, p.kind)
	}
}
