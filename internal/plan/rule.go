package plan

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/flowplan/internal/graph"
)

// AssertionType classifies an anchored assertion.
type AssertionType int

const (
	// AssertionInvalid marks a malformed graph; it raises a planner failure.
	AssertionInvalid AssertionType = iota
	// AssertionUnsupported marks a graph the target cannot execute; it
	// raises an unsupported-plan failure.
	AssertionUnsupported
)

func (t AssertionType) String() string {
	if t == AssertionUnsupported {
		return "Unsupported"
	}
	return "Invalid"
}

// PartitionSource selects what a partitioner operates on.
type PartitionSource int

const (
	// PartitionParent partitions the level's current parents.
	PartitionParent PartitionSource = iota
	// PartitionCurrent re-partitions the level's current children.
	PartitionCurrent
)

func (s PartitionSource) String() string {
	if s == PartitionCurrent {
		return "current"
	}
	return "parent"
}

// Asserted is the outcome of an assertion. A nil Anchor means the graph
// passed.
type Asserted struct {
	Anchor  graph.Element
	Type    AssertionType
	Message string
}

// Transformed is the outcome of a transform. A nil End leaves the graph
// unchanged; any other End replaces it.
type Transformed struct {
	End *graph.Graph
}

// Partitions is the outcome of a partitioner. Each subgraph carries its own
// annotations.
type Partitions struct {
	Subgraphs []*graph.Graph
}

// Asserter validates a graph.
type Asserter interface {
	Assert(pc *Context, g *graph.Graph) (Asserted, error)
}

// Transformer rewrites a graph. Implementations receive a private copy and
// may modify it.
type Transformer interface {
	Transform(pc *Context, g *graph.Graph) (Transformed, error)
}

// Partitioner splits a graph into bounded subgraphs, never placing an
// element listed in excludes into a subgraph.
type Partitioner interface {
	Partition(pc *Context, g *graph.Graph, excludes map[string]bool) (Partitions, error)
}

// AssertFunc adapts a function to Asserter.
type AssertFunc func(pc *Context, g *graph.Graph) (Asserted, error)

func (f AssertFunc) Assert(pc *Context, g *graph.Graph) (Asserted, error) { return f(pc, g) }

// TransformFunc adapts a function to Transformer.
type TransformFunc func(pc *Context, g *graph.Graph) (Transformed, error)

func (f TransformFunc) Transform(pc *Context, g *graph.Graph) (Transformed, error) {
	return f(pc, g)
}

// PartitionFunc adapts a function to Partitioner.
type PartitionFunc func(pc *Context, g *graph.Graph, excludes map[string]bool) (Partitions, error)

func (f PartitionFunc) Partition(pc *Context, g *graph.Graph, excludes map[string]bool) (Partitions, error) {
	return f(pc, g, excludes)
}

// Rule is a planning rule bound to exactly one phase. The set of
// implementations is closed: *AssertRule, *TransformRule and *PartitionRule.
type Rule interface {
	Name() string
	Phase() Phase
	sealed()
}

type ruleBase struct {
	name  string
	phase Phase
}

func (r ruleBase) Name() string { return r.name }
func (r ruleBase) Phase() Phase { return r.phase }
func (ruleBase) sealed() {}

// AssertRule applies an Asserter to every subgraph at its phase's level.
type AssertRule struct {
	ruleBase
	Asserter Asserter
}

// TransformRule applies a Transformer to every subgraph at its phase's level.
type TransformRule struct {
	ruleBase
	Transformer Transformer
}

// PartitionRule applies a Partitioner at its phase's level.
type PartitionRule struct {
	ruleBase
	Source      PartitionSource
	Excludes    []graph.Annotation
	Partitioner Partitioner
}

// NewAssertRule binds an asserter to phase. An empty name is derived from
// the asserter type.
func NewAssertRule(phase Phase, name string, a Asserter) (*AssertRule, error) {
	if a == nil || isNilValue(a) {
		return nil, NewConstructionError("assert rule %q: asserter is required", name)
	}
	base, err := newRuleBase(phase, name, a)
	if err != nil {
		return nil, err
	}
	return &AssertRule{ruleBase: base, Asserter: a}, nil
}

// NewTransformRule binds a transformer to phase.
func NewTransformRule(phase Phase, name string, t Transformer) (*TransformRule, error) {
	if t == nil || isNilValue(t) {
		return nil, NewConstructionError("transform rule %q: transformer is required", name)
	}
	base, err := newRuleBase(phase, name, t)
	if err != nil {
		return nil, err
	}
	return &TransformRule{ruleBase: base, Transformer: t}, nil
}

// NewPartitionRule binds a partitioner to phase. Elements annotated with
// any of excludes by existing children are withheld from the partitioner.
func NewPartitionRule(phase Phase, name string, source PartitionSource, p Partitioner, excludes ...graph.Annotation) (*PartitionRule, error) {
	if p == nil || isNilValue(p) {
		return nil, NewConstructionError("partition rule %q: partitioner is required", name)
	}
	if source != PartitionParent && source != PartitionCurrent {
		return nil, NewConstructionError("partition rule %q: unknown partition source %d", name, int(source))
	}
	base, err := newRuleBase(phase, name, p)
	if err != nil {
		return nil, err
	}
	return &PartitionRule{
		ruleBase:    base,
		Source:      source,
		Excludes:    append([]graph.Annotation(nil), excludes...),
		Partitioner: p,
	}, nil
}

func newRuleBase(phase Phase, name string, capability any) (ruleBase, error) {
	if name == "" {
		name = deriveRuleName(capability)
	}
	if !phase.Valid() {
		return ruleBase{}, NewConstructionError("rule %q: no phase bound", name)
	}
	return ruleBase{name: name, phase: phase}, nil
}

// deriveRuleName names a rule after its capability's type, e.g.
// *rules.MaxInDegree becomes "MaxInDegree".
func deriveRuleName(capability any) string {
	t := reflect.TypeOf(capability)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || strings.HasSuffix(name, "Func") {
		return fmt.Sprintf("%T", capability)
	}
	return name
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// describeRule returns the kind name used in logs and errors.
func describeRule(r Rule) string {
	switch r := r.(type) {
	case *AssertRule:
		return "assert"
	case *TransformRule:
		return "transform"
	case *PartitionRule:
		return "partition-" + r.Source.String()
	default:
		return fmt.Sprintf("%T", r)
	}
}
