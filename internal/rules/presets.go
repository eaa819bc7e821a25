package rules

import (
	"sort"

	"github.com/roach88/flowplan/internal/plan"
)

// Preset registry names.
const (
	PresetCluster = "cluster"
	PresetLocal   = "local"
)

// clusterSpecs plans a flow as a chain of map/reduce style jobs: a step per
// grouping, split into a map node and a reduce node.
var clusterSpecs = []Spec{
	{Rule: "Collapse", Phase: "PreBalanceAssembly"},
	{Rule: "InsertBoundary", Phase: "BalanceAssembly", From: []string{"every", "group"}, To: []string{"group"}},
	{Rule: "SplitAt", Phase: "PartitionSteps", Kinds: []string{"boundary"}, Tag: "boundary"},
	{Rule: "MaxKindCount", Phase: "PostSteps", Kind: "group", Limit: 1},
	{Rule: "SplitAt", Phase: "PartitionNodes", Kinds: []string{"group"}},
	{Rule: "SplitAt", Phase: "PartitionPipelines", Kinds: []string{"merge"}},
}

// localSpecs plans a flow for in-process execution: every connected part of
// the flow is one step, one node and one pipeline.
var localSpecs = []Spec{
	{Rule: "Collapse", Phase: "PreBalanceAssembly"},
	{Rule: "Components", Phase: "PartitionSteps"},
	{Rule: "Components", Phase: "PartitionNodes"},
	{Rule: "Components", Phase: "PartitionPipelines"},
}

var presets = map[string][]Spec{
	PresetCluster: clusterSpecs,
	PresetLocal:   localSpecs,
}

// Presets returns the preset names in lexical order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset builds a fresh registry for the named preset.
func Preset(name string) (*plan.Registry, error) {
	specs, ok := presets[name]
	if !ok {
		return nil, plan.NewConstructionError("unknown preset %q", name)
	}
	return NewRegistry(name, specs)
}

// PresetSpecs returns a copy of the rule declarations behind a preset.
func PresetSpecs(name string) ([]Spec, bool) {
	specs, ok := presets[name]
	if !ok {
		return nil, false
	}
	return append([]Spec(nil), specs...), true
}

// NewRegistry builds a registry named name from specs, in declaration
// order, with the default element factories installed.
func NewRegistry(name string, specs []Spec) (*plan.Registry, error) {
	reg := plan.NewRegistry(name)
	Install(reg)
	for _, spec := range specs {
		r, err := Build(spec)
		if err != nil {
			return nil, err
		}
		if err := reg.Add(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
