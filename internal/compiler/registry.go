package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/rules"
)

type registryDecl struct {
	Preset  string       `json:"preset"`
	Resolve *bool        `json:"resolve"`
	Rules   []rules.Spec `json:"rules"`
}

// CompileRegistry parses a CUE registry declaration into a rule registry.
//
//	registry: strict: {
//		preset: "cluster"
//		rules: [{rule: "ForbidKind", phase: "PreBalanceAssembly", kind: "merge", unsupported: true}]
//	}
//
// Preset rules come first, then the declared rules in order. Rule errors
// carry the index of the offending rule in the field path.
func CompileRegistry(v cue.Value) (*plan.Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	name := labelOf(v)
	if name == "" {
		return nil, errorAt(v, "registry", "registry name is required")
	}

	var d registryDecl
	if err := decode(v, "registry."+name, &d); err != nil {
		return nil, err
	}

	var specs []rules.Spec
	if d.Preset != "" {
		base, ok := rules.PresetSpecs(d.Preset)
		if !ok {
			return nil, errorAt(v.LookupPath(cue.ParsePath("preset")), "registry."+name+".preset", "unknown preset %q", d.Preset)
		}
		specs = base
	}
	if len(specs) == 0 && len(d.Rules) == 0 {
		return nil, errorAt(v, "registry."+name+".rules", "a registry needs a preset or at least one rule")
	}

	reg := plan.NewRegistry(name)
	rules.Install(reg)
	for _, spec := range specs {
		r, err := rules.Build(spec)
		if err != nil {
			return nil, errorAt(v, "registry."+name+".preset", "%v", err)
		}
		if err := reg.Add(r); err != nil {
			return nil, errorAt(v, "registry."+name+".preset", "%v", err)
		}
	}
	list := v.LookupPath(cue.ParsePath("rules"))
	for i, spec := range d.Rules {
		field := fmt.Sprintf("registry.%s.rules[%d]", name, i)
		at := list.LookupPath(cue.MakePath(cue.Index(i)))
		r, err := rules.Build(spec)
		if err != nil {
			return nil, errorAt(at, field, "%v", err)
		}
		if err := reg.Add(r); err != nil {
			return nil, errorAt(at, field, "%v", err)
		}
	}
	if d.Resolve != nil {
		reg.SetResolveElements(*d.Resolve)
	}
	return reg, nil
}

type raceDecl struct {
	Registries   []string `json:"registries"`
	Selection    string   `json:"selection"`
	Timeout      string   `json:"timeout"`
	IgnoreFailed *bool    `json:"ignore_failed"`
	Parallelism  int      `json:"parallelism"`
}

// RaceConfig is a compiled race declaration. Registries are referenced by
// name and bound with Build.
type RaceConfig struct {
	Name         string
	Registries   []string
	Selection    plan.Selection
	Timeout      time.Duration
	IgnoreFailed bool
	Parallelism  int
}

// CompileRace parses a CUE race declaration.
//
//	race: nightly: {
//		registries: ["cluster", "local"]
//		selection:  "COMPARED"
//		timeout:    "30s"
//	}
//
// Selection defaults to FIRST, the timeout to plan.DefaultRaceTimeout and
// ignore_failed to true.
func CompileRace(v cue.Value) (*RaceConfig, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	name := labelOf(v)
	field := "race." + name

	var d raceDecl
	if err := decode(v, field, &d); err != nil {
		return nil, err
	}
	if len(d.Registries) == 0 {
		return nil, errorAt(v, field+".registries", "a race needs at least one registry")
	}

	cfg := &RaceConfig{
		Name:         name,
		Registries:   d.Registries,
		Selection:    plan.SelectFirst,
		Timeout:      plan.DefaultRaceTimeout,
		IgnoreFailed: true,
		Parallelism:  d.Parallelism,
	}
	if d.Selection != "" {
		sel, err := plan.ParseSelection(d.Selection)
		if err != nil {
			return nil, errorAt(v.LookupPath(cue.ParsePath("selection")), field+".selection", "%v", err)
		}
		cfg.Selection = sel
	}
	if d.Timeout != "" {
		timeout, err := time.ParseDuration(d.Timeout)
		if err != nil || timeout <= 0 {
			return nil, errorAt(v.LookupPath(cue.ParsePath("timeout")), field+".timeout", "invalid timeout %q", d.Timeout)
		}
		cfg.Timeout = timeout
	}
	if d.IgnoreFailed != nil {
		cfg.IgnoreFailed = *d.IgnoreFailed
	}
	if d.Parallelism < 0 {
		return nil, errorAt(v.LookupPath(cue.ParsePath("parallelism")), field+".parallelism", "parallelism must not be negative")
	}
	return cfg, nil
}

// Options returns the race options the configuration describes.
func (c *RaceConfig) Options() []plan.RaceOption {
	opts := []plan.RaceOption{
		plan.WithSelection(c.Selection),
		plan.WithTimeout(c.Timeout),
		plan.WithIgnoreFailed(c.IgnoreFailed),
	}
	if c.Parallelism > 0 {
		opts = append(opts, plan.WithParallelism(c.Parallelism))
	}
	return opts
}

// Build binds the race to registries looked up by name and constructs the
// registry set.
func (c *RaceConfig) Build(lookup func(name string) (*plan.Registry, bool)) (*plan.RegistrySet, error) {
	regs := make([]*plan.Registry, 0, len(c.Registries))
	for _, name := range c.Registries {
		reg, ok := lookup(name)
		if !ok {
			return nil, plan.NewConstructionError("race %s: unknown registry %q", c.Name, name)
		}
		regs = append(regs, reg)
	}
	return plan.NewRegistrySet(regs, c.Options()...)
}
