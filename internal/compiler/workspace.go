package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	cuebuild "cuelang.org/go/cue/build"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/rules"
)

// Workspace holds everything declared under the flow, registry and race
// roots of a CUE value. Names keep declaration order.
type Workspace struct {
	Value cue.Value

	FlowNames     []string
	RegistryNames []string
	RaceNames     []string

	flows      map[string]*graph.Graph
	registries map[string]*plan.Registry
	races      map[string]*RaceConfig
}

// LoadDir builds the CUE package in dir.
func LoadDir(dir string) (cue.Value, error) {
	return build(load.Instances([]string{"."}, &load.Config{Dir: dir}))
}

// LoadFiles builds the given CUE files as a single instance.
func LoadFiles(files ...string) (cue.Value, error) {
	if len(files) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE files given")
	}
	return build(load.Instances(files, nil))
}

func build(instances []*cuebuild.Instance) (cue.Value, error) {
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances loaded")
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// CompileWorkspace compiles every flow, registry and race declared in v.
// When failFast is set it stops at the first error, otherwise it collects
// all of them and returns what compiled.
func CompileWorkspace(v cue.Value, failFast bool) (*Workspace, []error) {
	w := &Workspace{
		Value:      v,
		flows:      make(map[string]*graph.Graph),
		registries: make(map[string]*plan.Registry),
		races:      make(map[string]*RaceConfig),
	}
	var errs []error
	collect := func(err error) bool {
		errs = append(errs, err)
		return failFast
	}

	roots := []struct {
		path string
		add  func(name string, val cue.Value) error
	}{
		{"flow", func(name string, val cue.Value) error {
			g, err := CompileFlow(val)
			if err != nil {
				return err
			}
			w.flows[name] = g
			w.FlowNames = append(w.FlowNames, name)
			return nil
		}},
		{"registry", func(name string, val cue.Value) error {
			reg, err := CompileRegistry(val)
			if err != nil {
				return err
			}
			w.registries[name] = reg
			w.RegistryNames = append(w.RegistryNames, name)
			return nil
		}},
		{"race", func(name string, val cue.Value) error {
			cfg, err := CompileRace(val)
			if err != nil {
				return err
			}
			w.races[name] = cfg
			w.RaceNames = append(w.RaceNames, name)
			return nil
		}},
	}

	for _, root := range roots {
		stop := false
		err := eachField(v, root.path, func(name string, val cue.Value) error {
			if err := root.add(name, val); err != nil && collect(err) {
				stop = true
				return err
			}
			return nil
		})
		if err != nil && !stop {
			// The root itself is not a struct.
			if collect(err) {
				return w, errs
			}
		}
		if stop {
			return w, errs
		}
	}

	if len(w.flows) == 0 && len(errs) == 0 {
		errs = append(errs, &CompileError{Field: "flow", Message: "no flows declared"})
	}
	return w, errs
}

// Flow returns the compiled flow called name. Each call returns a fresh
// copy, so callers may plan it without affecting later calls.
func (w *Workspace) Flow(name string) (*graph.Graph, bool) {
	g, ok := w.flows[name]
	if !ok {
		return nil, false
	}
	return g.Copy(), true
}

// Registry returns the declared registry called name, falling back to a
// fresh preset registry of that name.
func (w *Workspace) Registry(name string) (*plan.Registry, bool) {
	if reg, ok := w.registries[name]; ok {
		return reg, true
	}
	reg, err := rules.Preset(name)
	if err != nil {
		return nil, false
	}
	w.registries[name] = reg
	return reg, true
}

// Race returns the race declared as name.
func (w *Workspace) Race(name string) (*RaceConfig, bool) {
	cfg, ok := w.races[name]
	return cfg, ok
}
