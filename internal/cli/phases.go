package cli

import (
	"fmt"
	"strings"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/rules"
)

// PhasesOptions holds flags for the phases command.
type PhasesOptions struct {
	*RootOptions
	Registry string
	Specs    string
}

// PhaseInfo describes one planning phase and the rules bound to it.
type PhaseInfo struct {
	Ordinal int      `json:"ordinal"`
	Name    string   `json:"name"`
	Level   string   `json:"level"`
	Mode    string   `json:"mode"`
	Action  string   `json:"action"`
	Rules   []string `json:"rules,omitempty"`
}

// PhasesOutput is the result of the phases command.
type PhasesOutput struct {
	Registry string      `json:"registry,omitempty"`
	Phases   []PhaseInfo `json:"phases"`
	Presets  []string    `json:"presets"`
	Catalog  []string    `json:"catalog"`
}

// NewPhasesCommand creates the phases command.
func NewPhasesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PhasesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "phases",
		Short: "List the planning phases and the rules a registry binds to them",
		Long: `List the fixed phase sequence every registry is run through.

With --registry the rules the registry binds to each phase are shown.
The registry is a preset, or a registry declared in --specs.

Examples:
  flowplan phases
  flowplan phases --registry cluster
  flowplan phases --registry strict --specs ./specs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhases(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Registry, "registry", "", "show the rules of this registry")
	cmd.Flags().StringVar(&opts.Specs, "specs", "", "specs directory declaring the registry")

	return cmd
}

func runPhases(opts *PhasesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	reg, err := lookupRegistry(opts, formatter)
	if err != nil {
		return err
	}

	out := PhasesOutput{
		Presets: rules.Presets(),
		Catalog: rules.Names(),
	}
	if reg != nil {
		out.Registry = reg.Name()
	}
	for _, p := range plan.Phases() {
		info := PhaseInfo{
			Ordinal: p.Ordinal(),
			Name:    p.String(),
			Level:   p.Level().String(),
			Mode:    p.Mode().String(),
			Action:  p.Action().String(),
		}
		if reg != nil {
			for _, r := range reg.Rules(p) {
				info.Rules = append(info.Rules, r.Name())
			}
		}
		out.Phases = append(out.Phases, info)
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}

	tbl := table.New("#", "PHASE", "LEVEL", "MODE", "ACTION", "RULES").WithWriter(formatter.Writer)
	for _, p := range out.Phases {
		tbl.AddRow(fmt.Sprintf("%02d", p.Ordinal), p.Name, p.Level, p.Mode, p.Action, strings.Join(p.Rules, ", "))
	}
	tbl.Print()
	fmt.Fprintf(formatter.Writer, "\nPresets: %s\n", strings.Join(out.Presets, ", "))
	fmt.Fprintf(formatter.Writer, "Rules: %s\n", strings.Join(out.Catalog, ", "))
	return nil
}

// lookupRegistry resolves --registry against --specs, falling back to the
// presets. It returns nil when no registry was asked for.
func lookupRegistry(opts *PhasesOptions, formatter *OutputFormatter) (*plan.Registry, error) {
	if opts.Registry == "" {
		return nil, nil
	}

	if opts.Specs == "" {
		reg, err := rules.Preset(opts.Registry)
		if err != nil {
			return nil, unknownName(formatter, "registry", opts.Registry, rules.Presets())
		}
		return reg, nil
	}

	loadResult, loadErrors := LoadSpecs(opts.Specs, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadFailure(formatter, loadErrors)
	}
	reg, ok := loadResult.Workspace.Registry(opts.Registry)
	if !ok {
		return nil, unknownName(formatter, "registry", opts.Registry, loadResult.Workspace.RegistryNames)
	}
	return reg, nil
}
