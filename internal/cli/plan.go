package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/flowplan/internal/compiler"
	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/store"
	"github.com/roach88/flowplan/internal/trace"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Flow     string
	Registry string
	Race     string
	TraceDir string
	Database string
	Metrics  bool
}

// RunSummary is one registry run as reported by the plan command.
type RunSummary struct {
	Registry  string `json:"registry"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Steps     int    `json:"steps"`
	Nodes     int    `json:"nodes"`
	Pipelines int    `json:"pipelines"`
}

// PlanOutput is the result of the plan command.
type PlanOutput struct {
	Flow    string        `json:"flow"`
	Winner  string        `json:"winner,omitempty"`
	Summary *plan.Summary `json:"summary,omitempty"`
	Runs    []RunSummary  `json:"runs"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <specs-dir>",
		Short: "Plan a flow with a registry or a race of registries",
		Long: `Plan a flow declared in CUE into steps, nodes and pipelines.

The flow is planned by one registry (--registry, a declared registry or a
preset) or by a race (--race). Every transformation can be written to a
trace directory as DOT files, and every run can be recorded in a SQLite
database for the stats and runs commands.

Exit codes:
  0 - The flow was planned
  1 - Planning failed (unsupported plan, planner failure, race failed)
  2 - Command error (invalid specs, unknown flow or registry, etc.)

Examples:
  flowplan plan ./specs --flow wc
  flowplan plan ./specs --flow wc --registry local --format json
  flowplan plan ./specs --flow wc --race nightly --db ./flowplan.db
  flowplan plan ./specs --flow wc --trace-dir ./trace --metrics`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Flow, "flow", "", "flow to plan (required)")
	_ = cmd.MarkFlagRequired("flow")
	cmd.Flags().StringVar(&opts.Registry, "registry", "cluster", "registry or preset to plan with")
	cmd.Flags().StringVar(&opts.Race, "race", "", "race to run instead of a single registry")
	cmd.Flags().StringVar(&opts.TraceDir, "trace-dir", "", "write DOT files and stats for every transformation")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite database")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print planner metrics to stderr after planning")

	return cmd
}

func runPlan(opts *PlanOptions, specsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return loadFailure(formatter, loadErrors)
	}
	w := loadResult.Workspace

	input, ok := w.Flow(opts.Flow)
	if !ok {
		return unknownName(formatter, "flow", opts.Flow, w.FlowNames)
	}

	var recorder *store.Recorder
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		recorder = store.NewRecorder(st, opts.Flow, store.WithRecorderLogger(logger))
	}
	var dir *trace.DirWriter
	if opts.TraceDir != "" {
		dir = trace.NewDirWriter(opts.TraceDir, trace.WithLogger(logger))
	}

	promReg := prometheus.NewRegistry()
	exec := plan.NewExecutor(
		plan.WithLogger(logger),
		plan.WithFlowName(opts.Flow),
		plan.WithTraceSink(plan.Sinks(recorder, dir)),
		plan.WithMetrics(plan.NewMetrics(promReg)),
	)

	var (
		out PlanOutput
		err error
	)
	if opts.Race != "" {
		out, err = planRace(ctx, w.Race, w.Registry, exec, recorder, opts, input, formatter)
	} else {
		out, err = planRegistry(ctx, w.Registry, exec, opts, input, formatter)
	}

	if opts.Metrics {
		if merr := writeMetrics(formatter.GetErrWriter(), promReg); merr != nil {
			logger.Warn("metrics not written", "error", merr)
		}
	}
	if opts.TraceDir != "" {
		formatter.VerboseLog("Trace written to %s", opts.TraceDir)
	}
	if err != nil {
		return err
	}
	return outputPlan(formatter, out)
}

func planRegistry(ctx context.Context, lookup registryLookup, exec *plan.Executor, opts *PlanOptions, input *graph.Graph, formatter *OutputFormatter) (PlanOutput, error) {
	reg, ok := lookup(opts.Registry)
	if !ok {
		return PlanOutput{}, unknownName(formatter, "registry", opts.Registry, nil)
	}

	formatter.VerboseLog("Planning flow %s with registry %s", opts.Flow, reg.Name())
	res, err := exec.Run(ctx, reg, input)

	out := PlanOutput{Flow: opts.Flow, Runs: []RunSummary{summarizeRun(reg.Name(), res, err)}}
	if res != nil {
		s := plan.Summarize(res)
		out.Summary = &s
	}
	if err != nil {
		return out, planFailure(formatter, err, out)
	}
	out.Winner = reg.Name()
	return out, nil
}

type registryLookup func(string) (*plan.Registry, bool)

func planRace(ctx context.Context, races raceLookup, lookup registryLookup, exec *plan.Executor, recorder *store.Recorder, opts *PlanOptions, input *graph.Graph, formatter *OutputFormatter) (PlanOutput, error) {
	cfg, ok := races(opts.Race)
	if !ok {
		return PlanOutput{}, unknownName(formatter, "race", opts.Race, nil)
	}
	set, err := cfg.Build(lookup)
	if err != nil {
		_ = formatter.Error(string(plan.CodeOf(err)), err.Error(), nil)
		return PlanOutput{}, WrapExitError(ExitCommandError, "invalid race", err)
	}

	formatter.VerboseLog("Racing %d registries on flow %s (%s)", len(set.Registries()), opts.Flow, set.Selection())
	race, err := set.Exec(ctx, exec, input)
	// Losers still write to the recorder and trace dir until they stop.
	race.Wait()

	out := PlanOutput{Flow: opts.Flow, Runs: []RunSummary{}}
	if race != nil {
		for _, r := range race.Runs {
			if !r.Done {
				out.Runs = append(out.Runs, RunSummary{Registry: r.Registry, Status: store.StatusUnfinished})
				continue
			}
			out.Runs = append(out.Runs, summarizeRun(r.Registry, r.Result, r.Err))
		}
		if recorder != nil {
			if _, rerr := recorder.RecordRace(ctx, set.Selection(), race); rerr != nil {
				formatter.VerboseLog("race not recorded: %v", rerr)
			}
		}
	}
	if err != nil {
		return out, planFailure(formatter, err, out)
	}

	s := plan.Summarize(race.Winner)
	out.Summary = &s
	out.Winner = race.Winner.Registry()
	return out, nil
}

type raceLookup func(string) (*compiler.RaceConfig, bool)

func summarizeRun(registry string, res *plan.Result, err error) RunSummary {
	rs := RunSummary{Registry: registry, Status: store.StatusSuccess}
	if res != nil {
		rs.Steps = res.Count(plan.LevelStep)
		rs.Nodes = res.Count(plan.LevelNode)
		rs.Pipelines = res.Count(plan.LevelPipeline)
	}
	if err != nil {
		rs.Status = string(plan.CodeOf(err))
		rs.Error = err.Error()
	}
	return rs
}

// planFailure reports a planning error. Construction errors are command
// errors; everything else is a planning failure.
func planFailure(formatter *OutputFormatter, err error, out PlanOutput) error {
	code := string(plan.CodeOf(err))
	exitCode := ExitFailure
	if plan.IsConstructionError(err) {
		exitCode = ExitCommandError
	}

	if formatter.JSON() {
		if ferr := formatter.Failure(code, err.Error(), out); ferr != nil {
			return ferr
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Planning failed [%s]: %v\n", code, err)
		writeRuns(formatter.Writer, out.Runs)
	}
	return WrapExitError(exitCode, "planning failed", err)
}

// loadFailure reports the first load error as a command error.
func loadFailure(formatter *OutputFormatter, errs []error) error {
	le := firstLoadError(errs)
	_ = formatter.Error(le.Code, le.Message, nil)
	return WrapExitError(ExitCommandError, "failed to load specs", le)
}

func unknownName(formatter *OutputFormatter, kind, name string, known []string) error {
	msg := fmt.Sprintf("unknown %s %q", kind, name)
	if len(known) > 0 {
		msg += fmt.Sprintf(" (declared: %s)", strings.Join(known, ", "))
	}
	_ = formatter.Error(ErrCodeUnknownName, msg, nil)
	return NewExitError(ExitCommandError, msg)
}

func outputPlan(formatter *OutputFormatter, out PlanOutput) error {
	if formatter.JSON() {
		return formatter.Success(out)
	}

	s := out.Summary
	fmt.Fprintf(formatter.Writer, "✓ Planned flow %s with %s: %d step(s), %d node(s), %d pipeline(s)\n\n",
		out.Flow, out.Winner, s.StepCount, s.NodeCount, s.PipeCount)
	for _, step := range s.Steps {
		writeSubgraph(formatter.Writer, step, 0)
	}
	if len(out.Runs) > 1 {
		fmt.Fprintln(formatter.Writer)
		writeRuns(formatter.Writer, out.Runs)
	}
	return nil
}

func writeSubgraph(w io.Writer, gs plan.GraphSummary, depth int) {
	fmt.Fprintf(w, "%s%s [%s]\n", strings.Repeat("  ", depth), gs.Name, strings.Join(gs.Elements, " "))
	for _, child := range gs.Children {
		writeSubgraph(w, child, depth+1)
	}
}

func writeRuns(w io.Writer, runs []RunSummary) {
	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(w, "Runs:")
	for _, r := range runs {
		fmt.Fprintf(w, "  %s: %s (%d/%d/%d)\n", r.Registry, r.Status, r.Steps, r.Nodes, r.Pipelines)
	}
}

// writeMetrics writes every gathered metric family in the Prometheus text
// exposition format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
