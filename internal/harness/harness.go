package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/flowplan/internal/compiler"
	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
	"github.com/roach88/flowplan/internal/store"
	"github.com/roach88/flowplan/internal/testutil"
)

// Harness is the scenario execution engine. It plans with a deterministic
// clock and run IDs and records every run in its store.
type Harness struct {
	store     *store.Store
	workspace *compiler.Workspace
	recorder  *store.Recorder
	logger    *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load and compile the scenario's CUE specs
// 3. Plan the flow with the registry, or run the race
// 4. Evaluate assertions against the plan and the recorded runs
//
// A planning failure is part of the result, not an error: scenarios assert
// on failures too. The error return covers scenarios that cannot run.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	v, err := compiler.LoadFiles(scenario.Specs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}
	w, errs := compiler.CompileWorkspace(v, true)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to compile specs: %w", errors.Join(errs...))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		store:     st,
		workspace: w,
		logger:    logger,
		recorder: store.NewRecorder(st, scenario.Flow,
			store.WithIDGenerator(testutil.NewSequenceIDGenerator("run")),
			store.WithClock(testutil.NewDeterministicClock()),
			store.WithRecorderLogger(logger),
		),
	}

	input, ok := w.Flow(scenario.Flow)
	if !ok {
		return nil, fmt.Errorf("flow %q is not declared", scenario.Flow)
	}

	ctx := context.Background()
	result := NewResult()
	if scenario.Race != "" {
		err = h.race(ctx, scenario, input, result)
	} else {
		err = h.plan(ctx, scenario, input, result)
	}
	if err != nil {
		return nil, err
	}

	if err := h.collectRuns(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to read recorded runs: %w", err)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
		Flow:  scenario.Flow,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) executor(flow string) *plan.Executor {
	return plan.NewExecutor(
		plan.WithLogger(h.logger),
		plan.WithFlowName(flow),
		plan.WithTraceSink(h.recorder),
	)
}

// plan runs a single registry.
func (h *Harness) plan(ctx context.Context, scenario *Scenario, input *graph.Graph, result *Result) error {
	reg, ok := h.workspace.Registry(scenario.Registry)
	if !ok {
		return fmt.Errorf("registry %q is neither declared nor a preset", scenario.Registry)
	}

	res, err := h.executor(scenario.Flow).Run(ctx, reg, input)
	if res != nil {
		summary := plan.Summarize(res)
		result.Summary = &summary
	}
	if err != nil {
		if plan.IsConstructionError(err) {
			return err
		}
		result.setFailure(err)
		h.logger.Info("scenario planning failed", "scenario", scenario.Name, "error", err)
		return nil
	}
	result.Winner = reg.Name()
	return nil
}

// race runs the scenario's race and records it.
func (h *Harness) race(ctx context.Context, scenario *Scenario, input *graph.Graph, result *Result) error {
	cfg, ok := h.workspace.Race(scenario.Race)
	if !ok {
		return fmt.Errorf("race %q is not declared", scenario.Race)
	}
	set, err := cfg.Build(h.workspace.Registry)
	if err != nil {
		return err
	}

	race, err := set.Exec(ctx, h.executor(scenario.Flow), input)
	race.Wait()
	if race != nil {
		if _, rerr := h.recorder.RecordRace(ctx, set.Selection(), race); rerr != nil {
			return fmt.Errorf("failed to record race: %w", rerr)
		}
	}
	if err != nil {
		result.setFailure(err)
		h.logger.Info("scenario race failed", "scenario", scenario.Name, "error", err)
		return nil
	}
	summary := plan.Summarize(race.Winner)
	result.Summary = &summary
	result.Winner = race.Winner.Registry()
	return nil
}

func (h *Harness) collectRuns(ctx context.Context, flow string, result *Result) error {
	runs, err := h.store.ListRuns(ctx, store.RunFilter{Flow: flow})
	if err != nil {
		return err
	}
	for _, r := range runs {
		result.Runs = append(result.Runs, RunOutcome{
			Registry:  r.Registry,
			Status:    r.Status,
			Steps:     r.Steps,
			Nodes:     r.Nodes,
			Pipelines: r.Pipelines,
		})
	}
	sort.SliceStable(result.Runs, func(i, j int) bool {
		return result.Runs[i].Registry < result.Runs[j].Registry
	})
	return nil
}

func asPlanError(err error) (*plan.PlanError, bool) {
	var pe *plan.PlanError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
