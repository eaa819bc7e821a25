package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/flowplan/internal/graph"
)

// DefaultRaceTimeout bounds a race when no timeout is configured.
const DefaultRaceTimeout = 10 * time.Minute

// Selection decides which completed run wins a race.
type Selection int

const (
	// SelectNone is the zero value; a set configured with it is rejected.
	SelectNone Selection = iota
	// SelectFirst picks the first successful run and cancels the others.
	SelectFirst
	// SelectCompared ranks every run finished by the deadline with the
	// comparator and picks the lowest cost.
	SelectCompared
)

func (s Selection) String() string {
	switch s {
	case SelectFirst:
		return "FIRST"
	case SelectCompared:
		return "COMPARED"
	default:
		return fmt.Sprintf("Selection(%d)", int(s))
	}
}

// ParseSelection resolves FIRST or COMPARED.
func ParseSelection(name string) (Selection, error) {
	switch name {
	case "FIRST", "first":
		return SelectFirst, nil
	case "COMPARED", "compared":
		return SelectCompared, nil
	default:
		return SelectNone, fmt.Errorf("unknown selection %q", name)
	}
}

// Comparator orders two successful results. It returns a negative number
// when a is cheaper than b, a positive number when b is cheaper, and zero
// for a tie.
type Comparator func(a, b *Result) int

// DefaultComparator prefers fewer steps, then fewer nodes, then fewer
// pipelines.
func DefaultComparator(a, b *Result) int {
	for _, l := range []Level{LevelStep, LevelNode, LevelPipeline} {
		if d := a.Count(l) - b.Count(l); d != 0 {
			return d
		}
	}
	return 0
}

// RegistrySet races several registries over the same input graph.
type RegistrySet struct {
	registries   []*Registry
	timeout      time.Duration
	ignoreFailed bool
	selection    Selection
	comparator   Comparator
	parallelism  int
}

// RaceOption configures a RegistrySet.
type RaceOption func(*RegistrySet)

// WithTimeout bounds the whole race. Default: 10 minutes.
func WithTimeout(d time.Duration) RaceOption {
	return func(s *RegistrySet) {
		s.timeout = d
	}
}

// WithIgnoreFailed controls whether a single failed registry aborts the
// race. Default: true (failures are ignored unless every registry fails).
func WithIgnoreFailed(ignore bool) RaceOption {
	return func(s *RegistrySet) {
		s.ignoreFailed = ignore
	}
}

// WithSelection sets the selection policy. Default: SelectFirst.
func WithSelection(sel Selection) RaceOption {
	return func(s *RegistrySet) {
		s.selection = sel
	}
}

// WithComparator sets the comparator used by SelectCompared.
// Default: DefaultComparator.
func WithComparator(c Comparator) RaceOption {
	return func(s *RegistrySet) {
		s.comparator = c
	}
}

// WithParallelism caps how many registries run at once. Zero or less means
// all of them.
func WithParallelism(n int) RaceOption {
	return func(s *RegistrySet) {
		s.parallelism = n
	}
}

// NewRegistrySet validates and builds a race. Every problem is reported
// here, before anything runs.
func NewRegistrySet(registries []*Registry, opts ...RaceOption) (*RegistrySet, error) {
	s := &RegistrySet{
		timeout:      DefaultRaceTimeout,
		ignoreFailed: true,
		selection:    SelectFirst,
		comparator:   DefaultComparator,
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(registries) == 0 {
		return nil, NewConstructionError("registry set: at least one registry is required")
	}
	seen := make(map[*Registry]bool, len(registries))
	for i, reg := range registries {
		if reg == nil {
			return nil, NewConstructionError("registry set: registry %d is nil", i)
		}
		if seen[reg] {
			return nil, NewConstructionError("registry set: registry %s is listed more than once", reg.Name())
		}
		seen[reg] = true
	}

	switch s.selection {
	case SelectFirst:
	case SelectCompared:
		if s.comparator == nil {
			return nil, NewConstructionError("registry set: selection COMPARED requires a comparator")
		}
	default:
		return nil, NewConstructionError("registry set: invalid selection %s", s.selection)
	}
	if s.timeout <= 0 {
		return nil, NewConstructionError("registry set: timeout must be positive, got %s", s.timeout)
	}

	s.registries = append([]*Registry(nil), registries...)
	return s, nil
}

// Registries returns the registries in declaration order.
func (s *RegistrySet) Registries() []*Registry {
	return append([]*Registry(nil), s.registries...)
}

// Timeout returns the race deadline.
func (s *RegistrySet) Timeout() time.Duration { return s.timeout }

// IgnoreFailed reports whether single failures are ignored.
func (s *RegistrySet) IgnoreFailed() bool { return s.ignoreFailed }

// Selection returns the selection policy.
func (s *RegistrySet) Selection() Selection { return s.selection }

// RaceRun is the outcome of one registry within a race. A run that did not
// finish by the deadline has Done false and no Result.
type RaceRun struct {
	Registry string
	Result   *Result
	Err      error
	Done     bool
}

// RaceResult is the outcome of a race.
type RaceResult struct {
	// Winner is the selected result.
	Winner *Result

	// Runs lists every registry in declaration order.
	Runs []RaceRun

	done chan struct{}
}

// Wait blocks until every contender has returned, including losers that
// were still inside a rule when Exec returned. Trace sinks have received
// all their writes once Wait returns; close stores only after it.
func (r *RaceResult) Wait() {
	if r == nil || r.done == nil {
		return
	}
	<-r.done
}

type raceOutcome struct {
	index int
	res   *Result
	err   error
}

// raceCollector folds contender outcomes into the race runs.
type raceCollector struct {
	set     *RegistrySet
	log     *slog.Logger
	runs    []RaceRun
	pending int
	first   int
	failed  *PlanError
}

func newRaceCollector(s *RegistrySet, log *slog.Logger) *raceCollector {
	runs := make([]RaceRun, len(s.registries))
	for i, reg := range s.registries {
		runs[i].Registry = reg.Name()
	}
	return &raceCollector{set: s, log: log, runs: runs, pending: len(runs), first: -1}
}

// accept records o and reports whether collection is over.
func (c *raceCollector) accept(o raceOutcome) bool {
	c.pending--
	run := &c.runs[o.index]
	run.Result = o.res
	run.Err = o.err
	run.Done = true

	if o.err != nil {
		c.log.Info("race entrant failed",
			"registry", run.Registry,
			"code", CodeOf(o.err),
			"error", o.err,
		)
		if !c.set.ignoreFailed {
			c.failed = &PlanError{
				Code:     ErrCodeRaceFailed,
				Message:  "registry failed and failures are not ignored",
				Registry: run.Registry,
				Err:      o.err,
			}
			return true
		}
		return false
	}
	if c.set.selection == SelectFirst && c.first < 0 {
		c.first = o.index
		return true
	}
	return false
}

// drain accepts every outcome already buffered in outcomes without
// blocking. It reports whether collection is over.
func (c *raceCollector) drain(outcomes <-chan raceOutcome) bool {
	for c.pending > 0 {
		select {
		case o := <-outcomes:
			if c.accept(o) {
				return true
			}
		default:
			return false
		}
	}
	return false
}

// Exec runs every registry concurrently over its own deep copy of input.
// input is only read.
//
// Cancellation is cooperative: a run stops at its next phase or rule
// boundary, and Exec returns at the deadline without waiting for runs still
// inside a rule. Their eventual results are discarded, but they still reach
// the executor's trace sink; call Wait on the result before releasing a sink.
func (s *RegistrySet) Exec(ctx context.Context, exec *Executor, input *graph.Graph) (*RaceResult, error) {
	if exec == nil {
		exec = NewExecutor()
	}
	if input == nil {
		return nil, NewConstructionError("race: input graph is required")
	}

	deadline, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	runCtx, stop := context.WithCancel(deadline)
	defer stop()

	log := exec.logger.With("flow", exec.flow, "selection", s.selection.String())

	parallelism := s.parallelism
	if parallelism <= 0 || parallelism > len(s.registries) {
		parallelism = len(s.registries)
	}
	sem := semaphore.NewWeighted(int64(parallelism))

	outcomes := make(chan raceOutcome, len(s.registries))
	g, gctx := errgroup.WithContext(runCtx)
	for i, reg := range s.registries {
		i, reg := i, reg
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				outcomes <- raceOutcome{index: i, err: cancelled(reg.Name(), PhaseNone, err)}
				return nil
			}
			defer sem.Release(1)

			res, err := exec.Run(gctx, reg, input.Copy())
			outcomes <- raceOutcome{index: i, res: res, err: err}
			if err != nil && !s.ignoreFailed {
				return err
			}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	c := newRaceCollector(s, log)
	out := &RaceResult{Runs: c.runs, done: done}

collect:
	for c.pending > 0 {
		select {
		case o := <-outcomes:
			if c.accept(o) {
				break collect
			}
		case <-deadline.Done():
			// Runs that finished just before the deadline may still be buffered.
			if c.drain(outcomes) {
				break collect
			}
			if c.pending > 0 {
				log.Warn("race deadline reached",
					"timeout", s.timeout,
					"pending", c.pending,
				)
			}
			break collect
		}
	}
	stop()

	if c.failed != nil {
		return out, c.failed
	}

	winner := c.first
	if s.selection == SelectCompared {
		winner = s.best(c.runs)
	}
	if winner < 0 {
		return out, s.failure(c.runs, deadline.Err())
	}

	out.Winner = c.runs[winner].Result
	exec.metrics.countWin(c.runs[winner].Registry)
	log.Info("race won",
		"registry", c.runs[winner].Registry,
		"steps", out.Winner.Count(LevelStep),
		"nodes", out.Winner.Count(LevelNode),
		"pipelines", out.Winner.Count(LevelPipeline),
	)
	return out, nil
}

// best returns the index of the cheapest successful run. Ties go to the
// earlier registry.
func (s *RegistrySet) best(runs []RaceRun) int {
	best := -1
	for i, r := range runs {
		if !r.Done || r.Err != nil || r.Result == nil {
			continue
		}
		if best < 0 || s.comparator(r.Result, runs[best].Result) < 0 {
			best = i
		}
	}
	return best
}

func (s *RegistrySet) failure(runs []RaceRun, deadlineErr error) *PlanError {
	var errs []error
	for _, r := range runs {
		switch {
		case r.Err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", r.Registry, r.Err))
		case !r.Done:
			errs = append(errs, fmt.Errorf("%s: did not finish within %s", r.Registry, s.timeout))
		}
	}
	if deadlineErr != nil && !errors.Is(deadlineErr, context.DeadlineExceeded) {
		errs = append(errs, deadlineErr)
	}
	return &PlanError{
		Code:    ErrCodeRaceFailed,
		Message: fmt.Sprintf("all %d registries failed or timed out", len(runs)),
		Err:     errors.Join(errs...),
	}
}
