package plan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowplan/internal/graph"
)

// DefaultVerboseThreshold is the vertex count at which phase and rule
// progress is logged at Info instead of Debug.
const DefaultVerboseThreshold = 600

// ruleResolve names the scope resolution step in traces.
const ruleResolve = "ResolveFields"

// Executor runs one registry over one input graph.
//
// An Executor holds only configuration. Run keeps all per-run state in its
// own Result and Context, so one Executor may serve any number of
// concurrent runs (this is how a race uses it).
type Executor struct {
	logger           *slog.Logger
	sink             TraceSink
	metrics          *Metrics
	tracer           trace.Tracer
	verboseThreshold int
	flow             string
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ExecOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithTraceSink attaches a trace sink. A nil sink disables tracing.
func WithTraceSink(s TraceSink) ExecOption {
	return func(e *Executor) {
		e.sink = Sinks(s)
	}
}

// WithMetrics records phase and rule timings in m.
func WithMetrics(m *Metrics) ExecOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithTracer sets the OpenTelemetry tracer. Default: the global provider's
// "flowplan.plan" tracer.
func WithTracer(t trace.Tracer) ExecOption {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithVerboseThreshold sets the vertex count at which progress is logged at
// Info. Default: 600 (DefaultVerboseThreshold).
func WithVerboseThreshold(n int) ExecOption {
	return func(e *Executor) {
		e.verboseThreshold = n
	}
}

// WithFlowName names the flow in the planning context and in logs.
func WithFlowName(name string) ExecOption {
	return func(e *Executor) {
		e.flow = name
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecOption) *Executor {
	e := &Executor{
		verboseThreshold: DefaultVerboseThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("flowplan.plan")
	}
	return e
}

// Run visits the fixed phase sequence once, in order, applying the rules
// reg registers for each phase to input.
//
// Run always returns a non-nil Result once reg and input are valid. On
// failure the Result keeps every level result committed before the failing
// rule, and the same error is available from Result.Err.
func (e *Executor) Run(ctx context.Context, reg *Registry, input *graph.Graph) (*Result, error) {
	if reg == nil {
		return nil, NewConstructionError("run: registry is required")
	}
	if input == nil {
		return nil, NewConstructionError("run %s: input graph is required", reg.Name())
	}

	ctx, span := e.tracer.Start(ctx, "plan.Run",
		trace.WithAttributes(
			attribute.String("plan.registry", reg.Name()),
			attribute.String("plan.flow", e.flow),
			attribute.Int("plan.vertex_count", input.VertexCount()),
		),
	)
	defer span.End()

	logger := e.logger.With("registry", reg.Name(), "flow", e.flow)
	level := slog.LevelDebug
	if input.VertexCount() >= e.verboseThreshold {
		level = slog.LevelInfo
	}

	r := &run{
		exec:  e,
		reg:   reg,
		res:   newResult(reg.Name(), input),
		log:   logger,
		level: level,
		pc: &Context{
			Registry:     reg,
			Flow:         e.flow,
			TraceEnabled: e.sink != nil,
			Logger:       logger,
		},
	}

	start := time.Now()
	logger.Log(ctx, level, "planning started",
		"vertices", input.VertexCount(),
		"rules", reg.RuleCount(),
	)

	var err error
	for _, phase := range orderedPhases {
		if cerr := ctx.Err(); cerr != nil {
			err = cancelled(reg.Name(), phase, cerr)
			break
		}
		if err = r.phase(ctx, phase); err != nil {
			break
		}
	}

	r.res.setTimes(start, time.Now())
	r.res.err = err
	e.metrics.countRun(reg.Name(), err)
	if e.sink != nil {
		e.sink.WriteStats(reg.Name(), r.res)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("planning failed",
			"code", CodeOf(err),
			"error", err,
			"duration", r.res.Duration(),
		)
		return r.res, err
	}

	span.SetAttributes(
		attribute.Int("plan.steps", r.res.Count(LevelStep)),
		attribute.Int("plan.nodes", r.res.Count(LevelNode)),
		attribute.Int("plan.pipelines", r.res.Count(LevelPipeline)),
	)
	span.SetStatus(codes.Ok, "")
	logger.Log(ctx, level, "planning completed",
		"steps", r.res.Count(LevelStep),
		"nodes", r.res.Count(LevelNode),
		"pipelines", r.res.Count(LevelPipeline),
		"duration", r.res.Duration(),
	)
	return r.res, nil
}

// run is the state of one Executor.Run call.
type run struct {
	exec  *Executor
	reg   *Registry
	res   *Result
	pc    *Context
	log   *slog.Logger
	level slog.Level
}

func (r *run) phase(ctx context.Context, phase Phase) error {
	ctx, span := r.exec.tracer.Start(ctx, "plan.Phase",
		trace.WithAttributes(
			attribute.String("plan.phase", phase.String()),
			attribute.Int("plan.phase_ordinal", phase.Ordinal()),
		),
	)
	defer span.End()

	start := time.Now()
	var err error
	switch phase.Action() {
	case ActionResolve:
		err = r.resolve(phase)
	case ActionRule:
		err = r.rules(ctx, phase)
	default:
		err = withContext(NewPlannerFailure("unknown action %s", phase.Action()), r.reg.Name(), phase, "", nil)
	}
	d := time.Since(start)

	r.res.addPhaseDuration(phase, d)
	r.exec.metrics.observePhase(r.reg.Name(), phase, d)
	if r.exec.sink != nil {
		r.exec.sink.WriteLevelResults(r.reg.Name(), phase, r.res)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.log.Log(ctx, r.level, "phase completed",
		"phase", phase.String(),
		"level", phase.Level().String(),
		"children", r.res.Count(phase.Level()),
		"duration", d,
	)
	return nil
}

// resolve replaces the assembly graph with a resolved deep copy.
func (r *run) resolve(phase Phase) error {
	if !r.reg.ResolveElements() {
		r.log.Debug("element resolution disabled", "phase", phase.String())
		return nil
	}
	resolved := r.res.AssemblyGraph().Copy()
	if err := ResolveFields(resolved); err != nil {
		return withContext(err, r.reg.Name(), phase, ruleResolve, resolved)
	}
	r.res.setAssembly(resolved)
	if r.exec.sink != nil {
		r.exec.sink.WriteTransformPlan(r.reg.Name(), phase, ruleResolve, 0, resolved)
	}
	return nil
}

func (r *run) rules(ctx context.Context, phase Phase) error {
	for _, rule := range r.reg.Rules(phase) {
		if err := ctx.Err(); err != nil {
			return cancelled(r.reg.Name(), phase, err)
		}

		start := time.Now()
		err := r.apply(phase, rule)
		d := time.Since(start)

		if derr := r.res.addRuleDuration(phase, rule.Name(), d); derr != nil && err == nil {
			err = derr
		}
		r.exec.metrics.observeRule(r.reg.Name(), phase, rule.Name(), d)

		if err != nil {
			return withContext(err, r.reg.Name(), phase, rule.Name(), nil)
		}
		r.log.Log(ctx, r.level, "rule applied",
			"phase", phase.String(),
			"rule", rule.Name(),
			"kind", describeRule(rule),
			"duration", d,
		)
	}
	return nil
}

// apply dispatches rule according to the phase mode. A panic in a rule body
// becomes a planner failure.
func (r *run) apply(phase Phase, rule Rule) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = withContext(NewPlannerFailure("rule panicked: %v", rec), r.reg.Name(), phase, rule.Name(), nil)
		}
	}()

	switch phase.Mode() {
	case ModeMutate:
		switch rule := rule.(type) {
		case *AssertRule:
			return r.assert(phase, rule)
		case *TransformRule:
			return r.transform(phase, rule)
		case *PartitionRule:
			return NewPlannerFailure("partition rule cannot run in mutate phase %s", phase)
		default:
			return NewPlannerFailure("unknown rule type %T", rule)
		}
	case ModePartition:
		switch rule := rule.(type) {
		case *PartitionRule:
			switch rule.Source {
			case PartitionParent:
				return r.partitionParent(phase, rule)
			case PartitionCurrent:
				return r.partitionCurrent(phase, rule)
			default:
				return NewPlannerFailure("unknown partition source %d", int(rule.Source))
			}
		case *AssertRule, *TransformRule:
			return NewPlannerFailure("%s rule cannot run in partition phase %s", describeRule(rule), phase)
		default:
			return NewPlannerFailure("unknown rule type %T", rule)
		}
	default:
		return NewPlannerFailure("unknown mode %s", phase.Mode())
	}
}

// assert checks every child at the phase level. The first anchored
// assertion ends the run.
func (r *run) assert(phase Phase, rule *AssertRule) error {
	for _, p := range r.res.Pairs(phase.Level()) {
		a, err := rule.Asserter.Assert(r.pc, p.Child)
		if err != nil {
			return withContext(err, r.reg.Name(), phase, rule.Name(), p.Child)
		}
		if a.Anchor == nil {
			continue
		}

		msg := a.Message
		if msg == "" {
			msg = "assertion failed"
		}
		var pe *PlanError
		if a.Type == AssertionUnsupported {
			pe = NewUnsupportedPlan(a.Anchor, msg)
		} else {
			pe = NewPlannerFailure("%s", msg)
			pe.Anchor = a.Anchor
		}
		return withContext(pe, r.reg.Name(), phase, rule.Name(), p.Child)
	}
	return nil
}

// transform rewrites every child at the phase level. Each parent's child
// list is replaced by the transformed list, so later rules of the phase
// only ever see the latest state.
func (r *run) transform(phase Phase, rule *TransformRule) error {
	level := phase.Level()
	index := 0
	for _, parent := range r.res.Parents(level) {
		children := r.res.ChildrenOf(level, parent)
		next := make([]*graph.Graph, 0, len(children))
		for _, child := range children {
			t, err := rule.Transformer.Transform(r.pc, child.Copy())
			if err != nil {
				return withContext(err, r.reg.Name(), phase, rule.Name(), child)
			}
			if t.End == nil || t.End == child {
				next = append(next, child)
				continue
			}
			next = append(next, t.End)
			if r.exec.sink != nil {
				r.exec.sink.WriteTransformPlan(r.reg.Name(), phase, rule.Name(), index, t.End)
			}
			index++
		}
		r.res.setChildren(level, parent, next)
	}
	return nil
}

func cancelled(registry string, phase Phase, cause error) *PlanError {
	return &PlanError{
		Code:     ErrCodePlannerFailure,
		Message:  "planning cancelled",
		Registry: registry,
		Phase:    phase,
		Err:      cause,
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
