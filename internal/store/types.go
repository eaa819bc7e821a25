package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// StatusSuccess is the status of a run that produced a plan. Failed runs
// store their error code instead.
const StatusSuccess = "success"

// StatusUnfinished marks a race contender that had not finished when the
// race was decided.
const StatusUnfinished = "unfinished"

// RunIDGenerator generates unique run and race IDs.
type RunIDGenerator interface {
	Generate() string
}

// UUIDGenerator generates time-ordered UUIDv7 IDs.
type UUIDGenerator struct{}

// Generate implements RunIDGenerator.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock supplies recorded_at timestamps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// RunRecord is one persisted executor run.
type RunRecord struct {
	ID         string
	Seq        int64
	Flow       string
	Registry   string
	GraphKey   string
	Status     string
	Error      string
	Steps      int
	Nodes      int
	Pipelines  int
	Duration   time.Duration
	Summary    plan.Summary
	Phases     []PhaseTiming
	RecordedAt time.Time
}

// Succeeded reports whether the run produced a plan.
func (r RunRecord) Succeeded() bool { return r.Status == StatusSuccess }

// PhaseTiming is the time one phase took, with its rules in order.
type PhaseTiming struct {
	Ordinal  int
	Phase    string
	Duration time.Duration
	Rules    []RuleTiming
}

// RuleTiming is the time one rule took within its phase.
type RuleTiming struct {
	Rule     string
	Duration time.Duration
}

// RaceRecord is one persisted registry race.
type RaceRecord struct {
	ID         string
	Seq        int64
	Flow       string
	Selection  string
	Winner     string
	Entries    []RaceEntry
	RecordedAt time.Time
}

// RaceEntry is one contender of a race.
type RaceEntry struct {
	Registry string
	RunID    string
	Status   string
}

// NewRunRecord captures res for flow. ID, Seq and RecordedAt are left for
// the caller and the store to fill in.
func NewRunRecord(flow string, res *plan.Result) RunRecord {
	rec := RunRecord{
		Flow:      flow,
		Registry:  res.Registry(),
		Status:    StatusSuccess,
		Steps:     res.Count(plan.LevelStep),
		Nodes:     res.Count(plan.LevelNode),
		Pipelines: res.Count(plan.LevelPipeline),
		Duration:  res.Duration(),
		Summary:   plan.Summarize(res),
	}
	if asm := res.AssemblyGraph(); asm != nil {
		rec.GraphKey = graph.KeyOf(asm).String()
	}
	if err := res.Err(); err != nil {
		rec.Status = string(plan.CodeOf(err))
		rec.Error = err.Error()
	}
	for _, phase := range plan.Phases() {
		pt := PhaseTiming{
			Ordinal:  phase.Ordinal(),
			Phase:    phase.String(),
			Duration: res.PhaseDuration(phase),
		}
		for _, rd := range res.RuleDurations(phase) {
			pt.Rules = append(pt.Rules, RuleTiming{Rule: rd.Rule, Duration: rd.Duration})
		}
		rec.Phases = append(rec.Phases, pt)
	}
	return rec
}

// NewRaceRecord captures a decided race. A contender still running, or
// cancelled before it produced a result, is StatusUnfinished.
func NewRaceRecord(flow string, sel plan.Selection, race *plan.RaceResult) RaceRecord {
	rec := RaceRecord{Flow: flow, Selection: sel.String()}
	if race == nil {
		return rec
	}
	if race.Winner != nil {
		rec.Winner = race.Winner.Registry()
	}
	for _, run := range race.Runs {
		entry := RaceEntry{Registry: run.Registry, Status: StatusUnfinished}
		switch {
		case !run.Done:
		case run.Err != nil:
			entry.Status = string(plan.CodeOf(run.Err))
		default:
			entry.Status = StatusSuccess
		}
		rec.Entries = append(rec.Entries, entry)
	}
	return rec
}
