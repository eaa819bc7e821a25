package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/flowplan/internal/graph"
	"github.com/roach88/flowplan/internal/plan"
)

// Recorder is a plan.TraceSink that persists every finished run. Attach it
// to an executor with plan.WithTraceSink; after a race, RecordRace links
// the contenders' runs to the race.
//
// Write failures are logged, never returned: a sink must not change the
// outcome of planning.
type Recorder struct {
	store   *Store
	flow    string
	ids     RunIDGenerator
	clock   Clock
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	last map[string]string // registry -> most recent run ID
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithIDGenerator sets the generator for run and race IDs.
func WithIDGenerator(g RunIDGenerator) RecorderOption {
	return func(r *Recorder) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithClock sets the clock for recorded_at timestamps.
func WithClock(c Clock) RecorderOption {
	return func(r *Recorder) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithRecorderLogger sets the logger for write failures.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder returns a recorder writing runs of flow to s.
func NewRecorder(s *Store, flow string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   s,
		flow:    flow,
		ids:     UUIDGenerator{},
		clock:   wallClock{},
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		last:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WriteTransformPlan implements plan.TraceSink. Intermediate graphs are not
// persisted.
func (r *Recorder) WriteTransformPlan(string, plan.Phase, string, int, *graph.Graph) {}

// WriteLevelResults implements plan.TraceSink. Only final results are
// persisted.
func (r *Recorder) WriteLevelResults(string, plan.Phase, *plan.Result) {}

// WriteStats implements plan.TraceSink.
func (r *Recorder) WriteStats(registry string, res *plan.Result) {
	rec := NewRunRecord(r.flow, res)
	rec.ID = r.ids.Generate()
	rec.RecordedAt = r.clock.Now()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.store.WriteRun(ctx, rec); err != nil {
		r.logger.Warn("run not recorded", "registry", registry, "flow", r.flow, "error", err)
		return
	}

	r.mu.Lock()
	r.last[registry] = rec.ID
	r.mu.Unlock()
	r.logger.Debug("run recorded", "run_id", rec.ID, "registry", registry, "status", rec.Status)
}

// LastRun returns the ID of the most recent run recorded for registry.
func (r *Recorder) LastRun(registry string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.last[registry]
	return id, ok
}

// RecordRace persists a decided race. Each finished contender is linked to
// the run this recorder stored for it.
func (r *Recorder) RecordRace(ctx context.Context, sel plan.Selection, race *plan.RaceResult) (RaceRecord, error) {
	rec := NewRaceRecord(r.flow, sel, race)
	rec.ID = r.ids.Generate()
	rec.RecordedAt = r.clock.Now()
	for i, e := range rec.Entries {
		if e.Status == StatusUnfinished {
			continue
		}
		if id, ok := r.LastRun(e.Registry); ok {
			rec.Entries[i].RunID = id
		}
	}

	seq, err := r.store.WriteRace(ctx, rec)
	if err != nil {
		return RaceRecord{}, err
	}
	rec.Seq = seq
	return rec, nil
}
