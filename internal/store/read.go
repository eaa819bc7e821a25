package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunFilter narrows ListRuns. Empty fields match everything; a Limit of 0
// returns every run.
type RunFilter struct {
	Flow     string
	Registry string
	Limit    int
}

// RegistryStat aggregates the runs of one registry.
type RegistryStat struct {
	Registry     string
	Runs         int
	Successes    int
	Failures     int
	Wins         int
	MeanDuration time.Duration
	LastStatus   string
}

const runColumns = `id, seq, flow, registry, graph_key, status, error, steps, nodes, pipelines, duration_ns, summary, recorded_at`

// ReadRun retrieves a single run by ID, including its phase and rule
// timings. Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if err != nil {
		return RunRecord{}, err
	}
	phases, err := s.readPhases(ctx, id)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Phases = phases
	return rec, nil
}

// ListRuns returns the runs matching f without timings, oldest first:
// ORDER BY seq ASC, id ASC COLLATE BINARY. With a Limit, the most recent
// runs are kept.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]RunRecord, error) {
	query := `
		SELECT ` + runColumns + ` FROM runs
		WHERE (? = '' OR flow = ?) AND (? = '' OR registry = ?)
		ORDER BY seq DESC, id COLLATE BINARY DESC`
	args := []any{f.Flow, f.Flow, f.Registry, f.Registry}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	// Newest first from the query; callers get oldest first.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}

// ReadRace retrieves a race and its contenders in declaration order.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRace(ctx context.Context, id string) (RaceRecord, error) {
	var rec RaceRecord
	var recordedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seq, flow, selection, winner, recorded_at
		FROM races
		WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Seq, &rec.Flow, &rec.Selection, &rec.Winner, &recordedAt)
	if err != nil {
		return RaceRecord{}, err
	}
	if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
		return RaceRecord{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT registry, run_id, status
		FROM race_entries
		WHERE race_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return RaceRecord{}, fmt.Errorf("query race entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e RaceEntry
		if err := rows.Scan(&e.Registry, &e.RunID, &e.Status); err != nil {
			return RaceRecord{}, fmt.Errorf("scan race entry: %w", err)
		}
		rec.Entries = append(rec.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return RaceRecord{}, fmt.Errorf("iterate race entries: %w", err)
	}
	return rec, nil
}

// RegistryStats aggregates runs per registry, restricted to flow unless it
// is empty. Registries are ordered by name.
func (s *Store) RegistryStats(ctx context.Context, flow string) ([]RegistryStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			r.registry,
			COUNT(*),
			COALESCE(SUM(CASE WHEN r.status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(r.duration_ns), 0),
			(SELECT l.status FROM runs l
			 WHERE l.registry = r.registry AND (? = '' OR l.flow = ?)
			 ORDER BY l.seq DESC LIMIT 1),
			(SELECT COUNT(*) FROM races w
			 WHERE w.winner = r.registry AND (? = '' OR w.flow = ?))
		FROM runs r
		WHERE (? = '' OR r.flow = ?)
		GROUP BY r.registry
		ORDER BY r.registry COLLATE BINARY ASC
	`, StatusSuccess, flow, flow, flow, flow, flow, flow)
	if err != nil {
		return nil, fmt.Errorf("query registry stats: %w", err)
	}
	defer rows.Close()

	stats := []RegistryStat{}
	for rows.Next() {
		var st RegistryStat
		var mean float64
		if err := rows.Scan(&st.Registry, &st.Runs, &st.Successes, &mean, &st.LastStatus, &st.Wins); err != nil {
			return nil, fmt.Errorf("scan registry stats: %w", err)
		}
		st.Failures = st.Runs - st.Successes
		st.MeanDuration = time.Duration(mean)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry stats: %w", err)
	}
	return stats, nil
}

func (s *Store) readPhases(ctx context.Context, runID string) ([]PhaseTiming, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, phase, duration_ns
		FROM phase_timings
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query phase timings: %w", err)
	}
	var phases []PhaseTiming
	index := make(map[int]int)
	for rows.Next() {
		var pt PhaseTiming
		var ns int64
		if err := rows.Scan(&pt.Ordinal, &pt.Phase, &ns); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan phase timing: %w", err)
		}
		pt.Duration = time.Duration(ns)
		index[pt.Ordinal] = len(phases)
		phases = append(phases, pt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase timings: %w", err)
	}

	rules, err := s.db.QueryContext(ctx, `
		SELECT ordinal, rule, duration_ns
		FROM rule_timings
		WHERE run_id = ?
		ORDER BY ordinal ASC, position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query rule timings: %w", err)
	}
	defer rules.Close()
	for rules.Next() {
		var ordinal int
		var rt RuleTiming
		var ns int64
		if err := rules.Scan(&ordinal, &rt.Rule, &ns); err != nil {
			return nil, fmt.Errorf("scan rule timing: %w", err)
		}
		rt.Duration = time.Duration(ns)
		if i, ok := index[ordinal]; ok {
			phases[i].Rules = append(phases[i].Rules, rt)
		}
	}
	if err := rules.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule timings: %w", err)
	}
	return phases, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var ns int64
	var summary, recordedAt string
	err := row.Scan(
		&rec.ID,
		&rec.Seq,
		&rec.Flow,
		&rec.Registry,
		&rec.GraphKey,
		&rec.Status,
		&rec.Error,
		&rec.Steps,
		&rec.Nodes,
		&rec.Pipelines,
		&ns,
		&summary,
		&recordedAt,
	)
	if err == sql.ErrNoRows {
		return RunRecord{}, err
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	rec.Duration = time.Duration(ns)
	if rec.Summary, err = unmarshalSummary(summary); err != nil {
		return RunRecord{}, err
	}
	if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}
