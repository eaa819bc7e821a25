package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WriteRun inserts a run with its phase and rule timings and returns the
// assigned seq. Uses ON CONFLICT(id) DO NOTHING for idempotency - writing
// the same run ID twice keeps the first record and returns its seq.
func (s *Store) WriteRun(ctx context.Context, rec RunRecord) (int64, error) {
	if rec.ID == "" {
		return 0, fmt.Errorf("write run: id is required")
	}
	summaryJSON, err := marshalSummary(rec.Summary)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if seq, ok, err := existingSeq(ctx, tx, "runs", rec.ID); err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	} else if ok {
		return seq, nil
	}

	seq, err := nextSeq(ctx, tx, "runs")
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, flow, registry, graph_key, status, error, steps, nodes, pipelines, duration_ns, summary, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		seq,
		rec.Flow,
		rec.Registry,
		rec.GraphKey,
		rec.Status,
		rec.Error,
		rec.Steps,
		rec.Nodes,
		rec.Pipelines,
		rec.Duration.Nanoseconds(),
		summaryJSON,
		formatTime(rec.RecordedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	for _, pt := range rec.Phases {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO phase_timings (run_id, ordinal, phase, duration_ns)
			VALUES (?, ?, ?, ?)
		`, rec.ID, pt.Ordinal, pt.Phase, pt.Duration.Nanoseconds()); err != nil {
			return 0, fmt.Errorf("write run: phase %s: %w", pt.Phase, err)
		}
		for i, rt := range pt.Rules {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rule_timings (run_id, ordinal, position, rule, duration_ns)
				VALUES (?, ?, ?, ?, ?)
			`, rec.ID, pt.Ordinal, i, rt.Rule, rt.Duration.Nanoseconds()); err != nil {
				return 0, fmt.Errorf("write run: rule %s: %w", rt.Rule, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, nil
}

// WriteRace inserts a race with its contenders and returns the assigned
// seq. Writing the same race ID twice keeps the first record.
func (s *Store) WriteRace(ctx context.Context, rec RaceRecord) (int64, error) {
	if rec.ID == "" {
		return 0, fmt.Errorf("write race: id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write race: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if seq, ok, err := existingSeq(ctx, tx, "races", rec.ID); err != nil {
		return 0, fmt.Errorf("write race: %w", err)
	} else if ok {
		return seq, nil
	}

	seq, err := nextSeq(ctx, tx, "races")
	if err != nil {
		return 0, fmt.Errorf("write race: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO races (id, seq, flow, selection, winner, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, seq, rec.Flow, rec.Selection, rec.Winner, formatTime(rec.RecordedAt)); err != nil {
		return 0, fmt.Errorf("write race: %w", err)
	}

	for i, e := range rec.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO race_entries (race_id, position, registry, run_id, status)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, i, e.Registry, e.RunID, e.Status); err != nil {
			return 0, fmt.Errorf("write race: entry %s: %w", e.Registry, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write race: commit: %w", err)
	}
	return seq, nil
}

// nextSeq returns the next logical clock value of table.
func nextSeq(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var seq int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s", table)
	if err := tx.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

func existingSeq(ctx context.Context, tx *sql.Tx, table, id string) (int64, bool, error) {
	var seq int64
	query := fmt.Sprintf("SELECT seq FROM %s WHERE id = ?", table)
	err := tx.QueryRowContext(ctx, query, id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", id, err)
	}
	return seq, true, nil
}
