package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration is one step of the run store's schema history. schema.sql holds
// the tables; migrations add what the read side came to need later.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "filter runs by flow and registry",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_runs_flow_registry ON runs(flow, registry)`,
		},
	},
	{
		version: 2,
		name:    "count race wins per registry",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_races_winner ON races(winner, flow)`,
			`CREATE INDEX IF NOT EXISTS idx_race_entries_run ON race_entries(run_id)`,
		},
	},
}

// schemaVersion is the user_version of a fully migrated store.
func schemaVersion() int {
	return migrations[len(migrations)-1].version
}

// pragma is a connection setting Open applies and then reads back.
type pragma struct {
	name   string
	value  string
	accept []string
}

var pragmas = []pragma{
	// In-memory databases cannot use WAL and report memory instead.
	{"journal_mode", "WAL", []string{"wal", "memory"}},
	{"synchronous", "NORMAL", []string{"1"}},
	{"busy_timeout", "5000", []string{"5000"}},
	{"foreign_keys", "ON", []string{"1"}},
}

// Store persists planner runs and races in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the run store at path, creating it when missing, and brings
// its schema up to date. A store written by a newer flowplan is refused.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: pragmas are per connection, and SQLite has one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.prepare(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to set %s: %w", p.name, err)
		}
		if err := s.checkPragma(ctx, p.name, p.accept...); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return s.migrate(ctx)
}

// migrate applies every migration above the stored user_version, each in
// its own transaction together with the version bump.
func (s *Store) migrate(ctx context.Context) error {
	current, err := s.userVersion(ctx)
	if err != nil {
		return err
	}
	if current > schemaVersion() {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion())
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// userVersion returns the schema version recorded in the database.
func (s *Store) userVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) checkPragma(ctx context.Context, name string, accept ...string) error {
	var got string
	if err := s.db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&got); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	for _, want := range accept {
		if strings.EqualFold(got, want) {
			return nil
		}
	}
	return fmt.Errorf("%s = %q, expected one of %q", name, got, accept)
}

// Close releases the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
