// Package store provides SQLite-backed storage for planner runs.
//
// Each executor run becomes a row in runs with its level counts, outcome,
// serialised summary and per-phase and per-rule timings. Races add a row in
// races listing every contender and the winner.
//
// # Ordering
//
// All ordering uses seq, a logical clock assigned on insert, never the
// recorded_at timestamp. Queries order by seq ASC, id ASC COLLATE BINARY so
// results are identical across machines.
//
// # Schema
//
// Open creates the tables from the embedded schema.sql and then applies the
// migrations above the database's user_version, one transaction each. A
// database migrated by a newer flowplan is refused. Every connection runs
// in WAL mode with synchronous=NORMAL, a 5 second busy timeout and foreign
// keys on; Open reads each setting back before use.
package store
