package store

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    scope TEXT,
    state TEXT NOT NULL,
    revisions INTEGER DEFAULT 0,
    plan_json TEXT,
    schema_json TEXT,
    stop_reason TEXT,
    cost_json TEXT,
    planning_cost_json TEXT,
    stats_json TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS state_transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(id),
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    changed_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS plan_drafts (
    job_id TEXT NOT NULL REFERENCES jobs(id),
    revision INTEGER NOT NULL,
    plan_json TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (job_id, revision)
);

CREATE TABLE IF NOT EXISTS decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(id),
    revision INTEGER NOT NULL,
    action TEXT NOT NULL CHECK(action IN ('approve', 'edit', 'reject')),
    feedback TEXT,
    decided_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS evidence_rows (
    job_id TEXT NOT NULL REFERENCES jobs(id),
    row_id INTEGER NOT NULL,
    row_type TEXT NOT NULL,
    question_id TEXT NOT NULL,
    section TEXT,
    statement TEXT NOT NULL,
    supports_row_ids TEXT,
    source_url TEXT,
    source_name TEXT,
    source_date TEXT,
    confidence TEXT,
    dynamic_fields TEXT,
    notes TEXT,
    PRIMARY KEY (job_id, row_id)
);

CREATE INDEX IF NOT EXISTS idx_state_transitions_job ON state_transitions(job_id);
CREATE INDEX IF NOT EXISTS idx_decisions_job ON decisions(job_id);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "job listing and source lookup indexes",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_evidence_rows_source ON evidence_rows(source_url);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
