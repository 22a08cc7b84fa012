package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/researchledger/internal/model"
)

// InsertJob creates a job in its initial state.
func (db *DB) InsertJob(id, question, state string) error {
	_, err := db.conn.Exec(
		"INSERT INTO jobs (id, question, state) VALUES (?, ?, ?)",
		id, question, state,
	)
	return err
}

// UpdateJobState moves a job to a new state and records the transition.
func (db *DB) UpdateJobState(id, from, to string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO state_transitions (job_id, from_state, to_state) VALUES (?, ?, ?)",
		id, from, to,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"UPDATE jobs SET state = ?, updated_at = datetime('now') WHERE id = ?",
		to, id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePlanDraft stores a plan revision and makes it the job's current plan.
func (db *DB) SavePlanDraft(id string, revision int, plan model.ResearchPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO plan_drafts (job_id, revision, plan_json) VALUES (?, ?, ?)",
		id, revision, string(data),
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"UPDATE jobs SET plan_json = ?, revisions = ?, updated_at = datetime('now') WHERE id = ?",
		string(data), revision, id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertDecision records a reviewer decision.
func (db *DB) InsertDecision(id string, revision int, action, feedback string) error {
	var fb *string
	if feedback != "" {
		fb = &feedback
	}
	_, err := db.conn.Exec(
		"INSERT INTO decisions (job_id, revision, action, feedback) VALUES (?, ?, ?, ?)",
		id, revision, action, fb,
	)
	return err
}

// FinishJob writes the final job record and replaces its evidence rows.
func (db *DB) FinishJob(o Outcome) error {
	enc := func(v any) (*string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		s := string(data)
		return &s, nil
	}

	var planJSON, schemaJSON *string
	var err error
	if o.Plan != nil {
		if planJSON, err = enc(o.Plan); err != nil {
			return fmt.Errorf("encoding plan: %w", err)
		}
	}
	if o.Schema != nil {
		if schemaJSON, err = enc(o.Schema); err != nil {
			return fmt.Errorf("encoding schema: %w", err)
		}
	}
	costJSON, err := enc(o.Cost)
	if err != nil {
		return err
	}
	planningJSON, err := enc(o.PlanningCost)
	if err != nil {
		return err
	}
	statsJSON, err := enc(o.Stats)
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE jobs SET scope = ?, state = ?, revisions = ?, plan_json = COALESCE(?, plan_json),
		schema_json = ?, stop_reason = ?, cost_json = ?, planning_cost_json = ?, stats_json = ?,
		updated_at = datetime('now')
		WHERE id = ?`,
		o.Scope, o.State, o.Revisions, planJSON, schemaJSON, nullable(o.StopReason),
		costJSON, planningJSON, statsJSON, o.ID,
	); err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM evidence_rows WHERE job_id = ?", o.ID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO evidence_rows (job_id, row_id, row_type, question_id, section, statement,
		supports_row_ids, source_url, source_name, source_date, confidence, dynamic_fields, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range o.Rows {
		fields, err := enc(r.DynamicFields)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(o.ID, r.RowID, string(r.RowType), r.QuestionID, r.Section, r.Statement,
			nullable(r.SupportsRowIDs), r.SourceURL, r.SourceName, r.SourceDate, string(r.Confidence),
			fields, nullable(r.Notes)); err != nil {
			return fmt.Errorf("inserting row %d: %w", r.RowID, err)
		}
	}
	return tx.Commit()
}

const jobColumns = `j.id, j.question, j.scope, j.state, j.revisions, j.plan_json, j.schema_json,
	j.stop_reason, j.cost_json, j.planning_cost_json, j.stats_json, j.created_at, j.updated_at,
	(SELECT COUNT(*) FROM evidence_rows r WHERE r.job_id = j.id)`

// GetJob returns a job by ID, or nil if it does not exist.
func (db *DB) GetJob(id string) (*Job, error) {
	row := db.conn.QueryRow("SELECT "+jobColumns+" FROM jobs j WHERE j.id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// ListJobs returns the most recent jobs first. A non-positive limit returns
// all jobs.
func (db *DB) ListJobs(limit int) ([]Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs j ORDER BY j.created_at DESC, j.rowid DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CountJobsByState returns the number of jobs in each state.
func (db *DB) CountJobsByState() (map[string]int, error) {
	rows, err := db.conn.Query("SELECT state, COUNT(*) FROM jobs GROUP BY state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var planJSON, schemaJSON, costJSON, planningJSON, statsJSON *string
	if err := s.Scan(&j.ID, &j.Question, &j.Scope, &j.State, &j.Revisions, &planJSON, &schemaJSON,
		&j.StopReason, &costJSON, &planningJSON, &statsJSON, &j.CreatedAt, &j.UpdatedAt, &j.RowCount); err != nil {
		return nil, err
	}
	if planJSON != nil {
		var p model.ResearchPlan
		if err := json.Unmarshal([]byte(*planJSON), &p); err != nil {
			return nil, fmt.Errorf("decoding plan of job %s: %w", j.ID, err)
		}
		j.Plan = &p
	}
	if schemaJSON != nil {
		var sc model.LedgerSchema
		if err := json.Unmarshal([]byte(*schemaJSON), &sc); err != nil {
			return nil, fmt.Errorf("decoding schema of job %s: %w", j.ID, err)
		}
		j.Schema = &sc
	}
	for _, f := range []struct {
		raw *string
		out any
	}{{costJSON, &j.Cost}, {planningJSON, &j.PlanningCost}, {statsJSON, &j.Stats}} {
		if f.raw == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*f.raw), f.out); err != nil {
			return nil, fmt.Errorf("decoding job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
