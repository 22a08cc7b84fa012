package store

import (
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/researchledger/internal/model"
)

// GetRows returns a job's evidence rows in row order.
func (db *DB) GetRows(jobID string) ([]model.EvidenceRow, error) {
	rows, err := db.conn.Query(
		`SELECT row_id, row_type, question_id, section, statement, supports_row_ids, source_url,
		source_name, source_date, confidence, dynamic_fields, notes
		FROM evidence_rows WHERE job_id = ? ORDER BY row_id`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EvidenceRow
	for rows.Next() {
		var r model.EvidenceRow
		var rowType, confidence string
		var section, supports, url, name, date, fields, notes *string
		if err := rows.Scan(&r.RowID, &rowType, &r.QuestionID, &section, &r.Statement, &supports,
			&url, &name, &date, &confidence, &fields, &notes); err != nil {
			return nil, err
		}
		r.RowType = model.RowType(rowType)
		r.Confidence = model.Confidence(confidence)
		r.Section = deref(section)
		r.SupportsRowIDs = deref(supports)
		r.SourceURL = deref(url)
		r.SourceName = deref(name)
		r.SourceDate = deref(date)
		r.Notes = deref(notes)
		if fields != nil && *fields != "null" {
			if err := json.Unmarshal([]byte(*fields), &r.DynamicFields); err != nil {
				return nil, fmt.Errorf("decoding fields of row %d: %w", r.RowID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPlanDrafts returns every plan revision of a job.
func (db *DB) GetPlanDrafts(jobID string) ([]PlanDraft, error) {
	rows, err := db.conn.Query(
		"SELECT job_id, revision, plan_json, created_at FROM plan_drafts WHERE job_id = ? ORDER BY revision",
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []PlanDraft
	for rows.Next() {
		var d PlanDraft
		var raw string
		if err := rows.Scan(&d.JobID, &d.Revision, &raw, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &d.Plan); err != nil {
			return nil, fmt.Errorf("decoding draft %d: %w", d.Revision, err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// GetDecisions returns a job's reviewer decisions in order.
func (db *DB) GetDecisions(jobID string) ([]Decision, error) {
	rows, err := db.conn.Query(
		"SELECT job_id, revision, action, feedback, decided_at FROM decisions WHERE job_id = ? ORDER BY id",
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.JobID, &d.Revision, &d.Action, &d.Feedback, &d.DecidedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetTransitions returns a job's state history.
func (db *DB) GetTransitions(jobID string) ([]Transition, error) {
	rows, err := db.conn.Query(
		"SELECT from_state, to_state, changed_at FROM state_transitions WHERE job_id = ? ORDER BY id",
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.From, &t.To, &t.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
