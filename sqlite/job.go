package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meikuraledutech/flow"
)

const jobColumns = `id, workflow_id, user_id, trigger_type, trigger_payload, status, error, result, created_at, updated_at`

func (s *Store) CreateJob(ctx context.Context, job *flow.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, workflow_id, user_id, trigger_type, trigger_payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.UserID, string(job.TriggerType), nullBytes(job.TriggerPayload),
		string(job.Status), formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*flow.Job, error) {
	var (
		job                  flow.Job
		trigger, status      string
		payload, result      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.ID, &job.WorkflowID, &job.UserID, &trigger, &payload,
		&status, &job.Error, &result, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.TriggerType = flow.TriggerType(trigger)
	job.Status = flow.JobStatus(status)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	if payload.Valid {
		job.TriggerPayload = json.RawMessage(payload.String)
	}
	if result.Valid && result.String != "" {
		var r flow.Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("sqlite: decode result: %w", err)
		}
		job.Result = &r
	}
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*flow.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus applies the change only from a status allowed to move to
// status.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status flow.JobStatus, errMsg string) error {
	from := flow.AllowedFrom(status)
	args := []any{string(status), errMsg, formatTime(time.Now()), jobID}
	for _, f := range from {
		args = append(args, string(f))
	}

	query := `UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`
	if len(from) > 0 {
		query += ` AND status IN (` + placeholders(len(from)) + `)`
	} else {
		query += ` AND 0`
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: get job status: %w", err)
	}
	return &flow.TransitionError{JobID: jobID, From: flow.JobStatus(current), To: status}
}

func (s *Store) SaveResult(ctx context.Context, jobID string, result *flow.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("sqlite: encode result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET result = ?, updated_at = ? WHERE id = ?`,
		string(payload), formatTime(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("sqlite: save result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	return nil
}

func (s *Store) ListJobs(ctx context.Context, statuses ...flow.JobStatus) ([]*flow.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*flow.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecordStepResult stores a step result; the first write for a step wins.
func (s *Store) RecordStepResult(ctx context.Context, jobID, stepName string, result json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (job_id, step_name, result, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id, step_name) DO NOTHING`,
		jobID, stepName, nullBytes(result), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record step %s: %w", stepName, err)
	}
	return nil
}

func (s *Store) LookupStepResult(ctx context.Context, jobID, stepName string) (json.RawMessage, bool, error) {
	var result sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM steps WHERE job_id = ? AND step_name = ?`, jobID, stepName).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: lookup step %s: %w", stepName, err)
	}
	if !result.Valid {
		return json.RawMessage("null"), true, nil
	}
	return json.RawMessage(result.String), true, nil
}
