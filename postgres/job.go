package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meikuraledutech/flow"
)

const jobColumns = `id, workflow_id, user_id, trigger_type, trigger_payload, status, error, result, created_at, updated_at`

// CreateJob inserts a job record.
func (s *PGStore) CreateJob(ctx context.Context, job *flow.Job) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO flow_jobs (id, workflow_id, user_id, trigger_type, trigger_payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.WorkflowID, job.UserID, string(job.TriggerType), []byte(job.TriggerPayload),
		string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("flow: insert job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*flow.Job, error) {
	var (
		job                    flow.Job
		trigger, status        string
		payload, resultPayload []byte
	)
	if err := row.Scan(
		&job.ID, &job.WorkflowID, &job.UserID, &trigger, &payload,
		&status, &job.Error, &resultPayload, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.TriggerType = flow.TriggerType(trigger)
	job.Status = flow.JobStatus(status)
	job.TriggerPayload = payload
	if len(resultPayload) > 0 {
		var r flow.Result
		if err := json.Unmarshal(resultPayload, &r); err != nil {
			return nil, fmt.Errorf("flow: decode result: %w", err)
		}
		job.Result = &r
	}
	return &job, nil
}

// GetJob fetches a job by id.
// Returns flow.ErrJobNotFound if not found.
func (s *PGStore) GetJob(ctx context.Context, jobID string) (*flow.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM flow_jobs WHERE id = $1`, jobID))
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("flow: get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus changes the status only if the stored status may
// transition to it, so concurrent workers cannot both claim a job.
func (s *PGStore) UpdateJobStatus(ctx context.Context, jobID string, status flow.JobStatus, errMsg string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE flow_jobs SET status = $2, error = $3, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)`,
		jobID, string(status), errMsg, statusStrings(flow.AllowedFrom(status)),
	)
	if err != nil {
		return fmt.Errorf("flow: update job status: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx, `SELECT status FROM flow_jobs WHERE id = $1`, jobID).Scan(&current)
	if isNoRows(err) {
		return fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("flow: get job status: %w", err)
	}
	return &flow.TransitionError{JobID: jobID, From: flow.JobStatus(current), To: status}
}

// SaveResult stores the run outcome on the job row.
func (s *PGStore) SaveResult(ctx context.Context, jobID string, result *flow.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("flow: encode result: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE flow_jobs SET result = $2, updated_at = NOW() WHERE id = $1`, jobID, payload)
	if err != nil {
		return fmt.Errorf("flow: save result: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	return nil
}

// ListJobs returns jobs in the given statuses (all jobs if none), oldest first.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListJobs(ctx context.Context, statuses ...flow.JobStatus) ([]*flow.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM flow_jobs ORDER BY created_at`
	args := []any{}
	if len(statuses) > 0 {
		query = `SELECT ` + jobColumns + ` FROM flow_jobs WHERE status = ANY($1) ORDER BY created_at`
		args = append(args, statusStrings(statuses))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("flow: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*flow.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("flow: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows jobs: %w", err)
	}
	return jobs, nil
}
