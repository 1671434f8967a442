package flow

import (
	"context"
	"encoding/json"
)

// GraphLoader fetches the workflow snapshot a run executes.
type GraphLoader interface {
	// LoadGraph returns ErrWorkflowNotFound if the workflow does not exist.
	LoadGraph(ctx context.Context, workflowID string) (*Graph, error)
}

// WorkflowStore persists workflow snapshots on behalf of the authoring
// collaborator.
type WorkflowStore interface {
	GraphLoader

	// SaveWorkflow replaces the stored snapshot for g.WorkflowID.
	SaveWorkflow(ctx context.Context, g *Graph) error
	DeleteWorkflow(ctx context.Context, workflowID string) error
}

// JobStore persists execution jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	// GetJob returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// UpdateJobStatus moves a job to status. The change is applied only if
	// the stored status may transition to it; otherwise a *TransitionError
	// is returned. errMsg is stored with the job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error
	// SaveResult stores the outcome of a run.
	SaveResult(ctx context.Context, jobID string, result *Result) error
	// ListJobs returns jobs in any of the given statuses, oldest first.
	ListJobs(ctx context.Context, statuses ...JobStatus) ([]*Job, error)
}

// StepLog is the durable write-ahead log behind the Step Runner, keyed by
// (jobID, stepName).
type StepLog interface {
	RecordStepResult(ctx context.Context, jobID, stepName string, result json.RawMessage) error
	// LookupStepResult reports ok=false when the step has no record.
	LookupStepResult(ctx context.Context, jobID, stepName string) (result json.RawMessage, ok bool, err error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	WorkflowStore
	JobStore
	StepLog
}
