package flow

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of an ExecutionJob.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// CanTransition reports whether a job may move from s to next.
// Transitions only move forward: a terminal job never changes again and
// nothing returns to queued.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobRunning || next == JobCanceled
	case JobRunning:
		return next == JobSucceeded || next == JobFailed || next == JobCanceled
	}
	return false
}

// AllowedFrom returns the statuses a job may be in to move to next.
// Stores use it to build conditional updates.
func AllowedFrom(next JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range []JobStatus{JobQueued, JobRunning} {
		if s.CanTransition(next) {
			from = append(from, s)
		}
	}
	return from
}

// Job is one queued, trackable execution attempt of a workflow.
type Job struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	UserID         string          `json:"user_id,omitempty"`
	TriggerType    TriggerType     `json:"trigger_type"`
	TriggerPayload json.RawMessage `json:"trigger_payload,omitempty"`
	Status         JobStatus       `json:"status"`
	Error          string          `json:"error,omitempty"`
	Result         *Result         `json:"result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NodeStatus is the per-node execution state published on the status
// channel and recorded in a Result.
type NodeStatus string

const (
	NodeQueued  NodeStatus = "queued"
	NodeLoading NodeStatus = "loading"
	NodeSuccess NodeStatus = "success"
	NodeError   NodeStatus = "error"
	NodeSkipped NodeStatus = "skipped"
)

// Terminal reports whether the node has finished, one way or another.
func (s NodeStatus) Terminal() bool {
	return s == NodeSuccess || s == NodeError || s == NodeSkipped
}

// Result is the persisted outcome of a run.
type Result struct {
	Status     JobStatus                  `json:"status"`
	Order      []string                   `json:"order,omitempty"`
	Nodes      map[string]NodeStatus      `json:"nodes"`
	Outputs    map[string]json.RawMessage `json:"outputs,omitempty"`
	Errors     map[string]string          `json:"errors,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
}
