package flow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWorkflowNotFound   = errors.New("flow: workflow not found")
	ErrJobNotFound        = errors.New("flow: job not found")
	ErrUnauthorized       = errors.New("flow: caller may not trigger this workflow")
	ErrInvalidTransition  = errors.New("flow: invalid job status transition")
	ErrJobActive          = errors.New("flow: job already has an active run")
	ErrDanglingConnection = errors.New("flow: connection references unknown node")
	ErrDuplicateNode      = errors.New("flow: duplicate node id")
	ErrInvalidNodeID      = errors.New("flow: invalid node id")
	ErrResultExists       = errors.New("flow: node result already recorded")
	ErrExecutorExists     = errors.New("flow: executor already registered")
)

// GraphCycleError reports that a workflow graph contains a cycle and
// cannot be executed. Nodes lists the members of the offending cycles.
type GraphCycleError struct {
	WorkflowID string
	Nodes      []string
}

func (e *GraphCycleError) Error() string {
	if len(e.Nodes) == 0 {
		return fmt.Sprintf("flow: workflow %q contains a cycle", e.WorkflowID)
	}
	return fmt.Sprintf("flow: workflow %q contains a cycle through %s",
		e.WorkflowID, strings.Join(e.Nodes, ", "))
}

// UnknownNodeTypeError is the failure of a node whose type has no
// registered executor.
type UnknownNodeTypeError struct {
	NodeID   string
	NodeType string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("flow: node %q has unknown type %q", e.NodeID, e.NodeType)
}

// ExecutorError wraps an error raised by a node's executor.
type ExecutorError struct {
	NodeID string
	Err    error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("flow: node %q failed: %v", e.NodeID, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// StepPersistenceError means the step log could not be read or written.
// It is transient: the step may be retried safely.
type StepPersistenceError struct {
	JobID string
	Step  string
	Op    string
	Err   error
}

func (e *StepPersistenceError) Error() string {
	return fmt.Sprintf("flow: step log %s %s/%s: %v", e.Op, e.JobID, e.Step, e.Err)
}

func (e *StepPersistenceError) Unwrap() error { return e.Err }

// QueueIntakeError rejects an enqueue request. No job is created.
type QueueIntakeError struct {
	WorkflowID string
	Err        error
}

func (e *QueueIntakeError) Error() string {
	return fmt.Sprintf("flow: cannot enqueue workflow %q: %v", e.WorkflowID, e.Err)
}

func (e *QueueIntakeError) Unwrap() error { return e.Err }

// TransitionError is returned for a rejected job status change.
type TransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("flow: job %s cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return target == ErrJobActive && e.From == JobRunning && e.To == JobRunning
}
