// Package memory is an in-process flow.Store. It keeps nothing across
// restarts and suits tests, examples and single-shot runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meikuraledutech/flow"
)

var _ flow.Store = (*Store)(nil)

// Store implements flow.Store with maps guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*flow.Graph
	jobs      map[string]*flow.Job
	steps     map[string]map[string]json.RawMessage
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		workflows: make(map[string]*flow.Graph),
		jobs:      make(map[string]*flow.Job),
		steps:     make(map[string]map[string]json.RawMessage),
		now:       time.Now,
	}
}

// SaveWorkflow stores a copy of g, replacing any previous snapshot.
func (s *Store) SaveWorkflow(ctx context.Context, g *flow.Graph) error {
	if g.WorkflowID == "" {
		return fmt.Errorf("memory: workflow id is required")
	}
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[g.WorkflowID] = cloneGraph(g)
	return nil
}

// LoadGraph returns a copy of the stored snapshot.
func (s *Store) LoadGraph(ctx context.Context, workflowID string) (*flow.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", flow.ErrWorkflowNotFound, workflowID)
	}
	return cloneGraph(g), nil
}

// DeleteWorkflow removes a workflow. No error if it does not exist.
func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, workflowID)
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job *flow.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("memory: job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*flow.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status flow.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	if !job.Status.CanTransition(status) {
		return &flow.TransitionError{JobID: jobID, From: job.Status, To: status}
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = s.now()
	return nil
}

func (s *Store) SaveResult(ctx context.Context, jobID string, result *flow.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", flow.ErrJobNotFound, jobID)
	}
	job.Result = result
	job.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListJobs(ctx context.Context, statuses ...flow.JobStatus) ([]*flow.Job, error) {
	want := make(map[flow.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := []*flow.Job{}
	for _, job := range s.jobs {
		if len(want) == 0 || want[job.Status] {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *Store) RecordStepResult(ctx context.Context, jobID, stepName string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.steps[jobID]
	if !ok {
		steps = make(map[string]json.RawMessage)
		s.steps[jobID] = steps
	}
	if _, done := steps[stepName]; done {
		return nil
	}
	steps[stepName] = append(json.RawMessage(nil), result...)
	return nil
}

func (s *Store) LookupStepResult(ctx context.Context, jobID, stepName string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.steps[jobID][stepName]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), r...), true, nil
}

func cloneGraph(g *flow.Graph) *flow.Graph {
	cp := &flow.Graph{
		WorkflowID:  g.WorkflowID,
		OwnerID:     g.OwnerID,
		Nodes:       make([]flow.Node, len(g.Nodes)),
		Connections: append([]flow.Connection(nil), g.Connections...),
	}
	for i, n := range g.Nodes {
		n.Data = append(json.RawMessage(nil), n.Data...)
		cp.Nodes[i] = n
	}
	return cp
}
