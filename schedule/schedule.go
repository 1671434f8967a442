// Package schedule fires scheduled triggers from cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/internal/log"
)

// Entry binds a cron expression to a workflow.
type Entry struct {
	WorkflowID string `yaml:"workflow_id"`
	// Spec is a standard five-field cron expression or a descriptor such
	// as @hourly or @every 5m.
	Spec string `yaml:"spec"`
	// UserID is the user the run is attributed to. Empty runs as the
	// workflow owner.
	UserID string `yaml:"user_id"`
}

// Enqueuer accepts trigger requests. *flow.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req flow.TriggerRequest) (string, error)
}

// Scheduler enqueues a job each time an entry's schedule fires.
type Scheduler struct {
	cron   *cron.Cron
	queue  Enqueuer
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New returns a stopped scheduler evaluating schedules in loc. A nil loc
// means UTC.
func New(queue Enqueuer, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		queue:   queue,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules e, replacing any schedule already set for the workflow.
func (s *Scheduler) Add(e Entry) error {
	if e.WorkflowID == "" {
		return fmt.Errorf("schedule: workflow id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(e.Spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("schedule: %s: invalid spec %q: %w", e.WorkflowID, e.Spec, err)
	}
	if old, ok := s.entries[e.WorkflowID]; ok {
		s.cron.Remove(old)
	}
	s.entries[e.WorkflowID] = id
	s.logger.Info("schedule added", log.WorkflowIDKey, e.WorkflowID, "spec", e.Spec)
	return nil
}

// Remove stops the schedule of workflowID.
func (s *Scheduler) Remove(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[workflowID]; ok {
		s.cron.Remove(id)
		delete(s.entries, workflowID)
	}
}

// Next returns the next firing time of workflowID's schedule. It is zero
// until the scheduler has started.
func (s *Scheduler) Next(workflowID string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[workflowID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler. The returned context is done once running
// firings have returned.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

func (s *Scheduler) fire(e Entry) {
	logger := s.logger.With(log.WorkflowIDKey, e.WorkflowID)
	jobID, err := s.queue.Enqueue(context.Background(), flow.TriggerRequest{
		WorkflowID: e.WorkflowID,
		UserID:     e.UserID,
		Payload:    flow.ScheduledPayload{Schedule: e.Spec, FiredAt: s.now().UTC()},
	})
	if err != nil {
		logger.Error("scheduled trigger rejected", "error", err)
		return
	}
	logger.Info("scheduled trigger fired", log.JobIDKey, jobID)
}
