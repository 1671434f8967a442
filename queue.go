package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/metrics"
)

// TriggerRequest asks for one run of a workflow.
type TriggerRequest struct {
	WorkflowID string
	// UserID is the caller. Webhook and scheduled triggers may leave it
	// empty to run as the workflow owner.
	UserID  string
	Payload Payload
}

// Dispatcher hands a persisted job to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Queue is the single entry point for trigger events. Enqueue persists a
// job and returns; execution happens elsewhere.
type Queue struct {
	graphs     GraphLoader
	jobs       JobStore
	dispatcher Dispatcher
	topics     TopicCloser
	logger     *slog.Logger
	now        func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithTopicCloser lets Cancel end the status streams of a job canceled
// before it started running.
func WithTopicCloser(c TopicCloser) QueueOption {
	return func(q *Queue) { q.topics = c }
}

// NewQueue builds a queue. dispatcher may be nil, in which case jobs wait
// in the store until a Worker recovers them.
func NewQueue(graphs GraphLoader, jobs JobStore, dispatcher Dispatcher, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		graphs:     graphs,
		jobs:       jobs,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates the request, records a queued job and returns its id.
// A missing workflow or an unauthorized caller yields a *QueueIntakeError
// and no job record.
func (q *Queue) Enqueue(ctx context.Context, req TriggerRequest) (string, error) {
	if req.Payload == nil {
		req.Payload = ManualPayload{}
	}
	trigger := req.Payload.TriggerType()

	g, err := q.graphs.LoadGraph(ctx, req.WorkflowID)
	if errors.Is(err, ErrWorkflowNotFound) {
		metrics.RecordIntakeRejection("not_found")
		return "", &QueueIntakeError{WorkflowID: req.WorkflowID, Err: ErrWorkflowNotFound}
	}
	if err != nil {
		return "", fmt.Errorf("flow: enqueue: load workflow: %w", err)
	}

	userID, err := authorize(g, trigger, req.UserID)
	if err != nil {
		metrics.RecordIntakeRejection("unauthorized")
		return "", &QueueIntakeError{WorkflowID: req.WorkflowID, Err: err}
	}

	payload, err := EncodePayload(req.Payload)
	if err != nil {
		return "", err
	}

	now := q.now()
	job := &Job{
		ID:             uuid.NewString(),
		WorkflowID:     req.WorkflowID,
		UserID:         userID,
		TriggerType:    trigger,
		TriggerPayload: payload,
		Status:         JobQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("flow: enqueue: create job: %w", err)
	}
	metrics.RecordEnqueued(string(trigger))

	logger := q.logger.With(log.JobIDKey, job.ID, log.WorkflowIDKey, job.WorkflowID)
	logger.Info("job enqueued", "trigger", trigger)

	if q.dispatcher != nil {
		if err := q.dispatcher.Dispatch(ctx, job.ID); err != nil {
			// The job stays queued and is picked up on recovery.
			logger.Warn("dispatch failed", "error", err)
		}
	}
	return job.ID, nil
}

// Cancel marks a queued or running job canceled. A running job stops at
// its next node boundary and its orchestrator closes the job topic; for a
// queued job Cancel closes it.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := q.jobs.UpdateJobStatus(ctx, jobID, JobCanceled, "canceled by request"); err != nil {
		return err
	}
	q.logger.Info("job canceled", log.JobIDKey, jobID)
	if job.Status == JobQueued && q.topics != nil {
		q.topics.CloseTopic(JobTopic(jobID))
	}
	return nil
}

// authorize resolves the user a job runs as.
func authorize(g *Graph, trigger TriggerType, userID string) (string, error) {
	if g.OwnerID == "" {
		return userID, nil
	}
	if userID == "" && trigger != TriggerManual {
		return g.OwnerID, nil
	}
	if userID != g.OwnerID {
		return "", ErrUnauthorized
	}
	return userID, nil
}
