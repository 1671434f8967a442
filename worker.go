package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/meikuraledutech/flow/internal/log"
)

// ErrQueueFull is returned by Worker.Dispatch when the buffer is full. The
// job remains queued in the store and is picked up by the next poll.
var ErrQueueFull = errors.New("flow: worker queue is full")

// JobRunner executes jobs. *Orchestrator implements it.
type JobRunner interface {
	Run(ctx context.Context, jobID string) (*Result, error)
	Resume(ctx context.Context, jobID string) (*Result, error)
}

// WorkerConfig sizes a Worker.
type WorkerConfig struct {
	// Concurrency is the number of jobs run at once. Default 2.
	Concurrency int
	// QueueSize bounds dispatched jobs waiting for a slot. Default 128.
	QueueSize int
	// PollInterval, if set, periodically dispatches queued jobs found in
	// the store, such as jobs enqueued by another process.
	PollInterval time.Duration
}

type task struct {
	jobID  string
	resume bool
}

// Worker runs dispatched jobs on a fixed pool of goroutines.
type Worker struct {
	runner JobRunner
	jobs   JobStore
	cfg    WorkerConfig
	logger *slog.Logger
	tasks  chan task
	wg     sync.WaitGroup
}

// NewWorker returns a stopped worker.
func NewWorker(runner JobRunner, jobs JobStore, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runner: runner,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
		tasks:  make(chan task, cfg.QueueSize),
	}
}

// Dispatch schedules a queued job without waiting for it to run.
func (w *Worker) Dispatch(ctx context.Context, jobID string) error {
	return w.offer(ctx, task{jobID: jobID}, false)
}

func (w *Worker) offer(ctx context.Context, t task, wait bool) error {
	if !wait {
		select {
		case w.tasks <- t:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case w.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the pool. It returns immediately; the pool stops when
// ctx is done. Use Wait to block until in-flight jobs have returned.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx, i)
		}()
	}
	if w.cfg.PollInterval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.poll(ctx)
		}()
	}
}

// Wait blocks until every goroutine started by Start has exited.
func (w *Worker) Wait() { w.wg.Wait() }

// Recover dispatches jobs left behind by a previous process: queued jobs
// are run, running jobs are resumed.
func (w *Worker) Recover(ctx context.Context) error {
	jobs, err := w.jobs.ListJobs(ctx, JobQueued, JobRunning)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		t := task{jobID: job.ID, resume: job.Status == JobRunning}
		if err := w.offer(ctx, t, true); err != nil {
			return err
		}
	}
	if len(jobs) > 0 {
		w.logger.Info("recovered jobs", "count", len(jobs))
	}
	return nil
}

func (w *Worker) loop(ctx context.Context, id int) {
	logger := w.logger.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.tasks:
			w.handle(ctx, logger, t)
		}
	}
}

func (w *Worker) handle(ctx context.Context, logger *slog.Logger, t task) {
	logger = logger.With(log.JobIDKey, t.jobID)

	run := w.runner.Run
	if t.resume {
		run = w.runner.Resume
	}
	result, err := run(ctx, t.jobID)

	var cycle *GraphCycleError
	switch {
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrJobActive):
		logger.Debug("job not claimable", "error", err)
	case errors.As(err, &cycle):
		logger.Error("job rejected", "error", err)
	case err != nil:
		logger.Error("job run failed", "error", err)
	default:
		logger.Info("job done", "status", result.Status)
	}
}

func (w *Worker) poll(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := w.jobs.ListJobs(ctx, JobQueued)
			if err != nil {
				w.logger.Warn("poll queued jobs", "error", err)
				continue
			}
			for _, job := range jobs {
				if err := w.Dispatch(ctx, job.ID); err != nil {
					break
				}
			}
		}
	}
}
