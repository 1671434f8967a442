package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/metrics"
)

// DefaultParallelism is the number of nodes of one job that may execute at
// the same time unless configured otherwise.
const DefaultParallelism = 4

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithParallelism bounds concurrently executing nodes per job. 1 runs
// nodes strictly one at a time in topological order.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Orchestrator executes jobs: it loads the graph, orders it, runs every
// node through its executor and records the outcome.
type Orchestrator struct {
	store       Store
	registry    *Registry
	publisher   Publisher
	logger      *slog.Logger
	tracer      trace.Tracer
	parallelism int
	now         func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// NewOrchestrator wires an orchestrator. publisher may be nil.
func NewOrchestrator(store Store, registry *Registry, publisher Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		registry:    registry,
		publisher:   publisher,
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/meikuraledutech/flow"),
		parallelism: DefaultParallelism,
		now:         time.Now,
		active:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run claims a queued job and executes it to completion.
//
// Node failures do not make Run fail: they are recorded in the Result and
// the job ends failed. Run returns an error when the job could not be
// claimed, when the graph is invalid (for example a *GraphCycleError, in
// which case no node runs and the job is marked failed), or when ctx ends
// first. In the last case the job stays running and can be resumed.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (*Result, error) {
	return o.run(ctx, jobID, false)
}

// Resume continues a job left running by an interrupted process. Nodes
// whose output was already recorded are not executed again and steps are
// replayed from the step log.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*Result, error) {
	return o.run(ctx, jobID, true)
}

func (o *Orchestrator) acquire(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[jobID]; busy {
		return false
	}
	o.active[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, jobID)
}

func (o *Orchestrator) run(ctx context.Context, jobID string, resume bool) (*Result, error) {
	if !o.acquire(jobID) {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}
	defer o.release(jobID)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if resume {
		if job.Status != JobRunning {
			return nil, &TransitionError{JobID: jobID, From: job.Status, To: JobRunning}
		}
	} else {
		if err := o.store.UpdateJobStatus(ctx, jobID, JobRunning, ""); err != nil {
			// A job that ended before it was claimed, such as one canceled
			// while queued, still releases its observers.
			var terr *TransitionError
			if errors.As(err, &terr) && terr.From.Terminal() {
				o.closeTopic(jobID)
			}
			return nil, err
		}
		job.Status = JobRunning
	}

	defer metrics.RunStarted()()

	logger := o.logger.With(log.JobIDKey, job.ID, log.WorkflowIDKey, job.WorkflowID)
	ctx = log.WithLogger(ctx, logger)
	ctx, span := o.tracer.Start(ctx, "flow.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("flow.job_id", job.ID),
			attribute.String("flow.workflow_id", job.WorkflowID),
			attribute.String("flow.trigger", string(job.TriggerType)),
			attribute.Bool("flow.resume", resume),
		),
	)
	defer span.End()

	start := o.now()
	logger.Info("run started", "resume", resume)

	g, err := o.store.LoadGraph(ctx, job.WorkflowID)
	if err != nil {
		return nil, o.abort(ctx, span, job, start, fmt.Errorf("flow: load workflow: %w", err))
	}
	order, err := TopologicalSort(g)
	if err != nil {
		return nil, o.abort(ctx, span, job, start, err)
	}
	payload, err := DecodePayload(job.TriggerType, job.TriggerPayload)
	if err != nil {
		return nil, o.abort(ctx, span, job, start, err)
	}

	r := newRun(o, job, g, order, payload, resume)
	ended := r.execute(ctx)

	result := &Result{
		Order:      order,
		Nodes:      r.state,
		Outputs:    r.execCtx.Results(),
		Errors:     r.errors,
		StartedAt:  start,
		FinishedAt: o.now(),
	}

	if ended == outcomeInterrupted {
		result.Status = JobRunning
		logger.Warn("run interrupted, job left running", "error", ctx.Err())
		span.SetStatus(codes.Error, "interrupted")
		return result, ctx.Err()
	}

	status, msg := JobSucceeded, ""
	switch {
	case ended == outcomeCanceled:
		status = JobCanceled
	case r.failed != "":
		status, msg = JobFailed, fmt.Sprintf("node %s failed: %s", r.failed, r.errors[r.failed])
	}
	if status != JobCanceled {
		status, err = o.finish(ctx, job.ID, status, msg)
		if err != nil {
			return result, err
		}
	}
	result.Status = status
	if err := o.store.SaveResult(ctx, job.ID, result); err != nil {
		logger.Error("save result failed", "error", err)
		return result, fmt.Errorf("flow: save result: %w", err)
	}

	o.closeTopic(job.ID)
	elapsed := result.FinishedAt.Sub(start)
	metrics.RecordJobFinished(string(status), elapsed)
	if status == JobFailed {
		span.SetStatus(codes.Error, msg)
	}
	logger.Info("run finished", "status", status, log.DurationKey, elapsed.Milliseconds())
	return result, nil
}

// finish moves the job to its terminal status. If the job was canceled
// after the last node boundary the stored status wins.
func (o *Orchestrator) finish(ctx context.Context, jobID string, status JobStatus, msg string) (JobStatus, error) {
	err := o.store.UpdateJobStatus(ctx, jobID, status, msg)
	if err == nil {
		return status, nil
	}
	if errors.Is(err, ErrInvalidTransition) {
		if job, gerr := o.store.GetJob(ctx, jobID); gerr == nil && job.Status.Terminal() {
			return job.Status, nil
		}
	}
	return status, fmt.Errorf("flow: finish job: %w", err)
}

// abort fails a job before any node ran.
func (o *Orchestrator) abort(ctx context.Context, span trace.Span, job *Job, start time.Time, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	if ctx.Err() != nil {
		return cause
	}

	logger := log.FromContext(ctx)
	logger.Error("run aborted before execution", "error", cause)

	result := &Result{
		Status:     JobFailed,
		Nodes:      map[string]NodeStatus{},
		Errors:     map[string]string{"": cause.Error()},
		StartedAt:  start,
		FinishedAt: o.now(),
	}
	status, err := o.finish(ctx, job.ID, JobFailed, cause.Error())
	if err != nil {
		logger.Error("mark job failed", "error", err)
	}
	result.Status = status
	if err := o.store.SaveResult(ctx, job.ID, result); err != nil {
		logger.Error("save result failed", "error", err)
	}
	o.closeTopic(job.ID)
	metrics.RecordJobFinished(string(status), result.FinishedAt.Sub(start))
	return cause
}

func (o *Orchestrator) closeTopic(jobID string) {
	if closer, ok := o.publisher.(TopicCloser); ok {
		closer.CloseTopic(JobTopic(jobID))
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeCanceled
	outcomeInterrupted
)

type completion struct {
	nodeID string
	err    error
	// interrupted means the node stopped because ctx ended. It is neither
	// a success nor a failure and is run again on resume.
	interrupted bool
}

// run is the state of one job execution. The maps after resume are owned
// by the scheduling loop in execute.
type run struct {
	o        *Orchestrator
	job      *Job
	nodes    map[string]Node
	order    []string
	position map[string]int
	succs    map[string][]string
	execCtx  *ExecutionContext
	steps    *StepRunner
	resume   bool

	state     map[string]NodeStatus
	errors    map[string]string
	remaining map[string]int
	failed    string
}

func newRun(o *Orchestrator, job *Job, g *Graph, order []string, payload Payload, resume bool) *run {
	r := &run{
		o:         o,
		job:       job,
		nodes:     make(map[string]Node, len(g.Nodes)),
		order:     order,
		position:  make(map[string]int, len(order)),
		succs:     g.successors(),
		execCtx:   NewExecutionContext(payload),
		steps:     NewStepRunner(o.store, job.ID),
		resume:    resume,
		state:     make(map[string]NodeStatus, len(order)),
		errors:    make(map[string]string),
		remaining: make(map[string]int, len(order)),
	}
	for _, n := range g.Nodes {
		r.nodes[n.ID] = n
	}
	for i, id := range order {
		r.position[id] = i
		r.state[id] = NodeQueued
	}
	for id, preds := range g.predecessors() {
		r.remaining[id] = len(preds)
	}
	return r
}

// execute schedules nodes as their predecessors succeed, at most
// parallelism at a time, and waits for every started node to finish.
func (r *run) execute(ctx context.Context) outcome {
	var ready []string
	for _, id := range r.order {
		if r.remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	results := make(chan completion)
	running := 0
	result := outcomeDone

	for {
		for len(ready) > 0 && running < r.o.parallelism && result == outcomeDone {
			if ctx.Err() != nil {
				result = outcomeInterrupted
				break
			}
			if r.canceled(ctx) {
				result = outcomeCanceled
				break
			}
			id := ready[0]
			ready = ready[1:]
			r.state[id] = NodeLoading
			running++
			go func() { results <- r.runNode(ctx, id) }()
		}
		if running == 0 {
			break
		}

		c := <-results
		running--
		if c.interrupted {
			result = outcomeInterrupted
			continue
		}
		ready = r.complete(c, ready)
	}

	if ctx.Err() != nil && result == outcomeDone {
		result = outcomeInterrupted
	}

	if result == outcomeCanceled {
		for id, s := range r.state {
			if !s.Terminal() {
				r.state[id] = NodeSkipped
				metrics.RecordNode(r.nodes[id].Type, string(NodeSkipped), 0)
			}
		}
	}
	return result
}

// canceled checks the job record at a node boundary.
func (r *run) canceled(ctx context.Context) bool {
	job, err := r.o.store.GetJob(ctx, r.job.ID)
	if err != nil {
		log.FromContext(ctx).Warn("cancellation check failed", "error", err)
		return false
	}
	return job.Status == JobCanceled
}

func (r *run) complete(c completion, ready []string) []string {
	if c.err != nil {
		r.state[c.nodeID] = NodeError
		r.errors[c.nodeID] = publicMessage(c.err)
		if r.failed == "" {
			r.failed = c.nodeID
		}
		r.skipDependents(c.nodeID)
		return ready
	}

	r.state[c.nodeID] = NodeSuccess
	for _, next := range r.succs[c.nodeID] {
		r.remaining[next]--
		if r.remaining[next] == 0 && r.state[next] == NodeQueued {
			ready = r.insertReady(ready, next)
		}
	}
	return ready
}

// insertReady keeps the ready list in topological order.
func (r *run) insertReady(ready []string, id string) []string {
	i := len(ready)
	for i > 0 && r.position[ready[i-1]] > r.position[id] {
		i--
	}
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = id
	return ready
}

// skipDependents marks every node reachable from id as skipped.
func (r *run) skipDependents(id string) {
	stack := append([]string(nil), r.succs[id]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r.state[next] != NodeQueued {
			continue
		}
		r.state[next] = NodeSkipped
		metrics.RecordNode(r.nodes[next].Type, string(NodeSkipped), 0)
		stack = append(stack, r.succs[next]...)
	}
}

func outputKey(nodeID string) string { return nodeID + "#output" }

// runNode executes one node and records its output. It runs on its own
// goroutine and touches only concurrency-safe run state.
func (r *run) runNode(ctx context.Context, id string) completion {
	node := r.nodes[id]
	logger := log.FromContext(ctx).With(log.NodeIDKey, id, log.NodeTypeKey, node.Type)
	ctx = log.WithLogger(ctx, logger)
	ctx, span := r.o.tracer.Start(ctx, "flow.node",
		trace.WithAttributes(
			attribute.String("flow.node_id", id),
			attribute.String("flow.node_type", node.Type),
		),
	)
	defer span.End()

	pub := &nodePublisher{run: r, nodeID: id}
	start := time.Now()

	if r.resume {
		out, ok, err := r.o.store.LookupStepResult(ctx, r.job.ID, outputKey(id))
		if err != nil {
			logger.Warn("lookup recorded output failed", "error", err)
		}
		if ok {
			pub.publish(NodeLoading, nil)
			if err := r.execCtx.Set(id, out); err != nil {
				logger.Warn("restore output", "error", err)
			}
			pub.publish(NodeSuccess, nil)
			logger.Debug("node output restored from log")
			return completion{nodeID: id}
		}
	}

	pub.publish(NodeLoading, nil)
	raw, err := r.invoke(ctx, node, pub)
	if err == nil {
		err = r.execCtx.Set(id, raw)
	}
	elapsed := time.Since(start)
	if err != nil && ctx.Err() != nil {
		span.SetStatus(codes.Error, "interrupted")
		logger.Warn("node interrupted", "error", err, log.DurationKey, elapsed.Milliseconds())
		return completion{nodeID: id, interrupted: true}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		pub.publish(NodeError, err)
		metrics.RecordNode(node.Type, string(NodeError), elapsed)
		logger.Warn("node failed", "error", err, log.DurationKey, elapsed.Milliseconds())
		return completion{nodeID: id, err: err}
	}

	if err := r.o.store.RecordStepResult(ctx, r.job.ID, outputKey(id), raw); err != nil {
		logger.Warn("record node output failed", "error", err)
	}
	pub.publish(NodeSuccess, nil)
	metrics.RecordNode(node.Type, string(NodeSuccess), elapsed)
	logger.Debug("node succeeded", log.DurationKey, elapsed.Milliseconds())
	return completion{nodeID: id}
}

// invoke calls the node's executor. Executor panics are converted into
// node failures.
func (r *run) invoke(ctx context.Context, node Node, pub *nodePublisher) (raw json.RawMessage, err error) {
	exec, ok := r.o.registry.Lookup(node.Type)
	if !ok {
		return nil, &UnknownNodeTypeError{NodeID: node.ID, NodeType: node.Type}
	}

	defer func() {
		if p := recover(); p != nil {
			raw, err = nil, &ExecutorError{NodeID: node.ID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err := exec.Execute(ctx, &Invocation{
		JobID:      r.job.ID,
		WorkflowID: r.job.WorkflowID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Data:       node.Data,
		Context:    r.execCtx,
		Steps:      r.steps.ForNode(node.ID),
		Publish:    pub.fromExecutor,
	})
	if err != nil {
		return nil, &ExecutorError{NodeID: node.ID, Err: err}
	}
	raw, err = json.Marshal(out)
	if err != nil {
		return nil, &ExecutorError{NodeID: node.ID, Err: fmt.Errorf("encode output: %w", err)}
	}
	return raw, nil
}

// nodePublisher emits the status events of one node to the job and
// workflow topics. Repeated statuses are dropped and nothing is published
// after a terminal status.
type nodePublisher struct {
	run    *run
	nodeID string

	mu   sync.Mutex
	last NodeStatus
}

func (p *nodePublisher) publish(status NodeStatus, err error) {
	pubr := p.run.o.publisher
	if pubr == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if status == p.last || p.last.Terminal() {
		return
	}
	p.last = status

	ev := StatusEvent{
		JobID:      p.run.job.ID,
		WorkflowID: p.run.job.WorkflowID,
		NodeID:     p.nodeID,
		Status:     status,
		Timestamp:  p.run.o.now(),
	}
	if err != nil {
		ev.Error = publicMessage(err)
	}
	pubr.Publish(JobTopic(ev.JobID), ev)
	pubr.Publish(WorkflowTopic(ev.WorkflowID), ev)
}

// fromExecutor is the publish capability handed to executors. Terminal
// statuses are reported by the orchestrator once the executor returns.
func (p *nodePublisher) fromExecutor(status NodeStatus, err error) {
	if status.Terminal() {
		return
	}
	p.publish(status, err)
}

// publicMessage renders a node failure for observers without leaking
// storage internals.
func publicMessage(err error) string {
	var (
		unknown *UnknownNodeTypeError
		persist *StepPersistenceError
		exec    *ExecutorError
	)
	switch {
	case errors.As(err, &unknown):
		return fmt.Sprintf("unknown node type %q", unknown.NodeType)
	case errors.As(err, &persist):
		return "temporary storage failure, retry the job"
	case errors.As(err, &exec):
		return exec.Err.Error()
	}
	return err.Error()
}
