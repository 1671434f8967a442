package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/metrics"
)

// StepRunner runs named, memoized units of work for one job. The result of
// a step that completed once is read back from the StepLog instead of
// running the work again, including after a process restart.
type StepRunner struct {
	log    StepLog
	jobID  string
	prefix string
	group  *singleflight.Group
}

// NewStepRunner returns a runner for jobID backed by stepLog.
func NewStepRunner(stepLog StepLog, jobID string) *StepRunner {
	return &StepRunner{
		log:   stepLog,
		jobID: jobID,
		group: &singleflight.Group{},
	}
}

// ForNode returns a runner whose step names are scoped to nodeID.
func (r *StepRunner) ForNode(nodeID string) *StepRunner {
	scoped := *r
	scoped.prefix = r.prefix + nodeID + "/"
	return &scoped
}

// JobID returns the job the runner records steps for.
func (r *StepRunner) JobID() string { return r.jobID }

// Run returns the recorded result of step name, or invokes fn, records its
// JSON-encoded result and returns it. A failing fn records nothing, so the
// step runs again on the next attempt. Concurrent calls for the same step
// share one invocation.
func (r *StepRunner) Run(ctx context.Context, name string, fn func(context.Context) (any, error)) (json.RawMessage, error) {
	key := r.prefix + name
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.run(ctx, key, fn)
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (r *StepRunner) run(ctx context.Context, key string, fn func(context.Context) (any, error)) (json.RawMessage, error) {
	logger := log.FromContext(ctx).With(log.StepKey, key)

	cached, ok, err := r.log.LookupStepResult(ctx, r.jobID, key)
	if err != nil {
		metrics.RecordStepLookup("error")
		return nil, &StepPersistenceError{JobID: r.jobID, Step: key, Op: "lookup", Err: err}
	}
	if ok {
		metrics.RecordStepLookup("hit")
		logger.Debug("step replayed from log")
		return cached, nil
	}
	metrics.RecordStepLookup("miss")

	start := time.Now()
	v, err := fn(ctx)
	if err != nil {
		logger.Debug("step failed", "error", err)
		return nil, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("flow: encode result of step %s: %w", key, err)
	}
	if err := r.log.RecordStepResult(ctx, r.jobID, key, raw); err != nil {
		return nil, &StepPersistenceError{JobID: r.jobID, Step: key, Op: "record", Err: err}
	}

	logger.Debug("step recorded", log.DurationKey, time.Since(start).Milliseconds())
	return raw, nil
}

// Step is the typed form of StepRunner.Run. The value returned on first
// execution and on replay both come from the recorded JSON.
func Step[T any](ctx context.Context, r *StepRunner, name string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	raw, err := r.Run(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("flow: decode result of step %s: %w", name, err)
	}
	return out, nil
}
