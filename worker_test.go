package flow_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/internal/log"
)

func waitForStatus(t *testing.T, h *harness, jobID string, want flow.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_RunsDispatchedJobs(t *testing.T) {
	h := newHarness(t)
	calls := &counter{}
	registerChain(h, calls, "")
	h.save(t, chain())

	ctx, cancel := context.WithCancel(context.Background())
	w := flow.NewWorker(h.orch, h.store, flow.WorkerConfig{Concurrency: 2}, log.Discard())
	w.Start(ctx)
	defer func() {
		cancel()
		w.Wait()
	}()

	q := flow.NewQueue(h.store, h.store, w, log.Discard())
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(ctx, flow.TriggerRequest{WorkflowID: "wf", UserID: "owner"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForStatus(t, h, id, flow.JobSucceeded)
	}
	assert.Equal(t, 3, calls.get("B"))
}

func TestWorker_DispatchQueueFull(t *testing.T) {
	h := newHarness(t)
	w := flow.NewWorker(h.orch, h.store, flow.WorkerConfig{QueueSize: 1}, log.Discard())

	require.NoError(t, w.Dispatch(context.Background(), "a"))
	assert.ErrorIs(t, w.Dispatch(context.Background(), "b"), flow.ErrQueueFull)
}

func TestWorker_Recover(t *testing.T) {
	h := newHarness(t)
	calls := &counter{}
	registerChain(h, calls, "")
	h.save(t, chain())
	ctx := context.Background()

	queued := h.enqueue(t, "wf")

	// A job left running by a crashed process, with T already done.
	orphan := h.enqueue(t, "wf")
	require.NoError(t, h.store.UpdateJobStatus(ctx, orphan, flow.JobRunning, ""))
	require.NoError(t, h.store.RecordStepResult(ctx, orphan, "T#output", json.RawMessage(`{"name":"ada"}`)))

	runCtx, cancel := context.WithCancel(ctx)
	w := flow.NewWorker(h.orch, h.store, flow.WorkerConfig{}, log.Discard())
	w.Start(runCtx)
	defer func() {
		cancel()
		w.Wait()
	}()
	require.NoError(t, w.Recover(ctx))

	waitForStatus(t, h, queued, flow.JobSucceeded)
	waitForStatus(t, h, orphan, flow.JobSucceeded)
	assert.Equal(t, 1, calls.get("T"))
	assert.Equal(t, 2, calls.get("A"))
}

func TestWorker_PollPicksUpQueuedJobs(t *testing.T) {
	h := newHarness(t)
	registerChain(h, &counter{}, "")
	h.save(t, chain())

	// Enqueued with no dispatcher, as by another process.
	id := h.enqueue(t, "wf")

	ctx, cancel := context.WithCancel(context.Background())
	w := flow.NewWorker(h.orch, h.store, flow.WorkerConfig{PollInterval: 10 * time.Millisecond}, log.Discard())
	w.Start(ctx)
	defer func() {
		cancel()
		w.Wait()
	}()

	waitForStatus(t, h, id, flow.JobSucceeded)
}
