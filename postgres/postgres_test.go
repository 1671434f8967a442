package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
)

// newTestStore connects to FLOW_TEST_DATABASE_URL and resets the schema.
func newTestStore(t *testing.T) *PGStore {
	t.Helper()

	url := os.Getenv("FLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FLOW_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.DropSchema(ctx))
	require.NoError(t, s.CreateSchema(ctx))
	return s
}

func TestPGStore_WorkflowRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &flow.Graph{
		WorkflowID: "wf-" + uuid.NewString(),
		OwnerID:    "user-1",
		Nodes: []flow.Node{
			{ID: "t", Type: "manual-trigger"},
			{ID: "a", Type: "http", Data: json.RawMessage(`{"url":"http://example.com"}`)},
		},
		Connections: []flow.Connection{{Source: "t", Target: "a"}},
	}
	require.NoError(t, s.SaveWorkflow(ctx, g))

	got, err := s.LoadGraph(ctx, g.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.OwnerID)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "t", got.Nodes[0].ID)
	assert.JSONEq(t, `{"url":"http://example.com"}`, string(got.Nodes[1].Data))
	assert.Equal(t, g.Connections, got.Connections)

	require.NoError(t, s.DeleteWorkflow(ctx, g.WorkflowID))
	_, err = s.LoadGraph(ctx, g.WorkflowID)
	assert.ErrorIs(t, err, flow.ErrWorkflowNotFound)
}

func TestPGStore_JobTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	job := &flow.Job{
		ID:          uuid.NewString(),
		WorkflowID:  "wf",
		TriggerType: flow.TriggerManual,
		Status:      flow.JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, flow.JobRunning, ""))
	err := s.UpdateJobStatus(ctx, job.ID, flow.JobRunning, "")
	assert.ErrorIs(t, err, flow.ErrJobActive)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, flow.JobSucceeded, ""))
	err = s.UpdateJobStatus(ctx, job.ID, flow.JobFailed, "late")
	assert.ErrorIs(t, err, flow.ErrInvalidTransition)

	require.NoError(t, s.SaveResult(ctx, job.ID, &flow.Result{
		Status: flow.JobSucceeded,
		Nodes:  map[string]flow.NodeStatus{"t": flow.NodeSuccess},
	}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.JobSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, flow.NodeSuccess, got.Result.Nodes["t"])

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, flow.ErrJobNotFound)
}

func TestPGStore_StepLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	job := &flow.Job{ID: uuid.NewString(), WorkflowID: "wf", TriggerType: flow.TriggerManual,
		Status: flow.JobQueued, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateJob(ctx, job))

	_, ok, err := s.LookupStepResult(ctx, job.ID, "a/request")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordStepResult(ctx, job.ID, "a/request", json.RawMessage(`{"n":1}`)))
	require.NoError(t, s.RecordStepResult(ctx, job.ID, "a/request", json.RawMessage(`{"n":2}`)))

	got, ok, err := s.LookupStepResult(ctx, job.ID, "a/request")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(got))
}
