package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "flow.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(id string, created time.Time) *flow.Job {
	return &flow.Job{
		ID:             id,
		WorkflowID:     "wf",
		UserID:         "u1",
		TriggerType:    flow.TriggerManual,
		TriggerPayload: json.RawMessage(`{"input":{"k":"v"}}`),
		Status:         flow.JobQueued,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestStore_WorkflowRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &flow.Graph{
		WorkflowID: "wf",
		OwnerID:    "u1",
		Nodes: []flow.Node{
			{ID: "t", Type: "manual-trigger"},
			{ID: "b", Type: "set", Data: json.RawMessage(`{"fields":{"x":"1"}}`)},
			{ID: "a", Type: "http"},
		},
		Connections: []flow.Connection{{Source: "t", Target: "b"}, {Source: "t", Target: "a"}},
	}
	require.NoError(t, s.SaveWorkflow(ctx, g))

	got, err := s.LoadGraph(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)
	require.Len(t, got.Nodes, 3)
	assert.Equal(t, []string{"t", "b", "a"}, []string{got.Nodes[0].ID, got.Nodes[1].ID, got.Nodes[2].ID})
	assert.Nil(t, got.Nodes[0].Data)
	assert.JSONEq(t, `{"fields":{"x":"1"}}`, string(got.Nodes[1].Data))
	assert.Equal(t, g.Connections, got.Connections)

	// Saving again replaces the snapshot.
	g.Nodes = g.Nodes[:1]
	g.Connections = nil
	require.NoError(t, s.SaveWorkflow(ctx, g))
	got, err = s.LoadGraph(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Connections)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf"))
	_, err = s.LoadGraph(ctx, "wf")
	assert.ErrorIs(t, err, flow.ErrWorkflowNotFound)
}

func TestStore_SaveWorkflowRejectsDanglingConnection(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveWorkflow(context.Background(), &flow.Graph{
		WorkflowID:  "wf",
		Nodes:       []flow.Node{{ID: "a", Type: "set"}},
		Connections: []flow.Connection{{Source: "a", Target: "ghost"}},
	})
	assert.ErrorIs(t, err, flow.ErrDanglingConnection)
}

func TestStore_JobTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now())))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, flow.JobQueued, job.Status)
	assert.JSONEq(t, `{"input":{"k":"v"}}`, string(job.TriggerPayload))

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", flow.JobRunning, ""))

	// A second claim fails: the job is already running.
	err = s.UpdateJobStatus(ctx, "j1", flow.JobRunning, "")
	assert.ErrorIs(t, err, flow.ErrInvalidTransition)
	assert.ErrorIs(t, err, flow.ErrJobActive)

	require.NoError(t, s.UpdateJobStatus(ctx, "j1", flow.JobFailed, "node a failed"))
	err = s.UpdateJobStatus(ctx, "j1", flow.JobSucceeded, "")
	var terr *flow.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, flow.JobFailed, terr.From)

	job, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, flow.JobFailed, job.Status)
	assert.Equal(t, "node a failed", job.Error)

	err = s.UpdateJobStatus(ctx, "missing", flow.JobRunning, "")
	assert.ErrorIs(t, err, flow.ErrJobNotFound)
	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, flow.ErrJobNotFound)
}

func TestStore_SaveResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now())))

	result := &flow.Result{
		Status:  flow.JobSucceeded,
		Order:   []string{"t", "a"},
		Nodes:   map[string]flow.NodeStatus{"t": flow.NodeSuccess, "a": flow.NodeSuccess},
		Outputs: map[string]json.RawMessage{"a": json.RawMessage(`{"ok":true}`)},
	}
	require.NoError(t, s.SaveResult(ctx, "j1", result))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, job.Result)
	assert.Equal(t, result.Order, job.Result.Order)
	assert.Equal(t, result.Nodes, job.Result.Nodes)
	assert.JSONEq(t, `{"ok":true}`, string(job.Result.Outputs["a"]))

	assert.ErrorIs(t, s.SaveResult(ctx, "missing", result), flow.ErrJobNotFound)
}

func TestStore_ListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.CreateJob(ctx, newJob("second", base.Add(time.Second))))
	require.NoError(t, s.CreateJob(ctx, newJob("first", base)))
	require.NoError(t, s.CreateJob(ctx, newJob("done", base.Add(2*time.Second))))
	require.NoError(t, s.UpdateJobStatus(ctx, "done", flow.JobCanceled, ""))

	jobs, err := s.ListJobs(ctx, flow.JobQueued, flow.JobRunning)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].ID)
	assert.Equal(t, "second", jobs[1].ID)

	all, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_StepLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LookupStepResult(ctx, "j1", "a/request")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordStepResult(ctx, "j1", "a/request", json.RawMessage(`{"status":200}`)))
	// First write wins.
	require.NoError(t, s.RecordStepResult(ctx, "j1", "a/request", json.RawMessage(`{"status":500}`)))

	got, ok, err := s.LookupStepResult(ctx, "j1", "a/request")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"status":200}`, string(got))

	_, ok, err = s.LookupStepResult(ctx, "j2", "a/request")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.db")
	ctx := context.Background()

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.RecordStepResult(ctx, "j1", "a/request", json.RawMessage(`1`)))
	require.NoError(t, s.Close())

	s, err = New(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.LookupStepResult(ctx, "j1", "a/request")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(got))
}
