package flow_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/memory"
)

// recorder captures the events published to job topics.
type recorder struct {
	mu     sync.Mutex
	events []flow.StatusEvent
	closed []string
}

func (r *recorder) Publish(topic string, ev flow.StatusEvent) {
	if !strings.HasPrefix(topic, "job:") {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) CloseTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, topic)
}

// sequence renders events as "node:status".
func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.NodeID+":"+string(ev.Status))
	}
	return out
}

func (r *recorder) forNode(id string) []flow.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []flow.StatusEvent
	for _, ev := range r.events {
		if ev.NodeID == id {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	store    *memory.Store
	registry *flow.Registry
	events   *recorder
	queue    *flow.Queue
	orch     *flow.Orchestrator
}

func newHarness(t *testing.T, opts ...flow.Option) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		registry: flow.NewRegistry(),
		events:   &recorder{},
	}
	opts = append([]flow.Option{flow.WithLogger(log.Discard())}, opts...)
	h.orch = flow.NewOrchestrator(h.store, h.registry, h.events, opts...)
	h.queue = flow.NewQueue(h.store, h.store, nil, log.Discard())
	return h
}

func (h *harness) save(t *testing.T, g *flow.Graph) {
	t.Helper()
	require.NoError(t, h.store.SaveWorkflow(context.Background(), g))
}

func (h *harness) enqueue(t *testing.T, workflowID string) string {
	t.Helper()
	id, err := h.queue.Enqueue(context.Background(), flow.TriggerRequest{
		WorkflowID: workflowID,
		UserID:     "owner",
		Payload:    flow.ManualPayload{Input: map[string]any{"name": "ada"}},
	})
	require.NoError(t, err)
	return id
}

func (h *harness) job(t *testing.T, id string) *flow.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

// counter counts executor invocations per node.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) inc(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[id]++
}

func (c *counter) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *counter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// chain is the graph T -> A -> B.
func chain() *flow.Graph {
	return &flow.Graph{
		WorkflowID: "wf",
		OwnerID:    "owner",
		Nodes: []flow.Node{
			{ID: "T", Type: "trigger"},
			{ID: "A", Type: "action"},
			{ID: "B", Type: "action"},
		},
		Connections: []flow.Connection{
			{Source: "T", Target: "A"},
			{Source: "A", Target: "B"},
		},
	}
}
