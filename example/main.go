// Command example runs a small order workflow end to end on the in-memory
// store and prints every status event.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/executors"
	flowlog "github.com/meikuraledutech/flow/internal/log"
	"github.com/meikuraledutech/flow/memory"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logCfg := flowlog.DefaultConfig()
	logCfg.Format = flowlog.FormatText
	logCfg.Level = "warn"
	logger := flowlog.New(logCfg)

	store := memory.New()
	registry := flow.NewRegistry()
	if err := executors.Register(registry, executors.Options{}); err != nil {
		log.Fatalf("register executors: %v", err)
	}

	// ── Workflow ──────────────────────────────────────────────────────
	// start ─┬─ pricing ─┬─ summary
	//        └─ customer ┘
	order := &flow.Graph{
		WorkflowID: "order-summary",
		OwnerID:    "demo",
		Nodes: []flow.Node{
			{ID: "start", Type: executors.TypeManualTrigger},
			{ID: "pricing", Type: executors.TypeSet, Data: json.RawMessage(`{
				"fields": {"total": "nodes.start.qty * nodes.start.unit_price", "bulk": "nodes.start.qty >= 10"}
			}`)},
			{ID: "customer", Type: executors.TypeTransform, Data: json.RawMessage(`{
				"query": "{name: (.trigger.input.customer | ascii_upcase)}"
			}`)},
			{ID: "summary", Type: executors.TypeTransform, Data: json.RawMessage(`{
				"query": "\"\\(.nodes.customer.name) owes \\(.nodes.pricing.total)\""
			}`)},
		},
		Connections: []flow.Connection{
			{Source: "start", Target: "pricing"},
			{Source: "start", Target: "customer"},
			{Source: "pricing", Target: "summary"},
			{Source: "customer", Target: "summary"},
		},
	}
	if err := store.SaveWorkflow(ctx, order); err != nil {
		log.Fatalf("save workflow: %v", err)
	}

	// ── Engine ────────────────────────────────────────────────────────
	broker := flow.NewBroker(0)
	orch := flow.NewOrchestrator(store, registry, broker, flow.WithLogger(logger))
	// No dispatcher: the job is run below once its topic is subscribed.
	queue := flow.NewQueue(store, store, nil, logger)

	jobID, err := queue.Enqueue(ctx, flow.TriggerRequest{
		WorkflowID: order.WorkflowID,
		UserID:     "demo",
		Payload: flow.ManualPayload{Input: map[string]any{
			"customer": "ada", "qty": 12, "unit_price": 2.5,
		}},
	})
	if err != nil {
		log.Fatalf("enqueue: %v", err)
	}
	fmt.Println("job enqueued:", jobID)

	sub := broker.Subscribe(flow.JobTopic(jobID))
	defer sub.Close()

	type runResult struct {
		result *flow.Result
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		res, err := orch.Run(ctx, jobID)
		done <- runResult{res, err}
	}()

	// ── Events ────────────────────────────────────────────────────────
	// The topic is closed when the run ends.
	for ev := range sub.Events() {
		fmt.Printf("  %-10s %s\n", ev.NodeID, ev.Status)
	}

	out := <-done
	if out.err != nil {
		log.Fatalf("run: %v", out.err)
	}
	fmt.Println("job status:", out.result.Status)
	printJSON(out.result.Outputs)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
