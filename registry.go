package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Invocation is everything an executor receives for one node run.
type Invocation struct {
	JobID      string
	WorkflowID string
	NodeID     string
	NodeType   string
	Data       json.RawMessage

	// Context gives read access to the trigger payload and upstream results.
	Context *ExecutionContext
	// Steps runs memoized work scoped to this node.
	Steps *StepRunner
	// Publish reports a status for this node on the status channel.
	Publish func(status NodeStatus, err error)
}

// DecodeData unmarshals the node configuration into v. Empty data leaves v
// untouched.
func (inv *Invocation) DecodeData(v any) error {
	if len(inv.Data) == 0 || string(inv.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(inv.Data, v); err != nil {
		return fmt.Errorf("decode %s config: %w", inv.NodeType, err)
	}
	return nil
}

// Executor performs the work of one node type. The returned value is
// JSON-encoded and recorded in the ExecutionContext under the node id.
type Executor interface {
	Execute(ctx context.Context, inv *Invocation) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, inv *Invocation) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, inv *Invocation) (any, error) {
	return f(ctx, inv)
}

// Registry maps node types to executors. Executors are registered at
// process start; the orchestrator only reads from it.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds nodeType to e. Each type has exactly one executor.
func (r *Registry) Register(nodeType string, e Executor) error {
	if nodeType == "" || e == nil {
		return fmt.Errorf("flow: register: node type and executor are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		return fmt.Errorf("%w: %s", ErrExecutorExists, nodeType)
	}
	r.executors[nodeType] = e
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(nodeType string, e Executor) {
	if err := r.Register(nodeType, e); err != nil {
		panic(err)
	}
}

// Lookup returns the executor for nodeType.
func (r *Registry) Lookup(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[nodeType]
	return e, ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
