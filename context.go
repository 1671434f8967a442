package flow

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ExecutionContext accumulates node results during one run. Results are
// append-only: once recorded, a node's value is never replaced. It is safe
// for concurrent use by the nodes of a run.
type ExecutionContext struct {
	trigger Payload

	mu      sync.RWMutex
	results map[string]json.RawMessage
}

// NewExecutionContext returns an empty context seeded with the trigger payload.
func NewExecutionContext(trigger Payload) *ExecutionContext {
	return &ExecutionContext{
		trigger: trigger,
		results: make(map[string]json.RawMessage),
	}
}

// Trigger returns the payload that started the run.
func (c *ExecutionContext) Trigger() Payload {
	return c.trigger
}

// Set records the result of nodeID.
func (c *ExecutionContext) Set(nodeID string, result json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.results[nodeID]; ok {
		return fmt.Errorf("%w: %s", ErrResultExists, nodeID)
	}
	c.results[nodeID] = append(json.RawMessage(nil), result...)
	return nil
}

// Get returns the recorded result of nodeID.
func (c *ExecutionContext) Get(nodeID string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.results[nodeID]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), r...), true
}

// Decode unmarshals the result of nodeID into v.
func (c *ExecutionContext) Decode(nodeID string, v any) error {
	r, ok := c.Get(nodeID)
	if !ok {
		return fmt.Errorf("flow: no result for node %s", nodeID)
	}
	return json.Unmarshal(r, v)
}

// Results returns a copy of all recorded results.
func (c *ExecutionContext) Results() map[string]json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(c.results))
	for k, v := range c.results {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Env returns the run state as plain JSON values, shaped
// {"trigger": ..., "nodes": {id: result}}. Expression-based executors
// evaluate against it.
func (c *ExecutionContext) Env() (map[string]any, error) {
	nodes := make(map[string]any)
	for id, raw := range c.Results() {
		var v any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("flow: decode result of %s: %w", id, err)
			}
		}
		nodes[id] = v
	}

	var trigger any
	if c.trigger != nil {
		raw, err := EncodePayload(c.trigger)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &trigger); err != nil {
				return nil, fmt.Errorf("flow: decode trigger: %w", err)
			}
		}
	}

	return map[string]any{"trigger": trigger, "nodes": nodes}, nil
}
