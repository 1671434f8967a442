package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	"github.com/meikuraledutech/flow"
)

// TransformConfig is the node data of a transform node.
type TransformConfig struct {
	// Query is a jq program run against {trigger, nodes}.
	Query string `json:"query"`
}

// Transform reshapes run data with a jq query. The first value the query
// emits is the node output.
type Transform struct {
	timeout time.Duration
}

// NewTransform returns the transform executor.
func NewTransform(timeout time.Duration) *Transform {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Transform{timeout: timeout}
}

func (e *Transform) Execute(ctx context.Context, inv *flow.Invocation) (any, error) {
	var cfg TransformConfig
	if err := inv.DecodeData(&cfg); err != nil {
		return nil, err
	}
	if cfg.Query == "" {
		return nil, fmt.Errorf("transform: query is required")
	}

	query, err := gojq.Parse(cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("transform: parse: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("transform: compile: %w", err)
	}

	env, err := inv.Context.Env()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	iter := code.RunWithContext(ctx, env)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("transform: %w", err)
	}
	return v, nil
}
