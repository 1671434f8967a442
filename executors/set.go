package executors

import (
	"context"
	"fmt"
	"sort"

	"github.com/meikuraledutech/flow"
)

// SetConfig is the node data of a set node.
type SetConfig struct {
	// Fields maps output names to expressions over {trigger, nodes}.
	Fields map[string]string `json:"fields"`
}

// Set builds an object from named expressions.
type Set struct {
	exprs *exprCache
}

// NewSet returns the set executor.
func NewSet() *Set {
	return &Set{exprs: newExprCache()}
}

func (e *Set) Execute(ctx context.Context, inv *flow.Invocation) (any, error) {
	var cfg SetConfig
	if err := inv.DecodeData(&cfg); err != nil {
		return nil, err
	}
	env, err := inv.Context.Env()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Fields))
	for name := range cfg.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(names))
	for _, name := range names {
		v, err := e.exprs.eval(cfg.Fields[name], env)
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
