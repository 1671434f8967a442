// Package executors holds the built-in node executors.
package executors

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/time/rate"

	"github.com/meikuraledutech/flow"
)

// Node types of the built-in executors.
const (
	TypeManualTrigger   = "manual-trigger"
	TypeWebhookTrigger  = "webhook-trigger"
	TypeScheduleTrigger = "schedule-trigger"
	TypeHTTP            = "http"
	TypeTransform       = "transform"
	TypeSet             = "set"
)

// Options configures the built-in executors.
type Options struct {
	// HTTPClient is used by the http executor. Default: a pooled client
	// with a 30s timeout.
	HTTPClient *http.Client
	// HTTPRateLimit bounds outbound requests per second across all http
	// nodes. Zero means unlimited.
	HTTPRateLimit float64
	// HTTPBurst is the limiter burst. Default 1.
	HTTPBurst int
	// TransformTimeout bounds one jq evaluation. Default 1s.
	TransformTimeout time.Duration
}

// Register adds every built-in executor to reg.
func Register(reg *flow.Registry, opts Options) error {
	all := map[string]flow.Executor{
		TypeManualTrigger:   ManualTrigger{},
		TypeWebhookTrigger:  WebhookTrigger{},
		TypeScheduleTrigger: ScheduleTrigger{},
		TypeHTTP:            NewHTTP(opts),
		TypeTransform:       NewTransform(opts.TransformTimeout),
		TypeSet:             NewSet(),
	}
	for _, t := range []string{
		TypeManualTrigger, TypeWebhookTrigger, TypeScheduleTrigger,
		TypeHTTP, TypeTransform, TypeSet,
	} {
		if err := reg.Register(t, all[t]); err != nil {
			return err
		}
	}
	return nil
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.HTTPRateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := opts.HTTPBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.HTTPRateLimit), burst)
}

// exprCache compiles expressions once and reuses the programs.
type exprCache struct {
	mu    sync.RWMutex
	progs map[string]*vm.Program
}

func newExprCache() *exprCache {
	return &exprCache{progs: make(map[string]*vm.Program)}
}

func (c *exprCache) compile(src string, asBool bool) (*vm.Program, error) {
	key := src
	if asBool {
		key = "bool:" + src
	}

	c.mu.RLock()
	prog, ok := c.progs[key]
	c.mu.RUnlock()
	if ok {
		return prog, nil
	}

	opts := []expr.Option{expr.AllowUndefinedVariables()}
	if asBool {
		opts = append(opts, expr.AsBool())
	}
	prog, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}

	c.mu.Lock()
	c.progs[key] = prog
	c.mu.Unlock()
	return prog, nil
}

func (c *exprCache) eval(src string, env map[string]any) (any, error) {
	prog, err := c.compile(src, false)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", src, err)
	}
	return out, nil
}

func (c *exprCache) evalBool(src string, env map[string]any) (bool, error) {
	prog, err := c.compile(src, true)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", src, err)
	}
	b, _ := out.(bool)
	return b, nil
}
