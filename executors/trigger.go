package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/internal/log"
)

// ManualTrigger outputs the input of a manual run. Runs started by another
// kind of trigger produce no output.
type ManualTrigger struct{}

func (ManualTrigger) Execute(ctx context.Context, inv *flow.Invocation) (any, error) {
	p, ok := inv.Context.Trigger().(flow.ManualPayload)
	if !ok {
		log.FromContext(ctx).Debug("manual trigger not fired by this run")
		return nil, nil
	}
	if p.Input == nil {
		return map[string]any{}, nil
	}
	return p.Input, nil
}

// WebhookConfig optionally restricts the accepted HTTP method.
type WebhookConfig struct {
	Method string `json:"method"`
}

// WebhookTrigger outputs the HTTP request that fired the run.
type WebhookTrigger struct{}

func (WebhookTrigger) Execute(ctx context.Context, inv *flow.Invocation) (any, error) {
	var cfg WebhookConfig
	if err := inv.DecodeData(&cfg); err != nil {
		return nil, err
	}
	p, ok := inv.Context.Trigger().(flow.WebhookPayload)
	if !ok {
		log.FromContext(ctx).Debug("webhook trigger not fired by this run")
		return nil, nil
	}
	if cfg.Method != "" && !strings.EqualFold(cfg.Method, p.Method) {
		return nil, fmt.Errorf("webhook expects %s, got %s", strings.ToUpper(cfg.Method), p.Method)
	}
	return p, nil
}

// ScheduleTrigger outputs the cron firing that started the run.
type ScheduleTrigger struct{}

func (ScheduleTrigger) Execute(ctx context.Context, inv *flow.Invocation) (any, error) {
	p, ok := inv.Context.Trigger().(flow.ScheduledPayload)
	if !ok {
		log.FromContext(ctx).Debug("schedule trigger not fired by this run")
		return nil, nil
	}
	return p, nil
}
