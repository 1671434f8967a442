package executors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memory"
)

func TestManualTrigger(t *testing.T) {
	ctx := context.Background()
	inv := invocation(t, memory.New(), flow.ManualPayload{Input: map[string]any{"a": 1}}, "t", "", nil)
	out, err := ManualTrigger{}.Execute(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, out)

	inv = invocation(t, memory.New(), flow.ManualPayload{}, "t", "", nil)
	out, err = ManualTrigger{}.Execute(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)

	inv = invocation(t, memory.New(), flow.WebhookPayload{Method: "POST"}, "t", "", nil)
	out, err = ManualTrigger{}.Execute(ctx, inv)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestWebhookTrigger(t *testing.T) {
	ctx := context.Background()
	payload := flow.WebhookPayload{Method: "POST", Path: "/hooks/wf", Body: json.RawMessage(`{"id":7}`)}

	out, err := WebhookTrigger{}.Execute(ctx, invocation(t, memory.New(), payload, "t", `{"method":"post"}`, nil))
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	_, err = WebhookTrigger{}.Execute(ctx, invocation(t, memory.New(), payload, "t", `{"method":"GET"}`, nil))
	assert.ErrorContains(t, err, "webhook expects GET, got POST")
}

func TestScheduleTrigger(t *testing.T) {
	fired := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	payload := flow.ScheduledPayload{Schedule: "0 9 * * *", FiredAt: fired}

	out, err := ScheduleTrigger{}.Execute(context.Background(), invocation(t, memory.New(), payload, "t", "", nil))
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}
