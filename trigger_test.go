package flow

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	fired := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []Payload{
		ManualPayload{Input: map[string]any{"k": "v"}},
		WebhookPayload{Method: "POST", Path: "/hooks/wf", Body: json.RawMessage(`{"a":1}`)},
		ScheduledPayload{Schedule: "@hourly", FiredAt: fired},
	}
	for _, p := range tests {
		t.Run(string(p.TriggerType()), func(t *testing.T) {
			raw, err := EncodePayload(p)
			require.NoError(t, err)
			got, err := DecodePayload(p.TriggerType(), raw)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestDecodePayload_UnknownKind(t *testing.T) {
	got, err := DecodePayload("email", json.RawMessage(`{"from":"a@b"}`))
	require.NoError(t, err)
	raw, ok := got.(RawPayload)
	require.True(t, ok)
	assert.Equal(t, TriggerType("email"), raw.TriggerType())
	assert.JSONEq(t, `{"from":"a@b"}`, string(raw.Data))

	out, err := EncodePayload(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"a@b"}`, string(out))
}

func TestDecodePayload_Empty(t *testing.T) {
	got, err := DecodePayload(TriggerManual, nil)
	require.NoError(t, err)
	assert.Equal(t, ManualPayload{}, got)

	_, err = DecodePayload(TriggerWebhook, json.RawMessage(`[`))
	assert.Error(t, err)
}
