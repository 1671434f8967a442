package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType names what started a job.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerWebhook   TriggerType = "webhook"
	TriggerScheduled TriggerType = "scheduled"
)

// Payload is the data a trigger hands to a run. Each trigger kind has its
// own variant; RawPayload carries kinds this build does not know about.
type Payload interface {
	TriggerType() TriggerType
}

// ManualPayload is the input of a user-initiated run.
type ManualPayload struct {
	Input map[string]any `json:"input,omitempty"`
}

func (ManualPayload) TriggerType() TriggerType { return TriggerManual }

// WebhookPayload is the HTTP request that fired a webhook trigger.
type WebhookPayload struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

func (WebhookPayload) TriggerType() TriggerType { return TriggerWebhook }

// ScheduledPayload describes a cron firing.
type ScheduledPayload struct {
	Schedule string    `json:"schedule"`
	FiredAt  time.Time `json:"fired_at"`
}

func (ScheduledPayload) TriggerType() TriggerType { return TriggerScheduled }

// RawPayload is an opaque payload of an unrecognised trigger kind.
type RawPayload struct {
	Kind TriggerType     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (p RawPayload) TriggerType() TriggerType { return p.Kind }

// EncodePayload serialises a payload for the job record.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	if raw, ok := p.(RawPayload); ok {
		return raw.Data, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("flow: encode %s payload: %w", p.TriggerType(), err)
	}
	return b, nil
}

// DecodePayload rebuilds the typed payload stored with a job.
func DecodePayload(t TriggerType, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case TriggerManual:
		var m ManualPayload
		err = unmarshalOptional(data, &m)
		p = m
	case TriggerWebhook:
		var w WebhookPayload
		err = unmarshalOptional(data, &w)
		p = w
	case TriggerScheduled:
		var s ScheduledPayload
		err = unmarshalOptional(data, &s)
		p = s
	default:
		p = RawPayload{Kind: t, Data: data}
	}
	if err != nil {
		return nil, fmt.Errorf("flow: decode %s payload: %w", t, err)
	}
	return p, nil
}

func unmarshalOptional(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
