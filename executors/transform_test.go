package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memory"
)

func TestTransform(t *testing.T) {
	upstream := map[string]string{"fetch": `{"items":[{"id":1,"ok":true},{"id":2,"ok":false}]}`}
	tests := []struct {
		name    string
		data    string
		want    any
		wantErr string
	}{
		{
			name: "select",
			data: `{"query":"[.nodes.fetch.items[] | select(.ok) | .id]"}`,
			want: []any{float64(1)},
		},
		{
			name: "trigger input",
			data: `{"query":".trigger.input.who"}`,
			want: "ada",
		},
		{
			name: "first value only",
			data: `{"query":".nodes.fetch.items[].id"}`,
			want: float64(1),
		},
		{
			name: "no values",
			data: `{"query":"empty"}`,
			want: nil,
		},
		{name: "missing query", data: `{}`, wantErr: "query is required"},
		{name: "parse error", data: `{"query":"]["}`, wantErr: "parse"},
		{name: "runtime error", data: `{"query":"error(\"bad row\")"}`, wantErr: "bad row"},
	}

	e := NewTransform(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := invocation(t, memory.New(), flow.ManualPayload{Input: map[string]any{"who": "ada"}}, "shape", tt.data, upstream)
			got, err := e.Execute(context.Background(), inv)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
