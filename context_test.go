package flow

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionContext_AppendOnly(t *testing.T) {
	c := NewExecutionContext(ManualPayload{Input: map[string]any{"name": "ada"}})

	require.NoError(t, c.Set("a", json.RawMessage(`{"n":1}`)))
	err := c.Set("a", json.RawMessage(`{"n":2}`))
	assert.ErrorIs(t, err, ErrResultExists)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(got))

	var v struct{ N int }
	require.NoError(t, c.Decode("a", &v))
	assert.Equal(t, 1, v.N)
	assert.Error(t, c.Decode("missing", &v))
}

func TestExecutionContext_Env(t *testing.T) {
	c := NewExecutionContext(ManualPayload{Input: map[string]any{"name": "ada"}})
	require.NoError(t, c.Set("a", json.RawMessage(`{"n":1}`)))

	env, err := c.Env()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"trigger": map[string]any{"input": map[string]any{"name": "ada"}},
		"nodes":   map[string]any{"a": map[string]any{"n": float64(1)}},
	}, env)
}

func TestExecutionContext_ConcurrentWriters(t *testing.T) {
	c := NewExecutionContext(nil)
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Set(id, json.RawMessage(`true`)))
			c.Results()
		}()
	}
	wg.Wait()
	assert.Len(t, c.Results(), 4)
}
