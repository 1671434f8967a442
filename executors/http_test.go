package executors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memory"
)

func TestHTTP_PostsAndRecordsResponse(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"order":42}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	data, _ := json.Marshal(HTTPConfig{
		Method:  "post",
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
		Body:    json.RawMessage(`{"order":42}`),
	})
	store := memory.New()
	e := NewHTTP(Options{HTTPRateLimit: 100, HTTPBurst: 5})

	out, err := e.Execute(context.Background(), invocation(t, store, flow.ManualPayload{}, "call", string(data), nil))
	require.NoError(t, err)
	resp := out.(HTTPResponse)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"accepted":true}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])

	// A retried invocation replays the recorded request.
	_, err = e.Execute(context.Background(), invocation(t, store, flow.ManualPayload{}, "call", string(data), nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, ok, err := store.LookupStepResult(context.Background(), "j1", "call/request")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTP_NonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := memory.New()
	_, err := NewHTTP(Options{}).Execute(context.Background(),
		invocation(t, store, flow.ManualPayload{}, "call", `{"url":"`+srv.URL+`"}`, nil))
	assert.ErrorContains(t, err, "returned status 502")

	// Failed requests are not recorded, so a retry sends again.
	_, ok, err := store.LookupStepResult(context.Background(), "j1", "call/request")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTP_SkipIf(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	e := NewHTTP(Options{})
	data := `{"url":"` + srv.URL + `","skip_if":"nodes.check.ok == false"}`

	out, err := e.Execute(context.Background(),
		invocation(t, memory.New(), flow.ManualPayload{}, "call", data, map[string]string{"check": `{"ok":false}`}))
	require.NoError(t, err)
	assert.True(t, out.(HTTPResponse).Skipped)
	assert.Equal(t, int32(0), hits.Load())

	out, err = e.Execute(context.Background(),
		invocation(t, memory.New(), flow.ManualPayload{}, "call", data, map[string]string{"check": `{"ok":true}`}))
	require.NoError(t, err)
	assert.JSONEq(t, `"plain text"`, string(out.(HTTPResponse).Body))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTP_InvalidConfig(t *testing.T) {
	_, err := NewHTTP(Options{}).Execute(context.Background(),
		invocation(t, memory.New(), flow.ManualPayload{}, "call", `{}`, nil))
	assert.ErrorContains(t, err, "url is required")

	_, err = NewHTTP(Options{}).Execute(context.Background(),
		invocation(t, memory.New(), flow.ManualPayload{}, "call", `{"url":"http://x","skip_if":"((("}`, nil))
	assert.ErrorContains(t, err, "skip_if")
}
