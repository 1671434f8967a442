package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/internal/log"
)

// maxResponseBody caps how much of a response body is kept.
const maxResponseBody = 1 << 20

// HTTPConfig is the node data of an http node.
type HTTPConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	// TimeoutSeconds bounds the request. Zero uses the client timeout.
	TimeoutSeconds int `json:"timeout_seconds"`
	// SkipIf is an expression over {trigger, nodes}; when true the request
	// is not sent.
	SkipIf string `json:"skip_if"`
}

// HTTPResponse is the output of an http node.
type HTTPResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body"`
	Skipped    bool              `json:"skipped,omitempty"`
}

// HTTP sends one request per node run. The request is a step, so a resumed
// run does not send it again once a response was recorded.
type HTTP struct {
	client  *http.Client
	limiter *rate.Limiter
	exprs   *exprCache
}

// NewHTTP returns the http executor.
func NewHTTP(opts Options) *HTTP {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}
	return &HTTP{client: client, limiter: newLimiter(opts), exprs: newExprCache()}
}

func (e *HTTP) Execute(ctx context.Context, inv *flow.Invocation) (any, error) {
	var cfg HTTPConfig
	if err := inv.DecodeData(&cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("http: url is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.SkipIf != "" {
		env, err := inv.Context.Env()
		if err != nil {
			return nil, err
		}
		skip, err := e.exprs.evalBool(cfg.SkipIf, env)
		if err != nil {
			return nil, fmt.Errorf("http: skip_if: %w", err)
		}
		if skip {
			log.FromContext(ctx).Info("http request skipped by condition")
			return HTTPResponse{Skipped: true}, nil
		}
	}

	return flow.Step(ctx, inv.Steps, "request", func(ctx context.Context) (HTTPResponse, error) {
		return e.send(ctx, cfg)
	})
}

func (e *HTTP) send(ctx context.Context, cfg HTTPConfig) (HTTPResponse, error) {
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return HTTPResponse{}, fmt.Errorf("http: rate limit: %w", err)
	}

	var body io.Reader
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("http: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	logger := log.FromContext(ctx)
	logger.Debug("sending http request", "method", cfg.Method, "url", cfg.URL)

	resp, err := e.client.Do(req)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("http: %s %s: %w", cfg.Method, cfg.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("http: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return HTTPResponse{}, fmt.Errorf("http: %s %s returned status %d", cfg.Method, cfg.URL, resp.StatusCode)
	}

	out := HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
		Body:       responseBody(raw),
	}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	logger.Debug("http response", "status", resp.StatusCode)
	return out, nil
}

// responseBody keeps JSON bodies as-is and wraps anything else as a
// JSON string.
func responseBody(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	s, _ := json.Marshal(string(raw))
	return s
}
