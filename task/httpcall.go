package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsrun/opsrun/creds"
)

const maxResponseBody = 4 << 20 // 4 MiB cap on captured bodies

// HTTPTask performs a single HTTP request and judges the outcome by
// status class: 2xx and 3xx succeed, 4xx and 5xx fail the task without
// raising an error. Transport failures are reported as transient so
// retry policy can apply.
type HTTPTask struct {
	name    string
	method  string
	url     string
	headers map[string]string
	body    string
	auth    string
	filter  *outputFilter
	expect  *expectation

	client *http.Client
}

// NewHTTPFactory returns the factory for "http_call" tasks.
func NewHTTPFactory() Factory {
	return func(name string, params map[string]any) (Task, error) {
		url := stringParam(params, "url")
		if url == "" {
			return nil, fmt.Errorf("%w: http_call task %q: 'url' is required", ErrInvalidParameters, name)
		}

		method := strings.ToUpper(stringParam(params, "method"))
		if method == "" {
			method = http.MethodGet
		}
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions:
		default:
			return nil, fmt.Errorf("%w: http_call task %q: unsupported method %q", ErrInvalidParameters, name, method)
		}

		auth := stringParam(params, "auth")
		switch auth {
		case "", "basic", "bearer", "api_key":
		default:
			return nil, fmt.Errorf("%w: http_call task %q: unsupported auth scheme %q", ErrInvalidParameters, name, auth)
		}

		filter, err := newOutputFilter(params)
		if err != nil {
			return nil, fmt.Errorf("http_call task %q: %w", name, err)
		}
		expect, err := newExpectation(params)
		if err != nil {
			return nil, fmt.Errorf("http_call task %q: %w", name, err)
		}

		return &HTTPTask{
			name:    name,
			method:  method,
			url:     url,
			headers: stringMapParam(params, "headers"),
			body:    stringParam(params, "body"),
			auth:    auth,
			filter:  filter,
			expect:  expect,
			client:  &http.Client{Timeout: 5 * time.Minute},
		}, nil
	}
}

func (t *HTTPTask) Name() string { return t.name }
func (t *HTTPTask) Type() string { return "http_call" }

// Plan describes the request without credential material.
func (t *HTTPTask) Plan(_ *ExecContext) map[string]any {
	return map[string]any{
		"method": t.method,
		"url":    t.url,
		"auth":   t.auth,
	}
}

func (t *HTTPTask) Execute(ctx context.Context, _ *ExecContext, bundle *creds.Bundle) (*Output, error) {
	var body io.Reader
	if t.body != "" {
		body = bytes.NewReader([]byte(t.body))
	}

	req, err := http.NewRequestWithContext(ctx, t.method, t.url, body)
	if err != nil {
		return nil, fmt.Errorf("http_call task %q: build request: %w", t.name, err)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := t.applyAuth(req, bundle); err != nil {
		return nil, fmt.Errorf("http_call task %q: %w", t.name, err)
	}

	started := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("http_call task %q: %w", t.name, ctx.Err())
		}
		return nil, Transient(fmt.Errorf("http_call task %q: %w", t.name, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, Transient(fmt.Errorf("http_call task %q: read body: %w", t.name, err))
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"url":         t.url,
		"method":      t.method,
		"duration_ms": time.Since(started).Milliseconds(),
		"body":        string(raw),
	}
	if parsed := parseJSONBody(raw, resp.Header.Get("Content-Type")); parsed != nil {
		data["json"] = parsed
	}

	if t.filter != nil {
		filtered, err := t.filter.Apply(data)
		if err != nil {
			return nil, fmt.Errorf("http_call task %q: %w", t.name, err)
		}
		data["filtered"] = filtered
	}

	out := &Output{Data: data}
	if resp.StatusCode >= 400 {
		out.Failed = true
		out.Reason = fmt.Sprintf("%s %s returned %s", t.method, t.url, resp.Status)
		return out, nil
	}

	if t.expect != nil {
		ok, reason, err := t.expect.Check(data)
		if err != nil {
			return nil, fmt.Errorf("http_call task %q: %w", t.name, err)
		}
		if !ok {
			out.Failed = true
			out.Reason = reason
		}
	}
	return out, nil
}

// applyAuth attaches the configured auth scheme using bundle values.
// Scheme key conventions: basic wants username/password, bearer wants
// token, api_key wants key plus an optional header name.
func (t *HTTPTask) applyAuth(req *http.Request, bundle *creds.Bundle) error {
	if t.auth == "" {
		return nil
	}
	if bundle == nil {
		return fmt.Errorf("auth scheme %q requires a credential", t.auth)
	}
	switch t.auth {
	case "basic":
		user, ok := bundle.Value("username")
		if !ok {
			return fmt.Errorf("basic auth: bundle %q has no 'username'", bundle.Name)
		}
		pass, _ := bundle.Value("password")
		req.SetBasicAuth(user, pass)
	case "bearer":
		token, ok := bundle.Value("token")
		if !ok {
			if token, ok = bundle.Value("value"); !ok {
				return fmt.Errorf("bearer auth: bundle %q has no 'token'", bundle.Name)
			}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "api_key":
		key, ok := bundle.Value("key")
		if !ok {
			if key, ok = bundle.Value("value"); !ok {
				return fmt.Errorf("api_key auth: bundle %q has no 'key'", bundle.Name)
			}
		}
		header, ok := bundle.Value("header")
		if !ok {
			header = "X-API-Key"
		}
		req.Header.Set(header, key)
	}
	return nil
}

func parseJSONBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}
	if contentType != "" && !strings.Contains(contentType, "json") {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
