// Package client talks to the task API the way the web frontend does: it
// validates input with the server's own rules, strips markup from free
// text, caches reads and invalidates them after writes. Server validation
// stays authoritative; the local checks only save a round trip.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hiroki-koketsu/taskboard/internal/model"
	"github.com/hiroki-koketsu/taskboard/internal/validation"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const (
	keyTasks = "tasks"
	basePath = "/api/v1/task"
)

// taskKey is the cache key for a single task.
func taskKey(id string) string {
	return keyTasks + "/" + id
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int                `json:"status"`
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Details []model.FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task api: status %d", e.Status)
	}
	return fmt.Sprintf("task api: %s (%d): %s", e.Code, e.Status, e.Message)
}

// MessageOf returns the server-provided message for err, or fallback.
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// Client is an HTTP client for the task API.
type Client struct {
	baseURL   string
	http      *http.Client
	token     string
	validator *validation.Validator
	sanitizer *bluemonday.Policy
	cache     *QueryCache
	group     singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithValidator replaces the local validator, e.g. to pin its clock.
func WithValidator(v *validation.Validator) Option {
	return func(c *Client) {
		c.validator = v
	}
}

// WithCacheTTL sets how long cached reads stay fresh.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewQueryCache(ttl)
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		validator: validation.New(),
		sanitizer: bluemonday.StrictPolicy(),
		cache:     NewQueryCache(time.Minute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache exposes the query cache, mainly for inspection.
func (c *Client) Cache() *QueryCache {
	return c.cache
}

// Create sanitizes and validates req, then creates the task.
func (c *Client) Create(ctx context.Context, req model.CreateTaskRequest) (model.Task, error) {
	req.TaskFields = c.sanitize(req.TaskFields)
	if _, err := c.validator.ValidateCreate(req); err != nil {
		return model.Task{}, err
	}

	var task model.Task
	if err := c.do(ctx, http.MethodPost, basePath, req, &task); err != nil {
		return model.Task{}, err
	}

	c.cache.Invalidate(keyTasks)
	return task, nil
}

// Update sanitizes and validates req, then replaces the task's fields.
func (c *Client) Update(ctx context.Context, id string, req model.UpdateTaskRequest) (model.Task, error) {
	req.TaskFields = c.sanitize(req.TaskFields)
	if _, err := c.validator.ValidateUpdate(req); err != nil {
		return model.Task{}, err
	}

	var task model.Task
	if err := c.do(ctx, http.MethodPut, basePath+"/"+url.PathEscape(id), req, &task); err != nil {
		return model.Task{}, err
	}

	c.cache.Invalidate(keyTasks)
	c.cache.Invalidate(taskKey(id))
	return task, nil
}

// Get returns a task, serving fresh cached copies and collapsing
// concurrent fetches of the same id into one request.
func (c *Client) Get(ctx context.Context, id string) (model.Task, error) {
	key := taskKey(id)
	if v, ok := c.cache.Get(key); ok {
		return v.(model.Task).Clone(), nil
	}

	task, err := load[model.Task](ctx, c, key, basePath+"/"+url.PathEscape(id))
	if err != nil {
		return model.Task{}, err
	}
	return task.Clone(), nil
}

// List returns the caller's tasks, cached under the collection key.
func (c *Client) List(ctx context.Context) ([]model.Task, error) {
	if v, ok := c.cache.Get(keyTasks); ok {
		return cloneAll(v.([]model.Task)), nil
	}

	tasks, err := load[[]model.Task](ctx, c, keyTasks, basePath)
	if err != nil {
		return nil, err
	}
	return cloneAll(tasks), nil
}

// load fetches path once for all concurrent callers of the same key and
// generation. The fetch outlives any single caller's cancellation, and its
// result is cached only if key was not invalidated while it ran.
func load[T any](ctx context.Context, c *Client, key, path string) (T, error) {
	gen := c.cache.Generation(key)
	flight := fmt.Sprintf("%s@%d", key, gen)

	ch := c.group.DoChan(flight, func() (any, error) {
		var out T
		if err := c.do(context.WithoutCancel(ctx), http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		c.cache.SetIfGeneration(key, out, gen)
		return out, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// sanitize strips markup from the free-text fields. The policy escapes
// what it keeps, so the result is unescaped back to plain text.
func (c *Client) sanitize(f model.TaskFields) model.TaskFields {
	if f.Title != nil {
		t := c.plainText(*f.Title)
		f.Title = &t
	}
	if f.Description != nil {
		if d := c.plainText(*f.Description); d != "" {
			f.Description = &d
		} else {
			f.Description = nil
		}
	}
	return f
}

func (c *Client) plainText(s string) string {
	return html.UnescapeString(c.sanitizer.Sanitize(s))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		// A non-JSON error body still yields an APIError with just the status.
		_ = json.Unmarshal(raw, apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func cloneAll(tasks []model.Task) []model.Task {
	out := make([]model.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
