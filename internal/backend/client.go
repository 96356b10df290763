// Package backend is the HTTP client for the simulation compute backend. It
// fetches and saves full input documents, fetches per-building schedules
// lazily, and exposes the database-editor document endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scenariocore/pkg/domain"
)

// ErrUnauthorized reports a rejected credential. Callers surface it as a
// sign-in prompt rather than a generic failure.
var ErrUnauthorized = errors.New("backend rejected credentials")

// StatusError carries a non-2xx backend response. Detail holds the response
// body's "detail" field when present, else the raw body.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Detail)
}

// Client talks to one compute backend instance.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient constructs a backend client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend base URL required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	c := &Client{baseURL: baseURL, http: &http.Client{Timeout: 60 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// readDetail extracts the backend's error detail from a failed response.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(raw))
}

func scenarioQuery(project, scenario string) url.Values {
	q := url.Values{}
	q.Set("project", project)
	q.Set("scenario", scenario)
	return q
}

// FetchInputs downloads the full input document of one scenario.
func (c *Client) FetchInputs(ctx context.Context, project, scenario string) (domain.ScenarioDocument, error) {
	var doc domain.ScenarioDocument
	if err := c.do(ctx, http.MethodGet, "/api/inputs/all-inputs", scenarioQuery(project, scenario), nil, &doc); err != nil {
		return domain.ScenarioDocument{}, err
	}
	return doc, nil
}

// SaveInputs uploads the full input document, replacing server state.
func (c *Client) SaveInputs(ctx context.Context, project, scenario string, doc domain.ScenarioDocument) error {
	return c.do(ctx, http.MethodPut, "/api/inputs/all-inputs", scenarioQuery(project, scenario), doc, nil)
}

// FetchSchedule downloads one building's occupancy schedule.
func (c *Client) FetchSchedule(ctx context.Context, project, scenario, buildingID string) (domain.Schedule, error) {
	var sched domain.Schedule
	path := "/api/inputs/building-schedule/" + url.PathEscape(buildingID)
	if err := c.do(ctx, http.MethodGet, path, scenarioQuery(project, scenario), nil, &sched); err != nil {
		return domain.Schedule{}, err
	}
	return sched, nil
}

// FetchDatabases downloads the scenario's database document.
func (c *Client) FetchDatabases(ctx context.Context, project, scenario string) (domain.DatabaseDocument, error) {
	var doc domain.DatabaseDocument
	if err := c.do(ctx, http.MethodGet, "/api/inputs/databases", scenarioQuery(project, scenario), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveDatabases uploads the full database document, replacing server state.
func (c *Client) SaveDatabases(ctx context.Context, project, scenario string, doc domain.DatabaseDocument) error {
	return c.do(ctx, http.MethodPut, "/api/inputs/databases", scenarioQuery(project, scenario), doc, nil)
}
