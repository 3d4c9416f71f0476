// Package client is a typed HTTP client for the sentinel incident API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/incidentapi"
	"github.com/linnemanlabs/sentinel/internal/pattern"
)

// DefaultTimeout bounds a single API call. Pipeline runs are synchronous,
// so ingest and retry can take a while against real collaborators.
const DefaultTimeout = 2 * time.Minute

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("sentinel api: %d: %s %v", e.StatusCode, e.Message, e.Fields)
	}
	return fmt.Sprintf("sentinel api: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// Client talks to one sentinel server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ingest submits an incident and returns where its run ended.
func (c *Client) Ingest(ctx context.Context, env incident.Envelope) (*incidentapi.IngestResponse, error) {
	var out incidentapi.IngestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/incidents", env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns every incident record.
func (c *Client) List(ctx context.Context) ([]*incident.Record, error) {
	var out incidentapi.ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/incidents", nil, &out); err != nil {
		return nil, err
	}
	return out.Incidents, nil
}

// Get returns one incident record.
func (c *Client) Get(ctx context.Context, id string) (*incident.Record, error) {
	var out incident.Record
	if err := c.do(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decide records an approve or reject decision and returns the transition
// label.
func (c *Client) Decide(ctx context.Context, id string, req incidentapi.ApproveRequest) (string, error) {
	var out incidentapi.ApproveResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(id)+"/approve", req, &out); err != nil {
		return "", err
	}
	return out.StateTransition, nil
}

// Retry reruns an incident from stage ("" restarts at triage).
func (c *Client) Retry(ctx context.Context, id, stage string) (*incidentapi.RetryResponse, error) {
	var out incidentapi.RetryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(id)+"/retry", incidentapi.RetryRequest{Stage: stage}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Synthetic runs a synthetic 5xx incident through the pipeline.
func (c *Client) Synthetic(ctx context.Context, req incidentapi.SyntheticRequest) (*incidentapi.SyntheticResponse, error) {
	var out incidentapi.SyntheticResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/incidents/synthetic/5xx", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patterns returns the most recent pattern records. limit <= 0 uses the
// server default.
func (c *Client) Patterns(ctx context.Context, limit int) ([]pattern.Record, error) {
	path := "/api/v1/patterns"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out incidentapi.PatternsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Patterns, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ae := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er incidentapi.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			ae.Message, ae.Fields = er.Error, er.Fields
		}
		return ae
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
