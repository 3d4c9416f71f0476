package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// HTTPRunner delegates tests and canary replays to a CI service.
//
//	POST {endpoint}/api/v1/test-runs      -> {"results": {"unit": "passed", ...}}
//	POST {endpoint}/api/v1/canary-replays -> {"status": ..., "baseline_5xx_rate": ..., ...}
type HTTPRunner struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewHTTPRunner creates a runner for the CI service at endpoint. token is
// sent as a bearer token when non-empty.
func NewHTTPRunner(endpoint, token string, client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTPRunner{endpoint: endpoint, token: token, httpClient: client}
}

type testRunRequest struct {
	Branch       string   `json:"branch"`
	PatchText    string   `json:"patch_text"`
	FilesChanged []string `json:"files_changed"`
}

type testRunResponse struct {
	Results map[string]string `json:"results"`
}

type canaryRequest struct {
	IncidentID   string  `json:"incident_id"`
	Service      string  `json:"service"`
	Env          string  `json:"env"`
	Branch       string  `json:"branch"`
	BaselineRate float64 `json:"baseline_5xx_rate"`
}

// RunTests implements Runner.
func (h *HTTPRunner) RunTests(ctx context.Context, p incident.PatchProposal) (map[string]string, error) {
	var out testRunResponse
	err := h.post(ctx, "api/v1/test-runs", testRunRequest{
		Branch:       p.Branch,
		PatchText:    p.PatchText,
		FilesChanged: p.FilesChanged,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("ci returned no test results")
	}
	return out.Results, nil
}

// RunCanaryReplay implements Runner.
func (h *HTTPRunner) RunCanaryReplay(ctx context.Context, env incident.Envelope, p incident.PatchProposal) (incident.CanaryResult, error) {
	var out incident.CanaryResult
	err := h.post(ctx, "api/v1/canary-replays", canaryRequest{
		IncidentID:   env.ID,
		Service:      env.Service,
		Env:          env.Env,
		Branch:       p.Branch,
		BaselineRate: env.ErrorRate(),
	}, &out)
	if err != nil {
		return incident.CanaryResult{}, err
	}
	if out.Status == "" {
		return incident.CanaryResult{}, fmt.Errorf("ci returned canary result without status")
	}
	return out, nil
}

func (h *HTTPRunner) post(ctx context.Context, route string, in, out any) error {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, route)

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req) //nolint:gosec // endpoint is set at construction from config
	if err != nil {
		return fmt.Errorf("ci request %s: %w", route, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ci returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
