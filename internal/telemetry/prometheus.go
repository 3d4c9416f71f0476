package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

const successStatus = "success"

// Series is one matrix series from a Prometheus range query.
type Series struct {
	Labels  map[string]string
	Samples []Sample
}

// Sample is one timestamped value.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// PrometheusRange runs PromQL range queries against Prometheus or Mimir.
type PrometheusRange struct {
	endpoint   string
	tenantID   string
	httpClient *http.Client
}

// NewPrometheusRange creates a range-query client. tenantID is sent as
// X-Scope-OrgID when non-empty.
func NewPrometheusRange(endpoint, tenantID string, client *http.Client) *PrometheusRange {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PrometheusRange{endpoint: endpoint, tenantID: tenantID, httpClient: client}
}

// Query evaluates query over [start, end] at the given step.
func (p *PrometheusRange) Query(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Series, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if step <= 0 {
		step = 5 * time.Minute
	}

	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/v1/query_range")

	q := u.Query()
	q.Set("query", query)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	q.Set("step", strconv.FormatFloat(step.Seconds(), 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", p.tenantID)
	}

	resp, err := p.httpClient.Do(req) //nolint:gosec // endpoint is set at construction from config
	if err != nil {
		return nil, fmt.Errorf("prometheus range query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20)) // 5 MB
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus returned %d: %s", resp.StatusCode, string(body))
	}

	var promResp struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string `json:"resultType"`
			Result     []struct {
				Metric map[string]string `json:"metric"`
				Values [][2]any          `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &promResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if promResp.Status != successStatus {
		return nil, fmt.Errorf("prometheus query failed: %s", string(body))
	}
	if promResp.Data.ResultType != "matrix" {
		return nil, fmt.Errorf("unexpected result type %q", promResp.Data.ResultType)
	}

	out := make([]Series, 0, len(promResp.Data.Result))
	for _, r := range promResp.Data.Result {
		s := Series{Labels: r.Metric, Samples: make([]Sample, 0, len(r.Values))}
		for _, v := range r.Values {
			sample, ok := parseSample(v)
			if !ok {
				continue
			}
			s.Samples = append(s.Samples, sample)
		}
		out = append(out, s)
	}
	return out, nil
}

// parseSample decodes a [unix_seconds, "value"] pair.
func parseSample(v [2]any) (Sample, bool) {
	ts, ok := v[0].(float64)
	if !ok {
		return Sample{}, false
	}
	str, ok := v[1].(string)
	if !ok {
		return Sample{}, false
	}
	val, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return Sample{}, false
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return Sample{Timestamp: time.Unix(sec, nsec).UTC(), Value: val}, true
}
