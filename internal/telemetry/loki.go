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

// LokiRange runs LogQL range queries.
type LokiRange struct {
	endpoint   string
	tenantID   string
	httpClient *http.Client
}

// Line is one log line with the labels of its stream.
type Line struct {
	Timestamp time.Time
	Text      string
	Labels    map[string]string
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string       `json:"resultType"`
		Result     []lokiStream `json:"result"`
	} `json:"data"`
}

// NewLokiRange creates a Loki client with the given endpoint and tenant ID.
func NewLokiRange(endpoint, tenantID string, client *http.Client) *LokiRange {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &LokiRange{endpoint: endpoint, tenantID: tenantID, httpClient: client}
}

// Query returns up to limit lines matching query in [start, end].
func (l *LokiRange) Query(ctx context.Context, query string, start, end time.Time, limit int) ([]Line, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}
	// Cap range to 6 hours
	if end.Sub(start) > 6*time.Hour {
		start = end.Add(-6 * time.Hour)
	}

	u, err := url.Parse(l.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "loki/api/v1/query_range")

	q := u.Query()
	q.Set("query", query)
	q.Set("start", start.UTC().Format(time.RFC3339Nano))
	q.Set("end", end.UTC().Format(time.RFC3339Nano))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("direction", "forward")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if l.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.tenantID)
	}

	resp, err := l.httpClient.Do(req) //nolint:gosec // endpoint is set at construction from config
	if err != nil {
		return nil, fmt.Errorf("loki query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20)) // 5 MB
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki returned %d: %s", resp.StatusCode, string(body))
	}

	var lokiResp lokiResponse
	if err := json.Unmarshal(body, &lokiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if lokiResp.Status != successStatus {
		return nil, fmt.Errorf("loki query failed: %s", string(body))
	}
	return flattenStreams(lokiResp.Data.Result, limit), nil
}

func flattenStreams(results []lokiStream, limit int) []Line {
	lines := make([]Line, 0, limit)
	for _, stream := range results {
		for _, entry := range stream.Values {
			if len(entry) < 2 {
				continue
			}
			ns, err := strconv.ParseInt(entry[0], 10, 64)
			if err != nil {
				continue
			}
			lines = append(lines, Line{
				Timestamp: time.Unix(0, ns).UTC(),
				Text:      entry[1],
				Labels:    stream.Stream,
			})
			if len(lines) >= limit {
				return lines
			}
		}
	}
	return lines
}
