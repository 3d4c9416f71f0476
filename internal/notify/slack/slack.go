// Package slack posts incident outcomes to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends pr_ready and escalated incidents to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Notify posts a summary of r to the configured webhook. Records in other
// statuses are ignored.
func (n *Notifier) Notify(ctx context.Context, r *incident.Record) error {
	if n.webhookURL == "" {
		return nil
	}
	if r.Status != incident.StatusPRReady && r.Status != incident.StatusEscalated {
		return nil
	}

	body, err := json.Marshal(buildMessage(r))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "incident_id", r.Incident.ID, "status", r.Status)
	return nil
}

func buildMessage(r *incident.Record) map[string]any {
	blocks := []map[string]any{
		headerBlock(r),
		{"type": "divider"},
		fieldsBlock(r),
		{"type": "divider"},
		summaryBlock(r),
	}
	if links := linksBlock(r); links != nil {
		blocks = append(blocks, map[string]any{"type": "divider"}, links)
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(r))
	return map[string]any{"blocks": blocks}
}

func headerBlock(r *incident.Record) map[string]any {
	title := "\U0001f7e2 Fix Ready for Review" // green circle
	if r.Status == incident.StatusEscalated {
		title = "\U0001f534 Escalated to On-call" // red circle
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s: %s", title, r.Incident.Service),
		},
	}
}

func fieldsBlock(r *incident.Record) map[string]any {
	field := func(name string, v any) map[string]any {
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s:* %v", name, v)}
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("Status", r.Status),
			field("Env", r.Incident.Env),
			field("Signal", r.Incident.SignalType),
			field("Endpoint", or(r.Incident.Endpoint(), incident.DefaultEndpoint)),
			field("Confidence", fmt.Sprintf("%.2f", r.Confidence)),
			field("Patch attempts", r.PatchAttempts),
		},
	}
}

func summaryBlock(r *incident.Record) map[string]any {
	heading, text := "Root cause", ""
	switch {
	case r.Status == incident.StatusEscalated:
		heading, text = "Reason", r.LastError
	case r.Approval != nil:
		text = r.Approval.RCASummary
	case r.Investigation != nil:
		text = r.Investigation.Reason
	}
	text = truncate(text, maxSummaryLen)
	if text == "" {
		text = "_No details available._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n\n%s", heading, text),
		},
	}
}

// linksBlock lists linked artifacts, pr_url first. Returns nil when there
// are none.
func linksBlock(r *incident.Record) map[string]any {
	if len(r.LinkedArtifacts) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.LinkedArtifacts))
	for k := range r.LinkedArtifacts {
		if k != "pr_url" {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	if u, ok := r.LinkedArtifacts["pr_url"]; ok {
		fmt.Fprintf(&buf, "• <%s|Draft pull request>\n", u)
	}
	for _, k := range names {
		fmt.Fprintf(&buf, "• <%s|%s>\n", r.LinkedArtifacts[k], k)
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": buf.String()},
	}
}

func contextBlock(r *incident.Record) map[string]any {
	ts := r.UpdatedAt
	if r.FinishedAt != nil {
		ts = *r.FinishedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sentinel • %s • %s", r.Incident.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
