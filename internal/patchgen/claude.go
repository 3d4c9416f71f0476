package patchgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

const systemPrompt = `You are a site reliability engineer proposing the smallest safe configuration
change that addresses a production 5xx regression. Only edit files under config/.
Respond with a single JSON object and nothing else:
{"diff_summary": "...", "patch_text": "<unified diff>", "files_changed": ["..."], "risk": "low|medium|high"}`

// messageSender is the part of the SDK's MessageService used here.
type messageSender interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Claude asks the Anthropic Messages API for a patch proposal.
type Claude struct {
	messages  messageSender
	model     string
	maxTokens int64
}

// NewClaude creates a Claude generator with the given API key and model.
// Extra request options (base URL, HTTP client) are passed to the SDK.
func NewClaude(apiKey, model string, opts ...option.RequestOption) *Claude {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)
	return &Claude{messages: &client.Messages, model: model, maxTokens: 2048}
}

type claudeProposal struct {
	DiffSummary  string   `json:"diff_summary"`
	PatchText    string   `json:"patch_text"`
	FilesChanged []string `json:"files_changed"`
	Risk         string   `json:"risk"`
}

// Generate implements Generator.
func (c *Claude) Generate(ctx context.Context, env incident.Envelope, inv incident.Investigation, attempt int) (*incident.PatchProposal, error) {
	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(env, inv, attempt))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	p, err := parseProposal(text.String())
	if err != nil {
		return nil, err
	}

	risk := p.Risk
	if risk == "" {
		risk = "medium"
	}
	return &incident.PatchProposal{
		Branch:       BranchName(env.ID, attempt),
		PatchText:    p.PatchText,
		DiffSummary:  p.DiffSummary,
		FilesChanged: p.FilesChanged,
		Risk:         risk,
		Hypothesis:   inv.Reason,
	}, nil
}

func buildPrompt(env incident.Envelope, inv incident.Investigation, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Service: %s\nEnvironment: %s\nSignal: %s\n", env.Service, env.Env, env.SignalType)
	if env.RunbookHint != "" {
		fmt.Fprintf(&b, "Runbook hint: %s\n", env.RunbookHint)
	}
	fmt.Fprintf(&b, "Suspected release: %s\n", inv.SuspectedRelease)
	fmt.Fprintf(&b, "Affected endpoints: %s\n", strings.Join(inv.AffectedEndpoints, ", "))
	fmt.Fprintf(&b, "Investigation: %s\n", inv.Reason)
	if len(inv.LogEvidence) > 0 {
		b.WriteString("Error logs:\n")
		for _, l := range inv.LogEvidence {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	if attempt > 1 {
		fmt.Fprintf(&b, "\nThis is attempt %d; earlier proposals failed verification. Propose a different change.\n", attempt)
	}
	return b.String()
}

// parseProposal extracts the JSON object from the model's reply, tolerating
// markdown fences and surrounding prose.
func parseProposal(text string) (*claudeProposal, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("claude reply contains no JSON object")
	}
	var p claudeProposal
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("decode claude proposal: %w", err)
	}
	if strings.TrimSpace(p.PatchText) == "" {
		return nil, fmt.Errorf("claude proposal has empty patch_text")
	}
	if p.DiffSummary == "" {
		return nil, fmt.Errorf("claude proposal has empty diff_summary")
	}
	return &p, nil
}
