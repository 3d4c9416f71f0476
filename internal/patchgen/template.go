package patchgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// change is one key edited in one config file.
type change struct {
	file     string
	key      string
	from, to int
}

// Template is a deterministic Generator with two canned remedies: a
// timeout/retry budget increase, or a DB pool increase when the log
// evidence points at connection-pool exhaustion.
type Template struct{}

// NewTemplate returns a Template generator.
func NewTemplate() *Template { return &Template{} }

// Generate implements Generator.
func (t *Template) Generate(_ context.Context, env incident.Envelope, inv incident.Investigation, attempt int) (*incident.PatchProposal, error) {
	summary := "Increase upstream timeout and retry budget for checkout dependency."
	changes := []change{
		{file: "config/retries.yaml", key: "payments_max_retries", from: 1, to: 3},
		{file: "config/timeouts.yaml", key: "payments_timeout_ms", from: 400, to: 900},
	}

	evidence := strings.ToLower(strings.Join(inv.LogEvidence, " "))
	if strings.Contains(evidence, "connection") && strings.Contains(evidence, "pool") {
		summary = "Increase DB pool ceiling and backoff for transient failures."
		changes = []change{
			{file: "config/db_pool.yaml", key: "max_connections", from: 25, to: 45},
		}
	}

	files := make([]string, 0, len(changes))
	for _, c := range changes {
		files = append(files, c.file)
	}

	return &incident.PatchProposal{
		Branch:       BranchName(env.ID, attempt),
		PatchText:    renderDiff(changes),
		DiffSummary:  summary,
		FilesChanged: files,
		Risk:         "low",
		Hypothesis:   inv.Reason,
	}, nil
}

func renderDiff(changes []change) string {
	var b strings.Builder
	for _, c := range changes {
		fmt.Fprintf(&b, "diff --git a/%[1]s b/%[1]s\n", c.file)
		fmt.Fprintf(&b, "--- a/%s\n", c.file)
		fmt.Fprintf(&b, "+++ b/%s\n", c.file)
		b.WriteString("@@ -1,1 +1,1 @@\n")
		fmt.Fprintf(&b, "-%s: %d\n", c.key, c.from)
		fmt.Fprintf(&b, "+%s: %d\n", c.key, c.to)
	}
	return b.String()
}
