package agent

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Evidence link keys, also copied into a record's linked artifacts.
const (
	LinkMetricsDashboard = "metrics_dashboard"
	LinkLogsQuery        = "logs_query"
	LinkDeploymentTrace  = "deployment_trace"
)

// ApprovalBuilder renders approval packages and the matching pull request
// text.
type ApprovalBuilder struct {
	baseBranch string
	obsURL     string
	now        func() time.Time
}

// NewApprovalBuilder returns a builder that links evidence under
// observabilityURL and plans rollbacks from baseBranch.
func NewApprovalBuilder(baseBranch, observabilityURL string, now func() time.Time) *ApprovalBuilder {
	if now == nil {
		now = time.Now
	}
	return &ApprovalBuilder{
		baseBranch: baseBranch,
		obsURL:     strings.TrimRight(observabilityURL, "/"),
		now:        now,
	}
}

// BaseBranch is the branch pull requests target.
func (b *ApprovalBuilder) BaseBranch() string { return b.baseBranch }

// Package assembles the approval package for pr.
func (b *ApprovalBuilder) Package(env incident.Envelope, inv incident.Investigation, ver incident.VerificationReport, pr incident.PullRequest) *incident.ApprovalPackage {
	return &incident.ApprovalPackage{
		PR:            pr,
		RCASummary:    RCASummary(inv),
		EvidenceLinks: b.EvidenceLinks(env, inv),
		RollbackPlan: []string{
			fmt.Sprintf("Create rollback branch from %s.", b.baseBranch),
			fmt.Sprintf("Revert deployment/config changes associated with release %s.", inv.SuspectedRelease),
			"Re-run staging verification and monitor 5xx for 15 minutes before production rollout.",
		},
		TelemetrySnapshot: map[string]any{
			"incident_id":                env.ID,
			"service":                    env.Service,
			"env":                        env.Env,
			"max_5xx_rate":               inv.CorrelatedMetrics["max_5xx_rate"],
			"canary_post_patch_5xx_rate": ver.Canary.PostPatchRate,
			"generated_at":               b.now().UTC().Truncate(time.Second).Format(time.RFC3339),
		},
	}
}

// EvidenceLinks points reviewers at the dashboards behind the
// investigation.
func (b *ApprovalBuilder) EvidenceLinks(env incident.Envelope, inv incident.Investigation) map[string]string {
	svc := url.Values{"var-service": {env.Service}, "var-env": {env.Env}}
	logs := url.Values{"service": {env.Service}, "env": {env.Env}, "incident": {env.ID}}
	release := url.Values{"release": {inv.SuspectedRelease}}
	return map[string]string{
		LinkMetricsDashboard: b.obsURL + "/d/sentinel-metrics?" + svc.Encode(),
		LinkLogsQuery:        b.obsURL + "/explore/logs?" + logs.Encode(),
		LinkDeploymentTrace:  b.obsURL + "/deployments/" + url.PathEscape(env.Service) + "?" + release.Encode(),
	}
}

// RCASummary is the one-line root cause statement.
func RCASummary(inv incident.Investigation) string {
	return fmt.Sprintf(
		"Deployment %s introduced elevated 5xx responses on %s; logs indicate upstream timeout pressure.",
		inv.SuspectedRelease, strings.Join(inv.AffectedEndpoints, ", "),
	)
}

// PullRequestTitle is the draft pull request title for env.
func PullRequestTitle(env incident.Envelope) string {
	return fmt.Sprintf("[Sentinel] Fix 5xx regression for %s", env.Service)
}

// PullRequestBody renders the markdown body reviewers see.
func PullRequestBody(env incident.Envelope, p incident.PatchProposal, ver incident.VerificationReport, pkg incident.ApprovalPackage) string {
	regressions := "none"
	if len(ver.RegressionFlags) > 0 {
		regressions = strings.Join(ver.RegressionFlags, ", ")
	}

	var b strings.Builder
	b.WriteString("## Sentinel Auto-Generated Fix\n\n")
	fmt.Fprintf(&b, "Incident: `%s`\nService: `%s`\nEnvironment: `%s`\n\n", env.ID, env.Service, env.Env)

	fmt.Fprintf(&b, "### Root Cause Analysis\n%s\n\n", pkg.RCASummary)
	fmt.Fprintf(&b, "### Patch Hypothesis\n%s\n\n", p.Hypothesis)

	b.WriteString("### Verification Summary\n")
	fmt.Fprintf(&b, "- pass_fail: `%t`\n", ver.Passed)
	fmt.Fprintf(&b, "- regression_flags: `%s`\n", regressions)
	fmt.Fprintf(&b, "- canary_result: `status=%s baseline_5xx_rate=%.4f post_patch_5xx_rate=%.4f latency_delta_ms=%.0f`\n\n",
		ver.Canary.Status, ver.Canary.BaselineRate, ver.Canary.PostPatchRate, ver.Canary.LatencyDeltaMs)

	b.WriteString("### Evidence Links\n")
	keys := make([]string, 0, len(pkg.EvidenceLinks))
	for k := range pkg.EvidenceLinks {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, pkg.EvidenceLinks[k])
	}
	b.WriteString("\n### Rollback Plan\n")
	for _, step := range pkg.RollbackPlan {
		fmt.Fprintf(&b, "1. %s\n", step)
	}
	fmt.Fprintf(&b, "\n### Diff Summary\n%s\n", p.DiffSummary)
	return b.String()
}
