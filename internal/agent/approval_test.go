package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

func approvalFixtures() (incident.Envelope, incident.Investigation, incident.PatchProposal, incident.VerificationReport) {
	env := envelope("http_5xx_rate", "prod", 0.21)
	inv := incident.Investigation{
		SuspectedRelease:  "v2026.02.14.2",
		AffectedEndpoints: []string{"/checkout", "/pay"},
		CorrelatedMetrics: map[string]any{"max_5xx_rate": 0.21},
		Reason:            "Error spike follows deployment v2026.02.14.2.",
	}
	p := incident.PatchProposal{DiffSummary: "Increase upstream timeout.", Hypothesis: "timeouts too tight"}
	ver := incident.VerificationReport{
		Passed:          true,
		RegressionFlags: []string{},
		Canary:          incident.CanaryResult{Status: "passed", BaselineRate: 0.21, PostPatchRate: 0.06, LatencyDeltaMs: -250},
	}
	return env, inv, p, ver
}

func TestApprovalBuilder_Package(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 12, 0, 0, 123, time.UTC)
	b := NewApprovalBuilder("main", "https://grafana.example.com/", func() time.Time { return now })
	env, inv, _, ver := approvalFixtures()

	pkg := b.Package(env, inv, ver, incident.PullRequest{URL: "pending"})

	if pkg.PR.URL != "pending" {
		t.Errorf("PR.URL = %q", pkg.PR.URL)
	}
	wantRCA := "Deployment v2026.02.14.2 introduced elevated 5xx responses on /checkout, /pay; logs indicate upstream timeout pressure."
	if pkg.RCASummary != wantRCA {
		t.Errorf("RCASummary = %q", pkg.RCASummary)
	}
	wantPlan := []string{
		"Create rollback branch from main.",
		"Revert deployment/config changes associated with release v2026.02.14.2.",
		"Re-run staging verification and monitor 5xx for 15 minutes before production rollout.",
	}
	if diff := cmp.Diff(wantPlan, pkg.RollbackPlan); diff != "" {
		t.Errorf("rollback plan (-want +got):\n%s", diff)
	}
	wantSnap := map[string]any{
		"incident_id":                "inc-1",
		"service":                    "checkout-api",
		"env":                        "prod",
		"max_5xx_rate":               0.21,
		"canary_post_patch_5xx_rate": 0.06,
		"generated_at":               "2026-02-14T12:00:00Z",
	}
	if diff := cmp.Diff(wantSnap, pkg.TelemetrySnapshot); diff != "" {
		t.Errorf("snapshot (-want +got):\n%s", diff)
	}

	wantLinks := map[string]string{
		LinkMetricsDashboard: "https://grafana.example.com/d/sentinel-metrics?var-env=prod&var-service=checkout-api",
		LinkLogsQuery:        "https://grafana.example.com/explore/logs?env=prod&incident=inc-1&service=checkout-api",
		LinkDeploymentTrace:  "https://grafana.example.com/deployments/checkout-api?release=v2026.02.14.2",
	}
	if diff := cmp.Diff(wantLinks, pkg.EvidenceLinks); diff != "" {
		t.Errorf("links (-want +got):\n%s", diff)
	}
}

func TestPullRequestText(t *testing.T) {
	t.Parallel()

	b := NewApprovalBuilder("main", "https://grafana.example.com", nil)
	env, inv, p, ver := approvalFixtures()
	pkg := b.Package(env, inv, ver, incident.PullRequest{URL: "pending"})

	if got := PullRequestTitle(env); got != "[Sentinel] Fix 5xx regression for checkout-api" {
		t.Errorf("title = %q", got)
	}

	body := PullRequestBody(env, p, ver, *pkg)
	for _, want := range []string{
		"## Sentinel Auto-Generated Fix",
		"Incident: `inc-1`",
		"### Root Cause Analysis\n" + pkg.RCASummary,
		"### Patch Hypothesis\ntimeouts too tight",
		"- pass_fail: `true`",
		"- regression_flags: `none`",
		"post_patch_5xx_rate=0.0600",
		"### Evidence Links\n- deployment_trace: ",
		"1. Create rollback branch from main.",
		"### Diff Summary\nIncrease upstream timeout.\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\n%s", want, body)
		}
	}
	if strings.Index(body, "- deployment_trace") > strings.Index(body, "- metrics_dashboard") {
		t.Error("evidence links should be sorted by key")
	}
}
