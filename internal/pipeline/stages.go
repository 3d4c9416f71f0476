package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/agent"
	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/pattern"
	"github.com/linnemanlabs/sentinel/internal/pullrequest"
)

// Fixed escalation reasons.
const (
	ReasonMaxPatchAttempts     = "Verification failed after maximum patch attempts."
	ReasonMissingArtifacts     = "Missing artifacts for approval package generation."
	ReasonMissingInvestigation = "Missing investigation artifact for patch stage retry."
)

const (
	pendingPRURL      = "pending"
	bodyPreviewLength = 200
)

// triage returns done when the incident stops at duplicate or blocked.
func (e *Engine) triage(ctx context.Context, rec *incident.Record) (bool, error) {
	ctx, span := e.startSpan(ctx, "pipeline.triage", rec)
	defer span.End()
	defer e.observeStage(incident.StageTriage, e.now())

	id := rec.Incident.ID
	dups := e.ledger.FindRecentDuplicates(rec.Fingerprint, id, e.cfg.DedupeWindow)
	d := e.policy.Evaluate(rec.Incident, len(dups) > 0)
	span.SetAttributes(
		attribute.String("sentinel.triage.status", string(d.Status)),
		attribute.String("sentinel.triage.severity", string(d.Severity)),
		attribute.Int("sentinel.triage.duplicates", len(dups)),
	)

	if err := e.ledger.AppendEvent(id, incident.EventTriageCompleted, map[string]any{
		"status":   string(d.Status),
		"severity": string(d.Severity),
		"reason":   d.Reason,
	}); err != nil {
		return true, err
	}
	log.FromContext(ctx).Info(ctx, "triage completed", "status", d.Status, "severity", d.Severity, "reason", d.Reason)

	if d.Eligible {
		_, err := e.transition(id, d.Status, incident.StageTriage, nil)
		return false, err
	}

	stage := incident.StageBlocked
	if d.Status == incident.StatusDuplicate {
		stage = incident.StageDuplicate
	}
	return true, e.finish(id, d.Status, stage, d.Reason)
}

// investigate retries transient investigation faults up to the configured
// attempt count. It returns done when the run escalated.
func (e *Engine) investigate(ctx context.Context, rec *incident.Record) (*incident.Investigation, bool, error) {
	ctx, span := e.startSpan(ctx, "pipeline.investigation", rec)
	defer span.End()
	defer e.observeStage(incident.StageInvestigation, e.now())

	L := log.FromContext(ctx)
	id := rec.Incident.ID
	if _, err := e.transition(id, incident.StatusInvestigating, incident.StageInvestigation, nil); err != nil {
		return nil, true, err
	}

	attempts := max(1, e.cfg.InvestigationAttempts)
	var reason string
	for attempt := 1; attempt <= attempts; attempt++ {
		inv, err := e.investigator.Investigate(ctx, rec.Incident)
		if err == nil && inv == nil {
			err = errors.New("investigator returned no result")
		}
		if err != nil {
			reason = fmt.Sprintf("Investigation attempt %d failed: %v", attempt, err)
			span.RecordError(err)
			L.Warn(ctx, "investigation attempt failed", "attempt", attempt, "err", err)
			if aerr := e.ledger.AppendEvent(id, incident.EventInvestigationCompleted, map[string]any{
				"attempt": attempt,
				"status":  "failed",
				"error":   err.Error(),
			}); aerr != nil {
				return nil, true, aerr
			}
			continue
		}

		if _, err := e.ledger.Update(id, func(r *incident.Record) error {
			r.Investigation = inv
			r.Confidence = inv.Confidence
			return nil
		}); err != nil {
			return nil, true, err
		}
		if err := e.ledger.AppendEvent(id, incident.EventInvestigationCompleted, map[string]any{
			"attempt":    attempt,
			"status":     "completed",
			"confidence": inv.Confidence,
		}); err != nil {
			return nil, true, err
		}
		e.hooks.investigation(inv.Confidence)
		span.SetAttributes(
			attribute.Float64("sentinel.investigation.confidence", inv.Confidence),
			attribute.String("sentinel.investigation.release", inv.SuspectedRelease),
		)

		if reason, low := e.belowThreshold(inv.Confidence); low {
			return nil, true, e.escalate(ctx, id, incident.StageInvestigation, reason)
		}
		return inv, false, nil
	}

	span.SetStatus(codes.Error, reason)
	return nil, true, e.escalate(ctx, id, incident.StageInvestigation, reason)
}

// patchAndVerify proposes and verifies patches until one passes or the
// attempt budget runs out. Every iteration bumps the record's global
// attempt counter, which also names the branch.
func (e *Engine) patchAndVerify(ctx context.Context, rec *incident.Record, inv incident.Investigation) error {
	ctx, span := e.startSpan(ctx, "pipeline.patch_and_verify", rec)
	defer span.End()
	defer e.observeStage(incident.StagePatch, e.now())

	L := log.FromContext(ctx)
	id := rec.Incident.ID
	env := rec.Incident

	for i := 1; i <= max(1, e.cfg.MaxPatchAttempts); i++ {
		cur, err := e.transition(id, incident.StatusPatching, incident.StagePatch, func(r *incident.Record) {
			r.PatchAttempts++
		})
		if err != nil {
			return err
		}
		attempt := cur.PatchAttempts
		span.SetAttributes(attribute.Int("sentinel.patch.attempt", attempt))

		p, err := e.patcher.Propose(ctx, env, inv, attempt)
		if err != nil {
			span.RecordError(err)
			return e.escalate(ctx, id, incident.StagePatch, "patch generation failed: "+err.Error())
		}
		if _, err := e.ledger.Update(id, func(r *incident.Record) error {
			r.Patch = p
			return nil
		}); err != nil {
			return err
		}
		if err := e.ledger.AppendEvent(id, incident.EventPatchGenerated, map[string]any{
			"attempt": attempt,
			"branch":  p.Branch,
			"files":   append([]string(nil), p.FilesChanged...),
		}); err != nil {
			return err
		}
		L.Info(ctx, "patch generated", "attempt", attempt, "branch", p.Branch, "files", len(p.FilesChanged))

		if _, err := e.transition(id, incident.StatusVerifying, incident.StageVerification, nil); err != nil {
			return err
		}
		rep, err := e.verifier.Verify(ctx, env, *p)
		if err != nil {
			span.RecordError(err)
			return e.escalate(ctx, id, incident.StageVerification, "verification failed: "+err.Error())
		}
		if _, err := e.ledger.Update(id, func(r *incident.Record) error {
			r.Verification = rep
			return nil
		}); err != nil {
			return err
		}
		if err := e.ledger.AppendEvent(id, incident.EventVerificationCompleted, map[string]any{
			"attempt":     attempt,
			"pass_fail":   rep.Passed,
			"regressions": append([]string{}, rep.RegressionFlags...),
		}); err != nil {
			return err
		}
		L.Info(ctx, "verification completed", "attempt", attempt, "passed", rep.Passed, "regressions", rep.RegressionFlags)

		if rep.Passed {
			return e.packageForApproval(ctx, id)
		}
	}

	return e.escalate(ctx, id, incident.StageVerification, ReasonMaxPatchAttempts)
}

// packageForApproval opens the draft pull request, records the pattern and
// parks the incident at pr_ready.
func (e *Engine) packageForApproval(ctx context.Context, id string) error {
	rec, err := e.ledger.Get(id)
	if err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "pipeline.approval", rec)
	defer span.End()
	defer e.observeStage(incident.StageApproval, e.now())

	if rec.Investigation == nil || rec.Patch == nil || rec.Verification == nil {
		span.SetStatus(codes.Error, ReasonMissingArtifacts)
		return e.escalate(ctx, id, incident.StageApproval, ReasonMissingArtifacts)
	}
	env, inv, p, ver := rec.Incident, *rec.Investigation, *rec.Patch, *rec.Verification

	title := agent.PullRequestTitle(env)
	base := e.approvals.BaseBranch()
	provisional := e.approvals.Package(env, inv, ver, incident.PullRequest{
		URL:        pendingPRURL,
		Title:      title,
		HeadBranch: p.Branch,
		BaseBranch: base,
	})
	body := agent.PullRequestBody(env, p, ver, *provisional)

	pr, err := e.prs.CreateDraft(ctx, pullrequest.Request{Title: title, Body: body, Head: p.Branch, Base: base})
	if err == nil && pr == nil {
		err = errors.New("creator returned no pull request")
	}
	if err != nil {
		span.RecordError(err)
		return e.escalate(ctx, id, incident.StageApproval, "pull request creation failed: "+err.Error())
	}
	span.SetAttributes(attribute.String("sentinel.pr.url", pr.URL))

	pkg := e.approvals.Package(env, inv, ver, *pr)

	if err := e.patterns.Save(ctx, pattern.Record{
		Fingerprint:  rec.Fingerprint,
		RootCause:    inv.Reason,
		FixSignature: p.DiffSummary,
		Outcome:      pattern.OutcomePendingApproval,
		CreatedAt:    e.now(),
	}); err != nil {
		span.RecordError(err)
		// the draft PR already exists; keep its url so it is not orphaned
		return e.escalateWith(ctx, id, incident.StageApproval, "pattern store save failed: "+err.Error(),
			map[string]string{"pr_url": pr.URL})
	}

	links := make(map[string]string, len(pkg.EvidenceLinks)+1)
	for k, v := range pkg.EvidenceLinks {
		links[k] = v
	}
	links["pr_url"] = pr.URL

	now := e.now()
	if _, err := e.transition(id, incident.StatusPRReady, incident.StageApproval, func(r *incident.Record) {
		r.Approval = pkg
		r.LinkedArtifacts = links
		r.FinishedAt = &now
	}); err != nil {
		return err
	}
	if err := e.ledger.AppendEvent(id, incident.EventApprovalPackageReady, map[string]any{
		"pr_url":       pr.URL,
		"body_preview": preview(body, bodyPreviewLength),
	}); err != nil {
		return err
	}
	log.FromContext(ctx).Info(ctx, "approval package ready", "pr_url", pr.URL, "branch", p.Branch)
	return nil
}

// preview truncates s to at most n bytes without splitting a rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
