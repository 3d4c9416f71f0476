package pipeline

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Transition labels returned by Approve.
const (
	TransitionApproved = "approved_waiting_manual_merge"
	TransitionRejected = "rejected_manual_followup_required"
)

// Approval is a human verdict on a pr_ready incident.
type Approval struct {
	By       string
	Decision incident.Decision
	Notes    string
}

// Approve records a human decision. Only pr_ready incidents accept one;
// anything else fails with ErrNotAwaitingApproval and changes nothing.
func (e *Engine) Approve(ctx context.Context, id string, a Approval) (string, error) {
	decision, err := incident.ParseDecision(string(a.Decision))
	if err != nil {
		return "", err
	}
	release, err := e.ledger.Claim(id)
	if err != nil {
		return "", err
	}
	defer release()

	by := a.By
	if by == "" {
		by = "unknown"
	}

	status, stage, label, kind := incident.StatusApproved, incident.StageApproved, TransitionApproved, incident.EventIncidentApproved
	if decision == incident.DecisionReject {
		status, stage, label, kind = incident.StatusRejected, incident.StageRejected, TransitionRejected, incident.EventIncidentRejected
	}

	now := e.now()
	rec, err := e.ledger.Update(id, func(r *incident.Record) error {
		if r.Status != incident.StatusPRReady {
			return fmt.Errorf("%w: status is %s", incident.ErrNotAwaitingApproval, r.Status)
		}
		r.Status = status
		r.Stage = stage
		r.FinishedAt = &now
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := e.ledger.AppendEvent(id, kind, map[string]any{"approved_by": by, "notes": a.Notes}); err != nil {
		return "", err
	}

	e.hooks.outcome(status, rec.PatchAttempts)
	e.logger.Info(ctx, "approval decision recorded",
		"incident_id", id,
		"decision", decision,
		"approved_by", by,
		"transition", label,
	)
	return label, nil
}

// Retry reopens an incident and reruns the pipeline from stage ("" means
// triage). Derived artifacts are cleared first; the investigation survives
// only when resuming at the patch stage.
func (e *Engine) Retry(ctx context.Context, id, stage string) (*incident.Record, error) {
	start, err := incident.ParseResumeStage(stage)
	if err != nil {
		return nil, err
	}
	release, err := e.ledger.Claim(id)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		previous  incident.Status
		discarded string
	)
	if _, err := e.ledger.Update(id, func(r *incident.Record) error {
		switch {
		case r.Status == incident.StatusApproved || r.Status == incident.StatusRejected:
			return fmt.Errorf("%w: status is %s", incident.ErrRetryNotAllowed, r.Status)
		case !incident.CanTransition(r.Status, incident.StatusReceived):
			return fmt.Errorf("%w: %s -> %s", incident.ErrInvalidTransition, r.Status, incident.StatusReceived)
		}
		previous = r.Status
		if r.Approval != nil {
			discarded = r.Approval.PR.URL
		} else {
			discarded = r.LinkedArtifacts["pr_url"]
		}
		r.ClearDerived(start == incident.StagePatch)
		r.Status = incident.StatusReceived
		r.Stage = incident.StageReceived
		return nil
	}); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"requested_stage": string(start),
		"previous_status": string(previous),
	}
	if discarded != "" {
		payload["discarded_pr_url"] = discarded
	}
	if err := e.ledger.AppendEvent(id, incident.EventRetryTriggered, payload); err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "retry triggered", "incident_id", id, "stage", start, "previous_status", previous)

	e.run(ctx, id, start)
	return e.ledger.Get(id)
}
