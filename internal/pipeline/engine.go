package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentinel/internal/agent"
	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/incident/ledger"
	"github.com/linnemanlabs/sentinel/internal/origin"
	"github.com/linnemanlabs/sentinel/internal/pattern"
	"github.com/linnemanlabs/sentinel/internal/pullrequest"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/pipeline")

// Investigator runs one investigation attempt.
type Investigator interface {
	Investigate(ctx context.Context, env incident.Envelope) (*incident.Investigation, error)
}

// Patcher proposes a patch for an investigated incident.
type Patcher interface {
	Propose(ctx context.Context, env incident.Envelope, inv incident.Investigation, attempt int) (*incident.PatchProposal, error)
}

// Verifier tests a proposal and classifies the outcome.
type Verifier interface {
	Verify(ctx context.Context, env incident.Envelope, p incident.PatchProposal) (*incident.VerificationReport, error)
}

// Config holds the engine's tunables.
type Config struct {
	ConfidenceThreshold   float64
	MaxPatchAttempts      int
	InvestigationAttempts int
	DedupeWindow          time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:   0.65,
		MaxPatchAttempts:      2,
		InvestigationAttempts: 2,
		DedupeWindow:          20 * time.Minute,
	}
}

// Deps are the engine's collaborators. Notifier and Clock are optional.
type Deps struct {
	Ledger       *ledger.Ledger
	Policy       agent.TriagePolicy
	Investigator Investigator
	Patcher      Patcher
	Verifier     Verifier
	PullRequests pullrequest.Creator
	Patterns     pattern.Store
	Approvals    *agent.ApprovalBuilder
	Notifier     Notifier
	Clock        func() time.Time
}

// Engine is the orchestration state machine.
type Engine struct {
	cfg          Config
	ledger       *ledger.Ledger
	policy       agent.TriagePolicy
	investigator Investigator
	patcher      Patcher
	verifier     Verifier
	prs          pullrequest.Creator
	patterns     pattern.Store
	approvals    *agent.ApprovalBuilder
	notifier     Notifier
	hooks        EngineHooks
	logger       log.Logger
	now          func() time.Time
}

// New builds an Engine. It panics when a required collaborator is missing.
func New(cfg Config, deps Deps, logger log.Logger, hooks EngineHooks) *Engine {
	switch {
	case deps.Ledger == nil:
		panic(xerrors.New("pipeline: ledger is required"))
	case deps.Investigator == nil:
		panic(xerrors.New("pipeline: investigator is required"))
	case deps.Patcher == nil:
		panic(xerrors.New("pipeline: patcher is required"))
	case deps.Verifier == nil:
		panic(xerrors.New("pipeline: verifier is required"))
	case deps.PullRequests == nil:
		panic(xerrors.New("pipeline: pull request creator is required"))
	case deps.Patterns == nil:
		panic(xerrors.New("pipeline: pattern store is required"))
	case deps.Approvals == nil:
		panic(xerrors.New("pipeline: approval builder is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:          cfg,
		ledger:       deps.Ledger,
		policy:       deps.Policy,
		investigator: deps.Investigator,
		patcher:      deps.Patcher,
		verifier:     deps.Verifier,
		prs:          deps.PullRequests,
		patterns:     deps.Patterns,
		approvals:    deps.Approvals,
		notifier:     deps.Notifier,
		hooks:        hooks,
		logger:       logger,
		now:          func() time.Time { return now().UTC() },
	}
}

// Ingest validates env, records it and runs the full pipeline. The returned
// record reflects the state the run ended in. A missing incident id is
// assigned and a missing start time defaults to now.
func (e *Engine) Ingest(ctx context.Context, env incident.Envelope) (*incident.Record, error) {
	if env.ID == "" {
		env.ID = "inc-" + ulid.Make().String()
	}
	if env.StartTime.IsZero() {
		env.StartTime = e.now()
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	rec := incident.NewRecord(env, e.now())
	if err := e.ledger.Create(rec); err != nil {
		return nil, err
	}
	release, err := e.ledger.Claim(env.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	e.hooks.ingest()
	if err := e.ledger.AppendEvent(env.ID, incident.EventIncidentReceived, map[string]any{
		"fingerprint": rec.Fingerprint,
		"signal_type": env.SignalType,
	}); err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "incident received",
		"incident_id", env.ID,
		"service", env.Service,
		"env", env.Env,
		"fingerprint", rec.Fingerprint,
	)

	e.run(ctx, env.ID, incident.StageTriage)
	return e.ledger.Get(env.ID)
}

// Get returns a snapshot of one record.
func (e *Engine) Get(id string) (*incident.Record, error) {
	return e.ledger.Get(id)
}

// List returns snapshots of every record, oldest first.
func (e *Engine) List() []*incident.Record {
	return e.ledger.List()
}

// Patterns returns the most recent pattern records.
func (e *Engine) Patterns(ctx context.Context, limit int) ([]pattern.Record, error) {
	return e.patterns.ListRecent(ctx, limit)
}

// run drives the incident from start to a terminal status and fires the
// outcome hooks. The caller must hold the incident's claim.
func (e *Engine) run(ctx context.Context, id string, start incident.Stage) {
	// A run always reaches a terminal status, even when the caller that
	// started it goes away.
	ctx = context.WithoutCancel(ctx)
	L := e.logger.With("incident_id", id)
	ctx = log.WithContext(ctx, L)
	ctx = origin.With(ctx, origin.Pipeline)

	if err := e.drive(ctx, id, start); err != nil {
		if errors.Is(err, incident.ErrInvalidTransition) {
			e.fail(ctx, id, err.Error())
		} else {
			L.Error(ctx, err, "pipeline run aborted")
		}
	}

	rec, err := e.ledger.Get(id)
	if err != nil {
		L.Error(ctx, err, "failed to load record after run")
		return
	}
	e.hooks.outcome(rec.Status, rec.PatchAttempts)
	L.Info(ctx, "pipeline run finished",
		"status", rec.Status,
		"stage", rec.Stage,
		"patch_attempts", rec.PatchAttempts,
		"confidence", rec.Confidence,
	)

	if e.notifier != nil && (rec.Status == incident.StatusPRReady || rec.Status == incident.StatusEscalated) {
		if err := e.notifier.Notify(ctx, rec); err != nil {
			L.Warn(ctx, "notification failed", "err", err)
		}
	}
}

func (e *Engine) drive(ctx context.Context, id string, start incident.Stage) error {
	rec, err := e.ledger.Get(id)
	if err != nil {
		return err
	}

	if start == incident.StageTriage {
		done, err := e.triage(ctx, rec)
		if err != nil || done {
			return err
		}
	}

	var inv *incident.Investigation
	if start == incident.StagePatch {
		inv = rec.Investigation
		if inv == nil {
			return e.escalate(ctx, id, incident.StagePatch, ReasonMissingInvestigation)
		}
		if reason, low := e.belowThreshold(inv.Confidence); low {
			return e.escalate(ctx, id, incident.StagePatch, reason)
		}
	} else {
		var done bool
		inv, done, err = e.investigate(ctx, rec)
		if err != nil || done {
			return err
		}
	}

	return e.patchAndVerify(ctx, rec, *inv)
}

// transition moves the record to status/stage, applying fn in the same
// critical section. Moves outside the allowed table fail with
// ErrInvalidTransition and leave the record untouched.
func (e *Engine) transition(id string, to incident.Status, stage incident.Stage, fn func(r *incident.Record)) (*incident.Record, error) {
	return e.ledger.Update(id, func(r *incident.Record) error {
		if r.Status != to && !incident.CanTransition(r.Status, to) {
			return fmt.Errorf("%w: %s -> %s", incident.ErrInvalidTransition, r.Status, to)
		}
		r.Status = to
		r.Stage = stage
		if fn != nil {
			fn(r)
		}
		return nil
	})
}

// belowThreshold reports whether confidence is too low to attempt a patch,
// with the escalation reason when it is.
func (e *Engine) belowThreshold(confidence float64) (string, bool) {
	if confidence >= e.cfg.ConfidenceThreshold {
		return "", false
	}
	return fmt.Sprintf("Confidence below threshold: %.2f < %.2f", confidence, e.cfg.ConfidenceThreshold), true
}

// finish moves the record to a terminal status with reason as last_error.
func (e *Engine) finish(id string, to incident.Status, stage incident.Stage, reason string) error {
	now := e.now()
	_, err := e.transition(id, to, stage, func(r *incident.Record) {
		r.LastError = reason
		r.FinishedAt = &now
	})
	return err
}

// escalate is the shared terminal transition for tool faults, low
// confidence, exhausted attempts and missing artifacts. from is the stage
// that gave up.
func (e *Engine) escalate(ctx context.Context, id string, from incident.Stage, reason string) error {
	return e.escalateWith(ctx, id, from, reason, nil)
}

// escalateWith escalates and records artifacts that already exist outside
// the ledger, such as a draft pull request, in linked_artifacts and in the
// escalation event.
func (e *Engine) escalateWith(ctx context.Context, id string, from incident.Stage, reason string, artifacts map[string]string) error {
	now := e.now()
	if _, err := e.transition(id, incident.StatusEscalated, incident.StageEscalated, func(r *incident.Record) {
		r.LastError = reason
		r.FinishedAt = &now
		if len(artifacts) > 0 && r.LinkedArtifacts == nil {
			r.LinkedArtifacts = make(map[string]string, len(artifacts))
		}
		for k, v := range artifacts {
			r.LinkedArtifacts[k] = v
		}
	}); err != nil {
		return err
	}
	payload := map[string]any{"reason": reason}
	for k, v := range artifacts {
		payload[k] = v
	}
	if err := e.ledger.AppendEvent(id, incident.EventIncidentEscalated, payload); err != nil {
		return err
	}
	e.hooks.escalation(from)
	log.FromContext(ctx).Warn(ctx, "incident escalated", "stage", from, "reason", reason)
	return nil
}

// fail marks the record failed after the engine caught itself making an
// illegal move. It bypasses the transition table.
func (e *Engine) fail(ctx context.Context, id, reason string) {
	L := log.FromContext(ctx)
	now := e.now()
	_, err := e.ledger.Update(id, func(r *incident.Record) error {
		r.Status = incident.StatusFailed
		r.Stage = incident.StageFailed
		r.LastError = reason
		r.FinishedAt = &now
		return nil
	})
	if err == nil {
		err = e.ledger.AppendEvent(id, incident.EventIncidentFailed, map[string]any{"reason": reason})
	}
	if err != nil {
		L.Error(ctx, err, "failed to mark incident failed", "reason", reason)
		return
	}
	L.Error(ctx, errors.New(reason), "incident failed")
}

func (e *Engine) startSpan(ctx context.Context, name string, rec *incident.Record) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("sentinel.incident.id", rec.Incident.ID),
		attribute.String("sentinel.incident.service", rec.Incident.Service),
		attribute.String("sentinel.incident.env", rec.Incident.Env),
		attribute.String("sentinel.incident.fingerprint", rec.Fingerprint),
	))
}

func (e *Engine) observeStage(stage incident.Stage, start time.Time) {
	e.hooks.stage(stage, e.now().Sub(start))
}
