package pipeline

import (
	"context"
	"time"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// EngineHooks receives engine lifecycle callbacks. Any field may be nil.
type EngineHooks struct {
	OnIngest        func()
	OnStage         func(stage incident.Stage, d time.Duration)
	OnInvestigation func(confidence float64)
	OnOutcome       func(status incident.Status, patchAttempts int)
	OnEscalation    func(stage incident.Stage)
}

func (h EngineHooks) ingest() {
	if h.OnIngest != nil {
		h.OnIngest()
	}
}

func (h EngineHooks) stage(s incident.Stage, d time.Duration) {
	if h.OnStage != nil {
		h.OnStage(s, d)
	}
}

func (h EngineHooks) investigation(c float64) {
	if h.OnInvestigation != nil {
		h.OnInvestigation(c)
	}
}

func (h EngineHooks) outcome(s incident.Status, attempts int) {
	if h.OnOutcome != nil {
		h.OnOutcome(s, attempts)
	}
}

func (h EngineHooks) escalation(s incident.Stage) {
	if h.OnEscalation != nil {
		h.OnEscalation(s)
	}
}

// Notifier is told about runs that end waiting on a human: pr_ready or
// escalated.
type Notifier interface {
	Notify(ctx context.Context, r *incident.Record) error
}
