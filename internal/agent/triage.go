// Package agent holds the per-stage decision logic of the remediation
// pipeline: triage policy, investigation scoring, patch proposal checks and
// approval package construction. The orchestration engine sequences them.
package agent

import (
	"fmt"
	"slices"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Severity grades an incident by its observed error rate.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Triage reasons.
const (
	ReasonDuplicate = "Duplicate alert within dedupe window."
	ReasonAccepted  = "Incident accepted for autonomous pipeline."
)

// TriagePolicy decides which incidents the pipeline may handle on its own.
type TriagePolicy struct {
	SupportedSignal string
	AllowedEnvs     []string
	CriticalRate    float64
	HighRate        float64
	MediumRate      float64
}

// DefaultTriagePolicy accepts http_5xx_rate incidents in prod and staging.
func DefaultTriagePolicy() TriagePolicy {
	return TriagePolicy{
		SupportedSignal: "http_5xx_rate",
		AllowedEnvs:     []string{"prod", "staging"},
		CriticalRate:    0.20,
		HighRate:        0.12,
		MediumRate:      0.05,
	}
}

// TriageDecision is the outcome of evaluating one incident.
type TriageDecision struct {
	Status   incident.Status
	Severity Severity
	Eligible bool
	Reason   string
}

// Severity grades an error rate against the policy thresholds.
func (p TriagePolicy) Severity(rate float64) Severity {
	switch {
	case rate >= p.CriticalRate:
		return SeverityCritical
	case rate >= p.HighRate:
		return SeverityHigh
	case rate >= p.MediumRate:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Evaluate applies the policy. Duplicates win over every other check; an
// eligible incident continues to investigation.
func (p TriagePolicy) Evaluate(env incident.Envelope, duplicate bool) TriageDecision {
	d := TriageDecision{Severity: p.Severity(env.ErrorRate())}

	switch {
	case duplicate:
		d.Status = incident.StatusDuplicate
		d.Reason = ReasonDuplicate
	case env.SignalType != p.SupportedSignal:
		d.Status = incident.StatusBlocked
		d.Reason = fmt.Sprintf("Unsupported signal type for autonomous handling: %s", env.SignalType)
	case !slices.Contains(p.AllowedEnvs, env.Env):
		d.Status = incident.StatusBlocked
		d.Reason = fmt.Sprintf("Environment '%s' is outside autonomous policy.", env.Env)
	default:
		d.Status = incident.StatusInvestigating
		d.Eligible = true
		d.Reason = ReasonAccepted
	}
	return d
}
