package agent

import (
	"testing"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

func envelope(signal, env string, rate any) incident.Envelope {
	payload := map[string]any{"endpoint": "/checkout"}
	if rate != nil {
		payload["error_rate"] = rate
	}
	return incident.Envelope{
		ID:            "inc-1",
		Service:       "checkout-api",
		Env:           env,
		SignalType:    signal,
		SignalPayload: payload,
	}
}

func TestTriagePolicy_Evaluate(t *testing.T) {
	t.Parallel()

	p := DefaultTriagePolicy()

	tests := []struct {
		name      string
		env       incident.Envelope
		duplicate bool
		status    incident.Status
		severity  Severity
		eligible  bool
		reason    string
	}{
		{"accepted critical", envelope("http_5xx_rate", "prod", 0.21), false, incident.StatusInvestigating, SeverityCritical, true, ReasonAccepted},
		{"accepted staging high", envelope("http_5xx_rate", "staging", 0.12), false, incident.StatusInvestigating, SeverityHigh, true, ReasonAccepted},
		{"duplicate beats policy", envelope("cpu_saturation", "dev", 0.06), true, incident.StatusDuplicate, SeverityMedium, false, ReasonDuplicate},
		{
			"unsupported signal",
			envelope("cpu_saturation", "prod", nil),
			false, incident.StatusBlocked, SeverityLow, false,
			"Unsupported signal type for autonomous handling: cpu_saturation",
		},
		{
			"env outside policy",
			envelope("http_5xx_rate", "dev", 0.3),
			false, incident.StatusBlocked, SeverityCritical, false,
			"Environment 'dev' is outside autonomous policy.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := p.Evaluate(tt.env, tt.duplicate)
			if d.Status != tt.status {
				t.Errorf("Status = %q, want %q", d.Status, tt.status)
			}
			if d.Severity != tt.severity {
				t.Errorf("Severity = %q, want %q", d.Severity, tt.severity)
			}
			if d.Eligible != tt.eligible {
				t.Errorf("Eligible = %v, want %v", d.Eligible, tt.eligible)
			}
			if d.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestTriagePolicy_Severity(t *testing.T) {
	t.Parallel()

	p := DefaultTriagePolicy()
	for rate, want := range map[float64]Severity{
		0:     SeverityLow,
		0.049: SeverityLow,
		0.05:  SeverityMedium,
		0.119: SeverityMedium,
		0.12:  SeverityHigh,
		0.2:   SeverityCritical,
		1:     SeverityCritical,
	} {
		if got := p.Severity(rate); got != want {
			t.Errorf("Severity(%v) = %q, want %q", rate, got, want)
		}
	}
}
