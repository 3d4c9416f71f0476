package verify

import (
	"context"
	"math"
	"strings"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// Simulator is a deterministic Runner. Timeout and retry fixes reduce the
// replayed error rate enough to pass; anything else barely moves it.
type Simulator struct {
	ForceTestFailure   bool
	ForceCanaryFailure bool
}

// RunTests reports unit, integration and smoke suites. ForceTestFailure
// fails integration.
func (s *Simulator) RunTests(_ context.Context, _ incident.PatchProposal) (map[string]string, error) {
	out := map[string]string{
		"unit":        StatusPassed,
		"integration": StatusPassed,
		"smoke":       StatusPassed,
	}
	if s.ForceTestFailure {
		out["integration"] = "failed"
	}
	return out, nil
}

// RunCanaryReplay models the post-patch error rate from the incident's
// error rate and the kind of fix proposed.
func (s *Simulator) RunCanaryReplay(_ context.Context, env incident.Envelope, p incident.PatchProposal) (incident.CanaryResult, error) {
	baseline, ok := incident.PayloadFloat(env.SignalPayload, "error_rate")
	if !ok {
		baseline = 0.2
	}

	if s.ForceCanaryFailure {
		return incident.CanaryResult{
			Status:         "failed",
			BaselineRate:   baseline,
			PostPatchRate:  baseline,
			LatencyDeltaMs: 320,
		}, nil
	}

	summary := strings.ToLower(p.DiffSummary)
	reduction := 0.03
	if strings.Contains(summary, "timeout") || strings.Contains(summary, "retry") {
		reduction = 0.15
	}
	post := math.Max(0, baseline-reduction)
	latency := 120.0
	if reduction >= 0.1 {
		latency = -250
	}

	status := "failed"
	if post < baseline && latency < DefaultLatencyThresholdMs {
		status = StatusPassed
	}
	return incident.CanaryResult{
		Status:         status,
		BaselineRate:   baseline,
		PostPatchRate:  math.Round(post*10000) / 10000,
		LatencyDeltaMs: latency,
	}, nil
}
