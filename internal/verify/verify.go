// Package verify runs a patch proposal through tests and a canary replay
// and classifies the outcome into pass/fail plus regression flags.
package verify

import (
	"context"
	"fmt"
	"sort"

	"github.com/linnemanlabs/sentinel/internal/incident"
)

// StatusPassed is the only runner status that does not raise a flag.
const StatusPassed = "passed"

// DefaultLatencyThresholdMs is the canary latency delta above which a
// latency regression is flagged.
const DefaultLatencyThresholdMs = 200

// Runner executes tests and canary replays for a proposal.
type Runner interface {
	// RunTests returns suite name -> status.
	RunTests(ctx context.Context, p incident.PatchProposal) (map[string]string, error)

	// RunCanaryReplay replays the incident's traffic against the proposal.
	RunCanaryReplay(ctx context.Context, env incident.Envelope, p incident.PatchProposal) (incident.CanaryResult, error)
}

// Verifier applies the classification rule to runner output.
type Verifier struct {
	runner             Runner
	latencyThresholdMs float64
}

// NewVerifier creates a Verifier. A non-positive threshold uses the default.
func NewVerifier(r Runner, latencyThresholdMs float64) *Verifier {
	if latencyThresholdMs <= 0 {
		latencyThresholdMs = DefaultLatencyThresholdMs
	}
	return &Verifier{runner: r, latencyThresholdMs: latencyThresholdMs}
}

// Verify runs tests then the canary replay and classifies the results.
func (v *Verifier) Verify(ctx context.Context, env incident.Envelope, p incident.PatchProposal) (*incident.VerificationReport, error) {
	tests, err := v.runner.RunTests(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("run tests: %w", err)
	}
	canary, err := v.runner.RunCanaryReplay(ctx, env, p)
	if err != nil {
		return nil, fmt.Errorf("run canary replay: %w", err)
	}

	flags := Classify(tests, canary, v.latencyThresholdMs)
	return &incident.VerificationReport{
		Passed:          len(flags) == 0,
		TestResults:     tests,
		Canary:          canary,
		RegressionFlags: flags,
	}, nil
}

// Classify returns one flag per non-passing suite (in suite-name order),
// one for a non-passing canary, and one when the canary latency delta
// exceeds the threshold regardless of canary status.
func Classify(tests map[string]string, canary incident.CanaryResult, latencyThresholdMs float64) []string {
	suites := make([]string, 0, len(tests))
	for name := range tests {
		suites = append(suites, name)
	}
	sort.Strings(suites)

	flags := []string{}
	for _, name := range suites {
		if tests[name] != StatusPassed {
			flags = append(flags, name+"_failed")
		}
	}
	if canary.Status != StatusPassed {
		flags = append(flags, "canary_replay_failed")
	}
	if canary.LatencyDeltaMs > latencyThresholdMs {
		flags = append(flags, "latency_regression")
	}
	return flags
}
