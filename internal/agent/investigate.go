package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/incident"
	"github.com/linnemanlabs/sentinel/internal/pattern"
	"github.com/linnemanlabs/sentinel/internal/telemetry"
)

// Reason clauses appended when a signal contributes to confidence.
const (
	reasonLogs         = "Error logs indicate upstream timeout/retry exhaustion."
	reasonHistory      = "Pattern store contains a similar historical incident."
	reasonInsufficient = "Insufficient telemetry correlation for root-cause confidence."
)

const maxLogEvidence = 5

// Scoring is the additive confidence model. Each signal that is present adds
// its increment to Base; the sum is capped at Cap.
type Scoring struct {
	Base            float64
	Deployment      float64
	MetricPeak      float64
	MetricThreshold float64
	ErrorLogs       float64
	History         float64
	Cap             float64
}

// DefaultScoring returns the production weights.
func DefaultScoring() Scoring {
	return Scoring{
		Base:            0.30,
		Deployment:      0.25,
		MetricPeak:      0.20,
		MetricThreshold: 0.05,
		ErrorLogs:       0.20,
		History:         0.10,
		Cap:             0.99,
	}
}

// Evidence is the reduced form of the telemetry an investigation found.
type Evidence struct {
	Release   string
	PeakRate  float64
	ErrorLogs []string
	History   bool
}

// Score returns the capped confidence and the reason text for ev.
func (s Scoring) Score(ev Evidence) (float64, string) {
	confidence := s.Base
	var parts []string

	if ev.Release != "" {
		confidence += s.Deployment
		parts = append(parts, fmt.Sprintf("Error spike follows deployment %s.", ev.Release))
	}
	if ev.PeakRate >= s.MetricThreshold {
		confidence += s.MetricPeak
		parts = append(parts, fmt.Sprintf("Observed elevated 5xx rate at %.2f.", ev.PeakRate))
	}
	if len(ev.ErrorLogs) > 0 {
		confidence += s.ErrorLogs
		parts = append(parts, reasonLogs)
	}
	if ev.History {
		confidence += s.History
		parts = append(parts, reasonHistory)
	}

	if len(parts) == 0 {
		parts = append(parts, reasonInsufficient)
	}
	return min(confidence, s.Cap), strings.Join(parts, " ")
}

// Investigator correlates deployments, metrics, logs and pattern history
// into an incident.Investigation.
type Investigator struct {
	source   telemetry.Source
	patterns pattern.Store
	metric   string
	scoring  Scoring
	logger   log.Logger
}

// NewInvestigator builds an Investigator that queries metric from source.
func NewInvestigator(logger log.Logger, source telemetry.Source, patterns pattern.Store, metric string, scoring Scoring) *Investigator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Investigator{
		source:   source,
		patterns: patterns,
		metric:   metric,
		scoring:  scoring,
		logger:   logger,
	}
}

// Investigate runs one investigation attempt. Any telemetry or pattern
// store error fails the attempt; the caller decides whether to retry.
func (i *Investigator) Investigate(ctx context.Context, env incident.Envelope) (*incident.Investigation, error) {
	var (
		deployments []telemetry.Deployment
		metrics     []telemetry.MetricPoint
		logs        []telemetry.LogEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		deployments, err = i.source.RecentDeployments(gctx, env.Service, env.Env)
		if err != nil {
			return fmt.Errorf("recent deployments: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		metrics, err = i.source.QueryMetrics(gctx, env.Service, env.Env, i.metric)
		if err != nil {
			return fmt.Errorf("query metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		logs, err = i.source.QueryLogs(gctx, env.Service, env.Env, "")
		if err != nil {
			return fmt.Errorf("query logs: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	_, history, err := i.patterns.FindLatest(ctx, env.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("pattern lookup: %w", err)
	}

	ev := Evidence{
		Release:   suspectedRelease(deployments),
		PeakRate:  peak(metrics),
		ErrorLogs: errorMessages(logs),
		History:   history,
	}
	confidence, reason := i.scoring.Score(ev)

	release := ev.Release
	if release == "" {
		release = "unknown"
	}

	i.logger.Info(ctx, "investigation evidence collected",
		"incident_id", env.ID,
		"deployments", len(deployments),
		"metric_points", len(metrics),
		"error_logs", len(ev.ErrorLogs),
		"history", history,
		"confidence", confidence,
	)

	return &incident.Investigation{
		Confidence:        confidence,
		Reason:            reason,
		SuspectedRelease:  release,
		AffectedEndpoints: endpoints(metrics, env),
		CorrelatedMetrics: map[string]any{
			"max_5xx_rate":     ev.PeakRate,
			"metric_points":    len(metrics),
			"log_points":       len(ev.ErrorLogs),
			"deployments_seen": len(deployments),
		},
		LogEvidence:        ev.ErrorLogs[:min(len(ev.ErrorLogs), maxLogEvidence)],
		HistoricalPatterns: history,
	}, nil
}

// suspectedRelease names the newest deployment by version, falling back to
// its id. Returns "" when there were no deployments.
func suspectedRelease(deployments []telemetry.Deployment) string {
	if len(deployments) == 0 {
		return ""
	}
	newest := deployments[0]
	for _, d := range deployments[1:] {
		if d.Timestamp.After(newest.Timestamp) {
			newest = d
		}
	}
	switch {
	case newest.Version != "":
		return newest.Version
	case newest.ID != "":
		return newest.ID
	default:
		return "unknown"
	}
}

func peak(points []telemetry.MetricPoint) float64 {
	var m float64
	for _, p := range points {
		m = max(m, p.Value)
	}
	return m
}

func errorMessages(entries []telemetry.LogEntry) []string {
	out := []string{}
	for _, e := range entries {
		switch strings.ToUpper(e.Level) {
		case "ERROR", "CRITICAL":
			out = append(out, e.Message)
		}
	}
	return out
}

func endpoints(points []telemetry.MetricPoint, env incident.Envelope) []string {
	var out []string
	for _, p := range points {
		if p.Endpoint != "" && !slices.Contains(out, p.Endpoint) {
			out = append(out, p.Endpoint)
		}
	}
	if len(out) == 0 {
		ep := env.Endpoint()
		if ep == "" {
			ep = incident.DefaultEndpoint
		}
		return []string{ep}
	}
	slices.Sort(out)
	return out
}
