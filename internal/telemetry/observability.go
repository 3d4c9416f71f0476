package telemetry

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DeploymentInfoMetric is the info-style series deploy tooling publishes for
// every release: value 1, labels service, env, version, deployment_id, commit.
const DeploymentInfoMetric = "sentinel_deployment_info"

// Observability is a Source backed by Prometheus for metrics and
// deployment markers and Loki for logs.
type Observability struct {
	prom     *PrometheusRange
	loki     *LokiRange
	lookback time.Duration
	step     time.Duration
	now      func() time.Time
}

// NewObservability builds a Source over the given clients. lookback bounds
// every query window ending now.
func NewObservability(prom *PrometheusRange, loki *LokiRange, lookback time.Duration) *Observability {
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &Observability{prom: prom, loki: loki, lookback: lookback, step: time.Minute, now: time.Now}
}

// RecentDeployments reads deployment markers. A deployment's timestamp is
// the first sample of its info series in the window.
func (o *Observability) RecentDeployments(ctx context.Context, service, env string) ([]Deployment, error) {
	end := o.now()
	q := fmt.Sprintf("%s{%s}", DeploymentInfoMetric, selector(service, env))
	series, err := o.prom.Query(ctx, q, end.Add(-o.lookback), end, o.step)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}

	out := make([]Deployment, 0, len(series))
	for _, s := range series {
		if len(s.Samples) == 0 {
			continue
		}
		out = append(out, Deployment{
			ID:        s.Labels["deployment_id"],
			Version:   s.Labels["version"],
			Commit:    s.Labels["commit"],
			Timestamp: s.Samples[0].Timestamp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// QueryMetrics flattens every series of metric into points tagged with the
// series' endpoint label.
func (o *Observability) QueryMetrics(ctx context.Context, service, env, metric string) ([]MetricPoint, error) {
	end := o.now()
	q := fmt.Sprintf("%s{%s}", metric, selector(service, env))
	series, err := o.prom.Query(ctx, q, end.Add(-o.lookback), end, o.step)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", metric, err)
	}

	var out []MetricPoint
	for _, s := range series {
		for _, smp := range s.Samples {
			out = append(out, MetricPoint{
				Name:      metric,
				Value:     smp.Value,
				Endpoint:  s.Labels["endpoint"],
				Timestamp: smp.Timestamp,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// QueryLogs runs a LogQL line filter over the service's streams.
func (o *Observability) QueryLogs(ctx context.Context, service, env, contains string) ([]LogEntry, error) {
	end := o.now()
	q := "{" + selector(service, env) + "}"
	if contains != "" {
		q += " |~ " + strconv.Quote("(?i)"+regexp.QuoteMeta(contains))
	}
	lines, err := o.loki.Query(ctx, q, end.Add(-o.lookback), end, 200)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	out := make([]LogEntry, 0, len(lines))
	for _, l := range lines {
		out = append(out, LogEntry{Level: lineLevel(l), Message: l.Text, Timestamp: l.Timestamp})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func selector(service, env string) string {
	return "service=" + strconv.Quote(service) + ",env=" + strconv.Quote(env)
}

// lineLevel prefers the stream's level label and falls back to scanning the
// line for a level token.
func lineLevel(l Line) string {
	for _, k := range []string{"level", "detected_level", "severity"} {
		if v := l.Labels[k]; v != "" {
			return strings.ToUpper(v)
		}
	}
	upper := strings.ToUpper(l.Text)
	for _, lvl := range []string{"CRITICAL", "ERROR", "WARN", "INFO", "DEBUG"} {
		if strings.Contains(upper, lvl) {
			return lvl
		}
	}
	return "INFO"
}
