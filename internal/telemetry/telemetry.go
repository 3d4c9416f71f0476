// Package telemetry defines the evidence source the investigation agent
// queries, with a fixture implementation for demos and tests and a
// networked implementation backed by Prometheus and Loki.
package telemetry

import (
	"context"
	"time"
)

// Deployment is a release of a service into an environment.
type Deployment struct {
	ID        string    `json:"deployment_id" yaml:"deployment_id"`
	Version   string    `json:"version" yaml:"version"`
	Commit    string    `json:"commit" yaml:"commit"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// MetricPoint is one sample of a named metric.
type MetricPoint struct {
	Name      string    `json:"metric" yaml:"metric"`
	Value     float64   `json:"value" yaml:"value"`
	Endpoint  string    `json:"endpoint,omitempty" yaml:"endpoint"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// LogEntry is one log line with its level.
type LogEntry struct {
	Level     string    `json:"level" yaml:"level"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Source answers the three evidence queries. Implementations may fail on
// outage; callers treat failures as retryable.
type Source interface {
	// RecentDeployments returns deployments, newest first.
	RecentDeployments(ctx context.Context, service, env string) ([]Deployment, error)

	// QueryMetrics returns samples of the named metric, oldest first.
	QueryMetrics(ctx context.Context, service, env, metric string) ([]MetricPoint, error)

	// QueryLogs returns log entries whose message contains the filter
	// (case-insensitive; empty matches all), oldest first.
	QueryLogs(ctx context.Context, service, env, contains string) ([]LogEntry, error)
}
